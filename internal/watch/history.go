package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryCapacity is the number of notification events retained
const DefaultHistoryCapacity = 100

// HistoryStats aggregates every event ever appended, including evicted ones.
type HistoryStats struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"byCategory"`
	ByEntity   map[string]int   `json:"byEntity"`
	Delivered  int              `json:"delivered"`
	Failed     int              `json:"failed"`
	LastUpdate time.Time        `json:"lastUpdate,omitempty"`
}

// historyFile represents the JSON structure stored on disk
type historyFile struct {
	Events []NotificationEvent `json:"events"`
	Stats  HistoryStats        `json:"stats"`
}

// History is a bounded, persisted log of notification events.
// When full, the oldest event is evicted.
type History struct {
	events   []NotificationEvent
	stats    HistoryStats
	capacity int
	path     string
	mu       sync.RWMutex
	nowFunc  func() time.Time
}

// HistoryOption is a functional option for configuring History
type HistoryOption func(*History)

// WithHistoryCapacity sets how many events are retained
func WithHistoryCapacity(n int) HistoryOption {
	return func(h *History) {
		h.capacity = n
	}
}

// WithHistoryNowFunc sets a custom time function for testing
func WithHistoryNowFunc(fn func() time.Time) HistoryOption {
	return func(h *History) {
		h.nowFunc = fn
	}
}

func newStats() HistoryStats {
	return HistoryStats{
		ByCategory: make(map[Category]int),
		ByEntity:   make(map[string]int),
	}
}

// NewHistory creates or loads update-history.json in dataDir.
// A corrupted file is replaced on the next append.
func NewHistory(dataDir string, opts ...HistoryOption) (*History, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	h := &History{
		stats:    newStats(),
		capacity: DefaultHistoryCapacity,
		path:     filepath.Join(dataDir, "update-history.json"),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.capacity <= 0 {
		h.capacity = DefaultHistoryCapacity
	}

	if err := h.load(); err != nil {
		h.events = nil
		h.stats = newStats()
	}
	h.trimUnsafe()

	return h, nil
}

// load reads the history. Older files hold a bare list of events.
func (h *History) load() error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	if data[0] == '[' {
		var events []NotificationEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
		}
		h.events = events
		for _, ev := range events {
			h.count(ev)
		}
		return nil
	}

	var hf historyFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	h.events = hf.Events
	if hf.Stats.ByCategory != nil {
		h.stats.ByCategory = hf.Stats.ByCategory
	}
	if hf.Stats.ByEntity != nil {
		h.stats.ByEntity = hf.Stats.ByEntity
	}
	h.stats.Total = hf.Stats.Total
	h.stats.Delivered = hf.Stats.Delivered
	h.stats.Failed = hf.Stats.Failed
	h.stats.LastUpdate = hf.Stats.LastUpdate
	return nil
}

func (h *History) count(ev NotificationEvent) {
	h.stats.Total++
	h.stats.ByCategory[ev.Category]++
	h.stats.ByEntity[ev.EntityID]++
	h.stats.Delivered += ev.Delivered
	h.stats.Failed += ev.Failed
	if ev.DetectedAt.After(h.stats.LastUpdate) {
		h.stats.LastUpdate = ev.DetectedAt
	}
}

func (h *History) trimUnsafe() {
	if over := len(h.events) - h.capacity; over > 0 {
		h.events = append([]NotificationEvent(nil), h.events[over:]...)
	}
}

// Append records an event, assigning an ID and timestamp when missing, and persists the history.
func (h *History) Append(ev NotificationEvent) (NotificationEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = h.nowFunc()
	}

	h.events = append(h.events, ev)
	h.trimUnsafe()
	h.count(ev)

	hf := historyFile{Events: h.events, Stats: h.stats}
	if err := writeJSONFile(h.path, hf, "", 0, h.nowFunc()); err != nil {
		return ev, err
	}
	return ev, nil
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []NotificationEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.events) {
		n = len(h.events)
	}
	out := make([]NotificationEvent, 0, n)
	for i := len(h.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.events[i])
	}
	return out
}

// Len returns the number of retained events
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}

// Capacity returns the retention bound
func (h *History) Capacity() int {
	return h.capacity
}

// Stats returns a copy of the aggregate statistics
func (h *History) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.stats
	out.ByCategory = make(map[Category]int, len(h.stats.ByCategory))
	for k, v := range h.stats.ByCategory {
		out.ByCategory[k] = v
	}
	out.ByEntity = make(map[string]int, len(h.stats.ByEntity))
	for k, v := range h.stats.ByEntity {
		out.ByEntity[k] = v
	}
	return out
}
