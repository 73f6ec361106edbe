package watch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obentoo/switchdex/internal/common/logger"
)

// DefaultDedupWindow is how long a detected (entity, version) pair stays suppressed
const DefaultDedupWindow = time.Hour

// defaultSweepEvery is how many checks pass between opportunistic sweeps
const defaultSweepEvery = 64

// DedupGuard suppresses repeated announcements of the same version.
type DedupGuard interface {
	// ShouldSuppress reports whether (entityID, version) was already seen within
	// the window. A false result records the sighting.
	ShouldSuppress(ctx context.Context, entityID, version string) bool
	// Forget drops a recorded sighting so the next detection is not suppressed
	Forget(ctx context.Context, entityID, version string)
}

// DedupKey builds the composite key for an (entity, version) pair
func DedupKey(entityID, version string) string {
	return entityID + "@" + version
}

// MemoryDedupGuard keeps sightings in process memory.
// Every check refreshes the pair's last-seen time, so a pair seen at least once
// per window stays suppressed.
type MemoryDedupGuard struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	window     time.Duration
	retention  time.Duration
	sweepEvery int
	checks     int
	nowFunc    func() time.Time
}

// DedupOption is a functional option for configuring MemoryDedupGuard
type DedupOption func(*MemoryDedupGuard)

// WithDedupWindow sets the suppression window
func WithDedupWindow(d time.Duration) DedupOption {
	return func(g *MemoryDedupGuard) {
		g.window = d
	}
}

// WithDedupRetention sets how long entries are kept before a sweep drops them
func WithDedupRetention(d time.Duration) DedupOption {
	return func(g *MemoryDedupGuard) {
		g.retention = d
	}
}

// WithDedupNowFunc sets a custom time function for testing
func WithDedupNowFunc(fn func() time.Time) DedupOption {
	return func(g *MemoryDedupGuard) {
		g.nowFunc = fn
	}
}

// NewMemoryDedupGuard creates a guard. Retention defaults to twice the window.
func NewMemoryDedupGuard(opts ...DedupOption) *MemoryDedupGuard {
	g := &MemoryDedupGuard{
		seen:       make(map[string]time.Time),
		window:     DefaultDedupWindow,
		sweepEvery: defaultSweepEvery,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retention < g.window {
		g.retention = 2 * g.window
	}
	return g
}

// ShouldSuppress implements DedupGuard
func (g *MemoryDedupGuard) ShouldSuppress(_ context.Context, entityID, version string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	g.checks++
	if g.checks%g.sweepEvery == 0 {
		g.sweepLocked(now)
	}

	key := DedupKey(entityID, version)
	seenAt, ok := g.seen[key]
	g.seen[key] = now
	return ok && now.Sub(seenAt) < g.window
}

// Forget implements DedupGuard
func (g *MemoryDedupGuard) Forget(_ context.Context, entityID, version string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, DedupKey(entityID, version))
}

// Sweep drops entries older than the retention horizon and returns how many were removed
func (g *MemoryDedupGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.nowFunc())
}

func (g *MemoryDedupGuard) sweepLocked(now time.Time) int {
	removed := 0
	for key, seenAt := range g.seen {
		if now.Sub(seenAt) >= g.retention {
			delete(g.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sightings
func (g *MemoryDedupGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// RedisCommands is the subset of the go-redis client used by RedisDedupGuard
type RedisCommands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDedupGuard shares sightings between processes through Redis.
// Keys expire one window after their last check, so no sweep is needed.
// Redis errors fail open.
type RedisDedupGuard struct {
	client RedisCommands
	prefix string
	window time.Duration
}

// NewRedisDedupGuard creates a guard over client. Keys are prefixed with prefix.
func NewRedisDedupGuard(client RedisCommands, prefix string, window time.Duration) *RedisDedupGuard {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RedisDedupGuard{client: client, prefix: prefix, window: window}
}

// ShouldSuppress implements DedupGuard
func (g *RedisDedupGuard) ShouldSuppress(ctx context.Context, entityID, version string) bool {
	key := g.prefix + DedupKey(entityID, version)
	created, err := g.client.SetNX(ctx, key, time.Now().Unix(), g.window).Result()
	if err != nil {
		logger.Warn("dedup: redis unavailable, not suppressing %s: %v", key, err)
		return false
	}
	if created {
		return false
	}
	if err := g.client.Expire(ctx, key, g.window).Err(); err != nil {
		logger.Debug("dedup: failed to refresh %s: %v", key, err)
	}
	return true
}

// Forget implements DedupGuard
func (g *RedisDedupGuard) Forget(ctx context.Context, entityID, version string) {
	key := g.prefix + DedupKey(entityID, version)
	if err := g.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("dedup: failed to delete %s: %v", key, err)
	}
}
