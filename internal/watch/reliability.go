package watch

import (
	"sort"
	"sync"
)

// SourceStats counts outcomes of one source
type SourceStats struct {
	Source    string
	Successes int
	Failures  int
}

// Score is the Laplace-smoothed success ratio (s+1)/(s+f+2).
// An unseen source scores 0.5.
func (s SourceStats) Score() float64 {
	return float64(s.Successes+1) / float64(s.Successes+s.Failures+2)
}

// ReliabilityRegistry tracks per-source success and failure counts.
// It is safe for concurrent use.
type ReliabilityRegistry struct {
	mu    sync.RWMutex
	stats map[string]*SourceStats
}

// NewReliabilityRegistry creates an empty registry
func NewReliabilityRegistry() *ReliabilityRegistry {
	return &ReliabilityRegistry{stats: make(map[string]*SourceStats)}
}

func (r *ReliabilityRegistry) entry(source string) *SourceStats {
	s, ok := r.stats[source]
	if !ok {
		s = &SourceStats{Source: source}
		r.stats[source] = s
	}
	return s
}

// RecordSuccess counts a fetch that produced a vote
func (r *ReliabilityRegistry) RecordSuccess(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(source).Successes++
}

// RecordFailure counts a fetch that failed or found nothing
func (r *ReliabilityRegistry) RecordFailure(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(source).Failures++
}

// Score returns the reliability of source in (0, 1)
func (r *ReliabilityRegistry) Score(source string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.stats[source]; ok {
		return s.Score()
	}
	return SourceStats{}.Score()
}

// Snapshot returns a copy of all stats sorted by source name
func (r *ReliabilityRegistry) Snapshot() []SourceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceStats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Reset forgets all recorded outcomes
func (r *ReliabilityRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[string]*SourceStats)
}
