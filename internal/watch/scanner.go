package watch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/obentoo/switchdex/internal/common/logger"
)

// DefaultPacingDelay is the pause between two consecutive source calls
const DefaultPacingDelay = 2 * time.Second

// DefaultFailureThreshold is how many consecutive failures of one source for one
// entity trigger an operator alert
const DefaultFailureThreshold = 3

// Outcome is what a pass did with one entity
type Outcome string

// Outcome constants
const (
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeUpdated    Outcome = "updated"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeBaseline   Outcome = "baseline"
	OutcomeNoVote     Outcome = "no-vote"
	OutcomeFailed     Outcome = "failed"
)

// EntityResult is the result of checking one entity during a pass.
type EntityResult struct {
	// EntityID identifies the entity
	EntityID string
	// Category is the entity's category
	Category Category
	// StoredVersion is the version on record before the check
	StoredVersion string
	// Version is the consensus version, empty when no source voted
	Version string
	// Outcome summarizes what happened
	Outcome Outcome
	// Error contains any error that made the check fail
	Error error
}

// PassSummary holds the counters of one pass.
type PassSummary struct {
	Started    time.Time
	Finished   time.Time
	Checked    int
	Updated    int
	Suppressed int
	Baseline   int
	NoVote     int
	Failed     int
	// Skipped counts source calls left out because the source was rate limited earlier in the pass
	Skipped int
	// RateLimited lists the sources backed off during the pass
	RateLimited []string
	Results     []EntityResult
}

func (s *PassSummary) add(r EntityResult) {
	s.Checked++
	switch r.Outcome {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSuppressed:
		s.Suppressed++
	case OutcomeBaseline:
		s.Baseline++
	case OutcomeNoVote:
		s.NoVote++
	case OutcomeFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// EntitySource supplies the entities to scan. It is consulted at the start of every pass.
type EntitySource interface {
	Entities() []TrackedEntity
}

// EntityFunc adapts a function to EntitySource
type EntityFunc func() []TrackedEntity

// Entities implements EntitySource
func (f EntityFunc) Entities() []TrackedEntity {
	return f()
}

// Notifier announces a committed change. *Router satisfies it.
type Notifier interface {
	Notify(ctx context.Context, change Change) (NotificationEvent, error)
}

// Alerter escalates repeated failures. *Escalator satisfies it.
type Alerter interface {
	Escalate(ctx context.Context, signature, message string) bool
}

// Scanner runs passes over all tracked entities.
// It coordinates adapters, the resolver, the store, the dedup guard and the router.
type Scanner struct {
	entities    EntitySource
	adapters    AdapterResolver
	resolver    *Resolver
	store       VersionStore
	dedup       DedupGuard
	notifier    Notifier
	reliability *ReliabilityRegistry
	alerter     Alerter
	// delay is the pause between two source calls
	delay time.Duration
	// delayFunc allows overriding the pacing sleep for testing
	delayFunc func(time.Duration)
	// nowFunc allows injecting time for testing
	nowFunc          func() time.Time
	failureThreshold int
	// failures counts consecutive failures per entity/source signature
	failures map[string]int
}

// ScannerOption is a functional option for configuring Scanner
type ScannerOption func(*Scanner)

// WithResolver sets a custom consensus resolver
func WithResolver(r *Resolver) ScannerOption {
	return func(s *Scanner) {
		s.resolver = r
	}
}

// WithDedupGuard sets the deduplication guard
func WithDedupGuard(g DedupGuard) ScannerOption {
	return func(s *Scanner) {
		s.dedup = g
	}
}

// WithReliabilityRegistry sets the registry fed after every source call
func WithReliabilityRegistry(r *ReliabilityRegistry) ScannerOption {
	return func(s *Scanner) {
		s.reliability = r
	}
}

// WithAlerter sets where repeated failures are escalated
func WithAlerter(a Alerter) ScannerOption {
	return func(s *Scanner) {
		s.alerter = a
	}
}

// WithPacingDelay sets the pause between two source calls
func WithPacingDelay(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.delay = d
	}
}

// WithScanDelayFunc sets a custom sleep function for testing
func WithScanDelayFunc(fn func(time.Duration)) ScannerOption {
	return func(s *Scanner) {
		s.delayFunc = fn
	}
}

// WithScanNowFunc sets a custom time function for testing
func WithScanNowFunc(fn func() time.Time) ScannerOption {
	return func(s *Scanner) {
		s.nowFunc = fn
	}
}

// WithFailureThreshold sets how many consecutive failures trigger an alert
func WithFailureThreshold(n int) ScannerOption {
	return func(s *Scanner) {
		s.failureThreshold = n
	}
}

// NewScanner creates a scanner. Unset collaborators get in-memory defaults.
func NewScanner(entities EntitySource, adapters AdapterResolver, store VersionStore, notifier Notifier, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		entities:         entities,
		adapters:         adapters,
		store:            store,
		notifier:         notifier,
		delay:            DefaultPacingDelay,
		delayFunc:        time.Sleep,
		nowFunc:          time.Now,
		failureThreshold: DefaultFailureThreshold,
		failures:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewResolver()
	}
	if s.dedup == nil {
		s.dedup = NewMemoryDedupGuard(WithDedupNowFunc(s.nowFunc))
	}
	if s.reliability == nil {
		s.reliability = NewReliabilityRegistry()
	}
	return s
}

// Reliability returns the registry the scanner feeds
func (s *Scanner) Reliability() *ReliabilityRegistry {
	return s.reliability
}

// passState is what one pass remembers between entities
type passState struct {
	calls       int
	rateLimited map[string]bool
}

func newPassState() *passState {
	return &passState{rateLimited: make(map[string]bool)}
}

// RunPass checks every entity, one category after another in pass order.
// A failing category never stops the remaining ones.
func (s *Scanner) RunPass(ctx context.Context) PassSummary {
	return s.run(ctx, Categories())
}

// RunCategory checks the entities of one category only.
func (s *Scanner) RunCategory(ctx context.Context, c Category) PassSummary {
	return s.run(ctx, []Category{c})
}

func (s *Scanner) run(ctx context.Context, categories []Category) PassSummary {
	summary := PassSummary{Started: s.nowFunc()}
	pass := newPassState()

	byCategory := make(map[Category][]TrackedEntity)
	for _, e := range s.entities.Entities() {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	for _, c := range categories {
		if ctx.Err() != nil {
			logger.Warn("pass cancelled before category %s", c)
			break
		}
		s.runCategory(ctx, c, byCategory[c], pass, &summary)
	}

	for key := range pass.rateLimited {
		summary.RateLimited = append(summary.RateLimited, key)
	}
	sort.Strings(summary.RateLimited)
	summary.Finished = s.nowFunc()

	logger.Info("pass finished: %d checked, %d updated, %d suppressed, %d baseline, %d failed, %d skipped",
		summary.Checked, summary.Updated, summary.Suppressed, summary.Baseline, summary.Failed, summary.Skipped)
	return summary
}

// runCategory checks the given entities and flushes their last-checked stamps once.
func (s *Scanner) runCategory(ctx context.Context, c Category, entities []TrackedEntity, pass *passState, summary *PassSummary) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("category %s aborted: %v", c, p)
		}
	}()

	if len(entities) == 0 {
		return
	}
	logger.Debug("checking %d %s entities", len(entities), c)

	checked := make([]string, 0, len(entities))
	for _, e := range entities {
		if ctx.Err() != nil {
			break
		}
		result := s.checkEntity(ctx, e, pass, summary)
		summary.add(result)
		checked = append(checked, e.ID)
	}

	if err := s.store.MarkChecked(c, checked, s.nowFunc()); err != nil {
		logger.Warn("failed to record last-checked for %s: %v", c, err)
	}
}

// checkEntity resolves one entity and commits then announces a change.
func (s *Scanner) checkEntity(ctx context.Context, e TrackedEntity, pass *passState, summary *PassSummary) (result EntityResult) {
	result = EntityResult{EntityID: e.ID, Category: e.Category}

	defer func() {
		if p := recover(); p != nil {
			result.Outcome = OutcomeFailed
			result.Error = fmt.Errorf("panic while checking %s: %v", e.ID, p)
			logger.Error("%v", result.Error)
		}
	}()

	candidates := s.collect(ctx, e, pass, summary)
	consensus, ok := s.resolver.Resolve(candidates)
	if !ok {
		result.Outcome = OutcomeNoVote
		logger.Debug("%s: no source reported a version", e.ID)
		return result
	}
	result.Version = consensus.Version

	stored, found, err := s.store.Read(e)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = fmt.Errorf("failed to read stored version: %w", err)
		logger.Warn("%s: %v", e.ID, result.Error)
		return result
	}
	result.StoredVersion = stored.Version

	record := VersionRecord{
		Version:     consensus.Version,
		ReleaseDate: consensus.Best.ReleaseDate,
		URL:         consensus.Best.URL,
		LastChecked: s.nowFunc(),
	}

	// First sighting: remember without announcing
	if !found || stored.Version == "" {
		if err := s.store.Write(e, record); err != nil {
			result.Outcome = OutcomeFailed
			result.Error = fmt.Errorf("failed to store baseline: %w", err)
			logger.Warn("%s: %v", e.ID, result.Error)
			return result
		}
		result.Outcome = OutcomeBaseline
		logger.Info("%s: baseline %s", e.ID, consensus.Version)
		return result
	}

	if stored.Version == consensus.Version {
		result.Outcome = OutcomeUnchanged
		return result
	}

	if s.dedup.ShouldSuppress(ctx, e.ID, consensus.Version) {
		result.Outcome = OutcomeSuppressed
		logger.Info("%s: %s already announced recently", e.ID, consensus.Version)
		return result
	}

	// Commit before fan-out; an unrecorded change must not be announced
	if err := s.store.Write(e, record); err != nil {
		s.dedup.Forget(ctx, e.ID, consensus.Version)
		result.Outcome = OutcomeFailed
		result.Error = fmt.Errorf("failed to commit %s: %w", consensus.Version, err)
		logger.Error("%s: %v", e.ID, result.Error)
		return result
	}

	result.Outcome = OutcomeUpdated
	if _, err := s.notifier.Notify(ctx, Change{Entity: e, FromVersion: stored.Version, Result: consensus}); err != nil {
		logger.Warn("%s: %v", e.ID, err)
	}
	return result
}

// collect calls each source of e in order, pacing calls and skipping rate-limited sources.
func (s *Scanner) collect(ctx context.Context, e TrackedEntity, pass *passState, summary *PassSummary) []VersionCandidate {
	var candidates []VersionCandidate

	for _, src := range e.Sources {
		if ctx.Err() != nil {
			break
		}

		key := rateLimitKey(src)
		if pass.rateLimited[key] {
			summary.Skipped++
			continue
		}

		adapter, err := s.adapters.Adapter(src)
		if err != nil {
			logger.Warn("%s: cannot build source %s: %v", e.ID, src.Name, err)
			continue
		}

		if pass.calls > 0 && s.delay > 0 {
			s.delayFunc(s.delay)
		}
		pass.calls++

		cand, err := s.fetch(ctx, adapter, e)
		signature := e.ID + "/" + adapter.Name()
		switch {
		case err == nil && cand.Votes():
			s.reliability.RecordSuccess(adapter.Name())
			delete(s.failures, signature)
			candidates = append(candidates, cand)
		case errors.Is(err, ErrRateLimited):
			pass.rateLimited[key] = true
			logger.Warn("%s: %s rate limited, skipping it for the rest of the pass", e.ID, key)
		case errors.Is(err, ErrNotApplicable):
			logger.Debug("%s: %s not applicable", e.ID, adapter.Name())
		default:
			if err == nil {
				err = ErrNoVersionFound
			}
			s.reliability.RecordFailure(adapter.Name())
			s.noteFailure(ctx, signature, err)
			logger.Debug("%s: %v", e.ID, err)
		}
	}

	return candidates
}

// fetch runs one adapter call, turning a panic into a source failure
func (s *Scanner) fetch(ctx context.Context, a Adapter, e TrackedEntity) (cand VersionCandidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			cand = VersionCandidate{Source: a.Name()}
			err = fmt.Errorf("%w: %s panicked: %v", ErrSourceUnavailable, a.Name(), p)
		}
	}()
	return a.Fetch(ctx, e)
}

// noteFailure counts a consecutive failure and escalates once the threshold is reached
func (s *Scanner) noteFailure(ctx context.Context, signature string, err error) {
	s.failures[signature]++
	n := s.failures[signature]
	if s.alerter == nil || n < s.failureThreshold {
		return
	}
	s.alerter.Escalate(ctx, signature, fmt.Sprintf("%s failed %d times in a row: %v", signature, n, err))
}

// rateLimitKey groups sources that share a rate limit: the GitHub API, or a page's host
func rateLimitKey(src SourceConfig) string {
	switch src.Type {
	case SourceGitHubRelease, SourceGitHubTag:
		return "github"
	}
	if u, err := url.Parse(src.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return src.Name
}
