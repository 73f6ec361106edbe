package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeAdapter answers from a function and counts its calls
type fakeAdapter struct {
	name  string
	fetch func(ctx context.Context, e TrackedEntity) (VersionCandidate, error)
	calls int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, e TrackedEntity) (VersionCandidate, error) {
	a.calls++
	return a.fetch(ctx, e)
}

// fakeAdapters resolves sources by name
type fakeAdapters map[string]*fakeAdapter

func (f fakeAdapters) Adapter(src SourceConfig) (Adapter, error) {
	if a, ok := f[src.Name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidSourceType, src.Name)
}

func voter(name string, priority int, confidence float64, version string) *fakeAdapter {
	return &fakeAdapter{name: name, fetch: func(ctx context.Context, e TrackedEntity) (VersionCandidate, error) {
		return VersionCandidate{Source: name, Priority: priority, Confidence: confidence, Version: version}, nil
	}}
}

func failing(name string, err error) *fakeAdapter {
	return &fakeAdapter{name: name, fetch: func(ctx context.Context, e TrackedEntity) (VersionCandidate, error) {
		return VersionCandidate{Source: name}, err
	}}
}

// memoryStore is an in-memory VersionStore. With discard set, writes succeed but are not kept.
type memoryStore struct {
	mu       sync.Mutex
	records  map[string]VersionRecord
	checked  map[Category][]string
	discard  bool
	readErr  error
	writeErr error
	writes   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]VersionRecord), checked: make(map[Category][]string)}
}

func (m *memoryStore) Read(e TrackedEntity) (VersionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return VersionRecord{}, false, m.readErr
	}
	rec, ok := m.records[e.ID]
	return rec, ok, nil
}

func (m *memoryStore) Write(e TrackedEntity, rec VersionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	if !m.discard {
		m.records[e.ID] = rec
	}
	return nil
}

func (m *memoryStore) MarkChecked(c Category, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked[c] = append(m.checked[c], ids...)
	return nil
}

// recordingNotifier keeps every change it is asked to announce
type recordingNotifier struct {
	changes []Change
}

func (n *recordingNotifier) Notify(ctx context.Context, change Change) (NotificationEvent, error) {
	n.changes = append(n.changes, change)
	return NotificationEvent{EntityID: change.Entity.ID}, nil
}

// recordingAlerter keeps every escalated signature
type recordingAlerter struct {
	signatures []string
}

func (a *recordingAlerter) Escalate(ctx context.Context, signature, message string) bool {
	a.signatures = append(a.signatures, signature)
	return true
}

func entityWith(id string, c Category, sources ...string) TrackedEntity {
	e := TrackedEntity{ID: id, Name: id, Category: c}
	for _, name := range sources {
		e.Sources = append(e.Sources, SourceConfig{Name: name, Type: SourcePage, URL: "https://" + name + ".example/" + id})
	}
	return e
}

func staticEntities(entities ...TrackedEntity) EntitySource {
	return EntityFunc(func() []TrackedEntity { return entities })
}

func newTestScanner(entities EntitySource, adapters AdapterResolver, store VersionStore, notifier Notifier, opts ...ScannerOption) *Scanner {
	clock := newFakeClock()
	base := []ScannerOption{WithScanDelayFunc(func(time.Duration) {}), WithScanNowFunc(clock.Now)}
	return NewScanner(entities, adapters, store, notifier, append(base, opts...)...)
}

func resultFor(t *testing.T, summary PassSummary, id string) EntityResult {
	t.Helper()
	for _, r := range summary.Results {
		if r.EntityID == id {
			return r
		}
	}
	t.Fatalf("no result for %s in %+v", id, summary.Results)
	return EntityResult{}
}

func TestScannerWeightedMajorityAnnouncesOnce(t *testing.T) {
	store := newMemoryStore()
	store.records["zelda"] = VersionRecord{Version: "1.0.0"}
	notifier := &recordingNotifier{}
	adapters := fakeAdapters{
		"official": voter("official", 1, 0.9, "1.1.0"),
		"wiki":     voter("wiki", 3, 0.6, "1.1.0"),
		"forum":    voter("forum", 4, 0.3, "1.0.0"),
	}
	scanner := newTestScanner(staticEntities(entityWith("zelda", CategoryGame, "official", "wiki", "forum")), adapters, store, notifier)

	summary := scanner.RunPass(context.Background())

	if r := resultFor(t, summary, "zelda"); r.Outcome != OutcomeUpdated || r.Version != "1.1.0" || r.StoredVersion != "1.0.0" {
		t.Errorf("result = %+v", r)
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.changes))
	}
	change := notifier.changes[0]
	if change.FromVersion != "1.0.0" || change.Result.Version != "1.1.0" || change.Result.Best.Source != "official" {
		t.Errorf("change = %+v", change)
	}
	if store.records["zelda"].Version != "1.1.0" {
		t.Errorf("stored = %+v", store.records["zelda"])
	}

	// Next pass sees the same consensus: nothing to announce
	summary = scanner.RunPass(context.Background())
	if r := resultFor(t, summary, "zelda"); r.Outcome != OutcomeUnchanged {
		t.Errorf("second pass outcome = %s, want unchanged", r.Outcome)
	}
	if len(notifier.changes) != 1 {
		t.Errorf("got %d notifications after second pass, want 1", len(notifier.changes))
	}
}

func TestScannerSuppressesRepeatWithinWindow(t *testing.T) {
	store := newMemoryStore()
	store.records["e"] = VersionRecord{Version: "1.0"}
	store.discard = true
	notifier := &recordingNotifier{}
	scanner := newTestScanner(staticEntities(entityWith("e", CategoryApplication, "official")),
		fakeAdapters{"official": voter("official", 1, 0.9, "1.1")}, store, notifier)

	first := scanner.RunPass(context.Background())
	second := scanner.RunPass(context.Background())

	if first.Updated != 1 || second.Suppressed != 1 {
		t.Errorf("first=%+v second=%+v", first, second)
	}
	if len(notifier.changes) != 1 {
		t.Errorf("got %d notifications, want 1", len(notifier.changes))
	}
}

func TestScannerBaselineIsSilent(t *testing.T) {
	store := newMemoryStore()
	store.records["seen-but-empty"] = VersionRecord{LastChecked: time.Now()}
	notifier := &recordingNotifier{}
	adapters := fakeAdapters{"official": voter("official", 1, 0.9, "2.0")}
	scanner := newTestScanner(staticEntities(
		entityWith("new", CategoryGame, "official"),
		entityWith("seen-but-empty", CategoryGame, "official"),
	), adapters, store, notifier)

	summary := scanner.RunPass(context.Background())

	if summary.Baseline != 2 || len(notifier.changes) != 0 {
		t.Errorf("summary = %+v, notifications = %d", summary, len(notifier.changes))
	}
	if store.records["new"].Version != "2.0" {
		t.Errorf("baseline not stored: %+v", store.records["new"])
	}
}

func TestScannerNoVoteLeavesStoreUntouched(t *testing.T) {
	store := newMemoryStore()
	store.records["e"] = VersionRecord{Version: "1.0"}
	adapters := fakeAdapters{
		"a": failing("a", ErrNotApplicable),
		"b": failing("b", ErrSourceUnavailable),
	}
	scanner := newTestScanner(staticEntities(entityWith("e", CategoryGame, "a", "b")), adapters, store, &recordingNotifier{})

	summary := scanner.RunPass(context.Background())
	if r := resultFor(t, summary, "e"); r.Outcome != OutcomeNoVote {
		t.Errorf("outcome = %s, want no-vote", r.Outcome)
	}
	if store.writes != 0 || store.records["e"].Version != "1.0" {
		t.Errorf("store changed: writes=%d record=%+v", store.writes, store.records["e"])
	}
}

func TestScannerCommitFailureDoesNotAnnounce(t *testing.T) {
	store := newMemoryStore()
	store.records["e"] = VersionRecord{Version: "1.0"}
	store.writeErr = errors.New("read-only file system")
	notifier := &recordingNotifier{}
	guard := NewMemoryDedupGuard()
	scanner := newTestScanner(staticEntities(entityWith("e", CategoryGame, "official")),
		fakeAdapters{"official": voter("official", 1, 0.9, "1.1")}, store, notifier, WithDedupGuard(guard))

	summary := scanner.RunPass(context.Background())
	r := resultFor(t, summary, "e")
	if r.Outcome != OutcomeFailed || r.Error == nil {
		t.Errorf("result = %+v, want failed", r)
	}
	if len(notifier.changes) != 0 {
		t.Error("uncommitted change was announced")
	}

	// Once the store recovers the change goes out immediately
	store.writeErr = nil
	scanner.RunPass(context.Background())
	if len(notifier.changes) != 1 {
		t.Errorf("got %d notifications after recovery, want 1", len(notifier.changes))
	}
}

func TestScannerStoreReadFailure(t *testing.T) {
	store := newMemoryStore()
	store.readErr = ErrStoreCorrupted
	scanner := newTestScanner(staticEntities(entityWith("e", CategoryGame, "official")),
		fakeAdapters{"official": voter("official", 1, 0.9, "1.1")}, store, &recordingNotifier{})

	r := resultFor(t, scanner.RunPass(context.Background()), "e")
	if r.Outcome != OutcomeFailed || !errors.Is(r.Error, ErrStoreCorrupted) {
		t.Errorf("result = %+v", r)
	}
}

func TestScannerRateLimitSkipsSourceForPass(t *testing.T) {
	limited := failing("github-release", ErrRateLimited)
	wiki := voter("wiki", 3, 0.6, "1.0")
	adapters := fakeAdapters{"github-release": limited, "wiki": wiki}

	gh := func(id string) TrackedEntity {
		return TrackedEntity{ID: id, Category: CategoryApplication, Sources: []SourceConfig{
			{Name: "github-release", Type: SourceGitHubRelease, Repo: "o/" + id},
			{Name: "wiki", Type: SourcePage, URL: "https://wiki.example/" + id},
		}}
	}
	scanner := newTestScanner(staticEntities(gh("a"), gh("b"), gh("c")), adapters, newMemoryStore(), &recordingNotifier{})

	summary := scanner.RunPass(context.Background())

	if limited.calls != 1 {
		t.Errorf("rate-limited source called %d times, want 1", limited.calls)
	}
	if wiki.calls != 3 {
		t.Errorf("other source called %d times, want 3", wiki.calls)
	}
	if summary.Skipped != 2 || len(summary.RateLimited) != 1 || summary.RateLimited[0] != "github" {
		t.Errorf("Skipped=%d RateLimited=%v", summary.Skipped, summary.RateLimited)
	}

	// A new pass tries the source again
	scanner.RunPass(context.Background())
	if limited.calls != 2 {
		t.Errorf("rate-limited source called %d times after second pass, want 2", limited.calls)
	}
}

func TestScannerPanickingSourceIsIsolated(t *testing.T) {
	boom := &fakeAdapter{name: "boom", fetch: func(ctx context.Context, e TrackedEntity) (VersionCandidate, error) {
		panic("parser blew up")
	}}
	adapters := fakeAdapters{"boom": boom, "official": voter("official", 1, 0.9, "3.0")}
	store := newMemoryStore()
	scanner := newTestScanner(staticEntities(
		entityWith("a", CategoryGame, "boom", "official"),
		entityWith("b", CategoryFirmware, "official"),
	), adapters, store, &recordingNotifier{})

	summary := scanner.RunPass(context.Background())

	if summary.Checked != 2 || summary.Baseline != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if got := scanner.Reliability().Score("boom"); got >= 0.5 {
		t.Errorf("Score(boom) = %v, want below 0.5", got)
	}
}

func TestScannerPacingDelay(t *testing.T) {
	var delays []time.Duration
	adapters := fakeAdapters{"a": voter("a", 1, 1, "1"), "b": voter("b", 2, 1, "1")}
	scanner := newTestScanner(staticEntities(
		entityWith("x", CategoryGame, "a", "b"),
		entityWith("y", CategoryApplication, "a"),
	), adapters, newMemoryStore(), &recordingNotifier{},
		WithPacingDelay(500*time.Millisecond),
		WithScanDelayFunc(func(d time.Duration) { delays = append(delays, d) }))

	scanner.RunPass(context.Background())

	// Three calls, paused between each consecutive pair
	if len(delays) != 2 {
		t.Fatalf("got %d pauses, want 2", len(delays))
	}
	for _, d := range delays {
		if d != 500*time.Millisecond {
			t.Errorf("pause = %v, want 500ms", d)
		}
	}
}

func TestScannerEscalatesRepeatedFailures(t *testing.T) {
	alerter := &recordingAlerter{}
	adapters := fakeAdapters{"wiki": failing("wiki", ErrSourceUnavailable), "official": voter("official", 1, 1, "1")}
	scanner := newTestScanner(staticEntities(entityWith("e", CategoryGame, "wiki", "official")),
		adapters, newMemoryStore(), &recordingNotifier{}, WithAlerter(alerter))

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		scanner.RunPass(context.Background())
	}
	if len(alerter.signatures) != 0 {
		t.Fatalf("escalated after %d failures", DefaultFailureThreshold-1)
	}

	scanner.RunPass(context.Background())
	if len(alerter.signatures) != 1 || alerter.signatures[0] != "e/wiki" {
		t.Errorf("signatures = %v", alerter.signatures)
	}
}

func TestScannerSuccessResetsFailureCount(t *testing.T) {
	alerter := &recordingAlerter{}
	healthy := false
	flaky := &fakeAdapter{name: "wiki", fetch: func(ctx context.Context, e TrackedEntity) (VersionCandidate, error) {
		if healthy {
			return VersionCandidate{Source: "wiki", Priority: 3, Confidence: 0.6, Version: "1"}, nil
		}
		return VersionCandidate{Source: "wiki"}, ErrSourceUnavailable
	}}
	scanner := newTestScanner(staticEntities(entityWith("e", CategoryGame, "wiki")),
		fakeAdapters{"wiki": flaky}, newMemoryStore(), &recordingNotifier{}, WithAlerter(alerter))

	scanner.RunPass(context.Background())
	scanner.RunPass(context.Background())
	healthy = true
	scanner.RunPass(context.Background())
	healthy = false
	scanner.RunPass(context.Background())
	scanner.RunPass(context.Background())

	if len(alerter.signatures) != 0 {
		t.Errorf("escalated despite an intervening success: %v", alerter.signatures)
	}
}

func TestScannerCategoryOrderAndMarkChecked(t *testing.T) {
	var order []string
	tracking := &fakeAdapter{name: "official", fetch: func(ctx context.Context, e TrackedEntity) (VersionCandidate, error) {
		order = append(order, e.ID)
		return VersionCandidate{Source: "official", Priority: 1, Confidence: 1, Version: "1"}, nil
	}}
	store := newMemoryStore()
	scanner := newTestScanner(staticEntities(
		entityWith("fw", CategoryFirmware, "official"),
		entityWith("repo", CategoryUserRepository, "official"),
		entityWith("app", CategoryApplication, "official"),
		entityWith("game", CategoryGame, "official"),
	), fakeAdapters{"official": tracking}, store, &recordingNotifier{})

	scanner.RunPass(context.Background())

	want := []string{"game", "app", "fw", "repo"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if len(store.checked[CategoryGame]) != 1 || len(store.checked[CategoryUserRepository]) != 1 {
		t.Errorf("checked = %v", store.checked)
	}
}

func TestScannerRunCategory(t *testing.T) {
	store := newMemoryStore()
	scanner := newTestScanner(staticEntities(
		entityWith("g", CategoryGame, "official"),
		entityWith("a", CategoryApplication, "official"),
	), fakeAdapters{"official": voter("official", 1, 1, "1")}, store, &recordingNotifier{})

	summary := scanner.RunCategory(context.Background(), CategoryApplication)
	if summary.Checked != 1 || summary.Results[0].EntityID != "a" {
		t.Errorf("summary = %+v", summary)
	}
	if _, ok := store.checked[CategoryGame]; ok {
		t.Error("game category should not be touched")
	}
}

func TestScannerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	official := voter("official", 1, 1, "1")
	scanner := newTestScanner(staticEntities(entityWith("g", CategoryGame, "official")),
		fakeAdapters{"official": official}, newMemoryStore(), &recordingNotifier{})

	summary := scanner.RunPass(ctx)
	if summary.Checked != 0 || official.calls != 0 {
		t.Errorf("cancelled pass checked %d entities, %d calls", summary.Checked, official.calls)
	}
}

func TestScannerWithRouter(t *testing.T) {
	dir := testAudience(t)
	entity, err := dir.AddRepository("beta", "owner/tool")
	if err != nil {
		t.Fatal(err)
	}
	sender := &recordingSender{}
	history, err := NewHistory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store.Write(entity, VersionRecord{Version: "v1.0"})

	adapters := fakeAdapters{
		"github-release": voter("github-release", 2, 0.8, "v1.1"),
		"github-tag":     voter("github-tag", 3, 0.5, "v1.1"),
	}
	scanner := newTestScanner(EntityFunc(dir.Entities), adapters, store, NewRouter(dir, sender, history))

	summary := scanner.RunPass(context.Background())
	if summary.Updated != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := sender.channels(); !sameChannels(got, "300") {
		t.Errorf("delivered to %v, want only the owner's channel", got)
	}
	if history.Len() != 1 || history.Recent(1)[0].Scope != "beta" {
		t.Errorf("history = %+v", history.Recent(0))
	}
	rec, _, _ := store.Read(entity)
	if rec.Version != "v1.1" {
		t.Errorf("stored = %+v", rec)
	}
}
