package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/obentoo/switchdex/internal/common/config"
	"github.com/obentoo/switchdex/internal/common/logger"
)

// Error variables for scheduler errors
var (
	// ErrPassInProgress is returned by RunNow while another pass is running
	ErrPassInProgress = errors.New("a scan pass is already running")
	// ErrInvalidInterval is returned for intervals outside 1..1440 minutes
	ErrInvalidInterval = errors.New("interval must be between 1 and 1440 minutes")
)

// PassRunner runs one full pass. *Scanner satisfies it.
type PassRunner interface {
	RunPass(ctx context.Context) PassSummary
}

// Scheduler triggers passes on a recurring interval and on demand.
// At most one pass runs at a time: timer ticks that find a pass running are
// dropped and RunNow returns ErrPassInProgress. With a PassLock the same holds
// for passes started by other processes.
type Scheduler struct {
	runner   PassRunner
	cron     *cron.Cron
	entryID  cron.EntryID
	interval int
	baseCtx  context.Context
	sem      *semaphore.Weighted
	lock     PassLock
	onPass   func(PassSummary)

	mu   sync.Mutex
	last *PassSummary
}

// SchedulerOption is a functional option for configuring Scheduler
type SchedulerOption func(*Scheduler)

// WithBaseContext sets the context timer-triggered passes run under
func WithBaseContext(ctx context.Context) SchedulerOption {
	return func(s *Scheduler) {
		s.baseCtx = ctx
	}
}

// WithPassLock makes every pass hold lock
func WithPassLock(lock PassLock) SchedulerOption {
	return func(s *Scheduler) {
		s.lock = lock
	}
}

// WithPassHook registers a function called after every pass
func WithPassHook(fn func(PassSummary)) SchedulerOption {
	return func(s *Scheduler) {
		s.onPass = fn
	}
}

// ValidateInterval checks that minutes lies in 1..1440
func ValidateInterval(minutes int) error {
	if minutes < config.MinIntervalMinutes || minutes > config.MaxIntervalMinutes {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, minutes)
	}
	return nil
}

// NewScheduler creates a scheduler firing every minutes. Call Start to begin.
func NewScheduler(runner PassRunner, minutes int, opts ...SchedulerOption) (*Scheduler, error) {
	if err := ValidateInterval(minutes); err != nil {
		return nil, err
	}

	s := &Scheduler{
		runner:  runner,
		cron:    cron.New(cron.WithLogger(cronLogger{})),
		baseCtx: context.Background(),
		sem:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.SetInterval(minutes); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins firing timer ticks
func (s *Scheduler) Start() {
	logger.Info("scheduler started, every %d minutes", s.Interval())
	s.cron.Start()
}

// Stop cancels the timer and waits for a running pass to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// SetInterval replaces the timer. A pass already running is not interrupted.
func (s *Scheduler) SetInterval(minutes int) error {
	if err := ValidateInterval(minutes); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec := fmt.Sprintf("@every %dm", minutes)
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", spec, err)
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.interval = minutes
	return nil
}

// Interval returns the current interval in minutes
func (s *Scheduler) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Next returns when the timer fires next; zero before Start
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	return s.cron.Entry(id).Next
}

// RunNow runs a pass immediately unless one is already running.
func (s *Scheduler) RunNow(ctx context.Context) (PassSummary, error) {
	if !s.sem.TryAcquire(1) {
		return PassSummary{}, ErrPassInProgress
	}
	defer s.sem.Release(1)

	release, err := AcquirePassLock(s.lock)
	if err != nil {
		return PassSummary{}, err
	}
	defer release()
	return s.run(ctx), nil
}

// LastPass returns the summary of the most recent pass
func (s *Scheduler) LastPass() (PassSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return PassSummary{}, false
	}
	return *s.last, true
}

func (s *Scheduler) tick() {
	if !s.sem.TryAcquire(1) {
		logger.Info("skipping scheduled pass: previous pass still running")
		return
	}
	defer s.sem.Release(1)

	release, err := AcquirePassLock(s.lock)
	if err != nil {
		logger.Info("skipping scheduled pass: %v", err)
		return
	}
	defer release()
	s.run(s.baseCtx)
}

func (s *Scheduler) run(ctx context.Context) PassSummary {
	summary := s.runner.RunPass(ctx)

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()

	if s.onPass != nil {
		s.onPass(summary)
	}
	return summary
}

// cronLogger routes cron's own messages to the application logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Slog().Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Slog().Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
