package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// ErrSchedulerFailure wraps the cause of a failed refresh tick. It is
// per-account and never stops other accounts from refreshing.
var ErrSchedulerFailure = errors.New("refresh failed")

// ErrNotTracked is returned by Refresh for accounts the scheduler does not know.
var ErrNotTracked = errors.New("account is not tracked")

// Retry defaults for failed ticks.
const (
	defaultRetryBase     = time.Second
	defaultRetryCap      = 5 * time.Minute
	defaultRetryAttempts = 8
	minRearm             = time.Second
)

// ScheduleState is the refresh state of one account.
type ScheduleState int

const (
	// StateIdle means no tick is pending: the account is new, its last tick
	// failed with retries exhausted, or the scheduler stopped.
	StateIdle ScheduleState = iota
	// StateScheduled means a timer is armed for the next tick.
	StateScheduled
	// StateComputing means a tick is running.
	StateComputing
)

// String returns a human-readable name for the state.
func (s ScheduleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateComputing:
		return "computing"
	default:
		return "unknown"
	}
}

// PinSource computes the current pin of an account. AccountService
// implements it with its fetch-then-compute path.
type PinSource interface {
	CurrentPin(ctx context.Context, id string) (model.OTPResult, error)
}

// PinPublisher receives every pin event. PinHub implements it.
type PinPublisher interface {
	Publish(ev model.PinEvent)
}

// accountSchedule tracks per-account refresh state.
type accountSchedule struct {
	state      ScheduleState
	timer      Timer
	gen        uint64
	nextTickAt time.Time
	lastTickAt time.Time
	validUntil time.Time
	lastErr    error
	failures   int
	backoff    retry.Backoff
	pending    bool // Refresh requested while computing.
}

// ScheduleInfo is an exported view of an account's refresh schedule, used
// for observability and testing.
type ScheduleInfo struct {
	AccountID  string
	State      ScheduleState
	NextTickAt time.Time
	LastTickAt time.Time
	ValidUntil time.Time
	Failures   int
	LastError  error
}

// RefreshScheduler keeps time-based pins live. Each tracked account has at
// most one armed timer; the next one is armed only after the current tick
// has published its event, so ticks for one account never overlap while
// different accounts tick independently.
type RefreshScheduler struct {
	source    PinSource
	publisher PinPublisher
	metrics   driven.RefreshMetrics
	clock     Clock
	logger    *slog.Logger

	retryBase     time.Duration
	retryCap      time.Duration
	retryAttempts uint64

	mu       sync.Mutex
	ctx      context.Context
	accounts map[string]*accountSchedule
	stopped  bool
}

// SchedulerOption configures a RefreshScheduler.
type SchedulerOption func(*RefreshScheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *RefreshScheduler) { s.clock = c }
}

// WithRefreshMetrics installs a metrics recorder.
func WithRefreshMetrics(m driven.RefreshMetrics) SchedulerOption {
	return func(s *RefreshScheduler) { s.metrics = m }
}

// WithRetry sets the exponential backoff base, cap and maximum attempts used
// after failed ticks. Non-positive values keep the defaults.
func WithRetry(base, maxDelay time.Duration, attempts int) SchedulerOption {
	return func(s *RefreshScheduler) {
		if base > 0 {
			s.retryBase = base
		}
		if maxDelay > 0 {
			s.retryCap = maxDelay
		}
		if attempts > 0 {
			s.retryAttempts = uint64(attempts)
		}
	}
}

// WithSchedulerLogger sets the logger. The default is slog.Default().
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *RefreshScheduler) { s.logger = l }
}

// NewRefreshScheduler creates a scheduler that computes pins through source
// and publishes them to publisher.
func NewRefreshScheduler(source PinSource, publisher PinPublisher, opts ...SchedulerOption) *RefreshScheduler {
	s := &RefreshScheduler{
		source:        source,
		publisher:     publisher,
		metrics:       nopMetrics{},
		clock:         SystemClock{},
		logger:        slog.Default(),
		retryBase:     defaultRetryBase,
		retryCap:      defaultRetryCap,
		retryAttempts: defaultRetryAttempts,
		ctx:           context.Background(),
		accounts:      make(map[string]*accountSchedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds ticks to ctx and blocks until ctx is cancelled, then stops
// every timer.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("refresh scheduler started")
	<-ctx.Done()
	s.Stop()
	s.logger.Info("refresh scheduler stopped")
}

// Stop cancels all pending ticks. Tracked accounts are forgotten and later
// Track calls are ignored.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, sch := range s.accounts {
		if sch.timer != nil {
			sch.timer.Stop()
		}
		delete(s.accounts, id)
	}
	s.metrics.SetTracked(0)
}

// Track starts refreshing a time-based account with an immediate tick.
// Counter-based accounts are ignored, as is re-tracking a known account.
func (s *RefreshScheduler) Track(account model.Account) {
	if !account.Method.IsTimeBased() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.accounts[account.ID]; ok {
		return
	}

	sch := &accountSchedule{state: StateIdle}
	s.accounts[account.ID] = sch
	s.arm(account.ID, sch, 0)
	s.metrics.SetTracked(len(s.accounts))
}

// Untrack cancels any pending tick and forgets the account. A tick that is
// already computing finishes but its result is discarded.
func (s *RefreshScheduler) Untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forget(id)
}

// Refresh requests an immediate tick, resetting any backoff. It revives
// accounts left idle after exhausting retries. If a tick is running, the
// request is honoured as soon as it completes.
func (s *RefreshScheduler) Refresh(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("refresh %s: %w", id, ErrNotTracked)
	}

	sch.backoff = nil
	sch.failures = 0

	if sch.state == StateComputing {
		sch.pending = true
		return nil
	}

	if sch.timer != nil {
		sch.timer.Stop()
	}
	s.arm(id, sch, 0)
	return nil
}

// Snapshot returns the schedule of every tracked account, ordered by ID.
func (s *RefreshScheduler) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleInfo, 0, len(s.accounts))
	for id, sch := range s.accounts {
		out = append(out, ScheduleInfo{
			AccountID:  id,
			State:      sch.state,
			NextTickAt: sch.nextTickAt,
			LastTickAt: sch.lastTickAt,
			ValidUntil: sch.validUntil,
			Failures:   sch.failures,
			LastError:  sch.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// ScheduleFor returns the schedule of a single account.
func (s *RefreshScheduler) ScheduleFor(id string) (ScheduleInfo, bool) {
	for _, info := range s.Snapshot() {
		if info.AccountID == id {
			return info, true
		}
	}
	return ScheduleInfo{}, false
}

// arm schedules the next tick after d. Must be called with s.mu held.
func (s *RefreshScheduler) arm(id string, sch *accountSchedule, d time.Duration) {
	sch.gen++
	gen := sch.gen
	sch.state = StateScheduled
	sch.nextTickAt = s.clock.Now().Add(d)
	sch.timer = s.clock.AfterFunc(d, func() { s.tick(id, gen) })
}

// forget removes an account. Must be called with s.mu held.
func (s *RefreshScheduler) forget(id string) {
	sch, ok := s.accounts[id]
	if !ok {
		return
	}
	if sch.timer != nil {
		sch.timer.Stop()
	}
	delete(s.accounts, id)
	s.metrics.SetTracked(len(s.accounts))
}

func (s *RefreshScheduler) tick(id string, gen uint64) {
	s.mu.Lock()
	sch, ok := s.accounts[id]
	if !ok || sch.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	sch.state = StateComputing
	sch.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	// No lock is held while the secret store is consulted.
	start := s.clock.Now()
	res, err := s.source.CurrentPin(ctx, id)
	now := s.clock.Now()
	latency := now.Sub(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok = s.accounts[id]
	if !ok || sch.gen != gen || s.stopped {
		return
	}
	sch.lastTickAt = now

	switch {
	case errors.Is(err, driven.ErrAccountNotFound):
		s.metrics.ObserveTick(driven.TickPruned, latency)
		s.logger.Info("pruning refresh schedule for deleted account", "account_id", id)
		s.forget(id)

	case err != nil:
		s.metrics.ObserveTick(driven.TickFailed, latency)
		s.fail(id, sch, err, now)

	default:
		s.metrics.ObserveTick(driven.TickOK, latency)
		sch.lastErr = nil
		sch.failures = 0
		sch.backoff = nil
		sch.validUntil = res.ValidUntil

		s.publisher.Publish(model.PinEvent{
			AccountID:  id,
			Pin:        res.Pin,
			ValidUntil: res.ValidUntil,
			Counter:    res.Counter,
			State:      model.PinStateOK,
			EmittedAt:  now,
		})

		next := res.ValidUntil.Sub(now)
		if sch.pending {
			next = 0
		} else if next <= 0 {
			next = minRearm
		}
		sch.pending = false
		s.arm(id, sch, next)
	}
}

// fail records a failed tick, publishes a degraded event and schedules a
// backoff retry. Must be called with s.mu held.
func (s *RefreshScheduler) fail(id string, sch *accountSchedule, err error, now time.Time) {
	sch.state = StateIdle
	sch.lastErr = fmt.Errorf("%w: %w", ErrSchedulerFailure, err)
	sch.failures++
	sch.validUntil = time.Time{}

	s.publisher.Publish(model.PinEvent{
		AccountID: id,
		State:     model.PinStateDegraded,
		Error:     PinErrorMessage(err),
		EmittedAt: now,
	})

	if sch.pending {
		sch.pending = false
		s.arm(id, sch, 0)
		return
	}

	if sch.backoff == nil {
		sch.backoff = s.newBackoff()
	}
	delay, stop := sch.backoff.Next()
	if stop {
		s.logger.Warn("refresh retries exhausted, waiting for manual refresh",
			"account_id", id,
			"failures", sch.failures,
			"error", err,
		)
		return
	}

	s.logger.Warn("refresh failed, retrying",
		"account_id", id,
		"failures", sch.failures,
		"retry_in", delay,
		"error", err,
	)
	s.metrics.RetryScheduled()
	s.arm(id, sch, delay)
}

func (s *RefreshScheduler) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.retryBase)
	b = retry.WithCappedDuration(s.retryCap, b)
	return retry.WithMaxRetries(s.retryAttempts, b)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration) {}
func (nopMetrics) RetryScheduled()                   {}
func (nopMetrics) SetTracked(int)                    {}
