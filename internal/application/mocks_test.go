package application_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/authenticator/internal/application"
	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// rfcSecret is the base32 form of the RFC 4226/6238 SHA1 test key "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Account store ---

type mockAccountStore struct {
	mu        sync.Mutex
	accounts  map[string]model.Account
	seq       int
	createErr error
	deleteErr error
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]model.Account)}
}

func (m *mockAccountStore) Create(_ context.Context, a model.Account) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return model.Account{}, m.createErr
	}
	m.seq++
	a.ID = fmt.Sprintf("acc-%02d", m.seq)
	a.Position = m.seq - 1
	m.accounts[a.ID] = a
	return a, nil
}

func (m *mockAccountStore) Get(_ context.Context, id string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, driven.ErrAccountNotFound)
	}
	return a, nil
}

func (m *mockAccountStore) Update(_ context.Context, id string, patch model.AccountPatch) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, driven.ErrAccountNotFound
	}
	if patch.Username != nil {
		a.Username = *patch.Username
	}
	if patch.Provider != nil {
		a.Provider = *patch.Provider
	}
	m.accounts[id] = a
	return a, nil
}

func (m *mockAccountStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.accounts[id]; !ok {
		return driven.ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *mockAccountStore) List(_ context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *mockAccountStore) SetCounter(_ context.Context, id string, counter uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.Counter = counter
	m.accounts[id] = a
	return nil
}

func (m *mockAccountStore) Reorder(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pos, id := range ids {
		if a, ok := m.accounts[id]; ok {
			a.Position = pos
			m.accounts[id] = a
		}
	}
	return nil
}

func (m *mockAccountStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// --- Secret store ---

type mockSecretStore struct {
	mu        sync.Mutex
	secrets   map[string]model.Secret
	putErr    error
	deleteErr error
}

func newMockSecretStore() *mockSecretStore {
	return &mockSecretStore{secrets: make(map[string]model.Secret)}
}

func (m *mockSecretStore) Put(_ context.Context, id string, s model.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return m.putErr
	}
	m.secrets[id] = s
	return nil
}

func (m *mockSecretStore) Get(_ context.Context, id string) (model.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[id]
	if !ok {
		return "", driven.ErrSecretNotFound
	}
	return s, nil
}

func (m *mockSecretStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.secrets, id)
	return nil
}

func (m *mockSecretStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secrets)
}

// --- Provider catalog ---

type fakeCatalog struct {
	entries []model.ProviderEntry
}

func (c fakeCatalog) Lookup(name string) model.ProviderEntry {
	for _, e := range c.entries {
		if strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return model.UnknownProvider(name)
}

func (c fakeCatalog) Search(prefix string, limit int) []model.ProviderEntry {
	out := []model.ProviderEntry{}
	for _, e := range c.entries {
		if strings.HasPrefix(strings.ToLower(e.Name), strings.ToLower(prefix)) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c fakeCatalog) Len() int { return len(c.entries) }

func testCatalog() fakeCatalog {
	return fakeCatalog{entries: []model.ProviderEntry{
		{Name: "Steam", Method: model.MethodSteam, Algorithm: model.AlgorithmSHA1, Digits: 5, Period: 30, Known: true},
		{Name: "YubiCloud", Method: model.MethodHOTP, Algorithm: model.AlgorithmSHA1, Digits: 6, DefaultCounter: 1, Known: true},
		{Name: "Amazon Web Services", Digits: 6, Period: 30, Known: true},
	}}
}

// --- QR renderer ---

type fakeQR struct {
	content string
	size    int
}

func (q *fakeQR) PNG(content string, size int) ([]byte, error) {
	q.content = content
	q.size = size
	return []byte("\x89PNG"), nil
}

// --- Tracker ---

type recordingTracker struct {
	mu        sync.Mutex
	tracked   []string
	untracked []string
}

func (r *recordingTracker) Track(a model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = append(r.tracked, a.ID)
}

func (r *recordingTracker) Untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.untracked = append(r.untracked, id)
}

// --- Scheduler collaborators ---

// fakeClock fires AfterFunc callbacks synchronously from Advance, in due order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) application.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// Advance moves time forward by d, firing every timer that falls due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.stopped = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

// nextDue must be called with c.mu held.
func (c *fakeClock) nextDue(target time.Time) *fakeTimer {
	var best *fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if t.at.After(target) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			best = t
		}
	}
	c.timers = live
	return best
}

// pending returns the number of armed timers.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// scriptedSource returns per-account results computed from the fake clock.
type scriptedSource struct {
	mu     sync.Mutex
	clock  *fakeClock
	period time.Duration
	errs   map[string]error
	calls  map[string]int
}

func newScriptedSource(clock *fakeClock) *scriptedSource {
	return &scriptedSource{
		clock:  clock,
		period: 30 * time.Second,
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (s *scriptedSource) CurrentPin(_ context.Context, id string) (model.OTPResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[id]++
	if err := s.errs[id]; err != nil {
		return model.OTPResult{}, err
	}
	now := s.clock.Now()
	return model.OTPResult{
		Pin:        fmt.Sprintf("%s-%d", id, now.Unix()),
		IssuedAt:   now,
		ValidUntil: now.Truncate(s.period).Add(s.period),
	}, nil
}

func (s *scriptedSource) setErr(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = err
}

func (s *scriptedSource) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PinEvent
}

func (p *recordingPublisher) Publish(ev model.PinEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) eventsFor(id string) []model.PinEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []model.PinEvent
	for _, ev := range p.events {
		if ev.AccountID == id {
			out = append(out, ev)
		}
	}
	return out
}

type countingMetrics struct {
	mu      sync.Mutex
	ticks   map[string]int
	retries int
	tracked int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{ticks: make(map[string]int)}
}

func (m *countingMetrics) ObserveTick(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[outcome]++
}

func (m *countingMetrics) RetryScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *countingMetrics) SetTracked(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = n
}
