package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{clock: c, t: t}
}

// Advance moves time forward and fires due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type fakeTimerHandle struct {
	clock *fakeClock
	t     *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	if h.t.stopped || h.t.fired {
		return false
	}
	h.t.stopped = true
	return true
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	ready    bool
	analyzed []string
	stops    int
	newGames int
	requests []*analysis.Request
}

func (f *fakeAnalyzer) Analyze(fen string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return analysis.ErrNotReady
	}
	f.analyzed = append(f.analyzed, fen)
	return nil
}

func (f *fakeAnalyzer) RequestBestMove(fen string, difficulty int) *analysis.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := analysis.NewRequest(uint64(len(f.requests)+1), fen, difficulty)
	if !f.ready {
		req.Settle(analysis.Result{Err: analysis.ErrNotReady})
	}
	f.requests = append(f.requests, req)
	return req
}

func (f *fakeAnalyzer) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeAnalyzer) NewGame() error {
	f.mu.Lock()
	f.newGames++
	f.mu.Unlock()
	return nil
}

func (f *fakeAnalyzer) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeAnalyzer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// waitRequest blocks until the n-th best-move request (1-based) exists.
func (f *fakeAnalyzer) waitRequest(t *testing.T, n int) *analysis.Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.requests) >= n {
			req := f.requests[n-1]
			f.mu.Unlock()
			return req
		}
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("best-move request %d never issued", n)
	return nil
}

func (f *fakeAnalyzer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type memoryGames struct {
	mu      sync.Mutex
	records map[string]domain.GameRecord
	saves   int
	loadErr error
}

func newMemoryGames() *memoryGames {
	return &memoryGames{records: make(map[string]domain.GameRecord)}
}

func (m *memoryGames) Save(_ context.Context, id string, rec domain.GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = rec
	m.saves++
	return nil
}

func (m *memoryGames) Load(_ context.Context, id string) (*domain.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memoryGames) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memoryGames) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memoryPrefs struct {
	mu      sync.Mutex
	records map[string]domain.SettingsRecord
}

func (m *memoryPrefs) Get(_ context.Context, id string) (*domain.SettingsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memoryPrefs) Save(_ context.Context, rec domain.SettingsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]domain.SettingsRecord)
	}
	m.records[rec.SessionID] = rec
	return nil
}

type harness struct {
	svc      *Service
	clock    *fakeClock
	analyzer *fakeAnalyzer
}

func startService(t *testing.T, oracle Rules, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), analyzer: &fakeAnalyzer{ready: true}}
	if oracle == nil {
		oracle = rules.Oracle{}
	}
	all := append([]Option{WithClock(h.clock), WithSessionID("test-session")}, opts...)
	svc, err := New(oracle, h.analyzer, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-svc.Done()
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) move(t *testing.T, uci string) MoveResult {
	t.Helper()
	c, err := rules.ParseCandidate(uci)
	if err != nil {
		t.Fatalf("ParseCandidate(%q): %v", uci, err)
	}
	res, err := h.svc.HumanMove(testCtx(t), c)
	if err != nil {
		t.Fatalf("HumanMove(%s): %v", uci, err)
	}
	return res
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.svc.Snapshot(testCtx(t))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

// waitFor polls snapshots until cond holds. Internal events race with
// commands, so a single snapshot is not a barrier.
func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last Snapshot
	for time.Now().Before(deadline) {
		last = h.snapshot(t)
		if cond(last) {
			return last
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, last)
	return last
}

func (h *harness) setPrefs(t *testing.T, mutate func(*domain.Preferences)) Snapshot {
	t.Helper()
	p := domain.DefaultPreferences()
	mutate(&p)
	snap, err := h.svc.SetPreferences(testCtx(t), p)
	if err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	return snap
}

func replayFEN(t *testing.T, history []string) string {
	t.Helper()
	pos, err := rules.Oracle{}.Replay(history)
	if err != nil {
		t.Fatalf("Replay(%v): %v", history, err)
	}
	return pos.FEN()
}
