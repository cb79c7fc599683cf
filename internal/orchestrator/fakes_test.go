package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/internal/lock"
	"lanerunner/internal/quota"
	"lanerunner/internal/storage"
	"lanerunner/internal/task/scheduler"
	"lanerunner/internal/worker"
	"lanerunner/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type scheduled struct {
	id    string
	delay time.Duration
}

// fakeTicker records scheduling calls; tests drive Tick by hand.
type fakeTicker struct {
	mu        sync.Mutex
	calls     []scheduled
	deadlines map[string]time.Duration
	armed     map[string]bool
	cancels   map[string]int
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{deadlines: map[string]time.Duration{}, armed: map[string]bool{}, cancels: map[string]int{}}
}

func (f *fakeTicker) ScheduleAfter(_ context.Context, id string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{id, d})
	f.deadlines[id] = d
	f.armed[id] = true
	return nil
}

func (f *fakeTicker) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deadlines, id)
	delete(f.armed, id)
	f.cancels[id]++
	return nil
}

func (f *fakeTicker) Pending(_ context.Context, id string) (scheduler.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deadlines[id]
	if !ok {
		return scheduler.Pending{}, nil
	}
	return scheduler.Pending{DueAt: time.Unix(0, 0).Add(d), Durable: true, Armed: f.armed[id]}, nil
}

func (f *fakeTicker) Restore(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, ok := f.deadlines[id]; ok {
			f.armed[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeTicker) Armed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed[id]
}

// fire simulates the timer firing: the deadline is consumed.
func (f *fakeTicker) fire(id string) {
	f.mu.Lock()
	delete(f.deadlines, id)
	delete(f.armed, id)
	f.mu.Unlock()
}

func (f *fakeTicker) last() scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return scheduled{}
	}
	return f.calls[len(f.calls)-1]
}

type scriptWorker struct {
	mu    sync.Mutex
	calls []string
	fn    func(n int, target string) (worker.Result, error)
}

func (w *scriptWorker) Process(ctx context.Context, _ string, target string) (worker.Result, error) {
	w.mu.Lock()
	n := len(w.calls)
	w.calls = append(w.calls, target)
	w.mu.Unlock()
	return w.fn(n, target)
}

func (w *scriptWorker) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func always(o worker.Outcome) func(int, string) (worker.Result, error) {
	return func(int, string) (worker.Result, error) { return worker.Result{Outcome: o}, nil }
}

type env struct {
	o      *Orchestrator
	repo   *lane.Repo
	quota  *quota.Limiter
	ticker *fakeTicker
	worker *scriptWorker
	clock  *clock
	bus    eventbus.Bus
	sleeps []time.Duration
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.WorkerTimeout = time.Second
	return p
}

func newEnv(t *testing.T, fn func(int, string) (worker.Result, error), pol Policy, targets ...string) *env {
	t.Helper()
	st := storage.NewMemory()
	repo := lane.NewRepo(st)
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	locks := lock.New(st, time.Minute, logx.Nop())
	locks.SetClock(clk.Now)
	q := quota.New(repo, time.UTC)
	q.SetClock(clk.Now)

	e := &env{
		repo:   repo,
		quota:  q,
		ticker: newFakeTicker(),
		worker: &scriptWorker{fn: fn},
		clock:  clk,
		bus:    eventbus.New(),
	}
	e.o = New(Deps{
		Repo:      repo,
		Locks:     locks,
		Quota:     q,
		Scheduler: e.ticker,
		Worker:    e.worker,
		Bus:       e.bus,
	}, logx.Nop())
	e.o.now = clk.Now
	e.o.jitter = func(time.Duration) time.Duration { return 0 }
	e.o.sleep = func(_ context.Context, d time.Duration) error {
		e.sleeps = append(e.sleeps, d)
		return nil
	}
	e.o.Configure(Options{LockRetryDelay: time.Second, ResumeOnRestart: true}, []LaneSpec{
		{ID: "a", Name: "a", Policy: pol, Targets: targets},
	})
	return e
}

func (e *env) run(t *testing.T) lane.RunState {
	t.Helper()
	return e.runLane(t, "a")
}

func (e *env) runLane(t *testing.T, id string) lane.RunState {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		rs, err := e.repo.LoadRun(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !rs.IsRunning {
			return rs
		}
		e.ticker.fire(id)
		if err := e.o.Tick(ctx, id); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	t.Fatal("lane did not settle")
	return lane.RunState{}
}

func (e *env) results(t *testing.T) lane.Results {
	t.Helper()
	rs, err := e.repo.LoadResults(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func statuses(rs lane.Results) map[string]lane.Status {
	out := make(map[string]lane.Status, len(rs))
	for _, r := range rs {
		out[r.ID] = r.Status
	}
	return out
}
