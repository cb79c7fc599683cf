package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/internal/worker"
)

func TestQuotaScenario(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	pol.DailyLimit = 2
	e := newEnv(t, always(worker.Success), pol, "a", "b", "c")
	ctx := context.Background()

	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	rs := e.run(t)
	if !rs.LimitPaused || rs.IsRunning || rs.Index != 2 {
		t.Fatalf("run state = %+v", rs)
	}
	want := lane.Results{
		{ID: "a", Status: lane.StatusSuccess},
		{ID: "b", Status: lane.StatusSuccess},
	}
	got := e.results(t)
	if len(got) != len(want) {
		t.Fatalf("results = %+v", got)
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Status != want[i].Status {
			t.Fatalf("results[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if calls := e.worker.Calls(); !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Fatalf("worker calls = %v", calls)
	}

	// An override lets the lane continue today.
	if err := e.o.Override(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.o.Resume(ctx, "a", nil); err != nil {
		t.Fatal(err)
	}
	rs = e.run(t)
	if rs.LimitPaused || rs.Index != 3 || rs.Total != 3 {
		t.Fatalf("after override: %+v", rs)
	}
	if st := statuses(e.results(t)); st["c"] != lane.StatusSuccess || len(st) != 3 {
		t.Fatalf("results after override = %v", st)
	}
	if _, ok, _ := e.repo.LoadJob(ctx, "a"); ok {
		t.Fatal("job kept after completion")
	}
}

func TestQuotaCheckedBeforeDelegation(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	pol.DailyLimit = 1
	e := newEnv(t, always(worker.Success), pol, "x", "y")
	ctx := context.Background()
	if _, err := e.quota.Increment(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	rs := e.run(t)
	if !rs.LimitPaused || rs.Index != 0 {
		t.Fatalf("run state = %+v", rs)
	}
	if n := len(e.worker.Calls()); n != 0 {
		t.Fatalf("worker called %d times past the quota", n)
	}

	// Next day the counter resets.
	e.clock.Advance(24 * time.Hour)
	if _, err := e.o.Resume(ctx, "a", nil); err != nil {
		t.Fatal(err)
	}
	rs = e.run(t)
	if !rs.LimitPaused || rs.Index != 1 {
		t.Fatalf("next day: %+v", rs)
	}
}

func TestBoundedRetries(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	e := newEnv(t, func(_ int, target string) (worker.Result, error) {
		if target == "bad" {
			return worker.Result{Outcome: worker.Failure, Reason: "boom"}, nil
		}
		return worker.Result{Outcome: worker.Success}, nil
	}, pol, "bad", "good")
	ctx := context.Background()

	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}

	var delays []time.Duration
	for i := 0; i < pol.MaxAttempts; i++ {
		e.ticker.fire("a")
		if err := e.o.Tick(ctx, "a"); err != nil {
			t.Fatal(err)
		}
		delays = append(delays, e.ticker.last().delay)
	}
	want := []time.Duration{pol.RetryBase, 2 * pol.RetryBase, pol.MinDelay}
	if !reflect.DeepEqual(delays, want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	job, _, _ := e.repo.LoadJob(ctx, "a")
	if job.Index != 1 || job.Attempt != 0 {
		t.Fatalf("job = %+v", job)
	}
	if st := statuses(e.results(t)); st["bad"] != lane.StatusFailed {
		t.Fatalf("results = %v", st)
	}

	e.run(t)
	calls := e.worker.Calls()
	bad := 0
	for _, c := range calls {
		if c == "bad" {
			bad++
		}
	}
	if bad != pol.MaxAttempts {
		t.Fatalf("bad target attempted %d times, want %d", bad, pol.MaxAttempts)
	}
	if st := statuses(e.results(t)); st["good"] != lane.StatusSuccess {
		t.Fatalf("lane did not advance past failed target: %v", st)
	}
}

func TestWorkerErrorAndTimeoutCountAsFailure(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	pol.MaxAttempts = 2
	pol.WorkerTimeout = 10 * time.Millisecond
	e := newEnv(t, func(n int, _ string) (worker.Result, error) {
		if n == 0 {
			return worker.Result{}, errors.New("connection refused")
		}
		time.Sleep(50 * time.Millisecond)
		return worker.Result{}, context.DeadlineExceeded
	}, pol, "t")

	if _, err := e.o.Start(context.Background(), "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	rs := e.run(t)
	if rs.Index != 1 {
		t.Fatalf("run state = %+v", rs)
	}
	if st := statuses(e.results(t)); st["t"] != lane.StatusFailed {
		t.Fatalf("results = %v", st)
	}
}

func TestNotReadyRetriedOnce(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	e := newEnv(t, func(n int, _ string) (worker.Result, error) {
		if n == 0 {
			return worker.Result{}, worker.ErrNotReady
		}
		return worker.Result{Outcome: worker.Success}, nil
	}, pol, "t1", "t2")
	ctx := context.Background()

	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Tick(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if calls := e.worker.Calls(); !reflect.DeepEqual(calls, []string{"t1", "t1"}) {
		t.Fatalf("calls = %v", calls)
	}
	if !reflect.DeepEqual(e.sleeps, []time.Duration{pol.ReadyRetryDelay}) {
		t.Fatalf("sleeps = %v", e.sleeps)
	}
	job, _, _ := e.repo.LoadJob(ctx, "a")
	if job.Index != 1 || job.Attempt != 0 {
		t.Fatalf("job = %+v", job)
	}
}

func TestNotReadyTwiceIsFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(int, string) (worker.Result, error) {
		return worker.Result{}, worker.ErrNotReady
	}, testPolicy(), "t1")
	ctx := context.Background()

	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Tick(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if n := len(e.worker.Calls()); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
	job, _, _ := e.repo.LoadJob(ctx, "a")
	if job.Index != 0 || job.Attempt != 1 {
		t.Fatalf("job = %+v", job)
	}
}

func TestRateLimitedKeepsRetryBudget(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	tests := []struct {
		name  string
		after time.Duration
		want  time.Duration
	}{
		{"below floor", 10 * time.Second, pol.RateLimitFloor},
		{"above floor", 3 * time.Minute, 3 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, func(int, string) (worker.Result, error) {
				return worker.Result{Outcome: worker.RateLimited, RetryAfter: tt.after}, nil
			}, pol, "t1")
			ctx := context.Background()
			if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < pol.MaxAttempts+2; i++ {
				if err := e.o.Tick(ctx, "a"); err != nil {
					t.Fatal(err)
				}
				if got := e.ticker.last().delay; got != tt.want {
					t.Fatalf("delay = %v, want %v", got, tt.want)
				}
			}
			job, _, _ := e.repo.LoadJob(ctx, "a")
			if job.Index != 0 || job.Attempt != 0 {
				t.Fatalf("job = %+v", job)
			}
		})
	}
}

func TestNotFoundIsSkipped(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.NotFound), testPolicy(), "gone")
	if _, err := e.o.Start(context.Background(), "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	rs := e.run(t)
	if rs.Index != 1 || rs.IsRunning {
		t.Fatalf("run state = %+v", rs)
	}
	if st := statuses(e.results(t)); st["gone"] != lane.StatusSkipped {
		t.Fatalf("results = %v", st)
	}
	if u, _ := e.quota.Usage(context.Background(), "a"); u.Used != 0 {
		t.Fatalf("skip counted against quota: %+v", u)
	}
}

func TestResumeKeepsResults(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy())
	ctx := context.Background()
	targets := []string{"t0", "t1", "t2", "t3"}

	if _, err := e.o.Start(ctx, "a", targets, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Tick(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Stop(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Stop(ctx, "a"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	p, err := e.o.Progress(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.IsRunning || p.Index != 1 || len(p.Results) != 1 || p.NextTickAt != nil {
		t.Fatalf("progress after stop = %+v", p)
	}

	if _, err := e.o.Start(ctx, "a", targets, 2); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Tick(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if calls := e.worker.Calls(); !reflect.DeepEqual(calls, []string{"t0", "t2"}) {
		t.Fatalf("calls = %v", calls)
	}
	if st := statuses(e.results(t)); st["t0"] != lane.StatusSuccess || st["t2"] != lane.StatusSuccess {
		t.Fatalf("results = %v", st)
	}

	// Resume picks up from the mirrored index.
	if err := e.o.Stop(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.o.Resume(ctx, "a", targets); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Tick(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if calls := e.worker.Calls(); calls[len(calls)-1] != "t3" {
		t.Fatalf("resume processed %v", calls)
	}

	// A fresh start clears results.
	if _, err := e.o.Start(ctx, "a", targets, 0); err != nil {
		t.Fatal(err)
	}
	if got := e.results(t); len(got) != 0 {
		t.Fatalf("results not cleared: %+v", got)
	}
}

func TestStaleRunImmunity(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	e := newEnv(t, func(n int, _ string) (worker.Result, error) {
		if n == 0 {
			close(entered)
			<-release
		}
		return worker.Result{Outcome: worker.Success}, nil
	}, testPolicy(), "t0", "t1")
	ctx := context.Background()

	oldRun, err := e.o.Start(ctx, "a", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- e.o.Tick(ctx, "a") }()
	<-entered

	if err := e.o.Stop(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	newRun, err := e.o.Start(ctx, "a", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if newRun == oldRun {
		t.Fatal("run id reused")
	}
	scheduledBefore := len(e.ticker.calls)

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	job, _, _ := e.repo.LoadJob(ctx, "a")
	if job.RunID != newRun || job.Index != 0 || job.Attempt != 0 {
		t.Fatalf("new run mutated by old tick: %+v", job)
	}
	if got := e.results(t); len(got) != 0 {
		t.Fatalf("old tick wrote results: %+v", got)
	}
	if u, _ := e.quota.Usage(ctx, "a"); u.Used != 0 {
		t.Fatalf("old tick counted quota: %+v", u)
	}
	if len(e.ticker.calls) != scheduledBefore {
		t.Fatal("old tick scheduled a follow-up")
	}
}

func TestAtMostOneConcurrentTick(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	e := newEnv(t, func(int, string) (worker.Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return worker.Result{Outcome: worker.Success}, nil
	}, testPolicy(), "t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10", "t11")
	ctx := context.Background()
	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.o.Tick(ctx, "a"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Fatalf("peak concurrent worker calls = %d", p)
	}
	calls := e.worker.Calls()
	job, _, _ := e.repo.LoadJob(ctx, "a")
	if job.Index != len(calls) {
		t.Fatalf("index %d after %d calls", job.Index, len(calls))
	}
	for i, c := range calls {
		if c != job.Targets[i] {
			t.Fatalf("call %d went to %s; order broken: %v", i, c, calls)
		}
	}
	retries := 0
	for _, s := range e.ticker.calls {
		if s.delay == time.Second {
			retries++
		}
	}
	if retries+len(calls) != 10 {
		t.Fatalf("%d lock retries + %d steps != 10 ticks", retries, len(calls))
	}
}

func TestMonotonicProgress(t *testing.T) {
	t.Parallel()

	seq := []worker.Outcome{worker.Failure, worker.Success, worker.RateLimited, worker.NotFound, worker.Failure, worker.Failure, worker.Failure}
	pol := testPolicy()
	e := newEnv(t, func(n int, _ string) (worker.Result, error) {
		return worker.Result{Outcome: seq[n%len(seq)]}, nil
	}, pol, "a", "b", "c", "d", "e", "f")
	ctx := context.Background()
	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}

	last := 0
	for i := 0; i < 60; i++ {
		job, ok, err := e.repo.LoadJob(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if job.Index < last || job.Index > len(job.Targets) {
			t.Fatalf("index went from %d to %d (len %d)", last, job.Index, len(job.Targets))
		}
		last = job.Index
		if err := e.o.Tick(ctx, "a"); err != nil {
			t.Fatal(err)
		}
	}
	rs, _ := e.repo.LoadRun(ctx, "a")
	if rs.IsRunning || rs.Index != 6 {
		t.Fatalf("run state = %+v", rs)
	}
}

func TestCorruptJobStopsLane(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy(), "t")
	ctx := context.Background()
	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.Store().Put(ctx, lane.Key("a", lane.KindJob), []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Tick(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	rs, _ := e.repo.LoadRun(ctx, "a")
	if rs.IsRunning || rs.ActiveRunID != "" {
		t.Fatalf("run state = %+v", rs)
	}
	if _, ok, _ := e.repo.Store().Get(ctx, lane.Key("a", lane.KindJob)); ok {
		t.Fatal("corrupt job kept")
	}
	if len(e.worker.Calls()) != 0 {
		t.Fatal("worker called for corrupt job")
	}
}

func TestTickOnIdleLaneCancels(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy(), "t")
	if err := e.o.Tick(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if e.ticker.cancels["a"] != 1 || len(e.worker.Calls()) != 0 {
		t.Fatalf("cancels = %d, calls = %v", e.ticker.cancels["a"], e.worker.Calls())
	}
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy())
	ctx := context.Background()

	if _, err := e.o.Start(ctx, "nope", []string{"x"}, 0); !errors.Is(err, ErrUnknownLane) {
		t.Fatalf("unknown lane: %v", err)
	}
	if _, err := e.o.Start(ctx, "a", []string{" ", ""}, 0); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("blank targets: %v", err)
	}
	if _, err := e.o.Start(ctx, "!!!", []string{"x"}, 0); !errors.Is(err, lane.ErrInvalidID) {
		t.Fatalf("invalid id: %v", err)
	}

	if _, err := e.o.Start(ctx, "A", []string{" x ", "y", "x"}, 99); err != nil {
		t.Fatal(err)
	}
	job, _, _ := e.repo.LoadJob(ctx, "a")
	if !reflect.DeepEqual(job.Targets, []string{"x", "y"}) || job.Index != 2 {
		t.Fatalf("job = %+v", job)
	}
	rs := e.run(t)
	if rs.IsRunning || rs.Index != 2 || len(e.worker.Calls()) != 0 {
		t.Fatalf("clamped start should complete without work: %+v", rs)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy(), "t")
	ch, unsub := e.bus.Subscribe(32)
	defer unsub()
	ctx := context.Background()

	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	e.run(t)

	var types []string
	for len(ch) > 0 {
		ev := <-ch
		types = append(types, ev.Type)
		if ev.Lane != "a" {
			t.Fatalf("event lane = %q", ev.Lane)
		}
	}
	want := []string{eventbus.LaneStarted, eventbus.LaneProgress, eventbus.LaneCompleted}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy(), "t0", "t1", "t2")
	ctx := context.Background()
	e.o.Configure(Options{ResumeOnRestart: true}, []LaneSpec{
		{ID: "a", Policy: testPolicy(), Targets: []string{"t0", "t1", "t2"}},
		{ID: "b", Policy: testPolicy(), Targets: []string{"u0", "u1", "u2"}},
	})

	for _, id := range []string{"a", "b"} {
		if _, err := e.o.Start(ctx, id, nil, 0); err != nil {
			t.Fatal(err)
		}
		if err := e.o.Tick(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	// Lane b crashed mid-step: its deadline was consumed and nothing re-armed it.
	e.ticker.fire("b")
	e.ticker.armed = map[string]bool{}

	rep, err := e.o.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.Restored, []string{"a"}) || !reflect.DeepEqual(rep.Demoted, []string{"b"}) {
		t.Fatalf("report = %+v", rep)
	}
	if !e.ticker.Armed("a") {
		t.Fatal("lane a not re-armed")
	}

	rs, _ := e.repo.LoadRun(ctx, "b")
	if rs.IsRunning || !rs.Interrupted || rs.Index != 1 || rs.Total != 3 {
		t.Fatalf("lane b = %+v", rs)
	}
	if _, ok, _ := e.repo.LoadJob(ctx, "b"); ok {
		t.Fatal("demoted lane kept its job")
	}
	if st := statuses(e.results(t)); len(st) != 1 {
		t.Fatalf("lane a results touched: %v", st)
	}

	if _, err := e.o.Resume(ctx, "b", nil); err != nil {
		t.Fatal(err)
	}
	rs = e.runLane(t, "b")
	if rs.Interrupted || rs.Index != 3 {
		t.Fatalf("lane b after resume = %+v", rs)
	}
	calls := e.worker.Calls()
	if calls[len(calls)-1] != "u2" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRecoverWithoutResumeDemotesAll(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy(), "t0")
	ctx := context.Background()
	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	e.o.Configure(Options{ResumeOnRestart: false}, []LaneSpec{{ID: "a", Policy: testPolicy(), Targets: []string{"t0"}}})

	rep, err := e.o.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Restored) != 0 || len(rep.Demoted) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if p, _ := e.ticker.Pending(ctx, "a"); p.Durable {
		t.Fatal("deadline kept for demoted lane")
	}
}

type inflight map[string]bool

func (m inflight) InFlight(key string) bool { return m[key] }

func TestSweepRearmsLostTicks(t *testing.T) {
	t.Parallel()

	e := newEnv(t, always(worker.Success), testPolicy(), "t0")
	ctx := context.Background()
	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}

	busy := inflight{}
	e.o.inflight = busy

	if got, _ := e.o.Sweep(ctx); len(got) != 0 {
		t.Fatalf("armed lane re-armed: %v", got)
	}
	e.ticker.fire("a")
	busy["a"] = true
	if got, _ := e.o.Sweep(ctx); len(got) != 0 {
		t.Fatalf("in-flight lane re-armed: %v", got)
	}
	busy["a"] = false
	got, err := e.o.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a"}) || e.ticker.last() != (scheduled{"a", 0}) {
		t.Fatalf("sweep = %v, last = %+v", got, e.ticker.last())
	}
}

func TestRolloverResumesQuotaPausedLanes(t *testing.T) {
	t.Parallel()

	pol := testPolicy()
	pol.DailyLimit = 1
	e := newEnv(t, always(worker.Success), pol, "t0", "t1")
	ctx := context.Background()
	if _, err := e.o.Start(ctx, "a", nil, 0); err != nil {
		t.Fatal(err)
	}
	if rs := e.run(t); !rs.LimitPaused {
		t.Fatalf("not paused: %+v", rs)
	}

	if got, _ := e.o.Rollover(ctx); len(got) != 0 {
		t.Fatal("rollover resumed with auto resume disabled")
	}
	e.o.Configure(Options{AutoResumeAfterQuota: true}, []LaneSpec{{ID: "a", Policy: pol, Targets: []string{"t0", "t1"}}})
	e.clock.Advance(24 * time.Hour)

	got, err := e.o.Rollover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("resumed = %v", got)
	}
	rs := e.run(t)
	if rs.Index != 2 || !rs.LimitPaused {
		t.Fatalf("after rollover = %+v", rs)
	}
	if st := statuses(e.results(t)); st["t1"] != lane.StatusSuccess {
		t.Fatalf("results = %v", st)
	}
}
