// Package orchestrator drives each lane's job through the durable tick
// state machine. Every tick re-reads the store; no in-memory state is
// trusted across ticks except the per-lane mutex that serializes the short
// persistence sections inside one process.
package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/internal/lock"
	"lanerunner/internal/quota"
	"lanerunner/internal/task/scheduler"
	"lanerunner/internal/worker"
	"lanerunner/pkg/logx"
)

var (
	ErrNoTargets   = errors.New("no targets")
	ErrUnknownLane = errors.New("unknown lane")
)

// Ticker is the scheduler surface the orchestrator drives.
type Ticker interface {
	ScheduleAfter(ctx context.Context, id string, d time.Duration) error
	Cancel(ctx context.Context, id string) error
	Pending(ctx context.Context, id string) (scheduler.Pending, error)
	Restore(ctx context.Context, ids []string) ([]string, error)
	Armed(id string) bool
}

// InFlight reports whether a tick for the lane is queued or running.
type InFlight interface {
	InFlight(key string) bool
}

// Policy holds one lane's timing and retry settings.
type Policy struct {
	MinDelay        time.Duration
	MaxDelay        time.Duration
	RetryBase       time.Duration
	RateLimitFloor  time.Duration
	ReadyRetryDelay time.Duration
	MaxAttempts     int
	DailyLimit      int
	WorkerTimeout   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinDelay:        15 * time.Second,
		MaxDelay:        25 * time.Second,
		RetryBase:       5 * time.Second,
		RateLimitFloor:  60 * time.Second,
		ReadyRetryDelay: time.Second,
		MaxAttempts:     3,
		DailyLimit:      quota.DefaultDailyLimit,
		WorkerTimeout:   45 * time.Second,
	}
}

// LaneSpec is a configured lane.
type LaneSpec struct {
	ID      string
	Name    string
	Policy  Policy
	Targets []string
}

type Options struct {
	LockRetryDelay       time.Duration
	ResumeOnRestart      bool
	AutoResumeAfterQuota bool
}

type Deps struct {
	Repo      *lane.Repo
	Locks     *lock.Manager
	Quota     *quota.Limiter
	Scheduler Ticker
	Worker    worker.Worker
	Bus       eventbus.Bus
	InFlight  InFlight
}

type Orchestrator struct {
	repo     *lane.Repo
	locks    *lock.Manager
	quota    *quota.Limiter
	sched    Ticker
	worker   worker.Worker
	bus      eventbus.Bus
	inflight InFlight
	log      logx.Logger

	mu    sync.RWMutex
	opts  Options
	lanes map[string]LaneSpec

	laneMu    sync.Mutex
	laneLocks map[string]*sync.Mutex

	now    func() time.Time
	jitter func(n time.Duration) time.Duration // uniform in [0, n]
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(d Deps, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		repo:      d.Repo,
		locks:     d.Locks,
		quota:     d.Quota,
		sched:     d.Scheduler,
		worker:    d.Worker,
		bus:       d.Bus,
		inflight:  d.InFlight,
		log:       log.With(logx.String("comp", "orchestrator")),
		opts:      Options{LockRetryDelay: time.Second, ResumeOnRestart: true},
		lanes:     map[string]LaneSpec{},
		laneLocks: map[string]*sync.Mutex{},
		now:       time.Now,
		jitter: func(n time.Duration) time.Duration {
			if n <= 0 {
				return 0
			}
			return rand.N(n + 1)
		},
		sleep: sleepCtx,
	}
}

// Configure replaces the options and lane set. Lanes keep running across
// calls; new policies apply from their next tick.
func (o *Orchestrator) Configure(opts Options, specs []LaneSpec) {
	if opts.LockRetryDelay <= 0 {
		opts.LockRetryDelay = time.Second
	}
	lanes := make(map[string]LaneSpec, len(specs))
	for _, s := range specs {
		if s.Policy.MaxAttempts <= 0 {
			s.Policy.MaxAttempts = 1
		}
		s.Policy.MaxDelay = max(s.Policy.MaxDelay, s.Policy.MinDelay)
		lanes[s.ID] = s
		o.quota.SetLimit(s.ID, s.Policy.DailyLimit)
	}
	o.mu.Lock()
	o.opts = opts
	o.lanes = lanes
	o.mu.Unlock()
}

func (o *Orchestrator) options() Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opts
}

func (o *Orchestrator) spec(id string) (LaneSpec, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.lanes[id]
	return s, ok
}

func (o *Orchestrator) policy(id string) Policy {
	if s, ok := o.spec(id); ok {
		return s.Policy
	}
	return DefaultPolicy()
}

func (o *Orchestrator) laneMutex(id string) *sync.Mutex {
	o.laneMu.Lock()
	defer o.laneMu.Unlock()
	m, ok := o.laneLocks[id]
	if !ok {
		m = &sync.Mutex{}
		o.laneLocks[id] = m
	}
	return m
}

// Lanes returns configured lanes plus lanes found in the store, sorted.
func (o *Orchestrator) Lanes(ctx context.Context) ([]string, error) {
	stored, err := o.repo.Lanes(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([]string, 0, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	o.mu.RLock()
	for id := range o.lanes {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	o.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// interDelay is the randomized pause between two targets.
func (o *Orchestrator) interDelay(p Policy) time.Duration {
	return p.MinDelay + o.jitter(p.MaxDelay-p.MinDelay)
}

func (o *Orchestrator) publish(ctx context.Context, typ, id string) {
	if o.bus == nil {
		return
	}
	p, err := o.Progress(ctx, id)
	if err != nil {
		o.log.Warn("progress read failed", logx.Lane(id), logx.Err(err))
		o.bus.Publish(eventbus.Event{Type: typ, Lane: id})
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Lane: id, Data: p})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
