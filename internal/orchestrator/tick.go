package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/internal/lock"
	"lanerunner/internal/worker"
	"lanerunner/pkg/logx"
)

// Tick performs one step of the lane's state machine. It is invoked by the
// scheduler through the task engine. Returned errors are store failures;
// lane-level problems are absorbed into lane state.
func (o *Orchestrator) Tick(ctx context.Context, id string) error {
	mu := o.laneMutex(id)
	held := laneHold{mu: mu}
	held.lock()
	defer held.unlock()

	rs, err := o.repo.LoadRun(ctx, id)
	if err != nil {
		return err
	}
	if !rs.IsRunning {
		return o.sched.Cancel(ctx, id)
	}

	job, ok, err := o.repo.LoadJob(ctx, id)
	if errors.Is(err, lane.ErrCorrupt) || (err == nil && !ok) {
		o.log.Warn("job missing or corrupt; stopping lane", logx.Lane(id), logx.Err(err))
		if err := o.stopLocked(ctx, id); err != nil {
			return err
		}
		defer o.publish(context.WithoutCancel(ctx), eventbus.LaneFailed, id)
		return nil
	}
	if err != nil {
		return err
	}

	guard := lock.NewGuard(o.locks, id)
	got, err := guard.Acquire(ctx)
	if err != nil {
		return err
	}
	if !got {
		o.log.Debug("lane busy; tick deferred", logx.Lane(id))
		return o.sched.ScheduleAfter(ctx, id, o.options().LockRetryDelay)
	}
	// Registered after held.unlock so it runs first.
	defer guard.Release(context.WithoutCancel(ctx))

	if job.RunID != rs.ActiveRunID {
		o.log.Debug("stale tick dropped", logx.Lane(id), logx.RunID(job.RunID))
		return nil
	}

	limited, err := o.quota.IsLimited(ctx, id)
	if err != nil {
		return err
	}
	if limited {
		return o.pauseForQuota(ctx, id, rs)
	}

	if job.Done() {
		return o.complete(ctx, id, rs, job)
	}

	return o.step(ctx, id, rs, job, guard, &held)
}

// step delegates the current target to the Worker. The lane mutex is
// released for the duration of the call and re-taken before persisting.
func (o *Orchestrator) step(ctx context.Context, id string, rs lane.RunState, job lane.Job, guard *lock.Guard, held *laneHold) error {
	pol := o.policy(id)
	target := job.Targets[job.Index]
	log := o.log.With(logx.Lane(id), logx.RunID(job.RunID))

	defer o.publish(context.WithoutCancel(ctx), eventbus.LaneProgress, id)

	results, err := o.loadResults(ctx, id)
	if err != nil {
		return err
	}
	results = results.Upsert(target, lane.StatusProcessing, o.now())
	if err := o.repo.SaveResults(ctx, id, results); err != nil {
		return err
	}

	held.unlock()
	res, callErr := o.call(ctx, id, target, pol)
	held.lock()

	cur, err := o.repo.LoadRun(ctx, id)
	if err != nil {
		return err
	}
	if !cur.IsRunning || cur.ActiveRunID != job.RunID {
		// Stop already removed our lease; a newer run may own the current one.
		guard.Disown()
		log.Info("run superseded during worker call; result discarded", logx.String("target", target))
		return nil
	}

	outcome := res.Outcome
	if callErr != nil {
		outcome = worker.Failure
		res.Reason = callErr.Error()
	}

	// A fresh read keeps writes made by Override during the call.
	if results, err = o.loadResults(ctx, id); err != nil {
		return err
	}
	now := o.now()
	var delay time.Duration
	quotaHit := false

	switch outcome {
	case worker.Success:
		results = results.Upsert(target, lane.StatusSuccess, now)
		job.Index++
		job.Attempt = 0
		if _, err := o.quota.Increment(ctx, id); err != nil {
			return err
		}
		if quotaHit, err = o.quota.IsLimited(ctx, id); err != nil {
			return err
		}
		delay = o.interDelay(pol)
	case worker.NotFound:
		results = results.Upsert(target, lane.StatusSkipped, now)
		job.Index++
		job.Attempt = 0
		delay = o.interDelay(pol)
	case worker.RateLimited:
		delay = max(pol.RateLimitFloor, res.RetryAfter)
	default:
		job.Attempt++
		if job.Attempt >= pol.MaxAttempts {
			results = results.Upsert(target, lane.StatusFailed, now)
			job.Index++
			job.Attempt = 0
			delay = o.interDelay(pol)
		} else {
			delay = pol.RetryBase * time.Duration(job.Attempt)
		}
	}

	log.Debug("step finished",
		logx.String("target", target),
		logx.String("outcome", string(outcome)),
		logx.String("reason", res.Reason),
		logx.Int("index", job.Index),
		logx.Int("attempt", job.Attempt),
		logx.Duration("next", delay),
	)

	job.UpdatedAt = now
	if err := o.repo.SaveResults(ctx, id, results); err != nil {
		return err
	}
	if err := o.repo.SaveJob(ctx, id, job); err != nil {
		return err
	}
	cur.Index = job.Index
	cur.Total = len(job.Targets)
	cur.UpdatedAt = now

	if quotaHit {
		return o.pauseForQuota(ctx, id, cur)
	}
	if err := o.repo.SaveRun(ctx, id, cur); err != nil {
		return err
	}
	if job.Done() {
		delay = 0
	}
	return o.sched.ScheduleAfter(ctx, id, delay)
}

// call invokes the Worker with the lane's timeout. ErrNotReady earns one
// more attempt after ReadyRetryDelay.
func (o *Orchestrator) call(ctx context.Context, id, target string, pol Policy) (worker.Result, error) {
	res, err := o.invoke(ctx, id, target, pol.WorkerTimeout)
	if !errors.Is(err, worker.ErrNotReady) {
		return res, err
	}
	o.log.Debug("worker not ready; retrying once", logx.Lane(id), logx.Duration("after", pol.ReadyRetryDelay))
	if err := o.sleep(ctx, pol.ReadyRetryDelay); err != nil {
		return worker.Result{}, err
	}
	return o.invoke(ctx, id, target, pol.WorkerTimeout)
}

func (o *Orchestrator) invoke(ctx context.Context, id, target string, timeout time.Duration) (worker.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.worker.Process(ctx, id, target)
}

func (o *Orchestrator) pauseForQuota(ctx context.Context, id string, rs lane.RunState) error {
	rs.IsRunning = false
	rs.LimitPaused = true
	rs.UpdatedAt = o.now()
	if err := o.repo.SaveRun(ctx, id, rs); err != nil {
		return err
	}
	if err := o.sched.Cancel(ctx, id); err != nil {
		return err
	}
	o.log.Info("daily quota reached; lane paused", logx.Lane(id), logx.Int("index", rs.Index))
	defer o.publish(context.WithoutCancel(ctx), eventbus.LaneQuotaPaused, id)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, id string, rs lane.RunState, job lane.Job) error {
	rs.IsRunning = false
	rs.ActiveRunID = ""
	rs.Index = len(job.Targets)
	rs.Total = len(job.Targets)
	rs.UpdatedAt = o.now()
	if err := o.repo.SaveRun(ctx, id, rs); err != nil {
		return err
	}
	if err := o.repo.DeleteJob(ctx, id); err != nil {
		return err
	}
	if err := o.sched.Cancel(ctx, id); err != nil {
		return err
	}
	o.log.Info("lane completed", logx.Lane(id), logx.Int("total", rs.Total))
	defer o.publish(context.WithoutCancel(ctx), eventbus.LaneCompleted, id)
	return nil
}

func (o *Orchestrator) loadResults(ctx context.Context, id string) (lane.Results, error) {
	rs, err := o.repo.LoadResults(ctx, id)
	if errors.Is(err, lane.ErrCorrupt) {
		o.log.Warn("results corrupt; starting a new list", logx.Lane(id), logx.Err(err))
		return lane.Results{}, nil
	}
	return rs, err
}

// laneHold is a lane mutex that can be dropped and re-taken within one tick.
type laneHold struct {
	mu   *sync.Mutex
	held bool
}

func (h *laneHold) lock() {
	h.mu.Lock()
	h.held = true
}

func (h *laneHold) unlock() {
	if h.held {
		h.held = false
		h.mu.Unlock()
	}
}
