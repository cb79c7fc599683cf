package orchestrator

import (
	"context"
	"errors"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/pkg/logx"
)

// RecoverReport lists what Recover did.
type RecoverReport struct {
	Restored []string `json:"restored"`
	Demoted  []string `json:"demoted"`
}

// Recover runs once at process start. A running lane whose deadline record
// survived is re-armed when ResumeOnRestart is set; any other running lane
// is demoted to interrupted and waits for an explicit Resume.
func (o *Orchestrator) Recover(ctx context.Context) (RecoverReport, error) {
	var rep RecoverReport
	ids, err := o.Lanes(ctx)
	if err != nil {
		return rep, err
	}
	resume := o.options().ResumeOnRestart

	var rearm []string
	for _, id := range ids {
		rs, err := o.repo.LoadRun(ctx, id)
		if err != nil {
			o.log.Warn("run state unreadable during recovery", logx.Lane(id), logx.Err(err))
			continue
		}
		if !rs.IsRunning {
			continue
		}
		if resume {
			p, err := o.sched.Pending(ctx, id)
			if err != nil {
				return rep, err
			}
			if p.Durable {
				rearm = append(rearm, id)
				continue
			}
		}
		if err := o.demote(ctx, id); err != nil {
			return rep, err
		}
		rep.Demoted = append(rep.Demoted, id)
	}

	if rep.Restored, err = o.sched.Restore(ctx, rearm); err != nil {
		return rep, err
	}
	o.log.Info("recovery finished", logx.Int("restored", len(rep.Restored)), logx.Int("demoted", len(rep.Demoted)))
	return rep, nil
}

func (o *Orchestrator) demote(ctx context.Context, id string) error {
	mu := o.laneMutex(id)
	mu.Lock()
	defer mu.Unlock()

	rs, err := o.repo.LoadRun(ctx, id)
	if err != nil {
		return err
	}
	if job, ok, err := o.repo.LoadJob(ctx, id); err == nil && ok {
		rs.Index = job.Index
		rs.Total = len(job.Targets)
	} else if err != nil && !errors.Is(err, lane.ErrCorrupt) {
		return err
	}
	rs.IsRunning = false
	rs.ActiveRunID = ""
	rs.Interrupted = true
	rs.UpdatedAt = o.now()
	if err := o.repo.SaveRun(ctx, id, rs); err != nil {
		return err
	}
	if err := o.repo.DeleteJob(ctx, id); err != nil {
		return err
	}
	if err := o.repo.DeleteLock(ctx, id); err != nil {
		return err
	}
	if err := o.sched.Cancel(ctx, id); err != nil {
		return err
	}
	o.log.Warn("lane interrupted by restart; resume to continue", logx.Lane(id), logx.Int("index", rs.Index), logx.Int("total", rs.Total))
	o.publish(ctx, eventbus.LaneInterrupted, id)
	return nil
}

// Sweep re-arms running lanes that have neither a timer nor a tick in the
// engine, e.g. after a tick was dropped by a full queue or failed on a
// store error. It returns the lanes re-armed.
func (o *Orchestrator) Sweep(ctx context.Context) ([]string, error) {
	ids, err := o.Lanes(ctx)
	if err != nil {
		return nil, err
	}
	var rearmed []string
	for _, id := range ids {
		rs, err := o.repo.LoadRun(ctx, id)
		if err != nil || !rs.IsRunning {
			continue
		}
		if o.sched.Armed(id) || (o.inflight != nil && o.inflight.InFlight(id)) {
			continue
		}
		o.log.Warn("running lane had no pending tick; re-arming", logx.Lane(id))
		if err := o.sched.ScheduleAfter(ctx, id, 0); err != nil {
			return rearmed, err
		}
		rearmed = append(rearmed, id)
	}
	return rearmed, nil
}

// Rollover runs at the start of each quota day. With AutoResumeAfterQuota
// set, lanes paused by the quota are resumed.
func (o *Orchestrator) Rollover(ctx context.Context) ([]string, error) {
	if !o.options().AutoResumeAfterQuota {
		return nil, nil
	}
	ids, err := o.Lanes(ctx)
	if err != nil {
		return nil, err
	}
	var resumed []string
	var errs []error
	for _, id := range ids {
		rs, err := o.repo.LoadRun(ctx, id)
		if err != nil || rs.IsRunning || !rs.LimitPaused {
			continue
		}
		if _, ok := o.spec(id); !ok {
			continue
		}
		if _, err := o.Resume(ctx, id, nil); err != nil {
			errs = append(errs, err)
			continue
		}
		resumed = append(resumed, id)
	}
	if len(resumed) > 0 {
		o.log.Info("quota day rolled over; lanes resumed", logx.Any("lanes", resumed))
	}
	return resumed, errors.Join(errs...)
}
