package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/pkg/logx"
)

// Progress is the control-surface view of a lane.
type Progress struct {
	Lane           string       `json:"lane"`
	IsRunning      bool         `json:"is_running"`
	Index          int          `json:"index"`
	Total          int          `json:"total"`
	Results        lane.Results `json:"results"`
	LimitPaused    bool         `json:"limit_paused"`
	Interrupted    bool         `json:"interrupted"`
	QuotaUsed      int          `json:"quota_used"`
	QuotaLimit     int          `json:"quota_limit"`
	OverrideActive bool         `json:"override_active"`
	NextTickAt     *time.Time   `json:"next_tick_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Start begins a new run at startIndex. Empty targets fall back to the
// lane's configured list. startIndex 0 clears previous results.
func (o *Orchestrator) Start(ctx context.Context, name string, targets []string, startIndex int) (string, error) {
	id, err := lane.ID(name)
	if err != nil {
		return "", err
	}
	spec, ok := o.spec(id)
	if !ok {
		return "", fmt.Errorf("%s: %w", id, ErrUnknownLane)
	}
	if len(targets) == 0 {
		targets = spec.Targets
	}
	targets = lane.NormalizeTargets(targets)
	if len(targets) == 0 {
		return "", fmt.Errorf("%s: %w", id, ErrNoTargets)
	}
	startIndex = min(max(startIndex, 0), len(targets))

	mu := o.laneMutex(id)
	mu.Lock()
	defer mu.Unlock()

	now := o.now()
	runID := uuid.NewString()
	if err := o.repo.DeleteLock(ctx, id); err != nil {
		return "", err
	}
	if startIndex == 0 {
		if err := o.repo.ClearResults(ctx, id); err != nil {
			return "", err
		}
	}
	job := lane.Job{Targets: targets, Index: startIndex, RunID: runID, UpdatedAt: now}
	if err := o.repo.SaveJob(ctx, id, job); err != nil {
		return "", err
	}
	rs := lane.RunState{
		IsRunning:   true,
		ActiveRunID: runID,
		Index:       startIndex,
		Total:       len(targets),
		UpdatedAt:   now,
	}
	if err := o.repo.SaveRun(ctx, id, rs); err != nil {
		return "", err
	}
	if err := o.sched.ScheduleAfter(ctx, id, 0); err != nil {
		return "", err
	}

	o.log.Info("lane started", logx.Lane(id), logx.RunID(runID), logx.Int("index", startIndex), logx.Int("total", len(targets)))
	o.publish(ctx, eventbus.LaneStarted, id)
	return runID, nil
}

// Resume starts a new run at the lane's last recorded index, keeping its
// results. Empty targets reuse the previous run's list when one is still
// stored, else the configured list.
func (o *Orchestrator) Resume(ctx context.Context, name string, targets []string) (string, error) {
	id, err := lane.ID(name)
	if err != nil {
		return "", err
	}
	rs, err := o.repo.LoadRun(ctx, id)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		if job, ok, err := o.repo.LoadJob(ctx, id); err == nil && ok {
			targets = job.Targets
		}
	}
	return o.Start(ctx, id, targets, rs.Index)
}

// Stop ends the current run. Progress (index, results) is kept for Resume.
// Stopping an idle lane is a no-op apart from rewriting the flags.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	id, err := lane.ID(name)
	if err != nil {
		return err
	}
	mu := o.laneMutex(id)
	mu.Lock()
	err = o.stopLocked(ctx, id)
	mu.Unlock()
	if err != nil {
		return err
	}
	o.log.Info("lane stopped", logx.Lane(id))
	o.publish(ctx, eventbus.LaneStopped, id)
	return nil
}

// stopLocked runs with the lane mutex held.
func (o *Orchestrator) stopLocked(ctx context.Context, id string) error {
	rs, err := o.repo.LoadRun(ctx, id)
	if err != nil && !errors.Is(err, lane.ErrCorrupt) {
		return err
	}
	rs.IsRunning = false
	rs.ActiveRunID = ""
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
	return o.sched.Cancel(ctx, id)
}

func (o *Orchestrator) Override(ctx context.Context, name string) error {
	id, err := lane.ID(name)
	if err != nil {
		return err
	}
	if err := o.quota.SetOverride(ctx, id); err != nil {
		return err
	}
	o.log.Info("quota override set", logx.Lane(id), logx.String("date", o.quota.Today()))
	o.publish(ctx, eventbus.LaneProgress, id)
	return nil
}

func (o *Orchestrator) ClearOverride(ctx context.Context, name string) error {
	id, err := lane.ID(name)
	if err != nil {
		return err
	}
	if err := o.quota.ClearOverride(ctx, id); err != nil {
		return err
	}
	o.log.Info("quota override cleared", logx.Lane(id))
	o.publish(ctx, eventbus.LaneProgress, id)
	return nil
}

func (o *Orchestrator) Progress(ctx context.Context, name string) (Progress, error) {
	id, err := lane.ID(name)
	if err != nil {
		return Progress{}, err
	}
	rs, err := o.repo.LoadRun(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	results, err := o.repo.LoadResults(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	usage, err := o.quota.Usage(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{
		Lane:           id,
		IsRunning:      rs.IsRunning,
		Index:          rs.Index,
		Total:          rs.Total,
		Results:        results,
		LimitPaused:    rs.LimitPaused,
		Interrupted:    rs.Interrupted,
		QuotaUsed:      usage.Used,
		QuotaLimit:     usage.Limit,
		OverrideActive: usage.Override,
		UpdatedAt:      rs.UpdatedAt,
	}
	if p.Results == nil {
		p.Results = lane.Results{}
	}
	if pend, err := o.sched.Pending(ctx, id); err == nil && pend.Durable {
		at := pend.DueAt
		p.NextTickAt = &at
	}
	return p, nil
}
