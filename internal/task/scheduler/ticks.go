package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lanerunner/internal/lane"
	"lanerunner/internal/task/engine"
	"lanerunner/pkg/logx"
)

// ScheduleAfter persists the lane's next deadline and arms its timer,
// replacing any earlier one. The record is written before the timer is
// armed so a crash in between still leaves a restorable deadline.
func (s *Service) ScheduleAfter(ctx context.Context, id string, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()

	s.seq++
	rec := lane.TickDeadline{DueAt: s.now().Add(d), Seq: s.seq}
	if err := s.repo.SaveDeadline(ctx, id, rec); err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	s.armLocked(id, d)
	return nil
}

// Cancel stops the lane's timer and deletes its deadline record.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.disarmLocked(id)
	if err := s.repo.DeleteDeadline(ctx, id); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// Armed reports whether an in-process timer is set for the lane.
func (s *Service) Armed(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Service) Pending(ctx context.Context, id string) (Pending, error) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	rec, ok, err := s.repo.LoadDeadline(ctx, id)
	if err != nil {
		return Pending{}, err
	}
	_, armed := s.timers[id]
	return Pending{DueAt: rec.DueAt, Durable: ok, Armed: armed}, nil
}

// Restore arms timers from persisted deadlines for the given lanes.
// Overdue deadlines fire immediately. It returns the lanes restored.
func (s *Service) Restore(ctx context.Context, ids []string) ([]string, error) {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	var restored []string
	now := s.now()
	for _, id := range ids {
		rec, ok, err := s.repo.LoadDeadline(ctx, id)
		if err != nil {
			return restored, fmt.Errorf("restore %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if rec.Seq > s.seq {
			s.seq = rec.Seq
		}
		s.armLocked(id, max(rec.DueAt.Sub(now), 0))
		restored = append(restored, id)
		s.log.Debug("tick restored", logx.Lane(id), logx.Time("due_at", rec.DueAt))
	}
	return restored, nil
}

// armLocked replaces the lane's timer. Call with s.tmu held.
func (s *Service) armLocked(id string, d time.Duration) {
	s.disarmLocked(id)
	if s.halted {
		return
	}
	ver := s.ver[id]
	s.timers[id] = time.AfterFunc(d, func() { s.fire(id, ver) })
}

// disarmLocked stops the timer and invalidates callbacks already in flight.
func (s *Service) disarmLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.ver[id]++
}

func (s *Service) fire(id string, ver uint64) {
	s.tmu.Lock()
	if s.ver[id] != ver || s.halted {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, id)
	// The record goes first: a crash after this point leaves no deadline,
	// so the lane is treated as interrupted rather than ticked twice.
	if err := s.repo.DeleteDeadline(context.Background(), id); err != nil {
		s.log.Warn("delete tick deadline failed", logx.Lane(id), logx.Err(err))
	}
	h := s.handler
	timeout := s.tickTimeout
	s.tmu.Unlock()

	if h == nil || s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    "tick:" + id,
		Key:     id,
		Timeout: timeout,
		Run:     func(ctx context.Context) error { return h(ctx, id) },
	})
	if err != nil {
		s.reportEnqueueError("tick:"+id, err)
	}
}

func (s *Service) armedIDs() []string {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	out := make([]string, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
