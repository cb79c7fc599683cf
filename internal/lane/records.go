package lane

import (
	"fmt"
	"time"
)

// Job is the cursor of one run. It is created by Start, advanced only by
// Tick, and deleted on completion, stop or restart demotion.
type Job struct {
	Targets   []string  `json:"targets"`
	Index     int       `json:"index"`
	Attempt   int       `json:"attempt"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j Job) validate() error {
	if j.RunID == "" {
		return fmt.Errorf("job: empty run_id")
	}
	if j.Index < 0 || j.Index > len(j.Targets) {
		return fmt.Errorf("job: index %d outside [0,%d]", j.Index, len(j.Targets))
	}
	if j.Attempt < 0 {
		return fmt.Errorf("job: negative attempt %d", j.Attempt)
	}
	return nil
}

// Done reports whether every target has been handled.
func (j Job) Done() bool { return j.Index >= len(j.Targets) }

// RunState carries the running flags. Index and Total mirror the Job so
// progress stays readable after the Job is gone.
type RunState struct {
	IsRunning   bool      `json:"is_running"`
	ActiveRunID string    `json:"active_run_id,omitempty"`
	LimitPaused bool      `json:"limit_paused"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Index       int       `json:"index"`
	Total       int       `json:"total"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

type Result struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Results is ordered by first discovery.
type Results []Result

// Upsert updates the entry for id in place, or appends it.
func (rs Results) Upsert(id string, st Status, now time.Time) Results {
	for i := range rs {
		if rs[i].ID == id {
			rs[i].Status = st
			rs[i].UpdatedAt = now
			return rs
		}
	}
	return append(rs, Result{ID: id, Status: st, UpdatedAt: now})
}

// Count returns how many results have status st.
func (rs Results) Count(st Status) int {
	n := 0
	for _, r := range rs {
		if r.Status == st {
			n++
		}
	}
	return n
}

// Lock is a lease on a lane's tick critical section.
type Lock struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l Lock) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }

// DailyCounter counts successes for one calendar day (YYYY-MM-DD).
type DailyCounter struct {
	Date         string `json:"date"`
	Count        int    `json:"count"`
	OverrideDate string `json:"override_date,omitempty"`
}

// TickDeadline is the durable form of a lane's next scheduled tick.
type TickDeadline struct {
	DueAt time.Time `json:"due_at"`
	Seq   uint64    `json:"seq"`
}
