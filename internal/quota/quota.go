// Package quota keeps the per-lane daily success counter.
//
// The counter is keyed by calendar date in the scheduler timezone; the first
// Increment on a new day resets it. An override for today bypasses the limit
// until the date changes.
package quota

import (
	"context"
	"sync"
	"time"

	"lanerunner/internal/lane"
)

const DefaultDailyLimit = 50

const dateLayout = "2006-01-02"

// Usage is a read-only view of a lane's counter for today.
type Usage struct {
	Date     string `json:"date"`
	Used     int    `json:"used"`
	Limit    int    `json:"limit"`
	Override bool   `json:"override"`
}

// Limiter evaluates and updates daily counters. Limits are per lane and may
// change at runtime (hot reload); a limit <= 0 disables the quota.
type Limiter struct {
	repo *lane.Repo
	loc  *time.Location
	now  func() time.Time

	mu     sync.RWMutex
	limits map[string]int
	def    int
}

func New(repo *lane.Repo, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.Local
	}
	return &Limiter{repo: repo, loc: loc, now: time.Now, limits: map[string]int{}, def: DefaultDailyLimit}
}

func (l *Limiter) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// SetLimit sets the daily limit for one lane.
func (l *Limiter) SetLimit(id string, limit int) {
	l.mu.Lock()
	l.limits[id] = limit
	l.mu.Unlock()
}

func (l *Limiter) Limit(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.limits[id]; ok {
		return v
	}
	return l.def
}

// SetLocation moves the day boundary. Counters dated in the old zone roll
// over on their next read if the date differs.
func (l *Limiter) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	l.mu.Lock()
	l.loc = loc
	l.mu.Unlock()
}

// Today returns the current quota date.
func (l *Limiter) Today() string {
	l.mu.RLock()
	loc := l.loc
	l.mu.RUnlock()
	return l.now().In(loc).Format(dateLayout)
}

// current loads the counter and rolls it over if its date is stale.
func (l *Limiter) current(ctx context.Context, id string) (lane.DailyCounter, string, error) {
	c, err := l.repo.LoadCounter(ctx, id)
	if err != nil {
		return lane.DailyCounter{}, "", err
	}
	today := l.Today()
	if c.Date != today {
		c.Date = today
		c.Count = 0
	}
	return c, today, nil
}

// Increment records one success and returns today's count.
func (l *Limiter) Increment(ctx context.Context, id string) (int, error) {
	c, _, err := l.current(ctx, id)
	if err != nil {
		return 0, err
	}
	c.Count++
	if err := l.repo.SaveCounter(ctx, id, c); err != nil {
		return 0, err
	}
	return c.Count, nil
}

// IsLimited reports whether the lane has used up today's quota.
func (l *Limiter) IsLimited(ctx context.Context, id string) (bool, error) {
	c, today, err := l.current(ctx, id)
	if err != nil {
		return false, err
	}
	if c.OverrideDate == today {
		return false, nil
	}
	limit := l.Limit(id)
	if limit <= 0 {
		return false, nil
	}
	return c.Count >= limit, nil
}

// SetOverride lifts the limit for the rest of today.
func (l *Limiter) SetOverride(ctx context.Context, id string) error {
	c, today, err := l.current(ctx, id)
	if err != nil {
		return err
	}
	c.OverrideDate = today
	return l.repo.SaveCounter(ctx, id, c)
}

func (l *Limiter) ClearOverride(ctx context.Context, id string) error {
	c, _, err := l.current(ctx, id)
	if err != nil {
		return err
	}
	c.OverrideDate = ""
	return l.repo.SaveCounter(ctx, id, c)
}

func (l *Limiter) Usage(ctx context.Context, id string) (Usage, error) {
	c, today, err := l.current(ctx, id)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Date: today, Used: c.Count, Limit: l.Limit(id), Override: c.OverrideDate == today}, nil
}
