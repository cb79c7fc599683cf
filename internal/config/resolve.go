package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Lane policy defaults.
const (
	DefaultMinDelay        = 15 * time.Second
	DefaultMaxDelay        = 25 * time.Second
	DefaultRetryBase       = 5 * time.Second
	DefaultRateLimitFloor  = 60 * time.Second
	DefaultReadyRetryDelay = 1 * time.Second
	DefaultMaxAttempts     = 3
	DefaultDailyLimit      = 50

	DefaultWorkerTimeout      = 45 * time.Second
	DefaultBreakerMaxFailures = 5
	DefaultBreakerOpenTimeout = 60 * time.Second

	DefaultLockTTL        = 120 * time.Second
	DefaultLockRetryDelay = 1 * time.Second
)

// ResolvedLane is a lane's configuration with defaults applied and
// durations parsed.
type ResolvedLane struct {
	Name string

	MinDelay        time.Duration
	MaxDelay        time.Duration
	RetryBase       time.Duration
	RateLimitFloor  time.Duration
	ReadyRetryDelay time.Duration
	MaxAttempts     int
	DailyLimit      int

	Targets     []string
	TargetsFile string

	WorkerURL          string
	WorkerToken        string
	WorkerTimeout      time.Duration
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// ResolvedOrchestrator holds parsed orchestrator-wide settings.
type ResolvedOrchestrator struct {
	LockTTL              time.Duration
	LockRetryDelay       time.Duration
	ResumeOnRestart      bool
	AutoResumeAfterQuota bool
}

func (c *Config) ResolveOrchestrator() (ResolvedOrchestrator, error) {
	o := c.Orchestrator
	ttl, err := ParseDurationOrDefault("orchestrator.lock_ttl", o.LockTTL, DefaultLockTTL)
	if err != nil {
		return ResolvedOrchestrator{}, err
	}
	retry, err := ParseDurationOrDefault("orchestrator.lock_retry_delay", o.LockRetryDelay, DefaultLockRetryDelay)
	if err != nil {
		return ResolvedOrchestrator{}, err
	}
	resume := true
	if o.ResumeOnRestart != nil {
		resume = *o.ResumeOnRestart
	}
	return ResolvedOrchestrator{
		LockTTL:              ttl,
		LockRetryDelay:       retry,
		ResumeOnRestart:      resume,
		AutoResumeAfterQuota: o.AutoResumeAfterQuota,
	}, nil
}

// LaneNames returns configured lane names in sorted order.
func (c *Config) LaneNames() []string {
	out := make([]string, 0, len(c.Lanes))
	for name := range c.Lanes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveLanes resolves every configured lane.
func (c *Config) ResolveLanes() ([]ResolvedLane, error) {
	out := make([]ResolvedLane, 0, len(c.Lanes))
	for _, name := range c.LaneNames() {
		rl, err := c.ResolveLane(name)
		if err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, nil
}

func (c *Config) ResolveLane(name string) (ResolvedLane, error) {
	lc, ok := c.Lanes[name]
	if !ok {
		return ResolvedLane{}, fmt.Errorf("lanes.%s: not configured", name)
	}
	def := c.Orchestrator.Defaults
	p := "lanes." + name

	var err error
	rl := ResolvedLane{
		Name:        name,
		Targets:     lc.Targets,
		TargetsFile: strings.TrimSpace(lc.TargetsFile),
		WorkerURL:   strings.TrimSpace(lc.Worker.URL),
		WorkerToken: strings.TrimSpace(lc.Worker.Token),
	}

	durs := []struct {
		field    string
		own, def string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"min_delay", lc.MinDelay, def.MinDelay, DefaultMinDelay, &rl.MinDelay},
		{"max_delay", lc.MaxDelay, def.MaxDelay, DefaultMaxDelay, &rl.MaxDelay},
		{"retry_base", lc.RetryBase, def.RetryBase, DefaultRetryBase, &rl.RetryBase},
		{"rate_limit_floor", lc.RateLimitFloor, def.RateLimitFloor, DefaultRateLimitFloor, &rl.RateLimitFloor},
		{"ready_retry_delay", lc.ReadyRetryDelay, def.ReadyRetryDelay, DefaultReadyRetryDelay, &rl.ReadyRetryDelay},
	}
	for _, d := range durs {
		raw, path := d.own, p+"."+d.field
		if strings.TrimSpace(raw) == "" {
			raw, path = d.def, "orchestrator.defaults."+d.field
		}
		if *d.dst, err = ParseDurationOrDefault(path, raw, d.fallback); err != nil {
			return ResolvedLane{}, err
		}
	}

	rl.MaxAttempts = firstPositive(lc.MaxAttempts, def.MaxAttempts, DefaultMaxAttempts)

	switch {
	case lc.DailyLimit != nil:
		rl.DailyLimit = *lc.DailyLimit
	case def.DailyLimit != nil:
		rl.DailyLimit = *def.DailyLimit
	default:
		rl.DailyLimit = DefaultDailyLimit
	}

	if rl.WorkerTimeout, err = ParseDurationOrDefault(p+".worker.timeout", lc.Worker.Timeout, DefaultWorkerTimeout); err != nil {
		return ResolvedLane{}, err
	}
	rl.BreakerMaxFailures = lc.Worker.Breaker.MaxFailures
	if rl.BreakerMaxFailures == 0 {
		rl.BreakerMaxFailures = DefaultBreakerMaxFailures
	}
	if rl.BreakerOpenTimeout, err = ParseDurationOrDefault(p+".worker.breaker.open_timeout", lc.Worker.Breaker.OpenTimeout, DefaultBreakerOpenTimeout); err != nil {
		return ResolvedLane{}, err
	}
	return rl, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// Location resolves scheduler.timezone (empty means Local).
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
