package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"lanerunner/internal/lane"
	"lanerunner/pkg/logx"
)

func New(cfg Config, eng Enqueuer, repo *lane.Repo, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		engine: eng,
		repo:   repo,
		parser:      cronParser,
		timers:      map[string]*time.Timer{},
		ver:         map[string]uint64{},
		lastEnqWarn: map[string]time.Time{},
		now:         time.Now,
	}
	s.loc = s.loadLocationLocked()
	return s
}

// SetHandler installs the function run for every fired tick.
func (s *Service) SetHandler(h TickHandler) {
	s.tmu.Lock()
	s.handler = h
	s.tmu.Unlock()
}

// SetTickTimeout bounds a single tick task. 0 uses the engine default.
func (s *Service) SetTickTimeout(d time.Duration) {
	s.tmu.Lock()
	s.tickTimeout = d
	s.tmu.Unlock()
}

// SetClock overrides the clock used for deadline records.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.tmu.Lock()
	s.now = now
	s.tmu.Unlock()
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c != nil {
		s.restartLocked()
	}
}

// Start starts cron triggering. Tick timers are armed independently by
// ScheduleAfter and Restore.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.tmu.Lock()
	s.halted = false
	s.tmu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops cron triggering and all tick timers. Deadline records stay in
// the store so the next process can restore them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	s.halted = true
	for id, t := range s.timers {
		t.Stop()
		s.ver[id]++
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
