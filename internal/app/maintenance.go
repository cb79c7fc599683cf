package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lanerunner/internal/config"
	"lanerunner/internal/task/scheduler"
	"lanerunner/pkg/logx"
)

const (
	defaultRollover    = "00:00"
	defaultWatchdog    = "1m"
	maintenanceTimeout = 30 * time.Second
)

func maintenanceSpecs(cfg *config.Config) (rollover, watchdog string) {
	rollover = strings.TrimSpace(cfg.Scheduler.Rollover)
	if rollover == "" {
		rollover = defaultRollover
	}
	watchdog = strings.TrimSpace(cfg.Scheduler.Watchdog)
	if watchdog == "" {
		watchdog = defaultWatchdog
	}
	return rollover, watchdog
}

func validateMaintenance(cfg *config.Config) error {
	rollover, watchdog := maintenanceSpecs(cfg)
	if err := scheduler.Check(rollover, true); err != nil {
		return fmt.Errorf("scheduler.rollover: %w", err)
	}
	if strings.EqualFold(watchdog, "off") {
		return nil
	}
	if err := scheduler.Check(watchdog, false); err != nil {
		return fmt.Errorf("scheduler.watchdog: %w", err)
	}
	return nil
}

// applyMaintenance (re)registers the rollover and watchdog jobs. Both
// upsert by name, so it is safe on every reload.
func (a *App) applyMaintenance(cfg *config.Config) error {
	rollover, watchdog := maintenanceSpecs(cfg)

	var err error
	if scheduler.IsClock(rollover) {
		_, err = a.sched.AddDaily("rollover", rollover, maintenanceTimeout, a.rollover)
	} else {
		_, err = a.sched.AddSchedule("rollover", rollover, maintenanceTimeout, a.rollover)
	}
	if err != nil {
		return fmt.Errorf("scheduler.rollover: %w", err)
	}

	if strings.EqualFold(watchdog, "off") {
		a.sched.Remove("watchdog")
		return nil
	}
	if _, err := a.sched.AddSchedule("watchdog", watchdog, maintenanceTimeout, a.sweep); err != nil {
		return fmt.Errorf("scheduler.watchdog: %w", err)
	}
	return nil
}

func (a *App) rollover(ctx context.Context) error {
	resumed, err := a.orch.Rollover(ctx)
	if err != nil {
		a.log.Warn("rollover incomplete", logx.Any("resumed", resumed), logx.Err(err))
	}
	return err
}

func (a *App) sweep(ctx context.Context) error {
	rearmed, err := a.orch.Sweep(ctx)
	if len(rearmed) > 0 {
		a.log.Info("watchdog re-armed lanes", logx.Any("lanes", rearmed))
	}
	return err
}
