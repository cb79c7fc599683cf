package app

import (
	"context"
	"slices"
	"strings"

	"lanerunner/internal/config"
	"lanerunner/internal/eventbus"
	"lanerunner/internal/task/scheduler"
	"lanerunner/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config is applied.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig fans a validated config out to every live component. A
// component that rejects its part keeps the previous settings.
func (a *App) applyConfig(ctx context.Context, old, cfg *config.Config) {
	sections, attrs, lanes := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(lanes) > 0 {
		a.log.Debug("lane config changes detected", logx.Any("lanes", lanes))
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(cfg))

	if ecfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ecfg)
	}

	if loc, err := cfg.Location(); err != nil {
		a.log.Warn("invalid scheduler timezone; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scheduler.Config{Timezone: cfg.Scheduler.Timezone})
		a.quota.SetLocation(loc)
	}

	if opts, ro, err := mapOptions(cfg); err != nil {
		a.log.Warn("invalid orchestrator config; keeping previous", logx.Err(err))
	} else if specs, clients, err := mapLanes(cfg, a.cfgm.Path()); err != nil {
		a.log.Warn("invalid lanes config; keeping previous", logx.Err(err))
	} else {
		a.locks.SetTTL(ro.LockTTL)
		a.sched.SetTickTimeout(ro.LockTTL)
		a.workers.Apply(clients)
		a.orch.Configure(opts, specs)
	}

	if err := a.applyMaintenance(cfg); err != nil {
		a.log.Warn("maintenance schedule not applied", logx.Err(err))
	}

	if acfg, err := mapAPIConfig(cfg); err != nil {
		a.log.Warn("invalid api config; keeping previous", logx.Err(err))
	} else if err := a.api.Apply(ctx, acfg); err != nil {
		a.log.Error("api apply failed", logx.Err(err))
	}

	if err := a.tg.Apply(ctx, cfg); err != nil {
		a.log.Error("telegram apply failed", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}
