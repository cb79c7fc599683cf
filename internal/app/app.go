package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lanerunner/internal/api"
	"lanerunner/internal/config"
	"lanerunner/internal/eventbus"
	"lanerunner/internal/lane"
	"lanerunner/internal/lock"
	"lanerunner/internal/orchestrator"
	"lanerunner/internal/quota"
	"lanerunner/internal/runtime/supervisor"
	"lanerunner/internal/storage"
	"lanerunner/internal/task/engine"
	"lanerunner/internal/task/scheduler"
	"lanerunner/internal/worker"
	"lanerunner/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store   storage.Store
	repo    *lane.Repo
	locks   *lock.Manager
	quota   *quota.Limiter
	engine  *engine.Service
	sched   *scheduler.Service
	workers *worker.Router
	orch    *orchestrator.Orchestrator
	api     *api.Server
	tg      *telegramSurface

	sup      *supervisor.Supervisor
	stopOnce sync.Once
	stopErr  error
}

// NewApp loads the config and wires every component. Nothing runs until
// Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg, cfgPath); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	repo := lane.NewRepo(store)

	opts, ro, err := mapOptions(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	specs, clients, err := mapLanes(cfg, cfgPath)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	locks := lock.New(store, ro.LockTTL, log.With(logx.String("comp", "lock")))
	q := quota.New(repo, loc)
	eng := engine.New(ecfg, log.With(logx.String("comp", "engine")), bus)
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, eng, repo, log.With(logx.String("comp", "scheduler")))
	sched.SetTickTimeout(ro.LockTTL)

	workers := worker.NewRouter(&http.Client{}, log.With(logx.String("comp", "worker")))
	workers.Apply(clients)

	orch := orchestrator.New(orchestrator.Deps{
		Repo:      repo,
		Locks:     locks,
		Quota:     q,
		Scheduler: sched,
		Worker:    workers,
		Bus:       bus,
		InFlight:  eng,
	}, log.With(logx.String("comp", "orchestrator")))
	orch.Configure(opts, specs)
	sched.SetHandler(orch.Tick)

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,
		repo:    repo,
		locks:   locks,
		quota:   q,
		engine:  eng,
		sched:   sched,
		workers: workers,
		orch:    orch,
		api:     api.New(orch, bus, log),
	}
	a.tg = newTelegramSurface(orch, bus, logs, log)
	return a, nil
}

// Orchestrator exposes the lane controller.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Done is closed when the run context ends, including on a fatal
// supervised error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal supervised error.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validateRuntime(c, a.cfgm.Path())
	})

	a.engine.Start(run)
	a.sched.Start(run)

	rep, err := a.orch.Recover(run)
	if err != nil {
		return fmt.Errorf("recover lanes: %w", err)
	}
	if len(rep.Restored) > 0 || len(rep.Demoted) > 0 {
		a.log.Info("lanes recovered", logx.Any("restored", rep.Restored), logx.Any("demoted", rep.Demoted))
	}

	if err := a.applyMaintenance(cfg); err != nil {
		return err
	}

	acfg, err := mapAPIConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.api.Apply(run, acfg); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := a.tg.Apply(run, cfg); err != nil {
		// The bot is an optional surface; keep the lanes running.
		a.log.Error("telegram start failed", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if a.log.Enabled(logx.LevelDebug) {
					a.log.Debug("event", logx.String("type", e.Type), logx.Lane(e.Lane), logx.Time("time", e.Time))
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("lanes", len(cfg.Lanes)))
	return nil
}

// Stop shuts components down in dependency order. Every step is bounded
// so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx, reason) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	a.step(ctx, "telegram", 3*time.Second, func(c context.Context) error { a.tg.Stop(c); return nil })
	a.step(ctx, "engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	if a.sup != nil {
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}

// step runs fn with an upper bound that never extends the caller's
// deadline. A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}

// validateRuntime rejects configs that parse but cannot be applied: bad
// durations, unreadable targets files, lane id collisions and schedules.
func validateRuntime(cfg *config.Config, cfgPath string) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapOptions(cfg); err != nil {
		return err
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if _, _, err := mapLanes(cfg, cfgPath); err != nil {
		return err
	}
	if _, err := mapAPIConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	return validateMaintenance(cfg)
}
