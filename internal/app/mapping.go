package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"lanerunner/internal/api"
	"lanerunner/internal/config"
	"lanerunner/internal/lane"
	"lanerunner/internal/notifier"
	"lanerunner/internal/orchestrator"
	"lanerunner/internal/storage"
	"lanerunner/internal/task/engine"
	kit "lanerunner/internal/transport"
	"lanerunner/internal/worker"
	"lanerunner/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		MaxConns:    sc.MaxConns,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	out := engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    te.HistorySize,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.HistorySize <= 0 {
		out.HistorySize = 200
	}
	return out, nil
}

func mapOptions(cfg *config.Config) (orchestrator.Options, config.ResolvedOrchestrator, error) {
	ro, err := cfg.ResolveOrchestrator()
	if err != nil {
		return orchestrator.Options{}, ro, err
	}
	return orchestrator.Options{
		LockRetryDelay:       ro.LockRetryDelay,
		ResumeOnRestart:      ro.ResumeOnRestart,
		AutoResumeAfterQuota: ro.AutoResumeAfterQuota,
	}, ro, nil
}

// mapLanes resolves every lane into an orchestrator spec and a worker
// client config. Relative targets files resolve against the config file
// directory.
func mapLanes(cfg *config.Config, cfgPath string) ([]orchestrator.LaneSpec, []worker.ClientConfig, error) {
	resolved, err := cfg.ResolveLanes()
	if err != nil {
		return nil, nil, err
	}
	baseDir := filepath.Dir(cfgPath)
	specs := make([]orchestrator.LaneSpec, 0, len(resolved))
	clients := make([]worker.ClientConfig, 0, len(resolved))
	seen := map[string]string{}
	for _, rl := range resolved {
		id, err := lane.ID(rl.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("lanes.%s: %w", rl.Name, err)
		}
		if prev, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("lanes.%s: id %q already used by lanes.%s", rl.Name, id, prev)
		}
		seen[id] = rl.Name

		targets, err := rl.LoadTargets(baseDir)
		if err != nil {
			return nil, nil, err
		}
		specs = append(specs, orchestrator.LaneSpec{
			ID:   id,
			Name: rl.Name,
			Policy: orchestrator.Policy{
				MinDelay:        rl.MinDelay,
				MaxDelay:        rl.MaxDelay,
				RetryBase:       rl.RetryBase,
				RateLimitFloor:  rl.RateLimitFloor,
				ReadyRetryDelay: rl.ReadyRetryDelay,
				MaxAttempts:     rl.MaxAttempts,
				DailyLimit:      rl.DailyLimit,
				WorkerTimeout:   rl.WorkerTimeout,
			},
			Targets: lane.NormalizeTargets(targets),
		})
		clients = append(clients, worker.ClientConfig{
			Lane:               id,
			URL:                rl.WorkerURL,
			Token:              rl.WorkerToken,
			Timeout:            rl.WorkerTimeout,
			BreakerMaxFailures: rl.BreakerMaxFailures,
			BreakerOpenTimeout: rl.BreakerOpenTimeout,
		})
	}
	return specs, clients, nil
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	read, err := config.ParseDurationField("api.read_timeout", cfg.API.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("api.idle_timeout", cfg.API.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:     cfg.API.Enabled,
		Addr:        strings.TrimSpace(cfg.API.Addr),
		Token:       strings.TrimSpace(cfg.API.Token),
		ReadTimeout: read,
		IdleTimeout: idle,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	tg := cfg.Telegram
	return notifier.Config{
		Enabled:     tg.Enabled && tg.NotifyChat != 0,
		Target:      kit.ChatTarget{ChatID: tg.NotifyChat, ThreadID: tg.NotifyThreadID},
		RatePerSec:  tg.RatePerSec,
		RetryMax:    2,
		DedupWindow: 30 * time.Second,
	}
}
