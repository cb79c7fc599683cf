package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for values that would make the runtime
// misbehave. It does not touch the network or the store.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "sqlite", "file", "memory":
	case "postgres", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}

	orch, err := cfg.ResolveOrchestrator()
	if err != nil {
		errs = append(errs, err)
	}

	for _, name := range cfg.LaneNames() {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("lanes: empty lane name"))
			continue
		}
		rl, err := cfg.ResolveLane(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p := "lanes." + name
		if rl.MinDelay > rl.MaxDelay {
			errs = append(errs, fmt.Errorf("%s: min_delay %s exceeds max_delay %s", p, rl.MinDelay, rl.MaxDelay))
		}
		if rl.WorkerURL == "" {
			errs = append(errs, fmt.Errorf("%s.worker.url: required", p))
		} else if u, err := url.Parse(rl.WorkerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.worker.url: invalid %q", p, rl.WorkerURL))
		}
		// A step may call the Worker twice (not-ready retry); the lease must outlive both.
		if orch.LockTTL > 0 && orch.LockTTL <= 2*rl.WorkerTimeout {
			errs = append(errs, fmt.Errorf("%s.worker.timeout: %s too long for orchestrator.lock_ttl %s", p, rl.WorkerTimeout, orch.LockTTL))
		}
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token: required when telegram is enabled"))
		}
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids: at least one owner required"))
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseDurationField("api.read_timeout", cfg.API.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("api.idle_timeout", cfg.API.IdleTimeout); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
