package config

import (
	"reflect"
	"sort"
	"strings"

	"lanerunner/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes tokens or DSNs),
// and (3) the names of lanes whose settings changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage: never log the DSN.
	o, n := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(o.Driver) != strings.TrimSpace(n.Driver) ||
		strings.TrimSpace(o.Path) != strings.TrimSpace(n.Path) ||
		o.DSN != n.DSN || o.MaxConns != n.MaxConns ||
		strings.TrimSpace(o.BusyTimeout) != strings.TrimSpace(n.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(n.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		te := newCfg.TaskEngine
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.Int("task_engine.history_size", te.HistorySize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.rollover", strings.TrimSpace(newCfg.Scheduler.Rollover)),
			logx.String("scheduler.watchdog", strings.TrimSpace(newCfg.Scheduler.Watchdog)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Orchestrator, newCfg.Orchestrator) {
		changed = append(changed, "orchestrator")
		attrs = append(attrs,
			logx.String("orchestrator.lock_ttl", strings.TrimSpace(newCfg.Orchestrator.LockTTL)),
			logx.Bool("orchestrator.auto_resume_after_quota", newCfg.Orchestrator.AutoResumeAfterQuota),
		)
	}

	lanes := diffLanes(oldCfg.Lanes, newCfg.Lanes)
	if len(lanes) > 0 {
		changed = append(changed, "lanes")
		attrs = append(attrs,
			logx.Int("lanes.changed_count", len(lanes)),
			logx.Int("lanes.count", len(newCfg.Lanes)),
		)
	}

	// Telegram: never log the token.
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.Token != nt.Token ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.NotifyChat != nt.NotifyChat || ot.NotifyThreadID != nt.NotifyThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.RatePerSec != nt.RatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.notify_chat_set", nt.NotifyChat != 0),
		)
	}

	// API: never log the token.
	oa, na := oldCfg.API, newCfg.API
	if oa.Enabled != na.Enabled || strings.TrimSpace(oa.Addr) != strings.TrimSpace(na.Addr) ||
		oa.Token != na.Token || oa.ReadTimeout != na.ReadTimeout || oa.IdleTimeout != na.IdleTimeout {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", na.Enabled),
			logx.String("api.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(na.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, lanes
}

func diffLanes(oldM, newM map[string]LaneConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
