package config

import "encoding/json"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is read once at startup; changing it requires a restart.
	Storage StorageConfig `json:"storage"`

	TaskEngine TaskEngineConfig `json:"task_engine"`
	Scheduler  SchedulerConfig  `json:"scheduler"`

	Orchestrator OrchestratorConfig `json:"orchestrator"`

	// Lanes maps a lane name to its settings. Names are normalized to slugs
	// (e.g. "Platform A" -> "platform-a") before they are used as store keys.
	Lanes map[string]LaneConfig `json:"lanes"`

	Telegram TelegramConfig `json:"telegram"`
	API      APIConfig      `json:"api"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/lanerunner.db" }
//
// Drivers: "memory", "file", "sqlite" (default), "postgres".
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`

	// DSN is used by the postgres driver only (do not log).
	DSN      string `json:"dsn,omitempty"`
	MaxConns int    `json:"max_conns,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskEngineConfig controls the tick execution pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

type SchedulerConfig struct {
	// Timezone used for the quota day boundary and cron jobs. Default: Local.
	Timezone string `json:"timezone,omitempty"`

	// Rollover is the daily maintenance schedule ("HH:MM" or a cron spec).
	// Default: "00:00".
	Rollover string `json:"rollover,omitempty"`

	// Watchdog is the sweep schedule (Go duration, "@every 1m" or cron).
	// Default: "1m". Use "off" to disable.
	Watchdog string `json:"watchdog,omitempty"`
}

type OrchestratorConfig struct {
	// LockTTL must exceed twice the largest lane worker timeout. Default "120s".
	LockTTL string `json:"lock_ttl,omitempty"`
	// LockRetryDelay is the reschedule delay on lock contention. Default "1s".
	LockRetryDelay string `json:"lock_retry_delay,omitempty"`

	// ResumeOnRestart re-arms running lanes whose tick deadline survived a
	// restart. Omitted means true.
	ResumeOnRestart *bool `json:"resume_on_restart,omitempty"`

	// AutoResumeAfterQuota resumes quota-paused lanes at the daily rollover.
	AutoResumeAfterQuota bool `json:"auto_resume_after_quota,omitempty"`

	// Defaults apply to every lane field left empty.
	Defaults LanePolicyConfig `json:"defaults"`
}

// LanePolicyConfig holds the per-lane pacing knobs. Durations are Go
// duration strings.
type LanePolicyConfig struct {
	MinDelay        string `json:"min_delay,omitempty"`
	MaxDelay        string `json:"max_delay,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RateLimitFloor  string `json:"rate_limit_floor,omitempty"`
	ReadyRetryDelay string `json:"ready_retry_delay,omitempty"`
	MaxAttempts     int    `json:"max_attempts,omitempty"`

	// DailyLimit is a pointer so an explicit 0 (quota disabled) differs
	// from omitted (inherit / default 50).
	DailyLimit *int `json:"daily_limit,omitempty"`
}

type LaneConfig struct {
	LanePolicyConfig

	Targets     []string `json:"targets,omitempty"`
	TargetsFile string   `json:"targets_file,omitempty"`

	Worker WorkerConfig `json:"worker"`
}

type WorkerConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"` // bearer (do not log)

	// Timeout bounds a single Worker call. Default "45s".
	Timeout string `json:"timeout,omitempty"`

	Breaker BreakerConfig `json:"breaker"`
}

// BreakerConfig tunes the per-lane circuit breaker around Worker calls.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the breaker. Default 5; <0 disables.
	MaxFailures int `json:"max_failures,omitempty"`
	// OpenTimeout is how long the breaker stays open. Default "60s".
	OpenTimeout string `json:"open_timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// NotifyChat receives terminal lane transitions and the chat log sink.
	NotifyChat     int64 `json:"notify_chat,omitempty"`
	NotifyThreadID int   `json:"notify_thread_id,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// APIConfig controls the HTTP control surface.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8088").
//   - If you bind to a non-loopback address, set a token.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8088"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// Clone returns a deep copy via JSON round trip.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var out Config
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return &out
}
