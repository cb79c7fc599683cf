package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: memory
orchestrator:
  defaults:
    min_delay: 2s
    max_delay: 4s
    daily_limit: 10
lanes:
  Platform A:
    targets: [alice, bob]
    targets_file: more.txt
    daily_limit: 0
    worker:
      url: http://127.0.0.1:9000/process
      timeout: 20s
  b:
    max_attempts: 5
    worker:
      url: https://worker.example/b
`

func TestLoadYAMLAndResolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", sampleYAML)
	writeFile(t, dir, "more.txt", "# header\ncarol\n\n  dave  # trailing\n")

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return committed config")
	}

	a, err := cfg.ResolveLane("Platform A")
	if err != nil {
		t.Fatalf("ResolveLane: %v", err)
	}
	if a.MinDelay != 2*time.Second || a.MaxDelay != 4*time.Second {
		t.Fatalf("delays = %s..%s, want 2s..4s", a.MinDelay, a.MaxDelay)
	}
	if a.DailyLimit != 0 {
		t.Fatalf("explicit daily_limit 0 lost: got %d", a.DailyLimit)
	}
	if a.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want %d", a.MaxAttempts, DefaultMaxAttempts)
	}
	if a.WorkerTimeout != 20*time.Second {
		t.Fatalf("WorkerTimeout = %s", a.WorkerTimeout)
	}

	targets, err := a.LoadTargets(dir)
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	want := []string{"alice", "bob", "carol", "dave"}
	if strings.Join(targets, ",") != strings.Join(want, ",") {
		t.Fatalf("targets = %v, want %v", targets, want)
	}

	b, err := cfg.ResolveLane("b")
	if err != nil {
		t.Fatalf("ResolveLane(b): %v", err)
	}
	if b.DailyLimit != 10 || b.MaxAttempts != 5 {
		t.Fatalf("b = limit %d attempts %d, want 10/5", b.DailyLimit, b.MaxAttempts)
	}
	if b.RateLimitFloor != DefaultRateLimitFloor || b.WorkerTimeout != DefaultWorkerTimeout {
		t.Fatalf("b defaults not applied: %+v", b)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "c.json", `{"logging":{"level":"info"},"nope":1}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "lanes: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.file, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	lane := func(url, timeout string) map[string]LaneConfig {
		return map[string]LaneConfig{"a": {Worker: WorkerConfig{URL: url, Timeout: timeout}}}
	}
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{Lanes: lane("http://w/x", "")}, ""},
		{"missing url", Config{Lanes: lane("", "")}, "worker.url: required"},
		{"bad scheme", Config{Lanes: lane("ftp://w/x", "")}, "worker.url: invalid"},
		{"ttl too short", Config{Lanes: lane("http://w/x", "61s")}, "too long for orchestrator.lock_ttl"},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "redis"}}, "unknown driver"},
		{"pg without dsn", Config{Storage: StorageConfig{Driver: "postgres"}}, "storage.dsn"},
		{"bad duration", Config{TaskEngine: TaskEngineConfig{DefaultTimeout: "soon"}}, "is not a duration"},
		{"telegram owners", Config{Telegram: TelegramConfig{Enabled: true, Token: "x"}}, "owner_user_ids"},
		{
			"min over max",
			Config{Lanes: map[string]LaneConfig{"a": {
				LanePolicyConfig: LanePolicyConfig{MinDelay: "10s", MaxDelay: "1s"},
				Worker:           WorkerConfig{URL: "http://w"},
			}}},
			"exceeds max_delay",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "old-secret"}}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "new-secret"},
		Lanes:    map[string]LaneConfig{"a": {Worker: WorkerConfig{URL: "http://w"}}},
	}
	changed, _, lanes := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "lanes,telegram" {
		t.Fatalf("changed = %v", changed)
	}
	if len(lanes) != 1 || lanes[0] != "a" {
		t.Fatalf("lanes = %v", lanes)
	}
}

func TestDecodeYAMLKeysAndEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.yml", []byte("lanes:\n  2024:\n    worker:\n      url: http://w\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := cfg.Lanes["2024"]; !ok {
		t.Fatalf("lanes = %v, want key 2024", cfg.Lanes)
	}
	if _, err := Decode("c.yaml", nil); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}
