package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: "9090"
queue:
  backend: memory
  concurrency: 3
  lock_duration: 5m
defaults:
  max_attempts: 4
  backoff_kind: fixed
  backoff_delay: 2s
kafka:
  brokers: ["localhost:9092"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != "9090" {
		t.Fatalf("HTTPPort = %q, want %q", cfg.Server.HTTPPort, "9090")
	}
	if cfg.Queue.Backend != BackendMemory || cfg.Queue.Concurrency != 3 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Queue.LockDuration != 5*time.Minute {
		t.Fatalf("LockDuration = %v", cfg.Queue.LockDuration)
	}
	if cfg.Queue.MaxStalledCount != 2 {
		t.Fatalf("MaxStalledCount = %d, want default 2", cfg.Queue.MaxStalledCount)
	}

	opts := cfg.Defaults.JobOptions()
	if opts.MaxAttempts != 4 || opts.Backoff.Delay != 2*time.Second || string(opts.Backoff.Kind) != "fixed" {
		t.Fatalf("job options = %+v", opts)
	}
	if opts.Retention.KeepCompleted != 100 || opts.Retention.KeepFailed != 50 {
		t.Fatalf("retention = %+v", opts.Retention)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.DeadLetterTopic != "generation-jobs-dlq" {
		t.Fatalf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != "8080" || cfg.Queue.Backend != BackendPostgres {
		t.Fatalf("defaults not applied: %+v", cfg.Server)
	}
	if cfg.Provider.Breaker.ConsecutiveFailures != 5 {
		t.Fatalf("breaker = %+v", cfg.Provider.Breaker)
	}
	if s := cfg.Retry.Strategy(); s.Attempts != 3 || s.Backoff != 2 {
		t.Fatalf("retry strategy = %+v", s)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("QUEUE_CONCURRENCY", "12")

	cfg, err := Load(writeConfig(t, "database:\n  master:\n    host: localhost\n    port: \"5432\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Master.Host != "db.internal" {
		t.Fatalf("host = %q, want %q", cfg.Database.Master.Host, "db.internal")
	}
	if cfg.Provider.APIKey != "secret" {
		t.Fatalf("api key not bound")
	}
	if cfg.Queue.Concurrency != 12 {
		t.Fatalf("Concurrency = %d, want 12", cfg.Queue.Concurrency)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "queue:\n  backend: sqlite\n"))
	if err == nil || !strings.Contains(err.Error(), "queue.backend") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Queue: Queue{Backend: BackendMemory, Concurrency: 1, LockDuration: time.Minute},
			Defaults: Defaults{
				MaxAttempts:  1,
				BackoffKind:  "fixed",
				BackoffDelay: time.Second,
				Timeout:      30 * time.Second,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Queue.Backend = "redis" }, "queue.backend"},
		{"concurrency", func(c *Config) { c.Queue.Concurrency = 0 }, "queue.concurrency"},
		{"lock shorter than timeout", func(c *Config) { c.Queue.LockDuration = c.Defaults.Timeout }, "lock_duration"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	n := DatabaseNode{Host: "h", Port: "5432", User: "u", Pass: "p", Name: "db", SSLMode: "disable"}
	want := "postgres://u:p@h:5432/db?sslmode=disable"
	if got := n.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}

	d := Database{Slaves: []DatabaseNode{n, n}}
	if got := d.SlaveDSNs(); len(got) != 2 || got[1] != want {
		t.Fatalf("SlaveDSNs() = %v", got)
	}
}
