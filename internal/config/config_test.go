package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseFullConfig(t *testing.T) {
	t.Parallel()

	raw := []byte(`
telegram:
  token: "123:abc"
  poll_timeout: 15s
logging:
  level: DEBUG
  console: true
tracker:
  interval: 150s
  initial_delay: 10s
  currency: EUR
extractor:
  timeout: 10s
  price_class: a53cbfa6de
notifier:
  workers: 2
  queue_size: 64
  rate_per_sec: 0.5
  dedup_window: 24h
storage:
  driver: sqlite
  path: ./data/bot.db
`)

	cfg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Tracker.Interval != "150s" || cfg.Tracker.InitialDelay != "10s" {
		t.Fatalf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Notifier == nil || cfg.Notifier.Workers != 2 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("telegram:\n  token: x\n  bogus_key: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Fatalf("error should name the offending key, got: %v", err)
	}
}

func TestValidateBadDurations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"tracker interval", func(c *Config) { c.Tracker.Interval = "soon" }},
		{"extractor timeout", func(c *Config) { c.Extractor.Timeout = "10 seconds" }},
		{"notifier dedup", func(c *Config) { c.Notifier = &NotifierConfig{DedupWindow: "1day"} }},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d := ParseDurationOrDefault("", 5*time.Second); d != 5*time.Second {
		t.Fatalf("empty: %v", d)
	}
	if d := ParseDurationOrDefault("2m", time.Second); d != 2*time.Minute {
		t.Fatalf("2m: %v", d)
	}
	if d := ParseDurationOrDefault("-3s", time.Second); d != time.Second {
		t.Fatalf("negative should fall back: %v", d)
	}
	if d := ParseDurationOrDefault("nope", 7*time.Second); d != 7*time.Second {
		t.Fatalf("garbage should fall back: %v", d)
	}
}
