package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full application configuration.
//
// The on-disk format is YAML; it is coerced to JSON and decoded strictly, so
// unknown keys are rejected.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Tracker   TrackerConfig   `json:"tracker"`
	Extractor ExtractorConfig `json:"extractor"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type TrackerConfig struct {
	Interval     string `json:"interval,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`
	Currency     string `json:"currency,omitempty"`
}

type ExtractorConfig struct {
	Timeout    string `json:"timeout,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	PriceClass string `json:"price_class,omitempty"`
}

type NotifierConfig struct {
	Enabled       *bool   `json:"enabled,omitempty"`
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	DedupWindow   string  `json:"dedup_window,omitempty"`
	PersistDedup  bool    `json:"persist_dedup,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate checks cross-field constraints that the decoder cannot express.
func (c *Config) Validate() error {
	var errs []string

	check := func(name, raw string) {
		if raw == "" {
			return
		}
		if _, err := time.ParseDuration(raw); err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", name, raw))
		}
	}

	check("telegram.poll_timeout", c.Telegram.PollTimeout)
	check("tracker.interval", c.Tracker.Interval)
	check("tracker.initial_delay", c.Tracker.InitialDelay)
	check("extractor.timeout", c.Extractor.Timeout)

	if d, err := time.ParseDuration(valueOr(c.Tracker.Interval, "150s")); err == nil && d <= 0 {
		errs = append(errs, "tracker.interval: must be positive")
	}

	if c.Notifier != nil {
		check("notifier.retry_base", c.Notifier.RetryBase)
		check("notifier.retry_max_delay", c.Notifier.RetryMaxDelay)
		check("notifier.dedup_window", c.Notifier.DedupWindow)
		if c.Notifier.Workers < 0 {
			errs = append(errs, "notifier.workers: must be >= 0")
		}
		if c.Notifier.RatePerSec < 0 {
			errs = append(errs, "notifier.rate_per_sec: must be >= 0")
		}
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		check("storage.busy_timeout", c.Storage.BusyTimeout)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func valueOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ParseDurationOrDefault parses raw as a duration, falling back to def when
// raw is empty or malformed.
func ParseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
