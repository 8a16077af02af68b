package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"repostbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	VK       VKConfig       `yaml:"vk"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  logx.Config    `yaml:"logging"`
}

type TelegramConfig struct {
	Token   string `yaml:"token"`
	AdminID int64  `yaml:"admin_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `yaml:"poll_timeout"`
	// RatePerSec caps outbound sends across all recipients.
	RatePerSec int `yaml:"rate_per_sec"`
}

type VKConfig struct {
	Token string `yaml:"token"`
	// Version is the VK API version string. Defaults to "5.131".
	Version string `yaml:"version"`
	// BatchSize is how many recent wall posts to fetch per channel.
	// The engine needs at least 2 to skip a pinned post reliably.
	BatchSize int `yaml:"batch_size"`
	// RequestTimeout is a Go duration string.
	RequestTimeout string `yaml:"request_timeout"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `yaml:"busy_timeout"`
}

type SyncConfig struct {
	// Interval is the fixed delay between the end of one pass and the start
	// of the next. Go duration string.
	Interval string `yaml:"interval"`
	// DigestCron is an optional cron spec for the admin stats digest.
	// Empty disables the digest.
	DigestCron string `yaml:"digest_cron"`
}

// Load reads and strictly decodes the config file at path.
// Unknown keys are rejected so stale or misspelled settings are caught early.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.VK.Token) == "" {
		return errors.New("vk.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if c.VK.BatchSize < 0 {
		return errors.New("vk.batch_size must be >= 0")
	}
	// Durations are parsed at point of use; validate them here so a reload
	// with a bad value is rejected as a whole.
	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"vk.request_timeout", c.VK.RequestTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"sync.interval", c.Sync.Interval},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}
