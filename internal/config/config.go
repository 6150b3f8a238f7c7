// Package config handles TOML configuration for decom.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is read when DECOM_CONFIG is not set.
const DefaultPath = "config.toml"

// PathEnv overrides DefaultPath.
const PathEnv = "DECOM_CONFIG"

// Config is the root configuration structure.
type Config struct {
	Common   CommonConfig   `toml:"common"`
	Account  AccountConfig  `toml:"account"`
	Endpoint EndpointConfig `toml:"endpoint"`
	Log      LogConfig      `toml:"log"`
	Journal  JournalConfig  `toml:"journal"`
	Report   ReportConfig   `toml:"report"`
	OTEL     OTELConfig     `toml:"otel"`
	Metrics  ScrapeConfig   `toml:"metrics"`
}

// CommonConfig holds batch settings.
type CommonConfig struct {
	ThreadNum       int    `toml:"thread_num"`
	PollIntervalStr string `toml:"poll_interval"`
	PollInterval    time.Duration
	PollTimeoutStr  string `toml:"poll_timeout"`
	PollTimeout     time.Duration
	Language        string `toml:"language"`
}

// AccountConfig holds API credentials.
type AccountConfig struct {
	AccessKeyID string `toml:"access_key_id"`
	AccessKey   string `toml:"access_key"`
}

// EndpointConfig holds API endpoint settings.
type EndpointConfig struct {
	URL        string `toml:"url"`
	TimeoutStr string `toml:"timeout"`
	Timeout    time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// JournalConfig holds journal settings. An empty Dir disables the journal.
type JournalConfig struct {
	Dir          string `toml:"dir"`
	RetentionStr string `toml:"retention"`
	Retention    time.Duration
}

// ReportConfig holds batch report settings. An empty File disables it.
type ReportConfig struct {
	File string `toml:"file"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// ScrapeConfig holds the Prometheus scrape endpoint. Empty Listen disables it.
type ScrapeConfig struct {
	Listen string `toml:"listen"`
}

// Path returns the config path from the environment or DefaultPath.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Common.ThreadNum == 0 {
		cfg.Common.ThreadNum = 1
	}
	if cfg.Common.PollIntervalStr == "" {
		cfg.Common.PollIntervalStr = "10s"
	}
	if cfg.Common.Language == "" {
		cfg.Common.Language = "ja"
	}
	if cfg.Endpoint.TimeoutStr == "" {
		cfg.Endpoint.TimeoutStr = "30s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "log.txt"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "decom"
	}
	if cfg.OTEL.Traces.SampleRate == 0 {
		cfg.OTEL.Traces.SampleRate = 1.0
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"common.poll_interval", cfg.Common.PollIntervalStr, &cfg.Common.PollInterval},
		{"common.poll_timeout", cfg.Common.PollTimeoutStr, &cfg.Common.PollTimeout},
		{"endpoint.timeout", cfg.Endpoint.TimeoutStr, &cfg.Endpoint.Timeout},
		{"journal.retention", cfg.Journal.RetentionStr, &cfg.Journal.Retention},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.src, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Common.ThreadNum < 1 {
		return fmt.Errorf("common: thread_num must be at least 1 (got %d)", c.Common.ThreadNum)
	}
	if c.Common.PollInterval <= 0 {
		return fmt.Errorf("common: poll_interval must be positive")
	}
	if c.Common.PollTimeout < 0 {
		return fmt.Errorf("common: poll_timeout must not be negative")
	}
	switch c.Common.Language {
	case "ja", "en":
	default:
		return fmt.Errorf("common: unsupported language %q", c.Common.Language)
	}
	if c.Account.AccessKeyID == "" || c.Account.AccessKey == "" {
		return fmt.Errorf("account: access_key_id and access_key are required")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
