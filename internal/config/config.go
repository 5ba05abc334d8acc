// Package config loads the YAML configuration file and applies environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the downloader.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Quota    QuotaConfig    `yaml:"quota"`
	Planner  PlannerConfig  `yaml:"planner"`
	Executor ExecutorConfig `yaml:"executor"`
	Calendar CalendarConfig `yaml:"calendar"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig selects and configures the remote data provider.
type ProviderConfig struct {
	Kind           string `yaml:"kind"` // "tushare" or "alpaca"
	Token          string `yaml:"token"`
	APIURL         string `yaml:"api_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// Alpaca credentials, used when kind is "alpaca".
	AlpacaAPIKey    string `yaml:"alpaca_api_key"`
	AlpacaAPISecret string `yaml:"alpaca_api_secret"`
	AlpacaDataURL   string `yaml:"alpaca_data_url"`
	AlpacaBaseURL   string `yaml:"alpaca_base_url"`
}

// StorageConfig holds paths for data persistence.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// QuotaConfig mirrors the provider's hard call ceilings. BufferRatio is the
// fraction of each ceiling held in reserve.
type QuotaConfig struct {
	CallsPerMinute int     `yaml:"calls_per_minute"`
	CallsPerHour   int     `yaml:"calls_per_hour"`
	CallsPerDay    int     `yaml:"calls_per_day"`
	BufferRatio    float64 `yaml:"buffer_ratio"`
}

// PlannerConfig bounds one planning cycle.
type PlannerConfig struct {
	MaxTasksPerCycle int    `yaml:"max_tasks_per_cycle"`
	MaxDatesPerTask  int    `yaml:"max_dates_per_task"` // per-call date-span ceiling
	StartDate        string `yaml:"start_date"`         // earliest date worth backfilling
}

// ExecutorConfig controls retries and quota waiting.
type ExecutorConfig struct {
	MaxRetries             int `yaml:"max_retries"`
	BackoffBaseSeconds     int `yaml:"backoff_base_seconds"`
	MaxWaitForQuotaSeconds int `yaml:"max_wait_for_quota_seconds"`
	CallTimeoutSeconds     int `yaml:"call_timeout_seconds"`
}

// CalendarConfig is the static holiday table (YYYY-MM-DD dates). Weekends
// are always closed and need no listing.
type CalendarConfig struct {
	Holidays []string `yaml:"holidays"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Timeout returns the provider call timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// BackoffBase returns the executor backoff base as a duration.
func (e ExecutorConfig) BackoffBase() time.Duration {
	return time.Duration(e.BackoffBaseSeconds) * time.Second
}

// MaxQuotaWait returns the longest acceptable wait for a quota grant.
func (e ExecutorConfig) MaxQuotaWait() time.Duration {
	return time.Duration(e.MaxWaitForQuotaSeconds) * time.Second
}

// CallTimeout returns the per-remote-call deadline.
func (e ExecutorConfig) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSeconds) * time.Second
}

// Load reads the YAML configuration file at the given path, fills defaults,
// and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued fields with the free-tier defaults.
func applyDefaults(cfg *Config) {
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = "tushare"
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 30
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/daily.db"
	}

	// Free-tier provider ceilings: 2/minute, 60/hour, 120/day.
	if cfg.Quota.CallsPerMinute == 0 {
		cfg.Quota.CallsPerMinute = 2
	}
	if cfg.Quota.CallsPerHour == 0 {
		cfg.Quota.CallsPerHour = 60
	}
	if cfg.Quota.CallsPerDay == 0 {
		cfg.Quota.CallsPerDay = 120
	}
	if cfg.Quota.BufferRatio == 0 {
		cfg.Quota.BufferRatio = 0.1
	}

	if cfg.Planner.MaxTasksPerCycle == 0 {
		cfg.Planner.MaxTasksPerCycle = 30
	}
	if cfg.Planner.MaxDatesPerTask == 0 {
		cfg.Planner.MaxDatesPerTask = 30
	}
	if cfg.Planner.StartDate == "" {
		cfg.Planner.StartDate = "2020-01-01"
	}

	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 3
	}
	if cfg.Executor.BackoffBaseSeconds == 0 {
		cfg.Executor.BackoffBaseSeconds = 1
	}
	if cfg.Executor.MaxWaitForQuotaSeconds == 0 {
		cfg.Executor.MaxWaitForQuotaSeconds = 300
	}
	if cfg.Executor.CallTimeoutSeconds == 0 {
		cfg.Executor.CallTimeoutSeconds = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := os.Getenv("TUSHARE_API_URL"); v != "" {
		cfg.Provider.APIURL = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Provider.AlpacaAPIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Provider.AlpacaAPISecret = v
	}
}
