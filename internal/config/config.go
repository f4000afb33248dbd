// Package config provides YAML-based configuration loading for fleetsync.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level fleetsync configuration, loaded from fleetsync.yaml.
type Config struct {
	DeviceID string        `yaml:"device_id"`
	Storage  StorageConfig `yaml:"storage"`
	Server   ServerConfig  `yaml:"server"`
	Sync     SyncConfig    `yaml:"sync"`
	Network  NetworkConfig `yaml:"network"`
	Power    PowerConfig   `yaml:"power"`
	Sensors  SensorsConfig `yaml:"sensors"`
	Status   StatusConfig  `yaml:"status"`
	Alerts   AlertsConfig  `yaml:"alerts"`
	Log      LogConfig     `yaml:"log"`
}

// StorageConfig selects and locates the durable queue store.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // sqlite (default) or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig points at the fleet REST API.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig tunes batch execution and retry behavior.
type SyncConfig struct {
	WorkerPool    int           `yaml:"worker_pool"`
	BatchLimit    int           `yaml:"batch_limit"`
	MaxRetries    int           `yaml:"max_retries"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
	DeferDelay    time.Duration `yaml:"defer_delay"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

// NetworkConfig holds sync intervals per connection class, in minutes.
type NetworkConfig struct {
	UnmeteredIntervalMinutes int `yaml:"unmetered_interval_minutes"`
	MeteredIntervalMinutes   int `yaml:"metered_interval_minutes"`
	DefaultIntervalMinutes   int `yaml:"default_interval_minutes"`
}

// PowerConfig holds battery thresholds and the intervals used in each band.
type PowerConfig struct {
	LowBatteryPct            int `yaml:"low_battery_pct"`
	VeryLowBatteryPct        int `yaml:"very_low_battery_pct"`
	ChargingIntervalMinutes  int `yaml:"charging_interval_minutes"`
	NormalIntervalMinutes    int `yaml:"normal_interval_minutes"`
	LowIntervalMinutes       int `yaml:"low_interval_minutes"`
	VeryLowIntervalMinutes   int `yaml:"very_low_interval_minutes"`
	PowerSaveIntervalMinutes int `yaml:"power_save_interval_minutes"`
}

// SensorsConfig locates the platform bridge's state file.
type SensorsConfig struct {
	StateFile     string        `yaml:"state_file"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// StatusConfig controls the local status API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AlertsConfig configures where undelivered commands are reported.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials for alerts.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord credentials for alerts.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// LogConfig controls the rotated log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied,
// for callers that run without a config file.
func Default(baseURL string) *Config {
	cfg := &Config{Server: ServerConfig{BaseURL: baseURL}}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			c.DeviceID = host
		}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "fleetsync.db"
	}
	if c.Storage.Driver == "mysql" {
		if c.Storage.Host == "" {
			c.Storage.Host = "127.0.0.1"
		}
		if c.Storage.Port == 0 {
			c.Storage.Port = 3306
		}
		if c.Storage.User == "" {
			c.Storage.User = "root"
		}
		if c.Storage.Database == "" {
			c.Storage.Database = "fleetsync"
		}
	}

	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 20 * time.Second
	}

	if c.Sync.WorkerPool == 0 {
		c.Sync.WorkerPool = 3
	}
	if c.Sync.BatchLimit == 0 {
		c.Sync.BatchLimit = 50
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.BackoffBase == 0 {
		c.Sync.BackoffBase = 30 * time.Second
	}
	if c.Sync.BackoffCap == 0 {
		c.Sync.BackoffCap = 900 * time.Second
	}
	if c.Sync.BackoffJitter == 0 {
		c.Sync.BackoffJitter = 0.10
	}
	if c.Sync.DeferDelay == 0 {
		c.Sync.DeferDelay = 10 * time.Second
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = 5 * time.Minute
	}

	if c.Network.UnmeteredIntervalMinutes == 0 {
		c.Network.UnmeteredIntervalMinutes = 15
	}
	if c.Network.MeteredIntervalMinutes == 0 {
		c.Network.MeteredIntervalMinutes = 45
	}
	if c.Network.DefaultIntervalMinutes == 0 {
		c.Network.DefaultIntervalMinutes = 30
	}

	if c.Power.LowBatteryPct == 0 {
		c.Power.LowBatteryPct = 15
	}
	if c.Power.VeryLowBatteryPct == 0 {
		c.Power.VeryLowBatteryPct = 5
	}
	if c.Power.ChargingIntervalMinutes == 0 {
		c.Power.ChargingIntervalMinutes = 10
	}
	if c.Power.NormalIntervalMinutes == 0 {
		c.Power.NormalIntervalMinutes = 15
	}
	if c.Power.LowIntervalMinutes == 0 {
		c.Power.LowIntervalMinutes = 30
	}
	if c.Power.VeryLowIntervalMinutes == 0 {
		c.Power.VeryLowIntervalMinutes = 60
	}
	if c.Power.PowerSaveIntervalMinutes == 0 {
		c.Power.PowerSaveIntervalMinutes = 120
	}

	if c.Sensors.ProbeInterval == 0 {
		c.Sensors.ProbeInterval = time.Minute
	}

	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:8787"
	}

	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.BaseURL == "" {
		errs = append(errs, "server.base_url is required")
	} else if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("server.base_url %q must be an http(s) URL", c.Server.BaseURL))
	}
	switch c.Storage.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q must be sqlite or mysql", c.Storage.Driver))
	}
	if c.Sync.WorkerPool < 1 || c.Sync.WorkerPool > 8 {
		errs = append(errs, fmt.Sprintf("sync.worker_pool %d must be between 1 and 8", c.Sync.WorkerPool))
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, "sync.max_retries must be at least 1")
	}
	if c.Sync.BackoffCap < c.Sync.BackoffBase {
		errs = append(errs, "sync.backoff_cap must not be less than sync.backoff_base")
	}
	if c.Sync.BackoffJitter < 0 || c.Sync.BackoffJitter > 1 {
		errs = append(errs, "sync.backoff_jitter must be between 0 and 1")
	}
	if c.Power.VeryLowBatteryPct >= c.Power.LowBatteryPct {
		errs = append(errs, "power.very_low_battery_pct must be below power.low_battery_pct")
	}
	if (c.Alerts.Slack.BotToken == "") != (c.Alerts.Slack.ChannelID == "") {
		errs = append(errs, "alerts.slack requires both bot_token and channel_id")
	}
	if (c.Alerts.Discord.BotToken == "") != (c.Alerts.Discord.ChannelID == "") {
		errs = append(errs, "alerts.discord requires both bot_token and channel_id")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
