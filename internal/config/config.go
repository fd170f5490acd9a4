package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for the flight-logic process.
type Config struct {
	DBPath    string          `yaml:"db_path"` // SQLite database path (default ~/.flightlogic/flightlogic.db, ":memory:" for testing)
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Status    StatusConfig    `yaml:"status"`
	Plugins   PluginsConfig   `yaml:"plugins"`
}

// LogConfig controls console and persisted logging.
type LogConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // text, json
	PersistLevel string `yaml:"persist_level"` // minimum level written to the logs table; "off" disables
	PersistRate  int    `yaml:"persist_rate"`  // persisted records per second
}

// SchedulerConfig controls the run loop.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Watchdog     bool          `yaml:"watchdog"` // notify systemd and ping its watchdog
}

// StatusConfig controls the read-only status API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PluginsConfig tunes the built-in plugins.
type PluginsConfig struct {
	HeartbeatPeriod      time.Duration `yaml:"heartbeat_period"`
	BeaconPeriod         time.Duration `yaml:"beacon_period"`
	HousekeepingSchedule string        `yaml:"housekeeping_schedule"`
	LogRetention         time.Duration `yaml:"log_retention"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:        "info",
			Format:       "text",
			PersistLevel: "info",
			PersistRate:  20,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 100 * time.Millisecond,
			Watchdog:     true,
		},
		Status: StatusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8080",
		},
		Plugins: PluginsConfig{
			HeartbeatPeriod:      4 * time.Second,
			BeaconPeriod:         60 * time.Second,
			HousekeepingSchedule: "@hourly",
			LogRetention:         24 * time.Hour,
		},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if pl := strings.ToLower(c.Log.PersistLevel); pl != "off" && !validLevels[pl] {
		errs = append(errs, fmt.Errorf("log.persist_level: unknown level %q", c.Log.PersistLevel))
	}
	if c.Log.PersistRate < 1 {
		errs = append(errs, errors.New("log.persist_rate: must be at least 1"))
	}
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval: must be positive"))
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		errs = append(errs, errors.New("status.addr: required when status is enabled"))
	}
	if c.Plugins.HeartbeatPeriod < time.Second {
		errs = append(errs, errors.New("plugins.heartbeat_period: must be at least 1s"))
	}
	if c.Plugins.BeaconPeriod < time.Second {
		errs = append(errs, errors.New("plugins.beacon_period: must be at least 1s"))
	}
	if _, err := cron.ParseStandard(c.Plugins.HousekeepingSchedule); err != nil {
		errs = append(errs, fmt.Errorf("plugins.housekeeping_schedule: %w", err))
	}
	if c.Plugins.LogRetention < time.Second {
		errs = append(errs, errors.New("plugins.log_retention: must be at least 1s"))
	}
	return errors.Join(errs...)
}

// PersistEnabled reports whether logs are written to the database.
func (c Config) PersistEnabled() bool {
	return strings.ToLower(c.Log.PersistLevel) != "off"
}

// ResolveDBPath returns DBPath, defaulting to ~/.flightlogic/flightlogic.db and
// creating its directory.
func (c Config) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".flightlogic")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "flightlogic.db"), nil
}
