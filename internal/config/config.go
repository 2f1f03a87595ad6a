// Package config holds the YAML-backed application configuration with
// first-run creation, defaulting, and atomic saves.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes one ICS subscription source.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone used for day bucketing and
	// grid math (e.g. "Europe/Moscow").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the first day of calendar weeks: "monday" (default)
	// or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// TickCron drives the reminder scheduler (cron spec or "@every ...").
	TickCron string `yaml:"tick" json:"tick"`

	// LookAheadHours is the forward window each tick scans for due
	// reminders; it should cover the largest reminder offset in use.
	LookAheadHours int `yaml:"look_ahead_hours" json:"look_ahead_hours"`

	// CatchUpDays is the backward window scanned once on start to
	// backfill reminders missed during downtime.
	CatchUpDays int `yaml:"catch_up_days" json:"catch_up_days"`

	// DisplayCap is how many events a grid cell lists before reporting
	// an overflow count.
	DisplayCap int `yaml:"display_cap" json:"display_cap"`

	// HorizonDays is how far ahead ICS recurrences are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// DBPath enables the sqlite persistence collaborator when set.
	DBPath string `yaml:"db_path" json:"db_path"`

	// CacheDir is where fetched ICS bodies are cached.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// DefaultReminders are the offsets attached to imported ICS events,
	// as Go durations ("15m", "1h", "24h").
	DefaultReminders []string `yaml:"default_reminders" json:"default_reminders"`

	// ICS is the list of subscribed feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, protects all endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns the in-memory defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		Timezone:         "UTC",
		WeekStart:        "monday",
		TickCron:         "@every 30s",
		LookAheadHours:   24,
		CatchUpDays:      7,
		DisplayCap:       3,
		HorizonDays:      30,
		CacheDir:         "./var/ics-cache",
		DefaultReminders: []string{"15m"},
		ICS:              []ICSConfig{},
	}
}

// Normalize fills missing or invalid values with defaults so partially
// filled configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.TickCron == "" {
		c.TickCron = def.TickCron
	}
	if c.LookAheadHours <= 0 {
		c.LookAheadHours = def.LookAheadHours
	}
	if c.CatchUpDays <= 0 {
		c.CatchUpDays = def.CatchUpDays
	}
	if c.DisplayCap <= 0 {
		c.DisplayCap = def.DisplayCap
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.DefaultReminders == nil {
		c.DefaultReminders = def.DefaultReminders
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WeekStartDay maps the week_start setting to a weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// ReminderOffsets parses default_reminders, skipping malformed entries.
func (c *Config) ReminderOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(c.DefaultReminders))
	for _, s := range c.DefaultReminders {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Load reads the config at path. A missing file is created with
// defaults (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".roundcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save for convenience at call
// sites that already hold a Config.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
