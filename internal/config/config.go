// Package config loads the citysim configuration file. Every field has a
// default, so a missing or partial file is fine: YAML values overlay the
// defaults and the result is validated as a whole.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/tilecity/internal/city"
	"github.com/talgya/tilecity/internal/engine"
)

// File is the top-level configuration.
type File struct {
	City    city.Config `yaml:"city"`
	Engine  Engine      `yaml:"engine"`
	API     API         `yaml:"api"`
	Storage Storage     `yaml:"storage"`
	Log     Log         `yaml:"log"`
}

// Engine controls the real-time driver.
type Engine struct {
	Speed    float64       `yaml:"speed"`    // Ticks per second at startup
	Interval time.Duration `yaml:"interval"` // Loop interval, e.g. "100ms"
}

// API controls the HTTP server.
type API struct {
	Addr        string   `yaml:"addr"`
	RateLimit   int      `yaml:"rate_limit"`  // Mutations per IP per window
	RateWindow  string   `yaml:"rate_window"` // Parsed with time.ParseDuration
	CORSOrigins []string `yaml:"cors_origins"`
}

// Storage controls where state is kept.
type Storage struct {
	DBPath       string `yaml:"db_path"`
	SnapshotDir  string `yaml:"snapshot_dir"`
	SaveOnMonths int    `yaml:"save_every_months"` // 0 disables autosave
}

// Log controls the slog handler.
type Log struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		City: city.DefaultConfig(),
		Engine: Engine{
			Speed:    10,
			Interval: 100 * time.Millisecond,
		},
		API: API{
			Addr:       ":8080",
			RateLimit:  30,
			RateWindow: "1m",
		},
		Storage: Storage{
			DBPath:       "data/tilecity.db",
			SnapshotDir:  "data/snapshots",
			SaveOnMonths: 1,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (File, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("config loaded", "path", path)
	return cfg, nil
}

// Parse overlays YAML b onto cfg and validates the result.
func Parse(b []byte, cfg *File) error {
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate checks every section.
func (f File) Validate() error {
	if err := f.City.Validate(); err != nil {
		return err
	}
	if f.Engine.Speed < 0 || f.Engine.Speed > engine.MaxSpeed {
		return fmt.Errorf("engine.speed %v outside 0..%d", f.Engine.Speed, engine.MaxSpeed)
	}
	if f.Engine.Interval <= 0 {
		return errors.New("engine.interval must be positive")
	}
	if f.API.RateLimit < 1 {
		return fmt.Errorf("api.rate_limit %d below 1", f.API.RateLimit)
	}
	if _, err := f.API.Window(); err != nil {
		return err
	}
	if f.Storage.SaveOnMonths < 0 {
		return fmt.Errorf("storage.save_every_months %d is negative", f.Storage.SaveOnMonths)
	}
	if _, err := f.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Window parses the rate-limit window.
func (a API) Window() (time.Duration, error) {
	d, err := time.ParseDuration(a.RateWindow)
	if err != nil {
		return 0, fmt.Errorf("api.rate_window: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("api.rate_window %v must be positive", d)
	}
	return d, nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
