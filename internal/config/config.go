// Package config handles configuration loading for kira-nuclearqc.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
	"github.com/ARyaskov/kira-nuclearqc/pkg/colormap"
)

// Config represents the tool configuration.
type Config struct {
	Scoring ScoringConfig `yaml:"scoring"`
	Input   InputConfig   `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Panels  PanelsConfig  `yaml:"panels"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	Log     LogConfig     `yaml:"log"`
}

// ScoringConfig selects the scoring profile. Overrides is decoded onto a
// copy of the named profile, so any threshold or weight can be set here.
type ScoringConfig struct {
	Profile       string    `yaml:"profile"`
	StrictNuclear bool      `yaml:"strict_nuclear"`
	Overrides     yaml.Node `yaml:"overrides"`
}

// InputConfig contains input discovery settings.
type InputConfig struct {
	Dir             string `yaml:"dir"`
	Meta            string `yaml:"meta"`
	Normalize       bool   `yaml:"normalize"`
	CacheNormalized bool   `yaml:"cache_normalized"`
}

// OutputConfig contains report settings.
type OutputConfig struct {
	Dir     string `yaml:"dir"`
	Mode    string `yaml:"mode"`
	RunMode string `yaml:"run_mode"`
}

// PanelsConfig contains panel definition settings.
type PanelsConfig struct {
	File      string   `yaml:"file"`
	KeyPanels []string `yaml:"key_panels"`
}

// StoreConfig contains result archive settings.
type StoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Workers     int      `yaml:"workers"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PlotSizeMB     int `yaml:"plot_size_mb"`
	PlotTTLMinutes int `yaml:"plot_ttl_minutes"`
	QuerySize      int `yaml:"query_size"`
}

// RenderConfig contains plot rendering settings.
type RenderConfig struct {
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	Bins            int    `yaml:"bins"`
	DefaultColormap string `yaml:"default_colormap"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			Profile: profile.NameDefaultV1,
		},
		Output: OutputConfig{
			Dir:     "./nuclearqc-out",
			Mode:    "cell",
			RunMode: "standalone",
		},
		Panels: PanelsConfig{
			KeyPanels: append([]string(nil), panels.DefaultKeyPanels...),
		},
		Store: StoreConfig{
			Path:          "./data/nuclearqc.db",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Workers:     2,
		},
		Cache: CacheConfig{
			PlotSizeMB:     64,
			PlotTTLMinutes: 10,
			QuerySize:      1000,
		},
		Render: RenderConfig{
			Width:           640,
			Height:          400,
			Bins:            20,
			DefaultColormap: "viridis",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Scoring.Profile == "" {
		cfg.Scoring.Profile = defaults.Scoring.Profile
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = defaults.Output.Dir
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = defaults.Output.Mode
	}
	if cfg.Output.RunMode == "" {
		cfg.Output.RunMode = defaults.Output.RunMode
	}
	if len(cfg.Panels.KeyPanels) == 0 {
		cfg.Panels.KeyPanels = defaults.Panels.KeyPanels
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = defaults.Store.RetentionDays
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = defaults.Server.Workers
	}
	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.Bins == 0 {
		cfg.Render.Bins = defaults.Render.Bins
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Output.Mode {
	case "cell", "sample":
	default:
		errs = append(errs, fmt.Errorf("output.mode %q is not one of cell, sample", c.Output.Mode))
	}
	switch c.Output.RunMode {
	case "standalone", "pipeline":
	default:
		errs = append(errs, fmt.Errorf("output.run_mode %q is not one of standalone, pipeline", c.Output.RunMode))
	}
	if _, ok := colormap.Get(c.Render.DefaultColormap); !ok {
		errs = append(errs, fmt.Errorf("render.default_colormap %q is not a known colormap", c.Render.DefaultColormap))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("server.workers must be >= 0, got %d", c.Server.Workers))
	}
	if c.Render.Bins < 1 || c.Render.Width < 1 || c.Render.Height < 1 {
		errs = append(errs, errors.New("render width, height and bins must be positive"))
	}

	return errors.Join(errs...)
}

// ResolveProfile builds the scoring profile named by the config with its
// overrides and the strict-nuclear switch applied.
func (c *Config) ResolveProfile() (*profile.Profile, error) {
	return profile.Resolve(c.Scoring.Profile, c.Scoring.StrictNuclear, &c.Scoring.Overrides)
}
