// Package config loads run configuration from YAML, layered over embedded
// defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/simerr"
	"github.com/talgya/jotrsim/internal/species"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds everything needed to set up and run one simulation.
type Config struct {
	Run        RunConfig        `yaml:"run"`
	Landscape  LandscapeConfig  `yaml:"landscape"`
	Population PopulationConfig `yaml:"population"`
	Species    species.Params   `yaml:"species"`
}

// RunConfig controls the scheduler and outputs.
type RunConfig struct {
	Seed            int64  `yaml:"seed"`  // 0 picks a random seed at startup
	Ticks           uint64 `yaml:"ticks"` // 0 runs until interrupted
	Workers         int    `yaml:"workers"`
	IsolateFailures bool   `yaml:"isolate_failures"`
	IntervalMs      int    `yaml:"interval_ms"`
	ExportData      bool   `yaml:"export_data"` // Write final occupancy and population at the end
	ExportDir       string `yaml:"export_dir"`
	TickLog         bool   `yaml:"tick_log"` // Append compressed per-tick snapshots
}

// LandscapeConfig selects and shapes the raster.
type LandscapeConfig struct {
	Bounds            [4]float64 `yaml:"bounds"` // west, south, east, north
	ResolutionM       float64    `yaml:"resolution_m"`
	ElevationFile     string     `yaml:"elevation_file"` // ESRI ASCII grid; empty generates terrain
	RefugiaPercentile float64    `yaml:"refugia_percentile"`
	AridityNoise      float64    `yaml:"aridity_noise"`

	// Synthetic terrain, used when ElevationFile is empty.
	MinElevation float64 `yaml:"min_elevation"`
	MaxElevation float64 `yaml:"max_elevation"`
	Octaves      int     `yaml:"octaves"`
	Frequency    float64 `yaml:"frequency"`
}

// PopulationConfig selects the initial population feed.
type PopulationConfig struct {
	File   string `yaml:"file"` // CSV with lon, lat, age; empty scatters Count records
	Count  int    `yaml:"count"`
	MinAge uint16 `yaml:"min_age"`
	MaxAge uint16 `yaml:"max_age"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML data on cfg. Keys absent from data keep their values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parsing config: %v", simerr.ErrConfiguration, err)
	}
	return nil
}

// Validate checks ranges the rest of the setup relies on.
func (c *Config) Validate() error {
	b := c.Landscape.Bounds
	if !(b[0] < b[2]) || !(b[1] < b[3]) {
		return fmt.Errorf("%w: landscape bounds %v are not west < east, south < north", simerr.ErrConfiguration, b)
	}
	if c.Landscape.ElevationFile == "" && c.Landscape.ResolutionM <= 0 {
		return fmt.Errorf("%w: landscape resolution_m must be positive", simerr.ErrConfiguration)
	}
	if p := c.Landscape.RefugiaPercentile; p <= 0 || p > 1 {
		return fmt.Errorf("%w: refugia_percentile %v outside (0, 1]", simerr.ErrConfiguration, p)
	}
	if c.Landscape.AridityNoise < 0 {
		return fmt.Errorf("%w: aridity_noise must not be negative", simerr.ErrConfiguration)
	}
	if c.Population.File == "" && c.Population.Count < 0 {
		return fmt.Errorf("%w: population count must not be negative", simerr.ErrConfiguration)
	}
	if c.Population.MinAge > c.Population.MaxAge {
		return fmt.Errorf("%w: population min_age %d above max_age %d",
			simerr.ErrConfiguration, c.Population.MinAge, c.Population.MaxAge)
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", simerr.ErrConfiguration)
	}
	if c.Run.IntervalMs < 0 {
		return fmt.Errorf("%w: interval_ms must not be negative", simerr.ErrConfiguration)
	}
	return c.Species.Validate()
}

// Interval returns the pause between ticks.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Run.IntervalMs) * time.Millisecond
}

// GenConfig returns the synthetic terrain parameters for this run.
func (c *Config) GenConfig() landscape.GenConfig {
	return landscape.GenConfig{
		Bounds:       c.Landscape.Bounds,
		ResolutionM:  c.Landscape.ResolutionM,
		Seed:         c.Run.Seed,
		MinElevation: c.Landscape.MinElevation,
		MaxElevation: c.Landscape.MaxElevation,
		Octaves:      c.Landscape.Octaves,
		Frequency:    c.Landscape.Frequency,
	}
}

// YAML returns the effective configuration as YAML text.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	return string(data), nil
}

// WriteYAML writes the effective configuration, so an exported run records
// how it was produced.
func (c *Config) WriteYAML(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
