package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/properties"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of one change detection run.
type Config struct {
	AOI        AOIConfig        `yaml:"aoi"`
	Epochs     []EpochConfig    `yaml:"epochs"`
	CloudMask  CloudMaskConfig  `yaml:"cloud_mask"`
	Thresholds delta.Thresholds `yaml:"thresholds"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Model      ModelConfig      `yaml:"model"`
	Area       AreaConfig       `yaml:"area"`
	Export     ExportConfig     `yaml:"export"`
	Processing ProcessingConfig `yaml:"processing"`
	Source     SourceConfig     `yaml:"source"`
	Store      StoreConfig      `yaml:"store"`
}

// AOIConfig selects the features of a GeoJSON file whose Property equals Value.
type AOIConfig struct {
	Path     string `yaml:"path"`
	Property string `yaml:"property"`
	Value    string `yaml:"value"`
}

type EpochConfig struct {
	Name   string       `yaml:"name"`
	Start  string       `yaml:"start"` // YYYY-MM-DD, inclusive
	End    string       `yaml:"end"`   // YYYY-MM-DD, exclusive
	Sensor SensorConfig `yaml:"sensor"`
}

// SensorConfig describes a scene catalog. Bands lists the band names in file
// order and must include NIR, Red and QABand.
type SensorConfig struct {
	Catalog string   `yaml:"catalog"`
	Bands   []string `yaml:"bands"`
	NIR     string   `yaml:"nir"`
	Red     string   `yaml:"red"`
	QABand  string   `yaml:"qa_band"`
}

type CloudMaskConfig struct {
	CloudBit  uint    `yaml:"cloud_bit"`
	ShadowBit uint    `yaml:"shadow_bit"`
	Scale     float64 `yaml:"scale"`
	Offset    float64 `yaml:"offset"`
}

// Resolutions are in metres on every grid, geographic ones included.
type SamplingConfig struct {
	Count        int     `yaml:"count"`
	Resolution   float64 `yaml:"resolution"`
	Seed         int64   `yaml:"seed"`
	TestFraction float64 `yaml:"test_fraction"`
}

type ModelConfig struct {
	Trees         int    `yaml:"trees"`
	MaxDepth      int    `yaml:"max_depth"`
	MinLeaf       int    `yaml:"min_leaf"`
	Seed          int64  `yaml:"seed"` // 0 uses the sampling seed
	Backend       string `yaml:"backend"`
	RemoteAddress string `yaml:"remote_address"`
	Persist       bool   `yaml:"persist"`
}

type AreaConfig struct {
	Resolution float64 `yaml:"resolution"`
}

type ExportConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Resolution  float64 `yaml:"resolution"`
	MaxPixels   int64   `yaml:"max_pixels"`
	Destination string  `yaml:"destination"`
}

type ProcessingConfig struct {
	Workers   int   `yaml:"workers"`
	MaxPixels int64 `yaml:"max_pixels"` // 0 disables the check
}

type SourceConfig struct {
	Kind         string `yaml:"kind"`
	Root         string `yaml:"root"`
	IntervalDays int    `yaml:"interval_days"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

const (
	BackendLocal  = "local"
	BackendRemote = "remote"

	SourceDirectory  = "directory"
	SourceProcessAPI = "process_api"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultConfig reproduces the Adilabad comparison of Landsat 5 in 2000 with
// Landsat 8 in 2023.
func DefaultConfig() *Config {
	root := properties.RootPath()
	return &Config{
		AOI: AOIConfig{
			Path:     filepath.Join(root, "data", "aoi", "districts.geojson"),
			Property: "NAME_2",
			Value:    "Adilabad",
		},
		Epochs: []EpochConfig{
			{
				Name:  "2000",
				Start: "2000-01-01",
				End:   "2000-12-31",
				Sensor: SensorConfig{
					Catalog: "LANDSAT/LT05/C02/T1_L2",
					Bands:   []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7", "QA_PIXEL"},
					NIR:     "SR_B4",
					Red:     "SR_B3",
					QABand:  "QA_PIXEL",
				},
			},
			{
				Name:  "2023",
				Start: "2023-01-01",
				End:   "2023-12-31",
				Sensor: SensorConfig{
					Catalog: "LANDSAT/LC08/C02/T1_L2",
					Bands:   []string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7", "QA_PIXEL"},
					NIR:     "SR_B5",
					Red:     "SR_B4",
					QABand:  "QA_PIXEL",
				},
			},
		},
		CloudMask: CloudMaskConfig{
			CloudBit:  3,
			ShadowBit: 5,
			Scale:     0.0000275,
			Offset:    -0.2,
		},
		Thresholds: delta.DefaultThresholds(),
		Sampling: SamplingConfig{
			Count:      1000,
			Resolution: 60,
			Seed:       42,
		},
		Model: ModelConfig{
			Trees:   50,
			MinLeaf: 1,
			Backend: BackendLocal,
		},
		Area: AreaConfig{Resolution: 120},
		Export: ExportConfig{
			Enabled:     true,
			Resolution:  30,
			MaxPixels:   10_000_000_000_000,
			Destination: "Forest_Change_Classification",
		},
		Processing: ProcessingConfig{
			Workers:   runtime.NumCPU(),
			MaxPixels: 500_000_000,
		},
		Source: SourceConfig{
			Kind:         SourceDirectory,
			Root:         filepath.Join(root, "data", "scenes"),
			IntervalDays: 16,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    filepath.Join(root, "data", "runs.db"),
		},
	}
}

// LoadEnv loads .env files into the environment. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("FORESTCHANGE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FORESTCHANGE_SEED: %w", err)
		}
		c.Sampling.Seed = seed
	}
	if v := os.Getenv("FORESTCHANGE_TREES"); v != "" {
		trees, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORESTCHANGE_TREES: %w", err)
		}
		c.Model.Trees = trees
	}
	if v := os.Getenv("FORESTCHANGE_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORESTCHANGE_WORKERS: %w", err)
		}
		c.Processing.Workers = workers
	}
	if v := os.Getenv("FORESTCHANGE_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	return nil
}

// ModelSeed is the forest seed, falling back to the sampling seed.
func (c *Config) ModelSeed() int64 {
	if c.Model.Seed != 0 {
		return c.Model.Seed
	}
	return c.Sampling.Seed
}

func (e EpochConfig) Range() (raster.DateRange, error) {
	start, err := time.Parse(time.DateOnly, e.Start)
	if err != nil {
		return raster.DateRange{}, fmt.Errorf("%w: epoch %s start: %v", raster.ErrInvalidInput, e.Name, err)
	}
	end, err := time.Parse(time.DateOnly, e.End)
	if err != nil {
		return raster.DateRange{}, fmt.Errorf("%w: epoch %s end: %v", raster.ErrInvalidInput, e.Name, err)
	}
	dr := raster.DateRange{Start: start, End: end}
	if err := dr.Validate(); err != nil {
		return raster.DateRange{}, fmt.Errorf("epoch %s: %w", e.Name, err)
	}
	return dr, nil
}

// Bands maps every configured catalog to its band layout.
func (c *Config) Bands() map[string][]string {
	out := make(map[string][]string, len(c.Epochs))
	for _, e := range c.Epochs {
		out[e.Sensor.Catalog] = e.Sensor.Bands
	}
	return out
}
