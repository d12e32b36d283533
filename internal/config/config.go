package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/quality"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Environment overrides.
const (
	EnvDBPath       = "RETAILETL_DB_PATH"
	EnvMLServiceURL = "ML_SERVICE_URL"
)

const dateLayout = "2006-01-02"

type Config struct {
	Warehouse     Warehouse     `yaml:"warehouse"`
	DateDimension DateDimension `yaml:"date_dimension"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Quality       Quality       `yaml:"quality"`
	Freshness     Freshness     `yaml:"freshness"`
	Prediction    Prediction    `yaml:"prediction"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Warehouse struct {
	DataDir string `yaml:"data_dir"`
	DBFile  string `yaml:"db_file"`
}

type DateDimension struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type Pipeline struct {
	Parallel       bool `yaml:"parallel"`
	FailOnCritical bool `yaml:"fail_on_critical"`
}

type Quality struct {
	MinRetentionRatio  float64 `yaml:"min_retention_ratio"`
	CustomerNullMin    float64 `yaml:"customer_null_min"`
	CustomerNullMax    float64 `yaml:"customer_null_max"`
	MaxDuplicateGroups int     `yaml:"max_duplicate_groups"`
}

type Freshness struct {
	FreshWithin time.Duration `yaml:"fresh_within"`
	StaleWithin time.Duration `yaml:"stale_within"`
}

type Prediction struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	TriggerAfterRun bool          `yaml:"trigger_after_run"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for retailetl.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "retailetl")
}

// DataDir returns the XDG data directory for retailetl.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "retailetl")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/retailetl/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'retailetl init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
// A .env file in the working directory is read first; it never replaces
// variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	th := quality.DefaultThresholds()
	win := lineage.DefaultWindows()
	cfg := &Config{
		Warehouse:     Warehouse{DBFile: "warehouse.db"},
		DateDimension: DateDimension{Start: "2009-12-01", End: "2012-12-31"},
		Pipeline:      Pipeline{Parallel: true, FailOnCritical: true},
		Quality: Quality{
			MinRetentionRatio:  th.MinRetentionRatio,
			CustomerNullMin:    th.CustomerNullMin,
			CustomerNullMax:    th.CustomerNullMax,
			MaxDuplicateGroups: th.MaxDuplicateGroups,
		},
		Freshness: Freshness{FreshWithin: win.FreshWithin, StaleWithin: win.StaleWithin},
		Prediction: Prediction{
			URL:             "http://localhost:8001",
			TriggerAfterRun: true,
			Timeout:         60 * time.Second,
		},
		Server:  Server{Port: 8080},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	start, end, err := c.DateRange()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("date_dimension: end %s before start %s", c.DateDimension.End, c.DateDimension.Start)
	}
	if c.Quality.CustomerNullMin > c.Quality.CustomerNullMax {
		return fmt.Errorf("quality: customer_null_min %.2f exceeds customer_null_max %.2f",
			c.Quality.CustomerNullMin, c.Quality.CustomerNullMax)
	}
	if c.Freshness.FreshWithin > c.Freshness.StaleWithin {
		return fmt.Errorf("freshness: fresh_within %s exceeds stale_within %s",
			c.Freshness.FreshWithin, c.Freshness.StaleWithin)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Warehouse.DataDir = filepath.Dir(v)
		c.Warehouse.DBFile = filepath.Base(v)
	}
	if v := os.Getenv(EnvMLServiceURL); v != "" {
		c.Prediction.URL = v
	}
}

// DateRange returns the parsed date dimension horizon.
func (c *Config) DateRange() (start, end time.Time, err error) {
	start, err = time.Parse(dateLayout, c.DateDimension.Start)
	if err != nil {
		return start, end, fmt.Errorf("date_dimension.start: %w", err)
	}
	end, err = time.Parse(dateLayout, c.DateDimension.End)
	if err != nil {
		return start, end, fmt.Errorf("date_dimension.end: %w", err)
	}
	return start, end, nil
}

// Thresholds returns the quality gate thresholds.
func (c *Config) Thresholds() quality.Thresholds {
	return quality.Thresholds{
		MinRetentionRatio:  c.Quality.MinRetentionRatio,
		CustomerNullMin:    c.Quality.CustomerNullMin,
		CustomerNullMax:    c.Quality.CustomerNullMax,
		MaxDuplicateGroups: c.Quality.MaxDuplicateGroups,
	}
}

// Windows returns the freshness classification windows.
func (c *Config) Windows() lineage.Windows {
	return lineage.Windows{FreshWithin: c.Freshness.FreshWithin, StaleWithin: c.Freshness.StaleWithin}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Warehouse.DataDir != "" {
		return c.Warehouse.DataDir
	}
	return DataDir()
}

// DBPath returns the warehouse file path.
func (c *Config) DBPath() string {
	file := c.Warehouse.DBFile
	if file == "" {
		file = "warehouse.db"
	}
	return filepath.Join(c.GetDataDir(), file)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
