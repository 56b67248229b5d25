package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type Vcd struct {
	Href       string            `yaml:"href"`
	APIVersion string            `yaml:"apiVersion"`
	SkipVerify bool              `yaml:"skipVerify"`
	Timeout    time.Duration     `yaml:"timeout"`
	RateLimit  RateLimiterConfig `yaml:"rateLimit"`
}

type Cluster struct {
	SkipVerify bool          `yaml:"skipVerify"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Metadata struct {
	// KeyPrefix is prepended to endpoint and tenant record names.
	KeyPrefix string `yaml:"keyPrefix"`
}

type Extension struct {
	PluginName string `yaml:"pluginName"`
}

type Convergence struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

type Journal struct {
	// Directory holds the badger journal. Empty disables journaling.
	Directory string `yaml:"directory"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type Config struct {
	Vcd         Vcd         `yaml:"vcd"`
	Cluster     Cluster     `yaml:"cluster"`
	Metadata    Metadata    `yaml:"metadata"`
	Extension   Extension   `yaml:"extension"`
	Convergence Convergence `yaml:"convergence"`
	Journal     Journal     `yaml:"journal"`
	Logging     Logging     `yaml:"logging"`
}

var (
	ErrConfigFileUnreadable       = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable   = errors.New("config file is unmarshallable")
	ErrConfigFileExists           = errors.New("config file already exists")
	ErrHrefMissing                = errors.New("vcd.href is missing in config")
	ErrHrefInvalid                = errors.New("vcd.href must be an https url")
	ErrAPIVersionMissing          = errors.New("vcd.apiVersion is missing in config")
	ErrTimeoutInvalid             = errors.New("vcd.timeout and cluster.timeout must be positive")
	ErrRateLimitInvalid           = errors.New("vcd.rateLimit.limit and burst must be positive")
	ErrPluginNameMissing          = errors.New("extension.pluginName is missing in config")
	ErrConvergenceAttemptsInvalid = errors.New("convergence.attempts must be at least 1")
	ErrConvergenceIntervalInvalid = errors.New("convergence.interval cannot be negative")
	ErrLogLevelInvalid            = errors.New("logging.level must be one of debug, info, warn, error")
	ErrLogFormatInvalid           = errors.New("logging.format must be text or json")
)

// Default returns a configuration with every value but vcd.href set.
func Default() *Config {
	return &Config{
		Vcd: Vcd{
			APIVersion: "34.0",
			Timeout:    30 * time.Second,
			RateLimit:  RateLimiterConfig{Limit: 10.0, Burst: 20},
		},
		Cluster: Cluster{
			Timeout: 30 * time.Second,
		},
		Metadata: Metadata{
			KeyPrefix: "cs_",
		},
		Extension: Extension{
			PluginName: "Cohesity",
		},
		Convergence: Convergence{
			Attempts: 5,
			Interval: 2 * time.Second,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads configFile over Default and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	cfg, err := ReadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig reads configFile over Default without validating, so callers
// can apply overrides first.
func ReadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnmarshallable, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Vcd.Href == "" {
		return ErrHrefMissing
	}
	u, err := url.Parse(c.Vcd.Href)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ErrHrefInvalid
	}
	if c.Vcd.APIVersion == "" {
		return ErrAPIVersionMissing
	}
	if c.Vcd.Timeout <= 0 || c.Cluster.Timeout <= 0 {
		return ErrTimeoutInvalid
	}
	if c.Vcd.RateLimit.Limit <= 0 || c.Vcd.RateLimit.Burst <= 0 {
		return ErrRateLimitInvalid
	}
	if c.Extension.PluginName == "" {
		return ErrPluginNameMissing
	}
	if c.Convergence.Attempts < 1 {
		return ErrConvergenceAttemptsInvalid
	}
	if c.Convergence.Interval < 0 {
		return ErrConvergenceIntervalInvalid
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrLogLevelInvalid
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return ErrLogFormatInvalid
	}
	return nil
}

// GenerateConfig writes a sample configuration to configFile. An existing
// file is never overwritten.
func GenerateConfig(configFile string) (*Config, error) {
	if _, err := os.Stat(configFile); err == nil {
		return nil, ErrConfigFileExists
	}

	cfg := Default()
	cfg.Vcd.Href = "https://vcd.example.com"
	cfg.Journal.Directory = "data/journal"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(configFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(configFile, data, 0600); err != nil {
		return nil, err
	}
	return cfg, nil
}
