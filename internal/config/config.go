// Package config loads the terminal's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level terminal configuration.
type Config struct {
	Env string `yaml:"env"`

	HTTP struct {
		Addr string `yaml:"addr"` // ":7080"
	} `yaml:"http"`

	Backend struct {
		BaseURL        string   `yaml:"base_url"`
		Token          string   `yaml:"token"` // service token for unattended auto-sync
		RequestTimeout Duration `yaml:"request_timeout"`
		ProbeTimeout   Duration `yaml:"probe_timeout"`
	} `yaml:"backend"`

	Sync struct {
		Interval        Duration `yaml:"interval"`
		MonitorInterval Duration `yaml:"monitor_interval"`
		Theaters        []string `yaml:"theaters"` // theaters auto-synced by this terminal
	} `yaml:"sync"`

	Storage struct {
		DataDir    string `yaml:"data_dir"`
		QuotaBytes int64  `yaml:"quota_bytes"`
	} `yaml:"storage"`

	Cache struct {
		MemoryCapacity  int      `yaml:"memory_capacity"`
		MaxPersistBytes int      `yaml:"max_persist_bytes"`
		DiskDir         string   `yaml:"disk_dir"`
		CleanupSpec     string   `yaml:"cleanup_spec"` // cron spec, e.g. "@every 10m"
		DefaultTTL      Duration `yaml:"default_ttl"`
	} `yaml:"cache"`
}

// Load supports comma-separated config files: "-c common.yml,terminal.yml".
// Later files override earlier ones; missing values take defaults.
func Load(pathList string) (*Config, error) {
	if strings.TrimSpace(pathList) == "" {
		return nil, errors.New("config path required (e.g. -c ./config.yml)")
	}
	var c Config
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	if c.Backend.BaseURL == "" {
		return nil, errors.New("backend.base_url is required")
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":7080"
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = Duration(15 * time.Second)
	}
	if c.Backend.ProbeTimeout <= 0 {
		c.Backend.ProbeTimeout = Duration(3 * time.Second)
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = Duration(5 * time.Second)
	}
	if c.Sync.MonitorInterval <= 0 {
		c.Sync.MonitorInterval = Duration(10 * time.Second)
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.QuotaBytes <= 0 {
		c.Storage.QuotaBytes = 10 << 20 // 10MB, the platform storage ceiling
	}
	if c.Cache.MemoryCapacity <= 0 {
		c.Cache.MemoryCapacity = 500
	}
	if c.Cache.MaxPersistBytes <= 0 {
		c.Cache.MaxPersistBytes = 500 * 1024
	}
	if c.Cache.CleanupSpec == "" {
		c.Cache.CleanupSpec = "@every 10m"
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = Duration(5 * time.Minute)
	}
}
