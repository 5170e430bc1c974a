// Package config loads and validates the portal configuration.
package config

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ai-novine/portal/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Category describes one news section: its refresh tier, how many times a
// day it refreshes, at which wall-clock times, and which feeds supply it.
type Category struct {
	Name      string   `yaml:"name"`
	Priority  string   `yaml:"priority"`
	Frequency int      `yaml:"frequency"`
	Times     []string `yaml:"times"`
	Feeds     []string `yaml:"feeds"`
}

// Tier returns the parsed priority. Only valid after Load has validated
// the configuration.
func (c Category) Tier() model.Priority {
	p, _ := model.ParsePriority(c.Priority)
	return p
}

// Redis holds the primary cache backend settings.
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Config is the full validated portal configuration, immutable after Load.
type Config struct {
	ListenAddr   string     `yaml:"listen_addr"`
	Timezone     string     `yaml:"timezone"`
	FetchTimeout string     `yaml:"fetch_timeout"`
	Redis        Redis      `yaml:"redis"`
	Categories   []Category `yaml:"categories"`
}

// FetchTimeoutDuration returns the bound on a single category fetch.
func (c *Config) FetchTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Category looks up a category by name.
func (c *Config) Category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the configuration from path, falling back to the embedded
// defaults when path is empty or missing. Malformed configuration is
// rejected here, at startup, rather than surfacing later inside handlers.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		var err error
		cfg, err = loadDefaults()
		if err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg, err = loadDefaults()
				if err != nil {
					return nil, err
				}
			} else {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Zagreb"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "ai_novine:"
	}
}

// Validate checks the category table invariants: known priorities, unique
// names, frequency matching the times list, parseable and unique times,
// and at least one feed per category.
func Validate(cfg *Config) error {
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if len(cfg.Categories) == 0 {
		return fmt.Errorf("no categories configured")
	}
	seen := make(map[string]bool, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category with empty name")
		}
		if seen[cat.Name] {
			return fmt.Errorf("category %q: duplicate name", cat.Name)
		}
		seen[cat.Name] = true
		if _, err := model.ParsePriority(cat.Priority); err != nil {
			return fmt.Errorf("category %q: %w", cat.Name, err)
		}
		if cat.Frequency != len(cat.Times) {
			return fmt.Errorf("category %q: frequency %d does not match %d times",
				cat.Name, cat.Frequency, len(cat.Times))
		}
		times := make(map[string]bool, len(cat.Times))
		for _, ts := range cat.Times {
			if _, err := time.Parse("15:04", ts); err != nil {
				return fmt.Errorf("category %q: invalid time %q (want HH:MM)", cat.Name, ts)
			}
			if times[ts] {
				return fmt.Errorf("category %q: duplicate time %q", cat.Name, ts)
			}
			times[ts] = true
		}
		if len(cat.Feeds) == 0 {
			return fmt.Errorf("category %q: no feeds configured", cat.Name)
		}
		for _, feed := range cat.Feeds {
			u, err := url.Parse(feed)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return fmt.Errorf("category %q: invalid feed url %q", cat.Name, feed)
			}
		}
	}
	return nil
}
