// Package config loads the application configuration from a YAML file with
// environment variable overrides. Every field has a working default so the
// binary runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// ScrapeConfig holds the defaults applied when a request does not override
// them.
type ScrapeConfig struct {
	BaseURL        string `yaml:"base_url"`
	Limit          int    `yaml:"limit"`
	OrderBy        string `yaml:"order_by"`
	FilterMode     string `yaml:"filter_mode"`
	ExcludeBadText bool   `yaml:"exclude_bad_text"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "priceradar.db"},
		Server:   ServerConfig{Port: 8811},
		Scrape: ScrapeConfig{
			Limit:          500,
			OrderBy:        "most_relevance",
			FilterMode:     "soft",
			ExcludeBadText: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from the given YAML file, falling back to
// defaults for absent fields. A missing file is not an error; the defaults
// plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRICERADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRICERADAR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRICERADAR_BASE_URL"); v != "" {
		cfg.Scrape.BaseURL = v
	}
	if v := os.Getenv("PRICERADAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
