package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration for the migrate CLI.
type FileConfig struct {
	// Database is the connection the migration DDL runs over.
	Database struct {
		// Driver is a registered database/sql driver name: mysql,
		// postgres or sqlite3.
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	// Store is the connection run records persist to. Empty means
	// in-memory, which loses resumability across restarts.
	Store struct {
		DSN string `yaml:"dsn"`
	} `yaml:"store"`

	Table struct {
		Schema string `yaml:"schema"`
		Name   string `yaml:"name"`
	} `yaml:"table"`

	Partition struct {
		Clause string `yaml:"clause"`
		Column string `yaml:"column"`
	} `yaml:"partition"`

	Archive struct {
		Staging string `yaml:"staging"`
		History string `yaml:"history"`
	} `yaml:"archive"`

	Parallel         int      `yaml:"parallel"`
	StatementTimeout Duration `yaml:"statement_timeout"`
	ValidationWindow Duration `yaml:"validation_window"`

	// MetricsAddr exposes /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Duration parses YAML values like "10m" or "48h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (FileConfig, error) {
	var cfg FileConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Database.Driver == "" {
		return cfg, fmt.Errorf("config %s: database.driver is required", path)
	}
	if cfg.Database.DSN == "" {
		return cfg, fmt.Errorf("config %s: database.dsn is required", path)
	}
	if cfg.Table.Schema == "" || cfg.Table.Name == "" {
		return cfg, fmt.Errorf("config %s: table.schema and table.name are required", path)
	}
	return cfg, nil
}
