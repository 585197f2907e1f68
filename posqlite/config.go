// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package posqlite is the terminal side of the offline-first POS sync engine.
//
// Sales and catalog edits are written to a local SQLite database first and
// replayed against the canonical store later by a background Worker, exactly
// once and in per-record order.
package posqlite

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the terminal sync engine
type Config struct {
	MaxRetries           int           `yaml:"max_retries"`           // 3
	PollInterval         time.Duration `yaml:"poll_interval"`         // 30s
	RemoteTimeout        time.Duration `yaml:"remote_timeout"`        // per Apply call
	BackoffMin           time.Duration `yaml:"backoff_min"`           // 1s
	BackoffMax           time.Duration `yaml:"backoff_max"`           // 60s
	Retention            time.Duration `yaml:"retention"`             // synced queue entries, 24h
	SweepInterval        time.Duration `yaml:"sweep_interval"`        // how often Run sweeps
	TransactionRetention time.Duration `yaml:"transaction_retention"` // synced sales; 0 keeps them forever
	BatchLimit           int           `yaml:"batch_limit"`           // entries loaded per store per pass
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:           3,
		PollInterval:         30 * time.Second,
		RemoteTimeout:        15 * time.Second,
		BackoffMin:           1 * time.Second,
		BackoffMax:           60 * time.Second,
		Retention:            24 * time.Hour,
		SweepInterval:        time.Hour,
		TransactionRetention: 0,
		BatchLimit:           500,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Durations use Go syntax ("30s", "24h").
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the worker cannot run with
func (c *Config) Validate() error {
	switch {
	case c.MaxRetries < 1:
		return fmt.Errorf("config: max_retries must be >= 1, got %d", c.MaxRetries)
	case c.PollInterval <= 0:
		return fmt.Errorf("config: poll_interval must be positive")
	case c.RemoteTimeout <= 0:
		return fmt.Errorf("config: remote_timeout must be positive")
	case c.BackoffMin < 0 || c.BackoffMax < c.BackoffMin:
		return fmt.Errorf("config: backoff_min/backoff_max out of range (%s, %s)", c.BackoffMin, c.BackoffMax)
	case c.Retention <= 0:
		return fmt.Errorf("config: retention must be positive")
	case c.SweepInterval <= 0:
		return fmt.Errorf("config: sweep_interval must be positive")
	case c.TransactionRetention < 0:
		return fmt.Errorf("config: transaction_retention must not be negative")
	case c.BatchLimit < 1:
		return fmt.Errorf("config: batch_limit must be >= 1")
	}
	return nil
}
