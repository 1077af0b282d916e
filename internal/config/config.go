// Package config provides configuration loading and validation for the scraper.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the service configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults or must be
// provided via CLI flags.
type Config struct {
	// Server
	Port        int    `json:"port,omitempty"`         // HTTP listen port
	DatabaseURL string `json:"database_url,omitempty"` // Optional PostgreSQL URL for job history

	// Output
	OutputDir string `json:"output_dir,omitempty"` // Directory for output artifacts
	BatchSize int    `json:"batch_size,omitempty"` // Writer auto-flush threshold

	// Dedup
	CacheCapacity int `json:"cache_capacity,omitempty"` // Fingerprint cache entry bound

	// Scheduling
	Concurrency       int `json:"concurrency,omitempty"`         // Area runners per job
	MaxConcurrentJobs int `json:"max_concurrent_jobs,omitempty"` // Simultaneous jobs
	RetentionSeconds  int `json:"retention_seconds,omitempty"`   // Finished-job registry retention

	// Submission rate limit
	SubmitLimit         int `json:"submit_limit,omitempty"`          // Submissions per window per client
	SubmitWindowSeconds int `json:"submit_window_seconds,omitempty"` // Window length

	// Scraper
	Region   string `json:"region,omitempty"`   // Suffix appended to every search query
	Headless bool   `json:"headless,omitempty"` // Run the browser headless
	Verbose  bool   `json:"verbose,omitempty"`  // Per-listing logging
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be a valid TCP port")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("config error: 'batch_size' must be non-negative")
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("config error: 'cache_capacity' must be non-negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config error: 'concurrency' must be non-negative")
	}
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("config error: 'max_concurrent_jobs' must be non-negative")
	}
	if c.OutputDir != "" {
		if info, err := os.Stat(c.OutputDir); err == nil && !info.IsDir() {
			return fmt.Errorf("config error: 'output_dir' is not a directory: %s", c.OutputDir)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.BatchSize == 0 {
		result.BatchSize = defaults.BatchSize
	}
	if result.CacheCapacity == 0 {
		result.CacheCapacity = defaults.CacheCapacity
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.MaxConcurrentJobs == 0 {
		result.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if result.RetentionSeconds == 0 {
		result.RetentionSeconds = defaults.RetentionSeconds
	}
	if result.SubmitLimit == 0 {
		result.SubmitLimit = defaults.SubmitLimit
	}
	if result.SubmitWindowSeconds == 0 {
		result.SubmitWindowSeconds = defaults.SubmitWindowSeconds
	}
	if result.Region == "" {
		result.Region = defaults.Region
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:                8080,
		OutputDir:           ".",
		BatchSize:           20,
		CacheCapacity:       10000,
		Concurrency:         2,
		MaxConcurrentJobs:   2,
		RetentionSeconds:    900,
		SubmitLimit:         2,
		SubmitWindowSeconds: 60,
		Headless:            true,
	}
}
