// Package config loads the buildctl configuration file and applies defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Build  BuildConfig  `yaml:"build"`
	Retry  RetryConfig  `yaml:"retry"`
}

// RemoteConfig describes the remote build service endpoint and credentials.
type RemoteConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"` // connect attempts budget for transient failures
}

// Endpoint returns the RPC endpoint URL for the remote build service.
func (r RemoteConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d/rpc", r.Host, r.Port)
}

// Timeout returns the per-call timeout as a duration.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// BuildConfig holds defaults for the build pipelines.
type BuildConfig struct {
	Output            string   `yaml:"output"`             // result download directory
	CCacheSize        string   `yaml:"ccache_size"`        // e.g. "10G"
	PreprocessCommand []string `yaml:"preprocess_command"` // optional local config preprocessor
	CreateRetries     int      `yaml:"create_retries"`     // extended connect budget for cold remote starts
}

// RetryConfig holds raw backoff settings consumed by the retry package.
type RetryConfig struct {
	Backoff        string `yaml:"backoff"` // fixed|linear|exponential
	InitialSeconds int    `yaml:"initial_seconds"`
	MaxSeconds     int    `yaml:"max_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified file. A missing path is not an
// error when it equals the default name; the built-in defaults are used then.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just note it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Remote.Host == "" {
		c.Remote.Host = "localhost"
	}
	if c.Remote.Port == 0 {
		c.Remote.Port = 7587
	}
	if c.Remote.User == "" {
		c.Remote.User = "root"
	}
	if c.Remote.Password == "" {
		c.Remote.Password = "foo"
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 90
	}
	if c.Remote.Retries == 0 {
		c.Remote.Retries = 10
	}
	if c.Build.Output == "" {
		// Results land next to the source tree being built.
		c.Build.Output = ".."
	}
	if c.Build.CCacheSize == "" {
		c.Build.CCacheSize = "10G"
	}
	if c.Build.CreateRetries == 0 {
		c.Build.CreateRetries = 60
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = string(RetryBackoffFixed)
	}
	if c.Retry.InitialSeconds == 0 {
		c.Retry.InitialSeconds = 1
	}
	if c.Retry.MaxSeconds == 0 {
		c.Retry.MaxSeconds = 30
	}
}
