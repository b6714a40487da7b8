// Package config handles configuration loading from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the application.
type Config struct {
	// Store selects the request/work-log backend: "postgres" or "memory".
	// Memory is single-process development mode only.
	StoreDriver string `yaml:"store_driver"`

	// Database connection string; required with the postgres driver.
	DatabaseURL string `yaml:"database_url"`

	// HTTP server port for the controller.
	HTTPPort int `yaml:"port"`

	// Metrics listen port for the agent process.
	MetricsPort int `yaml:"metrics_port"`

	// Admission cap: acknowledged + running requests never exceed this.
	MaxConcurrentVMs int `yaml:"max_concurrent_vms"`

	// Rolling inactivity timeout applied when a submission omits one.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`

	// Ceiling for per-request timeouts.
	MaxTimeoutSeconds int `yaml:"max_timeout_seconds"`

	// Agent identity and pull-loop tuning.
	AgentID           string        `yaml:"agent_id"`
	AgentConcurrency  int           `yaml:"agent_concurrency"`
	AgentPollInterval time.Duration `yaml:"agent_poll_interval"`

	// ReclaimAfter resets claims with no heartbeat for this long back to
	// pending. Zero disables the sweeper.
	ReclaimAfter time.Duration `yaml:"reclaim_after"`

	// Launcher selects the VM backend: "qemu" or "docker".
	Launcher    string `yaml:"launcher"`
	QEMUScript  string `yaml:"qemu_script"`
	VMImagesDir string `yaml:"vm_images_dir"`

	// OTLP collector address; empty disables tracing export.
	OTELEndpoint string `yaml:"otel_endpoint"`

	// Controller rate limiting per client address; zero RPS disables it.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

func defaults() *Config {
	return &Config{
		StoreDriver:           "postgres",
		HTTPPort:              6161,
		MetricsPort:           6162,
		MaxConcurrentVMs:      2,
		DefaultTimeoutSeconds: 300,
		MaxTimeoutSeconds:     3600,
		AgentConcurrency:      1,
		AgentPollInterval:     1 * time.Second,
		Launcher:              "qemu",
		QEMUScript:            "./run_vm.sh",
		VMImagesDir:           "./images",
		RateLimitBurst:        20,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if err := intEnv("PORT", &cfg.HTTPPort); err != nil {
		return err
	}
	if err := intEnv("METRICS_PORT", &cfg.MetricsPort); err != nil {
		return err
	}
	if err := intEnv("MAX_CONCURRENT_VMS", &cfg.MaxConcurrentVMs); err != nil {
		return err
	}
	if err := intEnv("DEFAULT_TIMEOUT", &cfg.DefaultTimeoutSeconds); err != nil {
		return err
	}
	if err := intEnv("MAX_TIMEOUT", &cfg.MaxTimeoutSeconds); err != nil {
		return err
	}
	if v := os.Getenv("AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if err := intEnv("AGENT_CONCURRENCY", &cfg.AgentConcurrency); err != nil {
		return err
	}
	if err := durationEnv("AGENT_POLL_INTERVAL", &cfg.AgentPollInterval); err != nil {
		return err
	}
	if err := durationEnv("RECLAIM_AFTER", &cfg.ReclaimAfter); err != nil {
		return err
	}
	if v := os.Getenv("LAUNCHER"); v != "" {
		cfg.Launcher = v
	}
	if v := os.Getenv("QEMU_SCRIPT"); v != "" {
		cfg.QEMUScript = v
	}
	if v := os.Getenv("VM_IMAGES_DIR"); v != "" {
		cfg.VMImagesDir = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = rps
	}
	if err := intEnv("RATE_LIMIT_BURST", &cfg.RateLimitBurst); err != nil {
		return err
	}
	return nil
}

func intEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required (env: DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store_driver %q (want postgres or memory)", c.StoreDriver)
	}

	switch c.Launcher {
	case "qemu", "docker":
	default:
		return fmt.Errorf("unknown launcher %q (want qemu or docker)", c.Launcher)
	}

	if c.MaxConcurrentVMs <= 0 {
		return fmt.Errorf("max_concurrent_vms must be positive, got %d", c.MaxConcurrentVMs)
	}
	if c.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("default_timeout_seconds must be positive, got %d", c.DefaultTimeoutSeconds)
	}
	if c.MaxTimeoutSeconds < c.DefaultTimeoutSeconds {
		return fmt.Errorf("max_timeout_seconds %d is below default_timeout_seconds %d",
			c.MaxTimeoutSeconds, c.DefaultTimeoutSeconds)
	}
	if c.ReclaimAfter < 0 {
		return fmt.Errorf("reclaim_after must not be negative")
	}
	return nil
}

// AgentIdentity returns the configured agent id, falling back to the
// hostname.
func (c *Config) AgentIdentity() string {
	if c.AgentID != "" {
		return c.AgentID
	}
	host, err := os.Hostname()
	if err != nil {
		return "agent-unknown"
	}
	return "agent-" + host
}
