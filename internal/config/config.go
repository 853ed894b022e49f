// Package config loads the daemon configuration from a YAML file with
// environment overrides. A missing file falls back to defaults so the
// daemon can run with zero configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atlasframe/registry/internal/health"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/registry"
)

// Duration is a time.Duration that decodes from YAML strings like
// "30s" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds the HTTP admin API settings.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds the admin API auth settings. The secret is only
// read from the environment, never from the file.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"-"`
	// RatePerMinute caps requests per client token; 0 disables limiting.
	RatePerMinute int `yaml:"rate_per_minute"`
	RateBurst     int `yaml:"rate_burst"`
}

// HealthConfig mirrors health.Config with YAML-friendly durations.
type HealthConfig struct {
	CheckInterval         Duration `yaml:"check_interval"`
	MaxRecoveryAttempts   int      `yaml:"max_recovery_attempts"`
	MinRecoveryInterval   Duration `yaml:"min_recovery_interval"`
	ResponseTimeThreshold Duration `yaml:"response_time_threshold"`
	CPUThresholdPercent   float64  `yaml:"cpu_threshold_percent"`
	WindowSize            int      `yaml:"window_size"`
	DefaultImportance     float64  `yaml:"default_importance"`
	CriticalImportance    float64  `yaml:"critical_importance"`
}

// RegistryConfig holds the registry core settings.
type RegistryConfig struct {
	EventLogSize int          `yaml:"event_log_size"`
	Health       HealthConfig `yaml:"health"`
}

// ScheduleConfig holds the cron expressions for periodic work.
type ScheduleConfig struct {
	HealthTick string `yaml:"health_tick"`
	Uptime     string `yaml:"uptime"`
}

// Config is the root daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  logging.Config `yaml:"logging"`
	Registry RegistryConfig `yaml:"registry"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// Default returns the zero-configuration defaults.
func Default() *Config {
	h := health.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			Enabled:       false,
			RatePerMinute: 120,
			RateBurst:     30,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Registry: RegistryConfig{
			EventLogSize: 1000,
			Health: HealthConfig{
				CheckInterval:         Duration(h.CheckInterval),
				MaxRecoveryAttempts:   h.MaxRecoveryAttempts,
				MinRecoveryInterval:   Duration(h.MinRecoveryInterval),
				ResponseTimeThreshold: Duration(h.ResponseTimeThreshold),
				CPUThresholdPercent:   h.CPUThresholdPercent,
				WindowSize:            h.WindowSize,
				DefaultImportance:     h.DefaultImportance,
				CriticalImportance:    h.CriticalImportance,
			},
		},
		Schedule: ScheduleConfig{
			HealthTick: "@every 1s",
			Uptime:     "@every 15s",
		},
	}
}

// RegistryConfig converts the loaded settings into the registry's
// runtime configuration.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		EventLogSize: c.Registry.EventLogSize,
		Health: health.Config{
			CheckInterval:         c.Registry.Health.CheckInterval.Std(),
			MaxRecoveryAttempts:   c.Registry.Health.MaxRecoveryAttempts,
			MinRecoveryInterval:   c.Registry.Health.MinRecoveryInterval.Std(),
			ResponseTimeThreshold: c.Registry.Health.ResponseTimeThreshold.Std(),
			CPUThresholdPercent:   c.Registry.Health.CPUThresholdPercent,
			WindowSize:            c.Registry.Health.WindowSize,
			DefaultImportance:     c.Registry.Health.DefaultImportance,
			CriticalImportance:    c.Registry.Health.CriticalImportance,
		},
	}
}

// Load reads config/registryd.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "registryd.yaml"))
}

// LoadFromPath reads a specific YAML file, layers it over the defaults,
// and applies environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the default config path or falls back to the
// built-in defaults when the file is absent. Environment overrides are
// applied either way.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

// LoadEnvFile loads a dotenv file into the process environment before
// config resolution. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REGISTRYD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("REGISTRYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REGISTRYD_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
		c.Auth.Enabled = true
	}
}

func (c *Config) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but REGISTRYD_JWT_SECRET not set")
	}
	if c.Registry.EventLogSize < 0 {
		return fmt.Errorf("registry.event_log_size must not be negative")
	}
	if c.Schedule.HealthTick == "" {
		return fmt.Errorf("schedule.health_tick is required")
	}
	return nil
}
