// Package config loads the server configuration from an optional YAML file and
// ECONSIM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ECONSIM_SERVER_PORT.
const EnvPrefix = "ECONSIM"

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Port               int      `mapstructure:"port"`
	AdminKey           string   `mapstructure:"admin_key"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// SimulationConfig holds the defaults applied to every new game
type SimulationConfig struct {
	BaseTickInterval     time.Duration `mapstructure:"base_tick_interval"`
	DefaultSpeed         float64       `mapstructure:"default_speed"`
	TicksPerMonth        int           `mapstructure:"ticks_per_month"`
	StartingCash         float64       `mapstructure:"starting_cash"`
	ProtectionRatio      float64       `mapstructure:"protection_ratio"`
	MaxOrderCashFraction float64       `mapstructure:"max_order_cash_fraction"`
	AICompanies          int           `mapstructure:"ai_companies"`
	Seed                 int64         `mapstructure:"seed"`
	CatalogPath          string        `mapstructure:"catalog_path"`
	MaxGames             int           `mapstructure:"max_games"`
}

// LLMConfig holds text-generation service configuration
type LLMConfig struct {
	APIKey             string `mapstructure:"api_key"`
	Model              string `mapstructure:"model"`
	MaxPerMinute       int    `mapstructure:"max_per_minute"`
	TimeoutTicks       uint64 `mapstructure:"timeout_ticks"`
	FailureThreshold   int    `mapstructure:"failure_threshold"`
	CooldownTicks      uint64 `mapstructure:"cooldown_ticks"`
	EventIntervalTicks uint64 `mapstructure:"event_interval_ticks"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DBPath     string `mapstructure:"db_path"`
	TickLogDir string `mapstructure:"tick_log_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path and the environment. An empty path
// yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bare provider variable is honoured as well.
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind llm.api_key: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 120)

	v.SetDefault("simulation.base_tick_interval", "1s")
	v.SetDefault("simulation.default_speed", 1.0)
	v.SetDefault("simulation.ticks_per_month", 30)
	v.SetDefault("simulation.starting_cash", 100_000_000)
	v.SetDefault("simulation.protection_ratio", 0.5)
	v.SetDefault("simulation.max_order_cash_fraction", 0.3)
	v.SetDefault("simulation.ai_companies", 6)
	v.SetDefault("simulation.seed", 1)
	v.SetDefault("simulation.catalog_path", "")
	v.SetDefault("simulation.max_games", 16)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_per_minute", 20)
	v.SetDefault("llm.timeout_ticks", 12)
	v.SetDefault("llm.failure_threshold", 3)
	v.SetDefault("llm.cooldown_ticks", 60)
	v.SetDefault("llm.event_interval_ticks", 30)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/econsim.db")
	v.SetDefault("storage.tick_log_dir", "./data/ticks")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must not be negative")
	}

	s := c.Simulation
	if s.BaseTickInterval < time.Millisecond {
		return fmt.Errorf("simulation.base_tick_interval must be at least 1ms")
	}
	if s.DefaultSpeed < 0 || s.DefaultSpeed > 10 {
		return fmt.Errorf("simulation.default_speed must be between 0 and 10")
	}
	if s.TicksPerMonth < 1 {
		return fmt.Errorf("simulation.ticks_per_month must be at least 1")
	}
	if s.StartingCash <= 0 {
		return fmt.Errorf("simulation.starting_cash must be positive")
	}
	if s.ProtectionRatio < 0 || s.ProtectionRatio > 1 {
		return fmt.Errorf("simulation.protection_ratio must be between 0.0 and 1.0")
	}
	if s.MaxOrderCashFraction <= 0 || s.MaxOrderCashFraction > 1 {
		return fmt.Errorf("simulation.max_order_cash_fraction must be in (0.0, 1.0]")
	}
	if s.AICompanies < 0 {
		return fmt.Errorf("simulation.ai_companies must not be negative")
	}
	if s.MaxGames < 1 {
		return fmt.Errorf("simulation.max_games must be at least 1")
	}

	if c.LLM.MaxPerMinute < 1 {
		return fmt.Errorf("llm.max_per_minute must be at least 1")
	}
	if c.LLM.TimeoutTicks < 1 {
		return fmt.Errorf("llm.timeout_ticks must be at least 1")
	}
	if c.LLM.FailureThreshold < 1 {
		return fmt.Errorf("llm.failure_threshold must be at least 1")
	}

	if c.Storage.Enabled {
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required when storage is enabled")
		}
		if c.Storage.TickLogDir == "" {
			return fmt.Errorf("storage.tick_log_dir is required when storage is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// LLMEnabled reports whether a text-generation key is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}
