// Package config provides YAML-based configuration loading for aevrt.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// NodeID is the local node identifier used as packet sender and in the
	// registry
	NodeID string `mapstructure:"node_id"`

	// Listen is the worker HTTP listen address for AevIP endpoints
	Listen string `mapstructure:"listen"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Runtime holds the optimizer/coordinator tunables
	Runtime RuntimeConfig `mapstructure:"runtime"`

	// Storage holds backing-store endpoints; empty values select the
	// in-memory implementations
	Storage StorageConfig `mapstructure:"storage"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RuntimeConfig carries the externally supplied runtime values.
type RuntimeConfig struct {
	// MaxLatencyMS is the default target latency for optimization
	MaxLatencyMS float64 `mapstructure:"max_latency_ms"`
	// EnablePrefetch is passed through to schedule creation
	EnablePrefetch bool `mapstructure:"enable_prefetch"`
	// EnableAevIP gates remote distribution
	EnableAevIP bool `mapstructure:"enable_aevip"`
	// DefaultParallelization is the strategy used when the optimizer has no
	// opinion: "sequential" or "parallel"
	DefaultParallelization string `mapstructure:"default_parallelization"`
	// TileSizeOptimization toggles the tile-size step
	TileSizeOptimization bool `mapstructure:"tile_size_optimization"`
	// AevIPSecret is the shared HMAC secret for task packets
	AevIPSecret string `mapstructure:"aevip_secret"`
	// PollIntervalMS is the result polling cadence
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// MaxTaskTimeoutMS bounds every remote wait
	MaxTaskTimeoutMS int `mapstructure:"max_task_timeout_ms"`
	// HealthCheckIntervalMS is the node cache TTL
	HealthCheckIntervalMS int `mapstructure:"health_check_interval_ms"`
	// ModelBaselinesMS maps model name to a baseline latency used before any
	// history exists for that model
	ModelBaselinesMS map[string]float64 `mapstructure:"model_baselines_ms"`
}

// StorageConfig selects backing stores.
type StorageConfig struct {
	// MySQLDSN enables the durable metric store when non-empty
	MySQLDSN string `mapstructure:"mysql_dsn"`
	// RedisAddr enables the shared node registry when non-empty
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "aevrt-node",
		NodeID:  "node-1",
		Listen:  ":8790",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/aevrt.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Runtime: RuntimeConfig{
			MaxLatencyMS:           5000,
			EnablePrefetch:         true,
			EnableAevIP:            true,
			DefaultParallelization: "sequential",
			TileSizeOptimization:   true,
			AevIPSecret:            "",
			PollIntervalMS:         100,
			MaxTaskTimeoutMS:       60000,
			HealthCheckIntervalMS:  30000,
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix AEVRT and `.`/`-` are replaced with
// `_`. Example: AEVRT_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AEVRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("runtime.max_latency_ms", cfg.Runtime.MaxLatencyMS)
	v.SetDefault("runtime.enable_prefetch", cfg.Runtime.EnablePrefetch)
	v.SetDefault("runtime.enable_aevip", cfg.Runtime.EnableAevIP)
	v.SetDefault("runtime.default_parallelization", cfg.Runtime.DefaultParallelization)
	v.SetDefault("runtime.tile_size_optimization", cfg.Runtime.TileSizeOptimization)
	v.SetDefault("runtime.aevip_secret", cfg.Runtime.AevIPSecret)
	v.SetDefault("runtime.poll_interval_ms", cfg.Runtime.PollIntervalMS)
	v.SetDefault("runtime.max_task_timeout_ms", cfg.Runtime.MaxTaskTimeoutMS)
	v.SetDefault("runtime.health_check_interval_ms", cfg.Runtime.HealthCheckIntervalMS)
	v.SetDefault("storage.mysql_dsn", cfg.Storage.MySQLDSN)
	v.SetDefault("storage.redis_addr", cfg.Storage.RedisAddr)
	v.SetDefault("storage.redis_password", cfg.Storage.RedisPassword)
	v.SetDefault("storage.redis_db", cfg.Storage.RedisDB)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("AEVRT_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `aevrt`
		v.SetConfigName("aevrt")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aevrt"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = "node-1"
	}
	switch strings.ToLower(strings.TrimSpace(c.Runtime.DefaultParallelization)) {
	case "", "sequential", "parallel":
		// ok
	default:
		return fmt.Errorf("invalid runtime.default_parallelization: %q", c.Runtime.DefaultParallelization)
	}
	if c.Runtime.MaxLatencyMS <= 0 {
		return fmt.Errorf("runtime.max_latency_ms must be positive, got %v", c.Runtime.MaxLatencyMS)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
