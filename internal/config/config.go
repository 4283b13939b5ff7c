// Package config provides configuration management for chunconv using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultStallWindow     = 2 * time.Minute
	defaultCancelGrace     = 5 * time.Second
	defaultProbeTimeout    = 30 * time.Second
	defaultMaxParallelCap  = 8
)

// Config holds all configuration for the application.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds conversion queue and supervision configuration.
type EngineConfig struct {
	// MaxParallel is the number of concurrent conversion slots.
	// 0 means auto: min(physical CPU cores, 8).
	MaxParallel int `mapstructure:"max_parallel"`
	// StallWindow is how long a running job may go without progress before
	// it is reported as stalled. Stalled jobs are never cancelled
	// automatically.
	StallWindow Duration `mapstructure:"stall_window"`
	// CancelGrace is how long a cancelled subprocess gets to exit after the
	// termination signal before it is killed.
	CancelGrace Duration `mapstructure:"cancel_grace"`
}

// EffectiveMaxParallel resolves the configured slot count, deriving it from
// the CPU topology when set to auto.
func (c *EngineConfig) EffectiveMaxParallel() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}
	cores, err := cpu.Counts(false)
	if err != nil || cores < 1 {
		cores = 1
	}
	if cores > defaultMaxParallelCap {
		return defaultMaxParallelCap
	}
	return cores
}

// FFmpegConfig holds toolchain binary configuration.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string   `mapstructure:"probe_path"`       // Path to ffprobe binary (empty = auto-detect)
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // Priority order: nvenc, qsv, vaapi, videotoolbox
	ProbeTimeout    Duration `mapstructure:"probe_timeout"`    // Capability probe timeout
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"` // empty = OS temp dir
	// MinFreeSpace aborts enqueueing when the output volume has less free
	// space than this. 0 disables the check.
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// DatabaseConfig holds the job history database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CHUNCONV_ and use underscores for
// nesting. Example: CHUNCONV_ENGINE_MAX_PARALLEL=4.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/chunconv")
		v.AddConfigPath("$HOME/.chunconv")
	}

	v.SetEnvPrefix("CHUNCONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.max_parallel", 0) // auto
	v.SetDefault("engine.stall_window", defaultStallWindow.String())
	v.SetDefault("engine.cancel_grace", defaultCancelGrace.String())

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"nvenc", "qsv", "vaapi", "videotoolbox"})
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout.String())

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.min_free_space", 0)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "chunconv.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.MaxParallel < 0 {
		return fmt.Errorf("engine.max_parallel must not be negative")
	}
	if c.Engine.CancelGrace.Duration() <= 0 {
		return fmt.Errorf("engine.cancel_grace must be positive")
	}
	if c.Engine.StallWindow.Duration() <= 0 {
		return fmt.Errorf("engine.stall_window must be positive")
	}

	validAccels := map[string]bool{"nvenc": true, "qsv": true, "vaapi": true, "videotoolbox": true}
	for _, accel := range c.FFmpeg.HWAccelPriority {
		if !validAccels[accel] {
			return fmt.Errorf("ffmpeg.hwaccel_priority contains unknown accelerator %q", accel)
		}
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}
