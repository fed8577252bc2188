package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunables of the array manager and recovery engine
type Config struct {
	// Resync throughput bounds in KiB/s
	SpeedLimitMin uint64 `mapstructure:"speed_limit_min" yaml:"speed_limit_min"`
	SpeedLimitMax uint64 `mapstructure:"speed_limit_max" yaml:"speed_limit_max"`

	// Sliding window of progress checkpoints used to compute resync speed
	SyncMarks    int           `mapstructure:"sync_marks" yaml:"sync_marks"`
	SyncMarkStep time.Duration `mapstructure:"sync_mark_step" yaml:"sync_mark_step"`

	ThrottleInterval      time.Duration `mapstructure:"throttle_interval" yaml:"throttle_interval"`
	SerializePollInterval time.Duration `mapstructure:"serialize_poll_interval" yaml:"serialize_poll_interval"`
	RecoveryInterval      time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`

	SuperblockWriteRetries  int           `mapstructure:"superblock_write_retries" yaml:"superblock_write_retries"`
	SuperblockRetryInterval time.Duration `mapstructure:"superblock_retry_interval" yaml:"superblock_retry_interval"`

	MaxChunkSize uint32 `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`

	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		SpeedLimitMin:           1000,
		SpeedLimitMax:           200000,
		SyncMarks:               10,
		SyncMarkStep:            3 * time.Second,
		ThrottleInterval:        250 * time.Millisecond,
		SerializePollInterval:   time.Second,
		RecoveryInterval:        5 * time.Second,
		SuperblockWriteRetries:  100,
		SuperblockRetryInterval: 10 * time.Millisecond,
		MaxChunkSize:            4 << 20,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load reads the configuration using Viper. An explicit file path wins over
// the search paths; a missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mdraid-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.mdraid")
		v.AddConfigPath("/etc/mdraid")
	}

	// Set defaults
	def := Default()
	v.SetDefault("speed_limit_min", def.SpeedLimitMin)
	v.SetDefault("speed_limit_max", def.SpeedLimitMax)
	v.SetDefault("sync_marks", def.SyncMarks)
	v.SetDefault("sync_mark_step", def.SyncMarkStep)
	v.SetDefault("throttle_interval", def.ThrottleInterval)
	v.SetDefault("serialize_poll_interval", def.SerializePollInterval)
	v.SetDefault("recovery_interval", def.RecoveryInterval)
	v.SetDefault("superblock_write_retries", def.SuperblockWriteRetries)
	v.SetDefault("superblock_retry_interval", def.SuperblockRetryInterval)
	v.SetDefault("max_chunk_size", def.MaxChunkSize)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("metrics_addr", def.MetricsAddr)

	// Allow environment variables
	v.SetEnvPrefix("MDRAID")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot work with
func (c *Config) Validate() error {
	if c.SpeedLimitMax < c.SpeedLimitMin {
		return fmt.Errorf("speed_limit_max (%d) below speed_limit_min (%d)", c.SpeedLimitMax, c.SpeedLimitMin)
	}
	if c.SyncMarks < 2 {
		return fmt.Errorf("sync_marks must be at least 2, got %d", c.SyncMarks)
	}
	if c.SuperblockWriteRetries < 1 {
		return fmt.Errorf("superblock_write_retries must be at least 1, got %d", c.SuperblockWriteRetries)
	}
	if c.MaxChunkSize == 0 || c.MaxChunkSize&(c.MaxChunkSize-1) != 0 {
		return fmt.Errorf("max_chunk_size must be a power of two, got %d", c.MaxChunkSize)
	}
	return nil
}
