package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	// No mdraid-config file exists in the package directory
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdraid-config.yaml")
	content := []byte(`
speed_limit_min: 50
speed_limit_max: 5000
sync_mark_step: 1s
superblock_write_retries: 7
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cfg.SpeedLimitMin)
	assert.Equal(t, uint64(5000), cfg.SpeedLimitMax)
	assert.Equal(t, time.Second, cfg.SyncMarkStep)
	assert.Equal(t, 7, cfg.SuperblockWriteRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep their defaults
	assert.Equal(t, 10, cfg.SyncMarks)
	assert.Equal(t, 250*time.Millisecond, cfg.ThrottleInterval)
}

func TestLoadRejectsInvertedSpeedLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdraid-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("speed_limit_min: 10\nspeed_limit_max: 5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"one sync mark", func(c *Config) { c.SyncMarks = 1 }, true},
		{"no retries", func(c *Config) { c.SuperblockWriteRetries = 0 }, true},
		{"chunk not power of two", func(c *Config) { c.MaxChunkSize = 3000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
