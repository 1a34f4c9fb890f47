package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "runway", cfg.AppName)
	assert.Equal(t, 1024, cfg.Cache.MinTokens)
	assert.Equal(t, 1800, cfg.Cache.TTLSeconds)
	assert.Equal(t, 10, cfg.Compaction.Interval)
	assert.Equal(t, 2, cfg.Compaction.Overlap)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty app name", func(c *Config) { c.AppName = "" }, true},
		{"negative min tokens", func(c *Config) { c.Cache.MinTokens = -1 }, true},
		{"negative ttl", func(c *Config) { c.Cache.TTLSeconds = -1 }, true},
		{"negative compaction interval", func(c *Config) { c.Compaction.Interval = -1 }, true},
		{"negative overlap", func(c *Config) { c.Compaction.Overlap = -1 }, true},
		{"negative retention", func(c *Config) { c.Sessions.RetentionDays = -1 }, true},
		{"negative sample ratio", func(c *Config) { c.Tracing.SampleRatio = -0.1 }, true},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, true},
		{"zero sample ratio disables tracing", func(c *Config) { c.Tracing.SampleRatio = 0 }, false},
		{"zero cache values are a kill switch, not an error", func(c *Config) {
			c.Cache.MinTokens = 0
			c.Cache.TTLSeconds = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
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

func TestLoaderReturnsDefaultsWhenFileMissing(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "runway", cfg.AppName)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Sessions.Path)
}

func TestLoaderSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runway.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.AppName = "custom"
	cfg.Cache.MinTokens = 2048
	cfg.Providers.DefaultModel = "gemini-2.5-pro"
	require.NoError(t, loader.Save(cfg))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "custom", loaded.AppName)
	assert.Equal(t, 2048, loaded.Cache.MinTokens)
	assert.Equal(t, "gemini-2.5-pro", loaded.Providers.DefaultModel)
}

func TestLoaderWatchRequiresLoadedFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
	_, err := loader.Load()
	require.NoError(t, err)

	err = loader.Watch(func(*Config) {})
	assert.Error(t, err, "watching is only possible when a config file exists")
}
