package config

import (
	"fmt"
)

// Config represents the main Runway configuration
type Config struct {
	// AppName identifies this runner's sessions in the store
	AppName string `json:"app_name" mapstructure:"app_name"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Prompt cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Compaction
	Compaction CompactionConfig `json:"compaction" mapstructure:"compaction"`

	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// SessionsConfig holds session store settings
type SessionsConfig struct {
	Path          string `json:"path" mapstructure:"path"`                     // sqlite database path
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"` // 0 disables cleanup
	CleanupCron   string `json:"cleanup_cron" mapstructure:"cleanup_cron"`
}

// CacheConfig holds prompt cache lifecycle settings. MinTokens or TTLSeconds
// at zero disables caching entirely.
type CacheConfig struct {
	MinTokens       int `json:"min_tokens" mapstructure:"min_tokens"`
	TTLSeconds      int `json:"ttl_seconds" mapstructure:"ttl_seconds"`
	RefreshInterval int `json:"refresh_interval" mapstructure:"refresh_interval"` // invocations between refreshes
}

// CompactionConfig holds history compaction settings. Interval at zero
// disables compaction.
type CompactionConfig struct {
	Interval int `json:"interval" mapstructure:"interval"` // user turns between compactions
	Overlap  int `json:"overlap" mapstructure:"overlap"`   // recent user turns kept uncompacted
}

// ProvidersConfig holds model provider credentials
type ProvidersConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	GeminiAPIKey    string `json:"gemini_api_key" mapstructure:"gemini_api_key"`
	DefaultModel    string `json:"default_model" mapstructure:"default_model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// TracingConfig holds trace sampling settings
type TracingConfig struct {
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // fraction of traces sampled, 0 disables
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		AppName: "runway",
		Sessions: SessionsConfig{
			RetentionDays: 30,
			CleanupCron:   "@hourly",
		},
		Cache: CacheConfig{
			MinTokens:       1024,
			TTLSeconds:      1800,
			RefreshInterval: 10,
		},
		Compaction: CompactionConfig{
			Interval: 10,
			Overlap:  2,
		},
		Providers: ProvidersConfig{
			DefaultModel: "gemini-2.0-flash",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("app_name cannot be empty")
	}
	if c.Cache.MinTokens < 0 {
		return fmt.Errorf("cache.min_tokens cannot be negative")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds cannot be negative")
	}
	if c.Cache.RefreshInterval < 0 {
		return fmt.Errorf("cache.refresh_interval cannot be negative")
	}
	if c.Compaction.Interval < 0 {
		return fmt.Errorf("compaction.interval cannot be negative")
	}
	if c.Compaction.Overlap < 0 {
		return fmt.Errorf("compaction.overlap cannot be negative")
	}
	if c.Sessions.RetentionDays < 0 {
		return fmt.Errorf("sessions.retention_days cannot be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}
