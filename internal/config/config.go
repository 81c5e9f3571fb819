// Package config loads readers-ear settings from the config file, flags and
// environment.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readers-ear/internal/engines"
	"github.com/dgnsrekt/readers-ear/internal/history"
	"github.com/dgnsrekt/readers-ear/internal/store"
)

// Config holds every setting of the application.
type Config struct {
	Storage store.Config

	// FlushDelay is the metadata debounce window
	FlushDelay time.Duration

	// Engine is gemini or mock
	Engine string

	Gemini engines.GeminiConfig
}

// Env holds the settings read only from the environment.
type Env struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	// Accepted for compatibility with the web app's variable name
	APIKey string `env:"API_KEY"`
}

// Key returns the configured API key, preferring GEMINI_API_KEY.
func (e Env) Key() string {
	if e.GeminiAPIKey != "" {
		return e.GeminiAPIKey
	}
	return e.APIKey
}

// DefaultConfig returns the default configuration. Storage.Dir is left empty
// and filled in by the caller.
func DefaultConfig() Config {
	return Config{
		Storage:    store.DefaultConfig(),
		FlushDelay: history.DefaultFlushDelay,
		Engine:     engines.NameGemini,
		Gemini: engines.GeminiConfig{
			BaseURL:           engines.DefaultBaseURL,
			OCRModel:          engines.DefaultOCRModel,
			TTSModel:          engines.DefaultTTSModel,
			Voice:             engines.DefaultVoice,
			Timeout:           engines.DefaultTimeout,
			RequestsPerMinute: engines.DefaultRequestsPerMinute,
		},
	}
}

// LoadFromViper overlays the values set in v on DefaultConfig, reads the
// API key from the environment and validates the result.
func LoadFromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	// Storage settings
	if v.IsSet("storage.dir") {
		cfg.Storage.Dir = v.GetString("storage.dir")
	}
	if v.IsSet("storage.blob_backend") {
		cfg.Storage.BlobBackend = v.GetString("storage.blob_backend")
	}
	if v.IsSet("storage.metadata_backend") {
		cfg.Storage.MetadataBackend = v.GetString("storage.metadata_backend")
	}
	if v.IsSet("storage.compression_level") {
		cfg.Storage.CompressionLevel = v.GetInt("storage.compression_level")
	}

	// History settings
	if v.IsSet("history.flush_delay") {
		d, err := time.ParseDuration(v.GetString("history.flush_delay"))
		if err != nil {
			return cfg, fmt.Errorf("invalid history.flush_delay: %w", err)
		}
		cfg.FlushDelay = d
	}

	// Engine settings
	if v.IsSet("engine.name") {
		cfg.Engine = v.GetString("engine.name")
	}
	gemini, err := loadGeminiConfig(v, cfg.Gemini)
	if err != nil {
		return cfg, err
	}
	cfg.Gemini = gemini

	e, err := env.ParseAs[Env]()
	if err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Gemini.APIKey = e.Key()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadGeminiConfig loads Gemini-specific configuration from v.
func loadGeminiConfig(v *viper.Viper, cfg engines.GeminiConfig) (engines.GeminiConfig, error) {
	if v.IsSet("engine.gemini.base_url") {
		cfg.BaseURL = v.GetString("engine.gemini.base_url")
	}
	if v.IsSet("engine.gemini.ocr_model") {
		cfg.OCRModel = v.GetString("engine.gemini.ocr_model")
	}
	if v.IsSet("engine.gemini.tts_model") {
		cfg.TTSModel = v.GetString("engine.gemini.tts_model")
	}
	if v.IsSet("engine.gemini.voice") {
		cfg.Voice = v.GetString("engine.gemini.voice")
	}
	if v.IsSet("engine.gemini.timeout") {
		d, err := time.ParseDuration(v.GetString("engine.gemini.timeout"))
		if err != nil {
			return cfg, fmt.Errorf("invalid engine.gemini.timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if v.IsSet("engine.gemini.requests_per_minute") {
		cfg.RequestsPerMinute = v.GetInt("engine.gemini.requests_per_minute")
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes names to lower case.
// A relative or ~ storage directory is expanded.
func (c *Config) Validate() error {
	c.Storage.BlobBackend = strings.ToLower(c.Storage.BlobBackend)
	validBlobs := []string{store.BackendDisk, store.BackendSQLite, store.BackendBolt, store.BackendMemory}
	if !slices.Contains(validBlobs, c.Storage.BlobBackend) {
		return fmt.Errorf("invalid blob backend '%s': must be one of %v", c.Storage.BlobBackend, validBlobs)
	}

	c.Storage.MetadataBackend = strings.ToLower(c.Storage.MetadataBackend)
	validMeta := []string{store.BackendFile, store.BackendSQLite, store.BackendMemory}
	if !slices.Contains(validMeta, c.Storage.MetadataBackend) {
		return fmt.Errorf("invalid metadata backend '%s': must be one of %v", c.Storage.MetadataBackend, validMeta)
	}

	if c.Storage.CompressionLevel < 0 || c.Storage.CompressionLevel > 22 {
		return fmt.Errorf("compression_level must be between 0 and 22, got %d", c.Storage.CompressionLevel)
	}

	if c.Storage.Dir != "" {
		dir, err := homedir.Expand(c.Storage.Dir)
		if err != nil {
			return fmt.Errorf("expand storage dir: %w", err)
		}
		if dir, err = filepath.Abs(dir); err != nil {
			return fmt.Errorf("resolve storage dir: %w", err)
		}
		c.Storage.Dir = dir
	}

	if c.FlushDelay < 10*time.Millisecond || c.FlushDelay > time.Minute {
		return fmt.Errorf("flush_delay must be between 10ms and 1m, got %v", c.FlushDelay)
	}

	c.Engine = strings.ToLower(c.Engine)
	validEngines := []string{engines.NameGemini, engines.NameMock}
	if !slices.Contains(validEngines, c.Engine) {
		return fmt.Errorf("invalid engine '%s': must be one of %v", c.Engine, validEngines)
	}

	if c.Engine == engines.NameGemini {
		if c.Gemini.BaseURL == "" {
			return fmt.Errorf("gemini base_url cannot be empty")
		}
		if c.Gemini.Timeout < time.Second {
			return fmt.Errorf("gemini timeout must be at least 1 second, got %v", c.Gemini.Timeout)
		}
		if c.Gemini.RequestsPerMinute < 1 {
			return fmt.Errorf("gemini requests_per_minute must be positive, got %d", c.Gemini.RequestsPerMinute)
		}
	}

	return nil
}
