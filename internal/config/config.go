package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sleepmon/clipd/internal/observe"
)

// Config represents the application configuration
type Config struct {
	// HTTP service settings
	Server ServerConfig `yaml:"server"`

	// Where raw clips come from
	Storage StorageConfig `yaml:"storage"`

	// Decode cache settings
	Cache CacheConfig `yaml:"cache"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig represents HTTP service settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the clip source. BaseURL (the sleepmon API) takes
// precedence over Directory.
type StorageConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	Directory      string `yaml:"directory,omitempty"`
	DeviceID       string `yaml:"device_id,omitempty"`
	DeviceToken    string `yaml:"device_token,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxClipMB      int    `yaml:"max_clip_mb"`
}

// CacheConfig represents cache settings
type CacheConfig struct {
	// RetainPartial keeps clips that decoded short. When false they are
	// returned but fetched again on the next request.
	RetainPartial bool `yaml:"retain_partial"`

	// Directory enables the persistent tier when non-empty.
	Directory string `yaml:"directory,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "localhost:8787",
		},
		Storage: StorageConfig{
			DeviceID:       "esp32",
			TimeoutSeconds: 30,
			MaxClipMB:      16,
		},
		Cache: CacheConfig{
			RetainPartial: true,
			MaxSizeMB:     512,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file. Fields absent from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// If file doesn't exist, return default config
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the service cannot run with.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.BaseURL != "" {
		u, err := url.Parse(c.Storage.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("storage.base_url %q must be an http(s) URL", c.Storage.BaseURL))
		}
	}
	if c.Storage.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("storage.timeout_seconds must not be negative"))
	}
	if c.Storage.MaxClipMB < 0 {
		errs = append(errs, fmt.Errorf("storage.max_clip_mb must not be negative"))
	}
	if c.Cache.Directory != "" && c.Cache.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_size_mb must be positive when cache.directory is set"))
	}
	if _, err := observe.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// HasSource reports whether a clip source is configured.
func (c *Config) HasSource() bool {
	return c.Storage.BaseURL != "" || c.Storage.Directory != ""
}

// Timeout returns the per-request upstream timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Storage.TimeoutSeconds) * time.Second
}

// MaxClipBytes returns the download size limit in bytes.
func (c *Config) MaxClipBytes() int64 {
	return int64(c.Storage.MaxClipMB) << 20
}

// CacheMaxBytes returns the persistent tier size limit in bytes.
func (c *Config) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxSizeMB) << 20
}
