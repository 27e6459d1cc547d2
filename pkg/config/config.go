// Package config provides configuration management for gpd.
// It loads portal credentials and run settings from a YAML file, applies
// defaults for anything left out, and validates the result. Command-line
// flags are applied on top of the loaded configuration by the CLI.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Portal   PortalAuth `yaml:"portal"`
	Settings Settings   `yaml:"settings"`
}

// Settings represents general application settings.
type Settings struct {
	// Portal endpoints
	LoginURL      string `yaml:"login_url"`
	BaseURL       string `yaml:"base_url"`
	SessionCookie string `yaml:"session_cookie"`

	// Output settings
	OutputDir string `yaml:"output_dir"`
	Overwrite bool   `yaml:"overwrite"`

	// Network settings
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Workers     int           `yaml:"workers"`
	HTTPTimeout time.Duration `yaml:"http_timeout"` // 0 disables the per-request timeout

	// Verification settings
	ChunkSize int `yaml:"chunk_size"`

	// Logging settings
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default configuration values.
const (
	DefaultLoginURL      = "https://signon.jgi.doe.gov/signon/create"
	DefaultBaseURL       = "https://genome.jgi.doe.gov"
	DefaultSessionCookie = "jgi_session"

	// DefaultRetries is the number of additional attempts after a failed download.
	DefaultRetries = 5

	// DefaultRetryDelay is the backoff unit; attempt n waits n times this long.
	DefaultRetryDelay = 10 * time.Second

	// DefaultWorkers is the default number of simultaneous downloads and digests.
	DefaultWorkers = 12

	// DefaultChunkSize is the read size used while computing digests.
	DefaultChunkSize = 4096

	// ConfigFileName is the file looked up inside the user config directory.
	ConfigFileName = "config.yaml"
)

// DefaultConfig returns a configuration with sensible defaults and no credentials.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LoginURL:      DefaultLoginURL,
			BaseURL:       DefaultBaseURL,
			SessionCookie: DefaultSessionCookie,
			OutputDir:     ".",
			Retries:       DefaultRetries,
			RetryDelay:    DefaultRetryDelay,
			Workers:       DefaultWorkers,
			ChunkSize:     DefaultChunkSize,
			LogLevel:      "info",
			LogFormat:     "text",
		},
	}
}

// LoadConfig loads configuration from a file. A missing file is a
// configuration error since the credentials it holds are mandatory.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConfig, "invalid config file path %s", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrConfigNotFound, "checked %s", absPath)
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	cfg, err := LoadConfigFromReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", absPath)
	}
	return cfg, nil
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	// Keys absent from the document keep their defaults; explicit zeros
	// such as retries: 0 or workers: 0 are kept as written.
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration to path. The file holds the portal
// password, so it is created readable by the owner only.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(errors.ErrConfig, "invalid config file path %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), fsutil.DirModePrivate); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := c.ToYAML()
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}

	tempPath := absPath + ".tmp"
	if err := os.WriteFile(tempPath, data, fsutil.FileModePrivate); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temporary config file")
	}
	return os.Chmod(absPath, fsutil.FileModePrivate)
}

// ToYAML converts the config to YAML bytes.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfig
	}
	if strings.TrimSpace(c.Portal.Username) == "" || c.Portal.Password == "" {
		return errors.ErrMissingCredential
	}
	return c.Settings.Validate()
}

// Validate checks the run settings. Worker counts below one are not an
// error: they are clamped by the worker pools.
func (s Settings) Validate() error {
	if s.LoginURL == "" {
		return errors.ErrConfigWithDetails("login_url", "cannot be empty")
	}
	if s.BaseURL == "" {
		return errors.ErrConfigWithDetails("base_url", "cannot be empty")
	}
	if s.SessionCookie == "" {
		return errors.ErrConfigWithDetails("session_cookie", "cannot be empty")
	}
	if s.Retries < 0 {
		return errors.ErrConfigWithDetails("retries", "cannot be negative")
	}
	if s.RetryDelay < 0 {
		return errors.ErrConfigWithDetails("retry_delay", "cannot be negative")
	}
	if s.HTTPTimeout < 0 {
		return errors.ErrConfigWithDetails("http_timeout", "cannot be negative")
	}
	if s.ChunkSize < 0 {
		return errors.ErrConfigWithDetails("chunk_size", "cannot be negative")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(s.LogFormat)] {
		return errors.ErrConfigWithDetails("log_format", "must be one of: text, json")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		return errors.ErrConfigWithDetails("log_level", "must be one of: debug, info, warn, error")
	}
	return nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	dir, err := fsutil.GetConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user config directory")
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// applyDefaults restores defaults for settings written as empty values
// that have no meaningful zero.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig().Settings

	if c.Settings.LoginURL == "" {
		c.Settings.LoginURL = defaults.LoginURL
	}
	if c.Settings.BaseURL == "" {
		c.Settings.BaseURL = defaults.BaseURL
	}
	if c.Settings.SessionCookie == "" {
		c.Settings.SessionCookie = defaults.SessionCookie
	}
	if c.Settings.OutputDir == "" {
		c.Settings.OutputDir = defaults.OutputDir
	}
	if c.Settings.ChunkSize == 0 {
		c.Settings.ChunkSize = defaults.ChunkSize
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaults.LogLevel
	}
	if c.Settings.LogFormat == "" {
		c.Settings.LogFormat = defaults.LogFormat
	}
}
