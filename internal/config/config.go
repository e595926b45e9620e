// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the biokey configuration from YAML with BIOKEY_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-biokey/pkg/controller"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/software"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
)

// DefaultDataDir is where keys and enrollments live unless configured.
const DefaultDataDir = ".biokey"

// Config represents the complete biokey configuration
type Config struct {
	Alias       string            `yaml:"alias"`
	Platform    PlatformConfig    `yaml:"platform"`
	Environment EnvironmentConfig `yaml:"environment"`
	KeyStore    KeyStoreConfig    `yaml:"keystore"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// PlatformConfig describes the key store capabilities to emulate
type PlatformConfig struct {
	Tier                   string `yaml:"tier"` // legacy, modern
	EnrollmentInvalidation bool   `yaml:"enrollment_invalidation"`
}

// EnvironmentConfig holds the host facts the sensor cannot report itself
type EnvironmentConfig struct {
	PermissionGranted bool `yaml:"permission_granted"`
	LockScreenSecure  bool `yaml:"lock_screen_secure"`
}

// KeyStoreConfig controls where key pairs are persisted
type KeyStoreConfig struct {
	Backend     string `yaml:"backend"` // memory, file, badger
	Path        string `yaml:"path"`
	KeySize     int    `yaml:"key_size"`
	PasswordEnv string `yaml:"password_env"` // name of the variable holding the PKCS#8 password
}

// SensorConfig controls the virtual fingerprint sensor
type SensorConfig struct {
	Hardware        bool          `yaml:"hardware"`
	LockoutAttempts int           `yaml:"lockout_attempts"`
	LockoutWindow   time.Duration `yaml:"lockout_window"`
}

// PromptConfig holds the prompt cool-down delays
type PromptConfig struct {
	FailedReset  time.Duration `yaml:"failed_reset"`
	HelpReset    time.Duration `yaml:"help_reset"`
	ErrorDelay   time.Duration `yaml:"error_delay"`
	SuccessDelay time.Duration `yaml:"success_delay"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	delays := controller.DefaultDelays()
	return &Config{
		Alias: string(types.DefaultKeyAlias),
		Platform: PlatformConfig{
			Tier:                   types.TierModern.String(),
			EnrollmentInvalidation: true,
		},
		Environment: EnvironmentConfig{
			PermissionGranted: true,
			LockScreenSecure:  true,
		},
		KeyStore: KeyStoreConfig{
			Backend: BackendFile,
			Path:    DefaultDataDir,
			KeySize: software.DefaultKeySize,
		},
		Sensor: SensorConfig{
			Hardware:        true,
			LockoutAttempts: 5,
			LockoutWindow:   30 * time.Second,
		},
		Prompt: PromptConfig{
			FailedReset:  delays.FailedReset,
			HelpReset:    delays.HelpReset,
			ErrorDelay:   delays.ErrorForward,
			SuccessDelay: delays.SuccessForward,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set, otherwise the defaults with
// environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	logger := logging.DefaultLogger()

	if alias := os.Getenv("BIOKEY_ALIAS"); alias != "" {
		cfg.Alias = alias
	}
	if tier := os.Getenv("BIOKEY_TIER"); tier != "" {
		cfg.Platform.Tier = tier
	}

	// Key store
	if backend := os.Getenv("BIOKEY_KEYSTORE_BACKEND"); backend != "" {
		cfg.KeyStore.Backend = backend
	}
	if dataDir := os.Getenv("BIOKEY_DATA_DIR"); dataDir != "" {
		cfg.KeyStore.Path = dataDir
	}
	if keySize := os.Getenv("BIOKEY_KEY_SIZE"); keySize != "" {
		size, err := strconv.Atoi(keySize)
		if err != nil {
			logger.Warnf("invalid BIOKEY_KEY_SIZE value %q, using %d: %v",
				keySize, cfg.KeyStore.KeySize, err)
		} else {
			cfg.KeyStore.KeySize = size
		}
	}

	// Sensor
	if attempts := os.Getenv("BIOKEY_LOCKOUT_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n < 1 {
			logger.Warnf("invalid BIOKEY_LOCKOUT_ATTEMPTS value %q, using %d",
				attempts, cfg.Sensor.LockoutAttempts)
		} else {
			cfg.Sensor.LockoutAttempts = n
		}
	}

	// Logging
	if level := os.Getenv("BIOKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("BIOKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Metrics
	if listen := os.Getenv("BIOKEY_METRICS_LISTEN"); listen != "" {
		cfg.Metrics.Listen = listen
		cfg.Metrics.Enabled = true
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := types.KeyAlias(c.Alias).Validate(); err != nil {
		return err
	}
	if _, err := types.ParsePlatformTier(c.Platform.Tier); err != nil {
		return err
	}

	// Key store
	switch strings.ToLower(c.KeyStore.Backend) {
	case BackendMemory:
	case BackendFile, BackendBadger:
		if c.KeyStore.Path == "" {
			return fmt.Errorf("keystore path is required for the %s backend", c.KeyStore.Backend)
		}
	default:
		return fmt.Errorf("invalid keystore backend: %s (must be memory, file, or badger)", c.KeyStore.Backend)
	}
	if c.KeyStore.KeySize < software.MinKeySize {
		return fmt.Errorf("invalid key size: %d (must be at least %d)", c.KeyStore.KeySize, software.MinKeySize)
	}

	// Sensor
	if c.Sensor.LockoutAttempts < 1 {
		return fmt.Errorf("invalid lockout_attempts: %d", c.Sensor.LockoutAttempts)
	}
	if c.Sensor.LockoutWindow <= 0 {
		return fmt.Errorf("invalid lockout_window: %s", c.Sensor.LockoutWindow)
	}

	// Prompt
	for name, d := range map[string]time.Duration{
		"failed_reset":  c.Prompt.FailedReset,
		"help_reset":    c.Prompt.HelpReset,
		"error_delay":   c.Prompt.ErrorDelay,
		"success_delay": c.Prompt.SuccessDelay,
	} {
		if d < 0 {
			return fmt.Errorf("invalid prompt %s: %s", name, d)
		}
	}

	// Logging
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	return nil
}

// KeyAlias returns the configured alias.
func (c *Config) KeyAlias() types.KeyAlias {
	return types.KeyAlias(c.Alias)
}

// Capabilities returns the platform descriptor. The tier must be valid.
func (c *Config) Capabilities() types.Capabilities {
	tier, _ := types.ParsePlatformTier(c.Platform.Tier)
	return types.Capabilities{
		Tier:                   tier,
		EnrollmentInvalidation: c.Platform.EnrollmentInvalidation,
	}
}

// Delays returns the prompt cool-down delays.
func (c *Config) Delays() controller.Delays {
	return controller.Delays{
		FailedReset:    c.Prompt.FailedReset,
		HelpReset:      c.Prompt.HelpReset,
		ErrorForward:   c.Prompt.ErrorDelay,
		SuccessForward: c.Prompt.SuccessDelay,
	}
}

// Password returns the PKCS#8 password from the configured environment
// variable, or nil when keys are stored unencrypted.
func (c *Config) Password() []byte {
	if c.KeyStore.PasswordEnv == "" {
		return nil
	}
	if pw := os.Getenv(c.KeyStore.PasswordEnv); pw != "" {
		return []byte(pw)
	}
	return nil
}

// LoggerConfig returns the logging settings for logging.New.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: strings.ToLower(c.Logging.Format),
	}
}
