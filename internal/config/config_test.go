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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/controller"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "biokey.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

// TestDefault_IsValid tests that the defaults pass validation
func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.KeyAlias() != types.DefaultKeyAlias {
		t.Errorf("Expected alias %s, got %s", types.DefaultKeyAlias, cfg.KeyAlias())
	}
	if cfg.Delays() != controller.DefaultDelays() {
		t.Errorf("Expected default prompt delays, got %+v", cfg.Delays())
	}
	caps := cfg.Capabilities()
	if caps.Tier != types.TierModern || !caps.EnrollmentInvalidation {
		t.Errorf("Unexpected default capabilities: %+v", caps)
	}
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
alias: "payments"
platform:
  tier: "legacy"
  enrollment_invalidation: false
environment:
  permission_granted: true
  lock_screen_secure: false
keystore:
  backend: "badger"
  path: "/var/lib/biokey"
  key_size: 3072
  password_env: "BIOKEY_TEST_PASSWORD"
sensor:
  hardware: true
  lockout_attempts: 3
  lockout_window: "1m"
prompt:
  failed_reset: "250ms"
  help_reset: "2s"
  error_delay: "4s"
  success_delay: "1s"
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
  listen: "127.0.0.1:9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Alias != "payments" {
		t.Errorf("Expected alias payments, got %s", cfg.Alias)
	}
	if cfg.Capabilities().Tier != types.TierLegacy {
		t.Errorf("Expected legacy tier, got %s", cfg.Capabilities().Tier)
	}
	if cfg.Environment.LockScreenSecure {
		t.Error("Expected lock_screen_secure to be false")
	}
	if cfg.KeyStore.Backend != BackendBadger || cfg.KeyStore.Path != "/var/lib/biokey" {
		t.Errorf("Unexpected keystore config: %+v", cfg.KeyStore)
	}
	if cfg.KeyStore.KeySize != 3072 {
		t.Errorf("Expected key size 3072, got %d", cfg.KeyStore.KeySize)
	}
	if cfg.Sensor.LockoutAttempts != 3 || cfg.Sensor.LockoutWindow != time.Minute {
		t.Errorf("Unexpected sensor config: %+v", cfg.Sensor)
	}
	want := controller.Delays{
		FailedReset:    250 * time.Millisecond,
		HelpReset:      2 * time.Second,
		ErrorForward:   4 * time.Second,
		SuccessForward: time.Second,
	}
	if cfg.Delays() != want {
		t.Errorf("Expected delays %+v, got %+v", want, cfg.Delays())
	}
	if cfg.LoggerConfig().Format != "json" || cfg.LoggerConfig().Level != "debug" {
		t.Errorf("Unexpected logger config: %+v", cfg.LoggerConfig())
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
}

// TestLoad_PartialFileKeepsDefaults tests that omitted sections keep defaults
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "alias: \"other\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Alias != "other" {
		t.Errorf("Expected alias other, got %s", cfg.Alias)
	}
	if cfg.KeyStore != def.KeyStore || cfg.Sensor != def.Sensor || cfg.Prompt != def.Prompt {
		t.Errorf("Omitted sections should keep their defaults: %+v", cfg)
	}
}

// TestLoad_FileNotFound tests loading a non-existent config file
func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/biokey.yaml")
	if err == nil {
		t.Fatal("Expected error for non-existent file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestLoad_InvalidYAML tests loading a file with invalid YAML
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "alias: [unterminated\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestLoad_ValidationFailure tests that invalid values are rejected
func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "keystore:\n  backend: \"s3\"\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestSave_RoundTrip tests that a saved config loads back unchanged
func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Alias = "roundtrip"
	cfg.Prompt.HelpReset = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "biokey.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", loaded, cfg)
	}
}

// TestApplyEnvOverrides tests the BIOKEY_* variables
func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BIOKEY_ALIAS", "env-alias")
	t.Setenv("BIOKEY_TIER", "legacy")
	t.Setenv("BIOKEY_KEYSTORE_BACKEND", "memory")
	t.Setenv("BIOKEY_DATA_DIR", "/tmp/biokey")
	t.Setenv("BIOKEY_KEY_SIZE", "4096")
	t.Setenv("BIOKEY_LOCKOUT_ATTEMPTS", "7")
	t.Setenv("BIOKEY_LOG_LEVEL", "warn")
	t.Setenv("BIOKEY_LOG_FORMAT", "json")
	t.Setenv("BIOKEY_METRICS_LISTEN", ":9200")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Alias != "env-alias" {
		t.Errorf("Expected alias env-alias, got %s", cfg.Alias)
	}
	if cfg.Platform.Tier != "legacy" {
		t.Errorf("Expected tier legacy, got %s", cfg.Platform.Tier)
	}
	if cfg.KeyStore.Backend != "memory" || cfg.KeyStore.Path != "/tmp/biokey" {
		t.Errorf("Unexpected keystore config: %+v", cfg.KeyStore)
	}
	if cfg.KeyStore.KeySize != 4096 {
		t.Errorf("Expected key size 4096, got %d", cfg.KeyStore.KeySize)
	}
	if cfg.Sensor.LockoutAttempts != 7 {
		t.Errorf("Expected 7 lockout attempts, got %d", cfg.Sensor.LockoutAttempts)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9200" {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
}

// TestApplyEnvOverrides_InvalidNumbers tests that bad numbers keep the
// previous values
func TestApplyEnvOverrides_InvalidNumbers(t *testing.T) {
	t.Setenv("BIOKEY_KEY_SIZE", "big")
	t.Setenv("BIOKEY_LOCKOUT_ATTEMPTS", "0")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.KeyStore.KeySize != Default().KeyStore.KeySize {
		t.Errorf("Expected default key size, got %d", cfg.KeyStore.KeySize)
	}
	if cfg.Sensor.LockoutAttempts != Default().Sensor.LockoutAttempts {
		t.Errorf("Expected default lockout attempts, got %d", cfg.Sensor.LockoutAttempts)
	}
}

// TestValidate tests each rejected value
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyAlias", func(c *Config) { c.Alias = "" }},
		{"AliasWithSeparator", func(c *Config) { c.Alias = "a/b" }},
		{"UnknownTier", func(c *Config) { c.Platform.Tier = "future" }},
		{"UnknownBackend", func(c *Config) { c.KeyStore.Backend = "s3" }},
		{"FileWithoutPath", func(c *Config) { c.KeyStore.Backend = BackendFile; c.KeyStore.Path = "" }},
		{"BadgerWithoutPath", func(c *Config) { c.KeyStore.Backend = BackendBadger; c.KeyStore.Path = "" }},
		{"SmallKey", func(c *Config) { c.KeyStore.KeySize = 512 }},
		{"NoLockoutAttempts", func(c *Config) { c.Sensor.LockoutAttempts = 0 }},
		{"NoLockoutWindow", func(c *Config) { c.Sensor.LockoutWindow = 0 }},
		{"NegativeDelay", func(c *Config) { c.Prompt.HelpReset = -time.Second }},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "loud" }},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"MetricsWithoutListen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}

	t.Run("MemoryWithoutPath", func(t *testing.T) {
		cfg := Default()
		cfg.KeyStore.Backend = BackendMemory
		cfg.KeyStore.Path = ""
		if err := cfg.Validate(); err != nil {
			t.Errorf("Memory backend needs no path: %v", err)
		}
	})
}

// TestPassword tests reading the PKCS#8 password from the environment
func TestPassword(t *testing.T) {
	cfg := Default()
	if cfg.Password() != nil {
		t.Error("Expected no password by default")
	}

	cfg.KeyStore.PasswordEnv = "BIOKEY_TEST_PASSWORD"
	t.Setenv("BIOKEY_TEST_PASSWORD", "hunter2")
	if got := string(cfg.Password()); got != "hunter2" {
		t.Errorf("Expected password hunter2, got %q", got)
	}
}

// TestLoadOrDefault tests the no-file path
func TestLoadOrDefault(t *testing.T) {
	t.Setenv("BIOKEY_ALIAS", "from-env")
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Alias != "from-env" {
		t.Errorf("Expected alias from-env, got %s", cfg.Alias)
	}
}
