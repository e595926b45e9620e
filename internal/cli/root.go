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

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-biokey/internal/config"
)

// Viper keys bound to the persistent flags.
const (
	keyConfig   = "config"
	keyAlias    = "alias"
	keyBackend  = "backend"
	keyDataDir  = "data-dir"
	keyOutput   = "output"
	keyVerbose  = "verbose"
	keyMetrics  = "metrics-listen"
	envPrefix   = "biokey"
	defaultFile = "biokey.yaml"
)

var (
	vip = newViper()

	// rootCmd represents the base command
	rootCmd = &cobra.Command{
		Use:   "biokey",
		Short: "biokey - Fingerprint gated RSA keys",
		Long: `biokey manages an RSA key pair whose private half can only be used
after a live fingerprint scan, and drives the authentication prompt that
performs the scan.

The fingerprint sensor is virtual: enrolled templates are plain identifiers
and a scan is simulated with "decrypt --touch <id>".`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	globalConfig *config.Config
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(keyOutput, string(OutputFormatText))
	return v
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "config file (default is ./"+defaultFile+" when present)")
	flags.String(keyAlias, "", "key alias")
	flags.String(keyBackend, "", "key storage backend (memory, file, badger)")
	flags.String(keyDataDir, "", "directory for key and enrollment storage")
	flags.StringP(keyOutput, "o", string(OutputFormatText), "output format (text, json)")
	flags.BoolP(keyVerbose, "v", false, "verbose output")
	flags.String(keyMetrics, "", "serve Prometheus metrics on this address while the command runs")

	for _, key := range []string{keyConfig, keyAlias, keyBackend, keyDataDir, keyOutput, keyVerbose, keyMetrics} {
		_ = vip.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(healthCmd)
}

// loadConfig reads the config file and layers flags and BIOKEY_* variables
// over it.
func loadConfig(cmd *cobra.Command, args []string) error {
	path := vip.GetString(keyConfig)
	if path == "" {
		if fileExists(defaultFile) {
			path = defaultFile
		}
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	if v := vip.GetString(keyAlias); v != "" {
		cfg.Alias = v
	}
	if v := vip.GetString(keyBackend); v != "" {
		cfg.KeyStore.Backend = v
	}
	if v := vip.GetString(keyDataDir); v != "" {
		cfg.KeyStore.Path = v
	}
	if v := vip.GetString(keyMetrics); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = v
	}
	if vip.GetBool(keyVerbose) {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	globalConfig = cfg
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// getConfig returns the effective configuration
func getConfig() *config.Config {
	return globalConfig
}

func newPrinter(cmd *cobra.Command) *Printer {
	return NewPrinter(vip.GetString(keyOutput), cmd.OutOrStdout())
}

// HandleError prints an error and exits with code 1
func HandleError(err error) {
	printer := NewPrinter(vip.GetString(keyOutput), os.Stderr)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if vip.GetBool(keyVerbose) {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// withRuntime builds the runtime for the effective configuration, runs fn
// and exits on error.
func withRuntime(fn func(rt *runtime) error) {
	rt, err := newRuntime(getConfig())
	if err != nil {
		HandleError(err)
		return
	}
	err = fn(rt)
	if cerr := rt.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		HandleError(err)
	}
}
