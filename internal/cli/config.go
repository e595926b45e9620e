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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-biokey/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := defaultFile
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if !force && fileExists(path) {
			HandleError(fmt.Errorf("%s already exists, use --force to overwrite", path))
			return
		}
		if err := config.Default().Save(path); err != nil {
			HandleError(err)
			return
		}
		_ = newPrinter(cmd).PrintSuccess(fmt.Sprintf("Wrote configuration to %s", path))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after the config file, BIOKEY_* environment
variables and command line flags have been applied.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printer := newPrinter(cmd)
		if printer.format == OutputFormatJSON {
			_ = printer.printJSON(getConfig())
			return
		}
		data, err := yaml.Marshal(getConfig())
		if err != nil {
			HandleError(fmt.Errorf("failed to marshal config: %w", err))
			return
		}
		_, _ = cmd.OutOrStdout().Write(data)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
