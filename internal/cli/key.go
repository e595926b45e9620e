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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
)

// keyCmd represents the key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the fingerprint gated key pair",
	Long: `Generate, inspect, invalidate and rotate the RSA key pair of an alias.
The generation policy follows the environment: on the modern tier with a
secure lock screen and enrolled fingerprints every private key operation
requires a fingerprint scan.`,
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the key pair unless it already exists",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		withRuntime(func(rt *runtime) error {
			alias := rt.cfg.KeyAlias()
			facts := rt.sensor.Facts()
			printVerbose("Environment: %+v", facts)

			if force {
				if err := rt.lifecycle.Rotate(alias, facts); err != nil {
					return err
				}
				return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Generated key pair: %s", alias))
			}

			created, err := rt.lifecycle.EnsureKey(alias, facts)
			if err != nil {
				return err
			}
			if !created {
				return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Key pair already exists: %s", alias))
			}
			return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Generated key pair: %s", alias))
		})
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the key pair and environment state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			alias := rt.cfg.KeyAlias()
			status := KeyStatus{Alias: alias, Facts: rt.sensor.Facts()}

			info, err := rt.store.Info(alias)
			switch {
			case err == nil:
				status.Exists = true
				status.Info = info
			case !errors.Is(err, keystore.ErrKeyNotFound):
				return err
			}
			return newPrinter(cmd).PrintKeyStatus(status)
		})
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the aliases holding a key pair",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			aliases, err := rt.store.Aliases()
			if err != nil {
				return err
			}
			return newPrinter(cmd).PrintAliases(aliases)
		})
	},
}

var keyInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Delete the key pair",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			alias := rt.cfg.KeyAlias()
			if err := rt.lifecycle.Invalidate(alias); err != nil {
				return err
			}
			return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Invalidated key pair: %s", alias))
		})
	},
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the key pair with a new one",
	Long: `Delete the key pair and generate a new one under the current policy.
This is the recovery path for a key invalidated by an enrollment change.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			alias := rt.cfg.KeyAlias()
			if err := rt.lifecycle.Rotate(alias, rt.sensor.Facts()); err != nil {
				return err
			}
			return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Rotated key pair: %s", alias))
		})
	},
}

func init() {
	keyGenerateCmd.Flags().Bool("force", false, "replace an existing key pair")

	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyStatusCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyInvalidateCmd)
	keyCmd.AddCommand(keyRotateCmd)
}
