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
)

// enrollCmd represents the enroll command
var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Manage enrolled fingerprints of the virtual sensor",
	Long: `Add, remove and list fingerprint templates. Changing the enrolled set
permanently invalidates keys generated with enrollment invalidation.`,
}

var enrollAddCmd = &cobra.Command{
	Use:   "add <template-id>",
	Short: "Enroll a fingerprint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			if err := rt.sensor.Enroll(args[0]); err != nil {
				return err
			}
			return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Enrolled fingerprint: %s", args[0]))
		})
	},
}

var enrollRemoveCmd = &cobra.Command{
	Use:   "remove <template-id>",
	Short: "Remove an enrolled fingerprint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			if err := rt.sensor.Remove(args[0]); err != nil {
				return err
			}
			return newPrinter(cmd).PrintSuccess(fmt.Sprintf("Removed fingerprint: %s", args[0]))
		})
	},
}

var enrollListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled fingerprints",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			return newPrinter(cmd).PrintTemplates(rt.sensor.Templates())
		})
	},
}

func init() {
	enrollCmd.AddCommand(enrollAddCmd)
	enrollCmd.AddCommand(enrollRemoveCmd)
	enrollCmd.AddCommand(enrollListCmd)
}
