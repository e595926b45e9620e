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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biokey/pkg/health"
)

// ErrUnhealthy is returned when at least one check is unhealthy.
var ErrUnhealthy = errors.New("one or more health checks failed")

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the sensor, storage and key",
	Long: `Run the prompt preconditions and probe the storage backend and the key.
A degraded result means new keys will not be fingerprint gated; an unhealthy
result means decryption cannot succeed.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(func(rt *runtime) error {
			results := rt.health.Run(cmd.Context())
			status := health.AggregateStatus(results)
			if err := newPrinter(cmd).PrintHealth(status, results); err != nil {
				return err
			}
			if status == health.StatusUnhealthy {
				return ErrUnhealthy
			}
			return nil
		})
	},
}
