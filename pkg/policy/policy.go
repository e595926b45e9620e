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

// Package policy decides, from sampled environment facts, which key generation
// parameters to request from the secure key store. Every function in this
// package is pure: no state, no side effects, no errors.
package policy

import (
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// CanUseBiometrics reports whether biometric gating is possible at all: a
// sensor is present, the lock screen is secure and at least one fingerprint
// is enrolled. The platform tier is not considered.
func CanUseBiometrics(env types.EnvironmentFacts) bool {
	return env.HardwareDetected && env.LockScreenSecure && env.FingerprintsEnrolled
}

// Decide returns the key generation policy for env.
//
// On the legacy tier the policy never requires live authentication, since
// legacy key generation has no gating primitive. On the modern tier live
// authentication is required exactly when CanUseBiometrics holds, and
// enrollment invalidation is requested only alongside live authentication and
// only when the platform supports it.
func Decide(env types.EnvironmentFacts) types.KeyGenerationPolicy {
	switch env.Capabilities.Tier {
	case types.TierModern:
		live := CanUseBiometrics(env)
		return types.KeyGenerationPolicy{
			RequiresLiveAuthentication:   live,
			ValiditySeconds:              types.NoValidityWindow,
			InvalidateOnEnrollmentChange: live && env.Capabilities.EnrollmentInvalidation,
		}
	default:
		return types.KeyGenerationPolicy{
			ValiditySeconds: types.NoValidityWindow,
		}
	}
}

// Spec builds the tagged generation spec for alias. The legacy variant carries
// the self-signed certificate parameters; the modern variant carries the
// policy returned by Decide.
func Spec(alias types.KeyAlias, env types.EnvironmentFacts) types.GenerationSpec {
	return SpecAt(alias, env, time.Now())
}

// SpecAt is Spec with an explicit clock reading for the legacy certificate window.
func SpecAt(alias types.KeyAlias, env types.EnvironmentFacts, now time.Time) types.GenerationSpec {
	if env.Capabilities.Tier == types.TierModern {
		return types.NewModernSpec(alias, Decide(env))
	}
	return types.NewLegacySpec(alias, now)
}
