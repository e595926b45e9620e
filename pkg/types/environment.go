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

package types

import (
	"fmt"
	"strings"
)

// PlatformTier identifies which key generation primitives the platform offers.
type PlatformTier int

const (
	// TierLegacy platforms can generate key pairs but have no primitive for
	// gating private-key use behind user authentication.
	TierLegacy PlatformTier = iota

	// TierModern platforms support authentication-bound keys.
	TierModern
)

// String returns the canonical name of the tier.
func (t PlatformTier) String() string {
	switch t {
	case TierLegacy:
		return "legacy"
	case TierModern:
		return "modern"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParsePlatformTier parses a tier name. Matching is case-insensitive.
func ParsePlatformTier(s string) (PlatformTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy":
		return TierLegacy, nil
	case "modern", "":
		return TierModern, nil
	default:
		return TierLegacy, fmt.Errorf("unknown platform tier: %q (must be legacy or modern)", s)
	}
}

// Capabilities describes what the platform's key store can do. It is the
// descriptor the policy layer branches on instead of probing a version number.
type Capabilities struct {
	// Tier selects the key generation primitive family.
	Tier PlatformTier `yaml:"tier" json:"tier"`

	// EnrollmentInvalidation reports whether authentication-bound keys can be
	// permanently invalidated when the set of enrolled fingerprints changes.
	// Only meaningful on the modern tier.
	EnrollmentInvalidation bool `yaml:"enrollment_invalidation" json:"enrollment_invalidation"`
}

// EnvironmentFacts are already-sampled facts about the host. The core queries
// them but never changes them.
type EnvironmentFacts struct {
	Capabilities Capabilities `json:"capabilities"`

	// PermissionGranted reports whether the process may use the sensor.
	PermissionGranted bool `json:"permission_granted"`

	// HardwareDetected reports whether a fingerprint sensor is present.
	HardwareDetected bool `json:"hardware_detected"`

	// LockScreenSecure reports whether a secure lock screen is configured.
	LockScreenSecure bool `json:"lock_screen_secure"`

	// FingerprintsEnrolled reports whether at least one fingerprint is enrolled.
	FingerprintsEnrolled bool `json:"fingerprints_enrolled"`
}
