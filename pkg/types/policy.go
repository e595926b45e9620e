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
	"math/big"
	"time"
)

const (
	// NoValidityWindow means the key is gated purely on the liveness of a
	// scan; there is no time window after a scan during which the key stays
	// usable.
	NoValidityWindow = -1

	// LegacySerialNumber is the serial number of the self-signed certificate
	// issued for legacy key pairs.
	LegacySerialNumber = 1000000

	// LegacyCertificateYears is the lifetime of the legacy self-signed certificate.
	LegacyCertificateYears = 100

	// BlockModeECB and PaddingPKCS1 describe the only cipher construction used
	// by go-biokey: RSA with PKCS#1 v1.5 encryption padding.
	BlockModeECB = "ECB"
	PaddingPKCS1 = "PKCS1"
)

// KeyGenerationPolicy is computed once per key generation event and never
// mutated afterward. A new policy means a new key.
type KeyGenerationPolicy struct {
	// RequiresLiveAuthentication gates every private-key operation behind a
	// successful biometric scan.
	RequiresLiveAuthentication bool `json:"requires_live_authentication" cbor:"1,keyasint"`

	// ValiditySeconds is the window after a scan during which the key remains
	// usable. NoValidityWindow (-1) disables the window.
	ValiditySeconds int `json:"validity_seconds" cbor:"2,keyasint"`

	// InvalidateOnEnrollmentChange permanently invalidates the key when the
	// set of enrolled fingerprints changes.
	InvalidateOnEnrollmentChange bool `json:"invalidate_on_enrollment_change" cbor:"3,keyasint"`
}

// String implements fmt.Stringer.
func (p KeyGenerationPolicy) String() string {
	return fmt.Sprintf("live-auth=%t validity=%ds invalidate-on-enrollment=%t",
		p.RequiresLiveAuthentication, p.ValiditySeconds, p.InvalidateOnEnrollmentChange)
}

// KeyPurpose is a bit set of the operations a generated key may perform.
type KeyPurpose int

const (
	PurposeEncrypt KeyPurpose = 1 << iota
	PurposeDecrypt
)

// GenerationSpec is the tagged variant handed to the secure key store. The
// concrete type is either *LegacySpec or *ModernSpec.
type GenerationSpec interface {
	// Tier reports which variant this is.
	Tier() PlatformTier

	// KeyAlias returns the slot the key pair is generated under.
	KeyAlias() KeyAlias

	// Policy returns the key generation policy carried by this variant.
	Policy() KeyGenerationPolicy

	// Validate checks every generation parameter is set.
	Validate() error
}

// LegacySpec mirrors the legacy key-pair generator: an alias plus the
// parameters of the self-signed certificate the store issues for the pair.
// Legacy keys are never authentication-bound.
type LegacySpec struct {
	Alias        KeyAlias
	Subject      string
	SerialNumber *big.Int
	NotBefore    time.Time
	NotAfter     time.Time
}

// NewLegacySpec returns a legacy spec with a 100-year certificate window
// starting at now.
func NewLegacySpec(alias KeyAlias, now time.Time) *LegacySpec {
	return &LegacySpec{
		Alias:        alias,
		Subject:      "CN=" + alias.String(),
		SerialNumber: big.NewInt(LegacySerialNumber),
		NotBefore:    now,
		NotAfter:     now.AddDate(LegacyCertificateYears, 0, 0),
	}
}

// Tier implements GenerationSpec.
func (s *LegacySpec) Tier() PlatformTier { return TierLegacy }

// KeyAlias implements GenerationSpec.
func (s *LegacySpec) KeyAlias() KeyAlias { return s.Alias }

// Policy implements GenerationSpec. Legacy generation has no biometric gating
// primitive, so the policy is always the unauthenticated one.
func (s *LegacySpec) Policy() KeyGenerationPolicy {
	return KeyGenerationPolicy{ValiditySeconds: NoValidityWindow}
}

// Validate implements GenerationSpec.
func (s *LegacySpec) Validate() error {
	if err := s.Alias.Validate(); err != nil {
		return err
	}
	if s.Subject == "" {
		return fmt.Errorf("legacy spec: subject is required")
	}
	if s.SerialNumber == nil || s.SerialNumber.Sign() <= 0 {
		return fmt.Errorf("legacy spec: serial number must be positive")
	}
	if !s.NotAfter.After(s.NotBefore) {
		return fmt.Errorf("legacy spec: certificate end date must be after start date")
	}
	return nil
}

// ModernSpec mirrors the modern key generation parameters: purposes, cipher
// construction and the authentication policy.
type ModernSpec struct {
	Alias     KeyAlias
	Purposes  KeyPurpose
	BlockMode string
	Padding   string
	Auth      KeyGenerationPolicy
}

// NewModernSpec returns an encrypt/decrypt RSA spec bound to policy.
func NewModernSpec(alias KeyAlias, policy KeyGenerationPolicy) *ModernSpec {
	return &ModernSpec{
		Alias:     alias,
		Purposes:  PurposeEncrypt | PurposeDecrypt,
		BlockMode: BlockModeECB,
		Padding:   PaddingPKCS1,
		Auth:      policy,
	}
}

// Tier implements GenerationSpec.
func (s *ModernSpec) Tier() PlatformTier { return TierModern }

// KeyAlias implements GenerationSpec.
func (s *ModernSpec) KeyAlias() KeyAlias { return s.Alias }

// Policy implements GenerationSpec.
func (s *ModernSpec) Policy() KeyGenerationPolicy { return s.Auth }

// Validate implements GenerationSpec.
func (s *ModernSpec) Validate() error {
	if err := s.Alias.Validate(); err != nil {
		return err
	}
	if s.Purposes&(PurposeEncrypt|PurposeDecrypt) != PurposeEncrypt|PurposeDecrypt {
		return fmt.Errorf("modern spec: key must allow both encryption and decryption")
	}
	if s.BlockMode != BlockModeECB || s.Padding != PaddingPKCS1 {
		return fmt.Errorf("modern spec: unsupported cipher construction %s/%s", s.BlockMode, s.Padding)
	}
	if s.Auth.InvalidateOnEnrollmentChange && !s.Auth.RequiresLiveAuthentication {
		return fmt.Errorf("modern spec: enrollment invalidation requires live authentication")
	}
	return nil
}
