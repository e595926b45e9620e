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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyAlias_Validate(t *testing.T) {
	tests := []struct {
		name    string
		alias   KeyAlias
		wantErr bool
	}{
		{"default", DefaultKeyAlias, false},
		{"simple", "vault-password", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"null byte", "a\x00b", true},
		{"dotdot", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alias.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidAlias))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParsePlatformTier(t *testing.T) {
	tier, err := ParsePlatformTier("Legacy")
	require.NoError(t, err)
	assert.Equal(t, TierLegacy, tier)

	tier, err = ParsePlatformTier("")
	require.NoError(t, err)
	assert.Equal(t, TierModern, tier)

	_, err = ParsePlatformTier("marshmallow")
	assert.Error(t, err)

	assert.Equal(t, "modern", TierModern.String())
	assert.Equal(t, "tier(7)", PlatformTier(7).String())
}

func TestLegacySpec(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	spec := NewLegacySpec("secret", now)

	require.NoError(t, spec.Validate())
	assert.Equal(t, TierLegacy, spec.Tier())
	assert.Equal(t, KeyAlias("secret"), spec.KeyAlias())
	assert.Equal(t, "CN=secret", spec.Subject)
	assert.Equal(t, int64(LegacySerialNumber), spec.SerialNumber.Int64())
	assert.Equal(t, 2125, spec.NotAfter.Year())

	policy := spec.Policy()
	assert.False(t, policy.RequiresLiveAuthentication)
	assert.False(t, policy.InvalidateOnEnrollmentChange)
	assert.Equal(t, NoValidityWindow, policy.ValiditySeconds)

	spec.NotAfter = spec.NotBefore
	assert.Error(t, spec.Validate())
}

func TestModernSpec_Validate(t *testing.T) {
	policy := KeyGenerationPolicy{
		RequiresLiveAuthentication:   true,
		ValiditySeconds:              NoValidityWindow,
		InvalidateOnEnrollmentChange: true,
	}
	spec := NewModernSpec("secret", policy)
	require.NoError(t, spec.Validate())
	assert.Equal(t, TierModern, spec.Tier())
	assert.Equal(t, policy, spec.Policy())

	t.Run("InvalidationWithoutAuth", func(t *testing.T) {
		bad := NewModernSpec("secret", KeyGenerationPolicy{InvalidateOnEnrollmentChange: true})
		assert.Error(t, bad.Validate())
	})

	t.Run("UnsupportedPadding", func(t *testing.T) {
		bad := NewModernSpec("secret", policy)
		bad.Padding = "OAEP"
		assert.Error(t, bad.Validate())
	})

	t.Run("MissingPurpose", func(t *testing.T) {
		bad := NewModernSpec("secret", policy)
		bad.Purposes = PurposeEncrypt
		assert.Error(t, bad.Validate())
	})
}
