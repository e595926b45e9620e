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

package lifecycle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/mocks"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/software"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

const alias types.KeyAlias = "KEY_ALIAS"

func modernEnv() types.EnvironmentFacts {
	return types.EnvironmentFacts{
		Capabilities:         types.Capabilities{Tier: types.TierModern, EnrollmentInvalidation: true},
		PermissionGranted:    true,
		HardwareDetected:     true,
		LockScreenSecure:     true,
		FingerprintsEnrolled: true,
	}
}

func newLifecycle(t *testing.T, store keystore.Store) *Lifecycle {
	t.Helper()
	l, err := New(&Config{Store: store, Logger: logging.Discard(), Metrics: true})
	require.NoError(t, err)
	return l
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{})
	assert.Error(t, err)

	cfg := &Config{Store: mocks.NewMockStore()}
	l, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, l.Store())
}

func TestGenerate(t *testing.T) {
	store := mocks.NewMockStore()
	l := newLifecycle(t, store)

	spec := types.NewModernSpec(alias, types.KeyGenerationPolicy{ValiditySeconds: types.NoValidityWindow})
	require.NoError(t, l.Generate(alias, spec))
	require.Len(t, store.GenerateCalls, 1)

	ok, err := l.Exists(alias)
	require.NoError(t, err)
	assert.True(t, ok)

	// Generating again replaces the pair; it is not idempotent.
	require.NoError(t, l.Generate(alias, spec))
	assert.Len(t, store.GenerateCalls, 2)

	// Mismatched alias never reaches the store.
	err = l.Generate("other", spec)
	assert.ErrorIs(t, err, ErrKeyStoreFault)
	assert.Len(t, store.GenerateCalls, 2)
}

func TestGenerate_StoreFault(t *testing.T) {
	store := mocks.NewMockStore()
	store.GenerateFunc = func(types.GenerationSpec) error { return errors.New("secure hardware busy") }
	l := newLifecycle(t, store)

	err := l.Generate(alias, types.NewLegacySpec(alias, time.Now()))
	assert.ErrorIs(t, err, ErrKeyStoreFault)
	assert.Contains(t, err.Error(), "secure hardware busy")
}

func TestRetrieveForDecryption_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		storeErr error
		want     error
	}{
		{"Invalidated", keystore.ErrKeyInvalidated, ErrKeyInvalidated},
		{"Missing", keystore.ErrKeyNotFound, ErrKeyStoreFault},
		{"Busy", keystore.ErrKeyBusy, ErrKeyStoreFault},
		{"Other", errors.New("io"), ErrKeyStoreFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewMockStore()
			store.PrivateKeyFunc = func(types.KeyAlias) (keystore.PrivateKey, error) {
				return nil, fmt.Errorf("wrapped: %w", tt.storeErr)
			}
			l := newLifecycle(t, store)

			h, err := l.RetrieveForDecryption(alias)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.storeErr)
		})
	}
}

func TestRetrieve_RoundTrip(t *testing.T) {
	store := mocks.NewMockStore()
	l := newLifecycle(t, store)
	require.NoError(t, l.Generate(alias, types.NewLegacySpec(alias, time.Now())))

	enc, err := l.RetrieveForEncryption(alias)
	require.NoError(t, err)
	assert.Equal(t, cipher.ModeEncrypt, enc.Mode())

	ct, err := cipher.Encrypt(enc, []byte("payload"))
	require.NoError(t, err)

	dec, err := l.RetrieveForDecryption(alias)
	require.NoError(t, err)
	assert.Equal(t, cipher.ModeDecrypt, dec.Mode())
	assert.Equal(t, alias, dec.Alias())

	pt, err := cipher.Decrypt(dec, ct)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	// No caching: every retrieval asks the store.
	_, err = l.RetrieveForDecryption(alias)
	require.NoError(t, err)
	assert.Len(t, store.PrivateKeyCalls, 2)
}

func TestRetrieveForEncryption_Missing(t *testing.T) {
	l := newLifecycle(t, mocks.NewMockStore())
	_, err := l.RetrieveForEncryption(alias)
	assert.ErrorIs(t, err, ErrKeyStoreFault)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestInvalidate(t *testing.T) {
	store := mocks.NewMockStore()
	l := newLifecycle(t, store)

	// Missing key is fine.
	require.NoError(t, l.Invalidate(alias))

	require.NoError(t, l.Generate(alias, types.NewLegacySpec(alias, time.Now())))
	require.NoError(t, l.Invalidate(alias))
	ok, err := l.Exists(alias)
	require.NoError(t, err)
	assert.False(t, ok)

	store.DeleteFunc = func(types.KeyAlias) error { return errors.New("locked") }
	assert.ErrorIs(t, l.Invalidate(alias), ErrKeyStoreFault)
}

func TestEnsureKeyAndRotate(t *testing.T) {
	store := mocks.NewMockStore()
	l := newLifecycle(t, store)
	env := modernEnv()

	generated, err := l.EnsureKey(alias, env)
	require.NoError(t, err)
	assert.True(t, generated)

	spec := store.Spec(alias)
	require.NotNil(t, spec)
	assert.Equal(t, types.TierModern, spec.Tier())
	assert.True(t, spec.Policy().RequiresLiveAuthentication)
	assert.True(t, spec.Policy().InvalidateOnEnrollmentChange)

	generated, err = l.EnsureKey(alias, env)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Len(t, store.GenerateCalls, 1)

	// Rotation after losing the lock screen produces an ungated key.
	env.LockScreenSecure = false
	require.NoError(t, l.Rotate(alias, env))
	assert.Len(t, store.DeleteCalls, 1)
	assert.False(t, store.Spec(alias).Policy().RequiresLiveAuthentication)
}

func TestWithSoftwareStore_InvalidationAndRecovery(t *testing.T) {
	enrollment := &digest{value: []byte("a")}
	store, err := software.New(&software.Config{
		Storage:    storage.NewMemory(),
		KeySize:    1024,
		Enrollment: enrollment,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	defer store.Close()

	l := newLifecycle(t, store)
	_, err = l.EnsureKey(alias, modernEnv())
	require.NoError(t, err)

	h, err := l.RetrieveForDecryption(alias)
	require.NoError(t, err)

	// A second outstanding operation is rejected and reported as a fault.
	_, err = l.RetrieveForDecryption(alias)
	assert.ErrorIs(t, err, ErrKeyStoreFault)
	assert.ErrorIs(t, err, keystore.ErrKeyBusy)
	h.Release()

	enrollment.value = []byte("b")
	_, err = l.RetrieveForDecryption(alias)
	assert.ErrorIs(t, err, ErrKeyInvalidated)

	require.NoError(t, l.Rotate(alias, modernEnv()))
	h, err = l.RetrieveForDecryption(alias)
	require.NoError(t, err)
	h.Release()
}

type digest struct{ value []byte }

func (d *digest) EnrollmentDigest() ([]byte, error) { return d.value, nil }
