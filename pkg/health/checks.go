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

package health

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Check names, in the order a prompt evaluates its preconditions.
const (
	CheckStorage     = "storage"
	CheckPermission  = "permission"
	CheckHardware    = "hardware"
	CheckLockScreen  = "lock_screen"
	CheckEnrollment  = "enrollment"
	CheckKey         = "key"
	storageProbePath = "health/probe"
)

// FactsSource samples the environment facts.
type FactsSource interface {
	Facts() types.EnvironmentFacts
}

// StorageCheck verifies the backend answers lookups.
func StorageCheck(backend storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if _, err := backend.Exists(storageProbePath); err != nil {
			return unhealthy(CheckStorage, err, "storage backend is not responding")
		}
		return healthy(CheckStorage, "storage backend is responding")
	}
}

// RegisterEnvironment registers one check per prompt precondition. A missing
// permission or sensor is unhealthy; a missing lock screen or enrollment only
// means new keys are generated without fingerprint gating.
func RegisterEnvironment(c *Checker, src FactsSource) {
	c.Register(CheckPermission, func(ctx context.Context) CheckResult {
		if !src.Facts().PermissionGranted {
			return unhealthy(CheckPermission, nil, "permission to use the fingerprint sensor not granted")
		}
		return healthy(CheckPermission, "permission granted")
	})
	c.Register(CheckHardware, func(ctx context.Context) CheckResult {
		if !src.Facts().HardwareDetected {
			return unhealthy(CheckHardware, nil, "no fingerprint sensor detected")
		}
		return healthy(CheckHardware, "fingerprint sensor detected")
	})
	c.Register(CheckLockScreen, func(ctx context.Context) CheckResult {
		if !src.Facts().LockScreenSecure {
			return degraded(CheckLockScreen, "secure lock screen not configured")
		}
		return healthy(CheckLockScreen, "secure lock screen configured")
	})
	c.Register(CheckEnrollment, func(ctx context.Context) CheckResult {
		if !src.Facts().FingerprintsEnrolled {
			return degraded(CheckEnrollment, "no fingerprints enrolled")
		}
		return healthy(CheckEnrollment, "fingerprints enrolled")
	})
}

// KeyCheck opens and releases a private-key operation on alias, which
// surfaces a pending enrollment invalidation.
func KeyCheck(store keystore.Store, alias types.KeyAlias) CheckFunc {
	return func(ctx context.Context) CheckResult {
		key, err := store.PrivateKey(alias)
		switch {
		case err == nil:
			key.Release()
			return healthy(CheckKey, "key %s is usable", alias)
		case errors.Is(err, keystore.ErrKeyNotFound):
			return degraded(CheckKey, "no key under %s, one is generated on first use", alias)
		case errors.Is(err, keystore.ErrKeyInvalidated):
			return unhealthy(CheckKey, err, "key %s was invalidated by an enrollment change", alias)
		case errors.Is(err, keystore.ErrKeyBusy):
			return degraded(CheckKey, "key %s has an operation in progress", alias)
		default:
			return unhealthy(CheckKey, err, "key store fault")
		}
	}
}
