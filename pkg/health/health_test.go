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
	"fmt"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/mocks"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

type staticFacts types.EnvironmentFacts

func (f staticFacts) Facts() types.EnvironmentFacts { return types.EnvironmentFacts(f) }

func byName(results []CheckResult) map[string]CheckResult {
	m := make(map[string]CheckResult, len(results))
	for _, r := range results {
		m[r.Name] = r
	}
	return m
}

func TestChecker_RunsInRegistrationOrder(t *testing.T) {
	c := NewChecker(quartz.NewMock(t))
	c.Register("b", func(ctx context.Context) CheckResult { return healthy("", "ok") })
	c.Register("a", func(ctx context.Context) CheckResult { return degraded("a", "meh") })
	c.Register("nil", nil)
	c.Register("b", func(ctx context.Context) CheckResult { return unhealthy("", nil, "replaced") })

	assert.Equal(t, []string{"b", "a"}, c.Names())

	results := c.Run(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Name)
	assert.Equal(t, "replaced", results[0].Message)
	assert.Equal(t, StatusDegraded, results[1].Status)
}

func TestChecker_CancelledContext(t *testing.T) {
	c := NewChecker(nil)
	ran := false
	c.Register("x", func(ctx context.Context) CheckResult {
		ran = true
		return healthy("x", "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := c.Run(ctx)
	require.Len(t, results, 1)
	assert.False(t, ran)
	assert.Equal(t, StatusUnhealthy, results[0].Status)
	assert.Equal(t, context.Canceled.Error(), results[0].Error)
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []CheckResult{{Status: StatusHealthy}, {Status: StatusHealthy}}, StatusHealthy},
		{"degraded", []CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", []CheckResult{{Status: StatusDegraded}, {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.results))
		})
	}
}

func TestRegisterEnvironment(t *testing.T) {
	c := NewChecker(nil)
	RegisterEnvironment(c, staticFacts{HardwareDetected: true, LockScreenSecure: true})
	assert.Equal(t, []string{CheckPermission, CheckHardware, CheckLockScreen, CheckEnrollment}, c.Names())

	results := byName(c.Run(context.Background()))
	assert.Equal(t, StatusUnhealthy, results[CheckPermission].Status)
	assert.Equal(t, StatusHealthy, results[CheckHardware].Status)
	assert.Equal(t, StatusHealthy, results[CheckLockScreen].Status)
	assert.Equal(t, StatusDegraded, results[CheckEnrollment].Status)
}

func TestStorageCheck(t *testing.T) {
	mem := storage.NewMemory()
	assert.Equal(t, StatusHealthy, StorageCheck(mem)(context.Background()).Status)

	require.NoError(t, mem.Close())
	r := StorageCheck(mem)(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.NotEmpty(t, r.Error)
}

func TestKeyCheck(t *testing.T) {
	alias := types.KeyAlias("health")

	t.Run("Missing", func(t *testing.T) {
		r := KeyCheck(mocks.NewMockStore(), alias)(context.Background())
		assert.Equal(t, StatusDegraded, r.Status)
	})

	t.Run("UsableKeyIsReleased", func(t *testing.T) {
		store := mocks.NewMockStore()
		key := &mocks.MockPrivateKey{ID: 7}
		store.PrivateKeyFunc = func(types.KeyAlias) (keystore.PrivateKey, error) { return key, nil }

		r := KeyCheck(store, alias)(context.Background())
		assert.Equal(t, StatusHealthy, r.Status)
		assert.True(t, key.IsReleased())
	})

	errs := map[string]struct {
		err  error
		want Status
	}{
		"Invalidated": {fmt.Errorf("%w: health", keystore.ErrKeyInvalidated), StatusUnhealthy},
		"Busy":        {keystore.ErrKeyBusy, StatusDegraded},
		"Fault":       {errors.New("disk on fire"), StatusUnhealthy},
	}
	for name, tc := range errs {
		t.Run(name, func(t *testing.T) {
			store := mocks.NewMockStore()
			store.PrivateKeyFunc = func(types.KeyAlias) (keystore.PrivateKey, error) { return nil, tc.err }
			assert.Equal(t, tc.want, KeyCheck(store, alias)(context.Background()).Status)
		})
	}
}
