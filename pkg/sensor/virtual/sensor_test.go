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

package virtual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/mocks"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/sensor"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingAuthorizer struct {
	ids []uint64
	err error
}

func (r *recordingAuthorizer) Authorize(id uint64) error {
	r.ids = append(r.ids, id)
	return r.err
}

func newSensor(t *testing.T, mutate ...func(*Config)) *Sensor {
	t.Helper()
	cfg := &Config{
		HardwareDetected:  true,
		PermissionGranted: true,
		LockScreenSecure:  true,
		Capabilities:      types.Capabilities{Tier: types.TierModern, EnrollmentInvalidation: true},
		Logger:            logging.Discard(),
	}
	for _, m := range mutate {
		m(cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func decryptHandle(t *testing.T, id uint64) *cipher.Handle {
	t.Helper()
	h, err := cipher.NewDecryptHandle("KEY_ALIAS", &mocks.MockPrivateKey{ID: id})
	require.NoError(t, err)
	return h
}

func next(t *testing.T, ch <-chan sensor.Event) sensor.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func requireClosed(t *testing.T, ch <-chan sensor.Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "unexpected event %#v", ev)
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestEnrollment(t *testing.T) {
	backend := storage.NewMemory()
	s := newSensor(t, func(c *Config) { c.Storage = backend })

	assert.False(t, s.Facts().FingerprintsEnrolled)
	empty, err := s.EnrollmentDigest()
	require.NoError(t, err)

	require.NoError(t, s.Enroll("right-thumb"))
	require.NoError(t, s.Enroll("left-index"))
	assert.ErrorIs(t, s.Enroll("right-thumb"), ErrAlreadyEnrolled)
	assert.ErrorIs(t, s.Enroll(" "), ErrInvalidTemplate)
	assert.Equal(t, []string{"left-index", "right-thumb"}, s.Templates())
	assert.True(t, s.Facts().FingerprintsEnrolled)

	two, err := s.EnrollmentDigest()
	require.NoError(t, err)
	assert.NotEqual(t, empty, two)

	// Enrollment survives a restart.
	reloaded := newSensor(t, func(c *Config) { c.Storage = backend })
	assert.Equal(t, s.Templates(), reloaded.Templates())
	same, err := reloaded.EnrollmentDigest()
	require.NoError(t, err)
	assert.Equal(t, two, same)

	require.NoError(t, s.Remove("left-index"))
	assert.ErrorIs(t, s.Remove("left-index"), ErrNotEnrolled)
	one, err := s.EnrollmentDigest()
	require.NoError(t, err)
	assert.NotEqual(t, two, one)
}

func TestEnrollmentDigest_SaltedPerSensor(t *testing.T) {
	a := newSensor(t)
	b := newSensor(t)
	require.NoError(t, a.Enroll("left-index"))
	require.NoError(t, b.Enroll("left-index"))

	da, err := a.EnrollmentDigest()
	require.NoError(t, err)
	db, err := b.EnrollmentDigest()
	require.NoError(t, err)
	assert.Len(t, da, 32)
	assert.NotEqual(t, da, db)
}

func TestFacts(t *testing.T) {
	s := newSensor(t)
	f := s.Facts()
	assert.True(t, f.PermissionGranted)
	assert.True(t, f.HardwareDetected)
	assert.True(t, f.LockScreenSecure)
	assert.Equal(t, types.TierModern, f.Capabilities.Tier)

	s.SetPermissionGranted(false)
	s.SetHardwareDetected(false)
	s.SetLockScreenSecure(false)
	f = s.Facts()
	assert.False(t, f.PermissionGranted)
	assert.False(t, f.HardwareDetected)
	assert.False(t, f.LockScreenSecure)
}

func TestStartScan_Validation(t *testing.T) {
	s := newSensor(t)
	ctx := context.Background()

	_, err := s.StartScan(ctx, nil, sensor.NewCancelToken())
	assert.ErrorIs(t, err, sensor.ErrUnknownOperation)

	token := sensor.NewCancelToken()
	ch, err := s.StartScan(ctx, decryptHandle(t, 1), token)
	require.NoError(t, err)

	_, err = s.StartScan(ctx, decryptHandle(t, 2), sensor.NewCancelToken())
	assert.ErrorIs(t, err, sensor.ErrScanInProgress)

	token.Cancel()
	ev := next(t, ch)
	assert.Equal(t, sensor.ErrorCanceled, ev.(sensor.Error).Code)
	requireClosed(t, ch)
}

func TestTouch_MatchAuthorizes(t *testing.T) {
	auth := &recordingAuthorizer{}
	s := newSensor(t, func(c *Config) { c.Authorizer = auth })
	require.NoError(t, s.Enroll("thumb"))

	assert.ErrorIs(t, s.Touch("thumb"), ErrNoActiveScan)

	h := decryptHandle(t, 77)
	ch, err := s.StartScan(context.Background(), h, sensor.NewCancelToken())
	require.NoError(t, err)
	assert.True(t, s.Scanning())

	require.NoError(t, s.Touch("stranger"))
	assert.IsType(t, sensor.Failed{}, next(t, ch))

	require.NoError(t, s.Help(sensor.HelpTooFast))
	help := next(t, ch).(sensor.Help)
	assert.Equal(t, sensor.HelpTooFast, help.Code)
	assert.NotEmpty(t, help.Message)

	require.NoError(t, s.Touch("thumb"))
	ok := next(t, ch).(sensor.Succeeded)
	assert.Same(t, h, ok.Result.Handle)
	requireClosed(t, ch)

	assert.Equal(t, []uint64{77}, auth.ids)
	assert.False(t, s.Scanning())
}

func TestTouch_AuthorizationFailure(t *testing.T) {
	auth := &recordingAuthorizer{err: errors.New("unknown op")}
	s := newSensor(t, func(c *Config) { c.Authorizer = auth })
	require.NoError(t, s.Enroll("thumb"))

	ch, err := s.StartScan(context.Background(), decryptHandle(t, 5), sensor.NewCancelToken())
	require.NoError(t, err)
	require.NoError(t, s.Touch("thumb"))

	ev := next(t, ch).(sensor.Error)
	assert.Equal(t, sensor.ErrorUnableToProcess, ev.Code)
	requireClosed(t, ch)
}

func TestLockout(t *testing.T) {
	clock := quartz.NewMock(t)
	s := newSensor(t, func(c *Config) {
		c.Clock = clock
		c.LockoutAttempts = 3
		c.LockoutWindow = 30 * time.Second
	})
	require.NoError(t, s.Enroll("thumb"))

	ch, err := s.StartScan(context.Background(), decryptHandle(t, 1), sensor.NewCancelToken())
	require.NoError(t, err)

	require.NoError(t, s.Touch("x"))
	assert.IsType(t, sensor.Failed{}, next(t, ch))
	require.NoError(t, s.Touch("x"))
	assert.IsType(t, sensor.Failed{}, next(t, ch))
	require.NoError(t, s.Touch("x"))
	ev := next(t, ch).(sensor.Error)
	assert.Equal(t, sensor.ErrorLockout, ev.Code)
	requireClosed(t, ch)
	assert.True(t, s.LockedOut())

	// While locked out a new scan ends immediately.
	ch, err = s.StartScan(context.Background(), decryptHandle(t, 2), sensor.NewCancelToken())
	require.NoError(t, err)
	assert.Equal(t, sensor.ErrorLockout, next(t, ch).(sensor.Error).Code)
	requireClosed(t, ch)

	// One window later an attempt is available again.
	clock.Advance(30 * time.Second)
	assert.False(t, s.LockedOut())

	ch, err = s.StartScan(context.Background(), decryptHandle(t, 3), sensor.NewCancelToken())
	require.NoError(t, err)
	require.NoError(t, s.Touch("thumb"))
	assert.IsType(t, sensor.Succeeded{}, next(t, ch))
	requireClosed(t, ch)
}

func TestNoHardware(t *testing.T) {
	s := newSensor(t, func(c *Config) { c.HardwareDetected = false })
	ch, err := s.StartScan(context.Background(), decryptHandle(t, 1), sensor.NewCancelToken())
	require.NoError(t, err)
	assert.Equal(t, sensor.ErrorHWUnavailable, next(t, ch).(sensor.Error).Code)
	requireClosed(t, ch)
}

func TestPowerButtonAndContext(t *testing.T) {
	s := newSensor(t)

	ch, err := s.StartScan(context.Background(), decryptHandle(t, 1), sensor.NewCancelToken())
	require.NoError(t, err)
	require.NoError(t, s.PowerButton())
	assert.Equal(t, sensor.ErrorCanceled, next(t, ch).(sensor.Error).Code)
	requireClosed(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err = s.StartScan(ctx, decryptHandle(t, 2), sensor.NewCancelToken())
	require.NoError(t, err)
	cancel()
	assert.Equal(t, sensor.ErrorCanceled, next(t, ch).(sensor.Error).Code)
	requireClosed(t, ch)
}

func TestCancelToken(t *testing.T) {
	token := sensor.NewCancelToken()
	assert.False(t, token.Cancelled())
	token.Cancel()
	token.Cancel()
	assert.True(t, token.Cancelled())
	<-token.Done()
}
