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

package session

import (
	"fmt"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/sensor"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// State is the position of a session in its state machine.
type State int

const (
	// StateIdle is a session that has not been started.
	StateIdle State = iota

	// StateScanning is a session waiting on the sensor.
	StateScanning

	// StateFailed is the transient state while a failed or help event is
	// being reported. It always returns to StateScanning.
	StateFailed

	// StateSucceeded is terminal: the handle was delivered to the listener.
	StateSucceeded

	// StateError is terminal: the listener received OnError or
	// OnKeyInvalidated.
	StateError

	// StateCancelled is terminal: the session was stopped, aborted or
	// cancelled by the platform.
	StateCancelled

	// StateRejected is terminal: a precondition failed and no scan was
	// attempted.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateFailed:
		return "failed"
	case StateSucceeded:
		return "succeeded"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateError, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// Listener receives the terminal notification of a session. At most one
// method is called per session, and none when the session is stopped.
type Listener interface {
	OnSucceeded(handle *cipher.Handle)
	OnFailed()
	OnError()
	OnKeyInvalidated()
	OnPermissionNotGranted()
	OnScannerNotAvailable()
	OnNotConfiguredSecureLockScreen()
	OnNotEnrolledFingerprints()
}

// Observer receives scan feedback that is not a terminal notification. It is
// optional. OnScanError precedes the OnError notification caused by a sensor
// error and carries the sensor's message. No feedback arrives after Stop or
// Abort returns, so its methods must not call either.
type Observer interface {
	OnScanFailed()
	OnScanHelp(code sensor.HelpCode, message string)
	OnScanError(code sensor.ErrorCode, message string)
}

// EnvironmentProbe samples the facts checked before a scan.
type EnvironmentProbe interface {
	Facts() types.EnvironmentFacts
}

// KeyRetriever opens the decrypt handle a scan authorizes.
// *lifecycle.Lifecycle implements it.
type KeyRetriever interface {
	RetrieveForDecryption(alias types.KeyAlias) (*cipher.Handle, error)
}

// ListenerFuncs adapts optional functions to Listener. Nil fields are
// ignored.
type ListenerFuncs struct {
	SucceededFunc                     func(*cipher.Handle)
	FailedFunc                        func()
	ErrorFunc                         func()
	KeyInvalidatedFunc                func()
	PermissionNotGrantedFunc          func()
	ScannerNotAvailableFunc           func()
	NotConfiguredSecureLockScreenFunc func()
	NotEnrolledFingerprintsFunc       func()
}

var _ Listener = ListenerFuncs{}

func (l ListenerFuncs) OnSucceeded(h *cipher.Handle) {
	if l.SucceededFunc != nil {
		l.SucceededFunc(h)
	}
}

func (l ListenerFuncs) OnFailed() { call(l.FailedFunc) }

func (l ListenerFuncs) OnError() { call(l.ErrorFunc) }

func (l ListenerFuncs) OnKeyInvalidated() { call(l.KeyInvalidatedFunc) }

func (l ListenerFuncs) OnPermissionNotGranted() { call(l.PermissionNotGrantedFunc) }

func (l ListenerFuncs) OnScannerNotAvailable() { call(l.ScannerNotAvailableFunc) }

func (l ListenerFuncs) OnNotConfiguredSecureLockScreen() {
	call(l.NotConfiguredSecureLockScreenFunc)
}

func (l ListenerFuncs) OnNotEnrolledFingerprints() { call(l.NotEnrolledFingerprintsFunc) }

func call(f func()) {
	if f != nil {
		f()
	}
}
