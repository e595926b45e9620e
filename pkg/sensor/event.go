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

package sensor

import (
	"fmt"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
)

// Event is one report from a running scan. The concrete type is one of
// Succeeded, Failed, Help or Error.
type Event interface {
	// Kind names the event for logs and metrics.
	Kind() string

	// Terminal reports whether the scan ends with this event.
	Terminal() bool
}

// Result is carried by a successful scan.
type Result struct {
	// Handle is the cipher handle the scan was started with, now authorized.
	Handle *cipher.Handle
}

// Succeeded reports a recognized fingerprint.
type Succeeded struct {
	Result Result
}

// Failed reports a readable fingerprint that is not enrolled. The scan
// keeps running.
type Failed struct{}

// Help reports a recoverable read problem. The scan keeps running.
type Help struct {
	Code    HelpCode
	Message string
}

// Error reports the end of a scan.
type Error struct {
	Code    ErrorCode
	Message string
}

func (Succeeded) Kind() string { return "succeeded" }
func (Failed) Kind() string    { return "failed" }
func (Help) Kind() string      { return "help" }
func (Error) Kind() string     { return "error" }

func (Succeeded) Terminal() bool { return true }
func (Failed) Terminal() bool    { return false }
func (Help) Terminal() bool      { return false }
func (Error) Terminal() bool     { return true }

func (e Error) String() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode values match the platform fingerprint error codes so events can
// be logged and compared against platform documentation.
type ErrorCode int

const (
	ErrorHWUnavailable    ErrorCode = 1
	ErrorUnableToProcess  ErrorCode = 2
	ErrorTimeout          ErrorCode = 3
	ErrorNoSpace          ErrorCode = 4
	ErrorCanceled         ErrorCode = 5
	ErrorLockout          ErrorCode = 7
	ErrorVendor           ErrorCode = 8
	ErrorLockoutPermanent ErrorCode = 9
	ErrorUserCanceled     ErrorCode = 10
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorHWUnavailable:
		return "hw_unavailable"
	case ErrorUnableToProcess:
		return "unable_to_process"
	case ErrorTimeout:
		return "timeout"
	case ErrorNoSpace:
		return "no_space"
	case ErrorCanceled:
		return "canceled"
	case ErrorLockout:
		return "lockout"
	case ErrorVendor:
		return "vendor"
	case ErrorLockoutPermanent:
		return "lockout_permanent"
	case ErrorUserCanceled:
		return "user_canceled"
	default:
		return fmt.Sprintf("error(%d)", int(c))
	}
}

// Message returns the default user-facing text for c.
func (c ErrorCode) Message() string {
	switch c {
	case ErrorHWUnavailable:
		return "Fingerprint hardware not available."
	case ErrorUnableToProcess:
		return "Unable to process fingerprint. Try again."
	case ErrorTimeout:
		return "Fingerprint time out reached."
	case ErrorNoSpace:
		return "Fingerprint can't be stored."
	case ErrorCanceled:
		return "Fingerprint operation canceled."
	case ErrorLockout:
		return "Too many attempts. Try again later."
	case ErrorLockoutPermanent:
		return "Too many attempts. Fingerprint sensor disabled."
	case ErrorUserCanceled:
		return "Fingerprint operation canceled by user."
	default:
		return ""
	}
}

// HelpCode values match the platform fingerprint acquisition codes.
type HelpCode int

const (
	HelpPartial      HelpCode = 1
	HelpInsufficient HelpCode = 2
	HelpImagerDirty  HelpCode = 3
	HelpTooSlow      HelpCode = 4
	HelpTooFast      HelpCode = 5
)

func (c HelpCode) String() string {
	switch c {
	case HelpPartial:
		return "partial"
	case HelpInsufficient:
		return "insufficient"
	case HelpImagerDirty:
		return "imager_dirty"
	case HelpTooSlow:
		return "too_slow"
	case HelpTooFast:
		return "too_fast"
	default:
		return fmt.Sprintf("help(%d)", int(c))
	}
}

// Message returns the default user-facing text for c.
func (c HelpCode) Message() string {
	switch c {
	case HelpPartial:
		return "Only partial fingerprint detected. Please try again."
	case HelpInsufficient:
		return "Couldn't process fingerprint. Please try again."
	case HelpImagerDirty:
		return "Fingerprint sensor is dirty. Please clean and try again."
	case HelpTooSlow:
		return "Finger moved too slow. Please try again."
	case HelpTooFast:
		return "Finger moved too fast. Please try again."
	default:
		return ""
	}
}

// NewError returns an Error event with the default message for code.
func NewError(code ErrorCode) Error {
	return Error{Code: code, Message: code.Message()}
}

// NewHelp returns a Help event with the default message for code.
func NewHelp(code HelpCode) Help {
	return Help{Code: code, Message: code.Message()}
}
