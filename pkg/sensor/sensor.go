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

// Package sensor defines the biometric sensor service an authentication
// session drives: a scan bound to a cipher handle, cancellable through a
// token, reporting a fixed set of events.
package sensor

import (
	"context"
	"errors"
	"sync"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
)

var (
	// ErrScanInProgress is returned when a scan is started while another is
	// still running.
	ErrScanInProgress = errors.New("sensor: scan already in progress")

	// ErrUnknownOperation is returned when a scan is started without a decrypt
	// handle to authorize.
	ErrUnknownOperation = errors.New("sensor: unknown operation")
)

// Service starts biometric scans.
type Service interface {
	// StartScan arms the sensor for handle. Events are delivered on the
	// returned channel, which the sensor closes after a terminal event
	// (Succeeded or Error). Cancelling token ends the scan with an Error
	// carrying ErrorCanceled. Callers must drain the channel until it is
	// closed.
	StartScan(ctx context.Context, handle *cipher.Handle, token *CancelToken) (<-chan Event, error)
}

// CancelToken signals a running scan to stop. It is safe for concurrent use
// and may be cancelled more than once.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an untriggered token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel triggers the token.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done is closed once the token is triggered.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the token has been triggered.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
