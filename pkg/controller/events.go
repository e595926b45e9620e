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

package controller

import (
	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/sensor"
	"github.com/jeremyhahn/go-biokey/pkg/session"
)

// sessionEvents receives the callbacks of one session. Callbacks from a
// session whose prompt was hidden are ignored.
type sessionEvents struct {
	c   *Controller
	gen uint64
}

var (
	_ session.Listener = (*sessionEvents)(nil)
	_ session.Observer = (*sessionEvents)(nil)
)

func (e *sessionEvents) OnScanFailed() {
	e.c.feedback(e.gen, FailedText, e.c.cfg.Delays.FailedReset)
}

func (e *sessionEvents) OnScanHelp(code sensor.HelpCode, message string) {
	if message == "" {
		message = code.Message()
	}
	e.c.feedback(e.gen, message, e.c.cfg.Delays.HelpReset)
}

func (e *sessionEvents) OnScanError(_ sensor.ErrorCode, message string) {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != e.gen {
		return
	}
	if message == "" {
		message = ErrorText
	}
	c.scanError = message
}

func (e *sessionEvents) OnSucceeded(h *cipher.Handle) {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != e.gen {
		h.Release()
		return
	}
	c.pending = h
	c.later(e.gen, c.cfg.Delays.SuccessForward, func() { c.deliver(e.gen) })
	c.render(View{
		Description: DescriptionText,
		Status:      SucceededText,
		Icon:        IconCheck,
		Tint:        TintGreen,
	})
}

// OnError shows a sensor error for a while before forwarding it. Errors
// raised before the scan are forwarded at once.
func (e *sessionEvents) OnError() {
	c := e.c
	c.mu.Lock()
	if c.gen != e.gen {
		c.mu.Unlock()
		return
	}
	msg := c.scanError
	if msg == "" {
		c.mu.Unlock()
		c.finish(e.gen, session.Listener.OnError)
		return
	}
	c.later(e.gen, c.cfg.Delays.ErrorForward, func() {
		c.finish(e.gen, session.Listener.OnError)
	})
	c.render(c.view.withStatus(msg, TintRed))
	c.mu.Unlock()
}

func (e *sessionEvents) OnFailed() {
	e.c.finish(e.gen, session.Listener.OnFailed)
}

func (e *sessionEvents) OnKeyInvalidated() {
	e.c.finish(e.gen, session.Listener.OnKeyInvalidated)
}

func (e *sessionEvents) OnPermissionNotGranted() {
	e.c.finish(e.gen, session.Listener.OnPermissionNotGranted)
}

func (e *sessionEvents) OnScannerNotAvailable() {
	e.c.finish(e.gen, session.Listener.OnScannerNotAvailable)
}

func (e *sessionEvents) OnNotConfiguredSecureLockScreen() {
	e.c.finish(e.gen, session.Listener.OnNotConfiguredSecureLockScreen)
}

func (e *sessionEvents) OnNotEnrolledFingerprints() {
	e.c.finish(e.gen, session.Listener.OnNotEnrolledFingerprints)
}

// deliver hands the pending handle to the caller, or releases it when
// nobody is listening.
func (c *Controller) deliver(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	h := c.pending
	c.pending = nil
	c.teardown()
	c.mu.Unlock()

	if c.cfg.Listener == nil {
		h.Release()
		return
	}
	c.cfg.Listener.OnSucceeded(h)
}
