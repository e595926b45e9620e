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

// Package controller owns the authentication prompt: it runs one session
// per visible prompt, turns scan feedback into view updates with cool-down
// resets, and forwards the terminal outcome to the caller.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/sensor"
	"github.com/jeremyhahn/go-biokey/pkg/session"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Config contains configuration for a Controller.
type Config struct {
	// Alias is the key the prompt unlocks. Defaults to types.DefaultKeyAlias.
	Alias types.KeyAlias

	Keys        session.KeyRetriever
	Sensor      sensor.Service
	Environment session.EnvironmentProbe
	Presenter   Presenter

	// Listener receives the outcome. When nil the prompt is only dismissed.
	Listener session.Listener

	Delays Delays

	// Clock drives the cool-down timers. Defaults to the real clock.
	Clock quartz.Clock

	Logger  *logging.Logger
	Metrics bool
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Alias == "" {
		c.Alias = types.DefaultKeyAlias
	}
	if err := c.Alias.Validate(); err != nil {
		return err
	}
	if c.Keys == nil {
		return fmt.Errorf("key retriever is required")
	}
	if c.Sensor == nil {
		return fmt.Errorf("sensor is required")
	}
	if c.Environment == nil {
		return fmt.Errorf("environment probe is required")
	}
	if c.Presenter == nil {
		return fmt.Errorf("presenter is required")
	}
	c.Delays.setDefaults()
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
	return nil
}

// Controller drives one prompt at a time.
//
// Thread-safe: Yes.
type Controller struct {
	cfg    *Config
	logger *logging.Logger

	mu      sync.Mutex
	gen     uint64
	session *session.Session
	visible bool
	view    View

	// reset restores the idle view. There is only one: the latest failed or
	// help event wins.
	reset *quartz.Timer

	forward   *quartz.Timer
	pending   *cipher.Handle
	scanError string
}

// New creates a Controller.
func New(config *Config) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Controller{
		cfg:    config,
		logger: config.Logger.With("alias", config.Alias),
		view:   IdleView(),
	}, nil
}

// View returns what the prompt currently shows.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Visible reports whether the prompt is showing.
func (c *Controller) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Session returns the session of the current or last prompt, or nil.
func (c *Controller) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Show displays the prompt and starts a new session. It does nothing while a
// prompt is already showing.
func (c *Controller) Show(ctx context.Context) error {
	c.mu.Lock()
	if c.visible {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	events := &sessionEvents{c: c, gen: gen}
	s, err := session.New(&session.Config{
		Keys:        c.cfg.Keys,
		Sensor:      c.cfg.Sensor,
		Environment: c.cfg.Environment,
		Listener:    events,
		Observer:    events,
		Logger:      c.cfg.Logger,
		Metrics:     c.cfg.Metrics,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.session = s
	c.visible = true
	c.scanError = ""
	c.render(IdleView())
	c.mu.Unlock()

	c.logger.Debug("prompt shown", "session", s.ID())
	return s.Start(ctx, c.cfg.Alias)
}

// Hide stops the session without notifying the caller and dismisses the
// prompt. A handle awaiting delivery is released.
func (c *Controller) Hide() {
	c.mu.Lock()
	s := c.session
	wasVisible := c.visible
	c.teardown()
	c.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	if wasVisible {
		c.logger.Debug("prompt hidden")
	}
}

// Cancel is the prompt's cancel button: the caller receives OnFailed and the
// prompt is dismissed.
func (c *Controller) Cancel() {
	c.mu.Lock()
	s := c.session
	visible := c.visible
	c.mu.Unlock()
	if !visible {
		return
	}

	if s != nil {
		switch s.State() {
		case session.StateScanning, session.StateFailed:
			// The session reports OnFailed back through sessionEvents.
			s.Abort()
			return
		}
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.finish(gen, session.Listener.OnFailed)
}

// render must be called with mu held.
func (c *Controller) render(v View) {
	c.view = v
	c.cfg.Presenter.Render(v)
}

// teardown stops the timers, releases an undelivered handle and dismisses a
// visible prompt. It must be called with mu held.
func (c *Controller) teardown() {
	c.gen++
	if c.reset != nil {
		c.reset.Stop()
		c.reset = nil
	}
	if c.forward != nil {
		c.forward.Stop()
		c.forward = nil
	}
	if c.pending != nil {
		c.pending.Release()
		c.pending = nil
	}
	if c.visible {
		c.visible = false
		c.cfg.Presenter.Dismiss()
	}
}

// finish dismisses the prompt of generation gen and forwards the outcome.
func (c *Controller) finish(gen uint64, notify func(session.Listener)) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.teardown()
	c.mu.Unlock()

	if c.cfg.Listener != nil {
		notify(c.cfg.Listener)
	}
}

// feedback shows a transient status and schedules the idle view.
func (c *Controller) feedback(gen uint64, status string, after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if c.reset != nil {
		c.reset.Stop()
	}
	c.reset = c.cfg.Clock.AfterFunc(after, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		c.reset = nil
		c.render(IdleView())
	}, "controller", "reset")
	c.render(c.view.withStatus(status, TintRed))
}

// later runs f after d unless the prompt is torn down first. It must be
// called with mu held.
func (c *Controller) later(gen uint64, d time.Duration, f func()) {
	if c.reset != nil {
		c.reset.Stop()
		c.reset = nil
	}
	c.forward = c.cfg.Clock.AfterFunc(d, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.forward = nil
		c.mu.Unlock()
		f()
	}, "controller", "forward")
}
