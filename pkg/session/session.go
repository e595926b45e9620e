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

// Package session drives one biometric authentication attempt: it checks the
// environment preconditions, opens a decrypt handle for the alias, runs a
// sensor scan and reduces the resulting events to exactly one listener
// notification.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/lifecycle"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
	"github.com/jeremyhahn/go-biokey/pkg/sensor"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

var (
	// ErrInvalidConfig is returned by New when a required dependency is
	// missing.
	ErrInvalidConfig = errors.New("session: invalid config")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")
)

// Session outcomes reported to metrics.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeError          = "error"
	OutcomeKeyInvalidated = "key_invalidated"
	OutcomeCancelled      = "cancelled"
	OutcomeAborted        = "aborted"
	OutcomeRejected       = "rejected"
)

// Config wires a session to its collaborators.
type Config struct {
	Keys        KeyRetriever
	Sensor      sensor.Service
	Environment EnvironmentProbe
	Listener    Listener

	// Observer receives failed and help events. Optional.
	Observer Observer

	Logger  *logging.Logger
	Metrics bool
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.Keys == nil {
		return fmt.Errorf("%w: key retriever is required", ErrInvalidConfig)
	}
	if c.Sensor == nil {
		return fmt.Errorf("%w: sensor is required", ErrInvalidConfig)
	}
	if c.Environment == nil {
		return fmt.Errorf("%w: environment probe is required", ErrInvalidConfig)
	}
	if c.Listener == nil {
		return fmt.Errorf("%w: listener is required", ErrInvalidConfig)
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
	return nil
}

// Session is a single-use authentication attempt. All methods are safe for
// concurrent use.
type Session struct {
	id     string
	cfg    *Config
	logger *logging.Logger

	// fb is held while Observer feedback is delivered, and by Stop and
	// Abort. It is taken before mu.
	fb sync.Mutex

	mu       sync.Mutex
	state    State
	alias    types.KeyAlias
	handle   *cipher.Handle
	token    *sensor.CancelToken
	notified bool
	started  bool // a scan is running and ActiveSessions was incremented

	done     chan struct{}
	doneOnce sync.Once
}

// New returns an idle session.
func New(config *Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    config,
		logger: config.Logger.With("session", id),
		state:  StateIdle,
		done:   make(chan struct{}),
	}, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has reached a terminal state and the
// sensor has released its event channel.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start runs the precondition checks in order (permission, hardware, lock
// screen, enrollment), retrieves the decrypt handle for alias and starts the
// scan. Outcomes are reported to the listener; the returned error is only
// for misuse.
func (s *Session) Start(ctx context.Context, alias types.KeyAlias) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.alias = alias
	s.logger.Debug("session starting", "alias", alias)

	if notify := s.checkPreconditions(s.cfg.Environment.Facts()); notify != nil {
		s.mu.Unlock()
		notify()
		s.closeDone()
		return nil
	}

	handle, err := s.cfg.Keys.RetrieveForDecryption(alias)
	if err != nil {
		notify := s.failBeforeScan(err)
		s.mu.Unlock()
		notify()
		s.closeDone()
		return nil
	}

	token := sensor.NewCancelToken()
	events, err := s.cfg.Sensor.StartScan(ctx, handle, token)
	if err != nil {
		handle.Release()
		notify := s.failBeforeScan(err)
		s.mu.Unlock()
		notify()
		s.closeDone()
		return nil
	}

	s.handle = handle
	s.token = token
	s.state = StateScanning
	s.started = true
	if s.cfg.Metrics {
		metrics.SessionStarted()
	}
	s.mu.Unlock()

	go s.reduce(events)
	return nil
}

// Stop cancels a running scan without notifying the listener. It is a no-op
// unless the session is scanning.
func (s *Session) Stop() {
	s.fb.Lock()
	defer s.fb.Unlock()
	s.mu.Lock()
	if !s.scanning() {
		s.mu.Unlock()
		return
	}
	s.logger.Debug("session stopped")
	s.cancelLocked(StateCancelled, OutcomeCancelled)
	s.mu.Unlock()
}

// Abort cancels a running scan and notifies the listener with OnFailed. It
// backs the cancel button of a prompt. It is a no-op unless the session is
// scanning.
func (s *Session) Abort() {
	s.fb.Lock()
	s.mu.Lock()
	if !s.scanning() {
		s.mu.Unlock()
		s.fb.Unlock()
		return
	}
	s.logger.Debug("session aborted")
	s.cancelLocked(StateCancelled, OutcomeAborted)
	notify := s.claim(s.cfg.Listener.OnFailed)
	s.mu.Unlock()
	s.fb.Unlock()
	notify()
}

// reduce is the only consumer of the sensor's event channel.
func (s *Session) reduce(events <-chan sensor.Event) {
	defer s.closeDone()
	for ev := range events {
		s.apply(ev)
	}

	s.mu.Lock()
	if !s.scanning() {
		s.mu.Unlock()
		return
	}
	// The sensor gave up without a terminal event.
	s.logger.Warn("sensor closed the scan without a result")
	s.endLocked(StateError, OutcomeError)
	notify := s.claim(s.cfg.Listener.OnError)
	s.mu.Unlock()
	notify()
}

func (s *Session) apply(ev sensor.Event) {
	s.mu.Lock()
	if !s.scanning() {
		s.mu.Unlock()
		s.logger.Debug("discarding late sensor event", "event", ev.Kind())
		return
	}
	if s.cfg.Metrics {
		metrics.RecordScanEvent(ev.Kind())
	}

	switch e := ev.(type) {
	case sensor.Succeeded:
		if e.Result.Handle == nil || e.Result.Handle != s.handle {
			s.logger.Warn("sensor reported success for a different handle")
			s.endLocked(StateError, OutcomeError)
			notify := s.claim(s.cfg.Listener.OnError)
			s.mu.Unlock()
			notify()
			return
		}
		handle := s.handle
		s.handle = nil
		s.endLocked(StateSucceeded, OutcomeSucceeded)
		notify := s.claim(func() { s.cfg.Listener.OnSucceeded(handle) })
		s.mu.Unlock()
		s.logger.Info("authentication succeeded", "alias", s.alias)
		notify()

	case sensor.Failed:
		s.state = StateFailed
		s.mu.Unlock()
		s.logger.Debug("fingerprint not recognized")
		s.feedback(func(o Observer) { o.OnScanFailed() })
		s.resume()

	case sensor.Help:
		s.state = StateFailed
		s.mu.Unlock()
		s.logger.Debug("sensor help", "code", e.Code.String())
		s.feedback(func(o Observer) { o.OnScanHelp(e.Code, e.Message) })
		s.resume()

	case sensor.Error:
		if e.Code == sensor.ErrorCanceled {
			// Cancelled by the platform, not by us. The session ends quietly.
			s.logger.Debug("scan cancelled by the platform")
			s.endLocked(StateCancelled, OutcomeCancelled)
			s.mu.Unlock()
			return
		}
		s.logger.Warn("sensor error", "code", e.Code.String(), "message", e.Message)
		s.endLocked(StateError, OutcomeError)
		notify := s.claim(s.cfg.Listener.OnError)
		s.mu.Unlock()
		if s.cfg.Observer != nil {
			s.cfg.Observer.OnScanError(e.Code, e.Message)
		}
		notify()

	default:
		s.mu.Unlock()
		s.logger.Warn("ignoring unknown sensor event", "event", ev.Kind())
	}
}

// feedback delivers non-terminal scan feedback unless the session left the
// Failed state meanwhile. Stop and Abort wait for a callback in flight.
func (s *Session) feedback(f func(Observer)) {
	if s.cfg.Observer == nil {
		return
	}
	s.fb.Lock()
	defer s.fb.Unlock()
	s.mu.Lock()
	live := s.state == StateFailed
	s.mu.Unlock()
	if live {
		f(s.cfg.Observer)
	}
}

// resume returns from the transient Failed state unless something else
// ended the session meanwhile.
func (s *Session) resume() {
	s.mu.Lock()
	if s.state == StateFailed {
		s.state = StateScanning
	}
	s.mu.Unlock()
}

// checkPreconditions must be called with mu held. It returns the
// notification to fire, or nil when every precondition holds.
func (s *Session) checkPreconditions(facts types.EnvironmentFacts) func() {
	var notify func()
	var reason string
	switch {
	case !facts.PermissionGranted:
		notify, reason = s.cfg.Listener.OnPermissionNotGranted, "permission not granted"
	case !facts.HardwareDetected:
		notify, reason = s.cfg.Listener.OnScannerNotAvailable, "scanner not available"
	case !facts.LockScreenSecure:
		notify, reason = s.cfg.Listener.OnNotConfiguredSecureLockScreen, "secure lock screen not configured"
	case !facts.FingerprintsEnrolled:
		notify, reason = s.cfg.Listener.OnNotEnrolledFingerprints, "no fingerprints enrolled"
	default:
		return nil
	}
	s.logger.Info("session rejected", "reason", reason)
	s.state = StateRejected
	s.record(OutcomeRejected)
	return s.claim(notify)
}

// failBeforeScan must be called with mu held.
func (s *Session) failBeforeScan(err error) func() {
	s.state = StateError
	if errors.Is(err, lifecycle.ErrKeyInvalidated) {
		s.logger.Warn("key invalidated", "alias", s.alias)
		s.record(OutcomeKeyInvalidated)
		return s.claim(s.cfg.Listener.OnKeyInvalidated)
	}
	s.logger.Error(err, "alias", s.alias)
	s.record(OutcomeError)
	return s.claim(s.cfg.Listener.OnError)
}

// cancelLocked triggers the cancel token and ends the session.
func (s *Session) cancelLocked(state State, outcome string) {
	if s.token != nil {
		s.token.Cancel()
	}
	s.endLocked(state, outcome)
}

// endLocked moves a scanning session to a terminal state, releasing a handle
// that was not handed to the listener.
func (s *Session) endLocked(state State, outcome string) {
	s.state = state
	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
	}
	if s.started {
		s.started = false
		if s.cfg.Metrics {
			metrics.SessionEnded()
		}
	}
	s.record(outcome)
}

// claim returns f the first time a notification is claimed and a no-op
// afterwards.
func (s *Session) claim(f func()) func() {
	if s.notified {
		return func() {}
	}
	s.notified = true
	return f
}

func (s *Session) scanning() bool {
	return s.state == StateScanning || s.state == StateFailed
}

func (s *Session) record(outcome string) {
	if s.cfg.Metrics {
		metrics.RecordSessionOutcome(outcome)
	}
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
