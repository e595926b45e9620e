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

// Package virtual implements a software fingerprint sensor. It keeps a set
// of enrolled template IDs in storage, accepts scripted touches, locks out
// after repeated failures and authorizes key-store operations on a match.
// It also reports the environment facts a session checks before scanning.
package virtual

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/sensor"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

const (
	// DefaultLockoutAttempts is the number of failed touches that trigger a
	// lockout.
	DefaultLockoutAttempts = 5

	// DefaultLockoutWindow is how long it takes to regain one attempt.
	DefaultLockoutWindow = 30 * time.Second

	eventBuffer = 16
	saltSize    = 32
)

var (
	// ErrNoActiveScan is returned when touching the sensor while no scan
	// is running.
	ErrNoActiveScan = errors.New("virtual sensor: no active scan")

	// ErrInvalidTemplate is returned for an empty or malformed template ID.
	ErrInvalidTemplate = errors.New("virtual sensor: invalid template")

	// ErrAlreadyEnrolled is returned when enrolling a template twice.
	ErrAlreadyEnrolled = errors.New("virtual sensor: template already enrolled")

	// ErrNotEnrolled is returned when removing an unknown template.
	ErrNotEnrolled = errors.New("virtual sensor: template not enrolled")
)

// Config contains configuration for the virtual Sensor.
type Config struct {
	// Storage persists enrolled templates. Defaults to in-memory storage.
	Storage storage.Backend

	// Authorizer receives the operation ID of every matched scan.
	Authorizer keystore.OperationAuthorizer

	// Capabilities describes the platform key store.
	Capabilities types.Capabilities

	HardwareDetected  bool
	PermissionGranted bool
	LockScreenSecure  bool

	// LockoutAttempts failed touches lock the sensor. Defaults to
	// DefaultLockoutAttempts.
	LockoutAttempts int

	// LockoutWindow is the time to regain one attempt. Defaults to
	// DefaultLockoutWindow.
	LockoutWindow time.Duration

	// Clock defaults to the real clock.
	Clock quartz.Clock

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemory()
	}
	if c.LockoutAttempts == 0 {
		c.LockoutAttempts = DefaultLockoutAttempts
	}
	if c.LockoutAttempts < 1 {
		return fmt.Errorf("lockout attempts must be positive")
	}
	if c.LockoutWindow == 0 {
		c.LockoutWindow = DefaultLockoutWindow
	}
	if c.LockoutWindow < 0 {
		return fmt.Errorf("lockout window must be positive")
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
	return nil
}

// enrollmentRecord is the persisted template set. Salt is generated once
// per sensor and keys the enrollment digest.
type enrollmentRecord struct {
	Templates []string `cbor:"1,keyasint"`
	Salt      []byte   `cbor:"2,keyasint,omitempty"`
}

type scan struct {
	handle *cipher.Handle
	token  *sensor.CancelToken
	input  chan sensor.Event
	done   chan struct{}
}

// Sensor is a virtual fingerprint sensor. It implements sensor.Service,
// keystore.EnrollmentSource and the session's environment probe.
type Sensor struct {
	cfg     Config
	clock   quartz.Clock
	logger  *logging.Logger
	storage storage.Backend

	mu         sync.Mutex
	templates  map[string]struct{}
	salt       []byte
	limiter    *rate.Limiter
	active     *scan
	hardware   bool
	permission bool
	lockScreen bool
}

var (
	_ sensor.Service            = (*Sensor)(nil)
	_ keystore.EnrollmentSource = (*Sensor)(nil)
)

// New creates a sensor and loads any persisted enrollment.
func New(config *Config) (*Sensor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Sensor{
		cfg:        *config,
		clock:      config.Clock,
		logger:     config.Logger,
		storage:    config.Storage,
		templates:  make(map[string]struct{}),
		hardware:   config.HardwareDetected,
		permission: config.PermissionGranted,
		lockScreen: config.LockScreenSecure,
	}
	s.limiter = s.newLimiter()

	data, err := s.storage.Get(storage.EnrollmentPath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	default:
		var rec enrollmentRecord
		if err := cbor.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment: %w", err)
		}
		for _, id := range rec.Templates {
			s.templates[id] = struct{}{}
		}
		s.salt = rec.Salt
	}
	if len(s.salt) == 0 {
		s.salt = make([]byte, saltSize)
		if _, err := rand.Read(s.salt); err != nil {
			return nil, fmt.Errorf("failed to generate enrollment salt: %w", err)
		}
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetAuthorizer replaces the operation authorizer. The key store usually
// needs the sensor as its enrollment source, so one of the two is wired
// after construction.
func (s *Sensor) SetAuthorizer(a keystore.OperationAuthorizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Authorizer = a
}

// Enroll adds a template.
func (s *Sensor) Enroll(id string) error {
	if err := validateTemplate(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyEnrolled, id)
	}
	s.templates[id] = struct{}{}
	if err := s.persist(); err != nil {
		delete(s.templates, id)
		return err
	}
	s.logger.Info("fingerprint enrolled", "template", id)
	return nil
}

// Remove deletes a template.
func (s *Sensor) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotEnrolled, id)
	}
	delete(s.templates, id)
	if err := s.persist(); err != nil {
		s.templates[id] = struct{}{}
		return err
	}
	s.logger.Info("fingerprint removed", "template", id)
	return nil
}

// Templates returns the enrolled template IDs, sorted.
func (s *Sensor) Templates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTemplates()
}

// EnrollmentDigest is an HKDF-SHA256 extract of the enrolled template set
// under the sensor's salt. Any enrollment change changes the digest, and two
// sensors never share one.
func (s *Sensor) EnrollmentDigest() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hkdf.Extract(sha256.New, []byte(strings.Join(s.sortedTemplates(), "\x00")), s.salt), nil
}

// Facts samples the environment.
func (s *Sensor) Facts() types.EnvironmentFacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.EnvironmentFacts{
		Capabilities:         s.cfg.Capabilities,
		PermissionGranted:    s.permission,
		HardwareDetected:     s.hardware,
		LockScreenSecure:     s.lockScreen,
		FingerprintsEnrolled: len(s.templates) > 0,
	}
}

// SetHardwareDetected simulates attaching or removing the sensor.
func (s *Sensor) SetHardwareDetected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardware = v
}

// SetPermissionGranted simulates granting or revoking the permission.
func (s *Sensor) SetPermissionGranted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = v
}

// SetLockScreenSecure simulates configuring or removing the lock screen.
func (s *Sensor) SetLockScreenSecure(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockScreen = v
}

// LockedOut reports whether failed attempts have exhausted the limiter.
func (s *Sensor) LockedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedOut()
}

// Scanning reports whether a scan is running.
func (s *Sensor) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// StartScan implements sensor.Service.
func (s *Sensor) StartScan(ctx context.Context, handle *cipher.Handle, token *sensor.CancelToken) (<-chan sensor.Event, error) {
	if handle == nil || handle.Mode() != cipher.ModeDecrypt {
		return nil, sensor.ErrUnknownOperation
	}
	if token == nil {
		return nil, fmt.Errorf("virtual sensor: cancel token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A cancelled scan whose goroutine has not yet wound down does not block
	// a new one.
	if s.active != nil && !s.active.token.Cancelled() {
		return nil, sensor.ErrScanInProgress
	}

	out := make(chan sensor.Event, eventBuffer)
	switch {
	case !s.hardware:
		out <- sensor.NewError(sensor.ErrorHWUnavailable)
		close(out)
		return out, nil
	case s.lockedOut():
		out <- sensor.NewError(sensor.ErrorLockout)
		close(out)
		return out, nil
	}

	sc := &scan{
		handle: handle,
		token:  token,
		input:  make(chan sensor.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	s.active = sc
	go s.run(ctx, sc, out)

	s.logger.Debug("scan started", "alias", handle.Alias(), "op", handle.OperationID())
	return out, nil
}

// Touch presents template id to the running scan. An enrolled template
// authorizes the scan's operation and ends it with Succeeded; anything else
// counts as a failed attempt.
func (s *Sensor) Touch(id string) error {
	s.mu.Lock()
	sc := s.active
	if sc == nil {
		s.mu.Unlock()
		return ErrNoActiveScan
	}

	var ev sensor.Event
	now := s.clock.Now()
	_, enrolled := s.templates[id]
	switch {
	case s.lockedOut():
		ev = sensor.NewError(sensor.ErrorLockout)
	case enrolled:
		ev = s.authorize(sc)
	default:
		s.limiter.AllowN(now, 1)
		if s.lockedOut() {
			s.logger.Warn("fingerprint sensor locked out", "attempts", s.cfg.LockoutAttempts)
			ev = sensor.NewError(sensor.ErrorLockout)
		} else {
			ev = sensor.Failed{}
		}
	}
	if ev.Terminal() {
		s.active = nil
	}
	s.mu.Unlock()

	return s.deliver(sc, ev)
}

// Help reports a recoverable acquisition problem to the running scan.
func (s *Sensor) Help(code sensor.HelpCode) error {
	return s.Inject(sensor.NewHelp(code))
}

// PowerButton simulates the platform cancelling the scan on its own, as it
// does when the device goes to sleep.
func (s *Sensor) PowerButton() error {
	return s.Inject(sensor.NewError(sensor.ErrorCanceled))
}

// Inject delivers an arbitrary event to the running scan.
func (s *Sensor) Inject(ev sensor.Event) error {
	s.mu.Lock()
	sc := s.active
	if sc == nil {
		s.mu.Unlock()
		return ErrNoActiveScan
	}
	if ev.Terminal() {
		s.active = nil
	}
	s.mu.Unlock()

	return s.deliver(sc, ev)
}

// authorize hands the scan's operation to the key store. Callers hold mu.
func (s *Sensor) authorize(sc *scan) sensor.Event {
	if a := s.cfg.Authorizer; a != nil {
		if err := a.Authorize(sc.handle.OperationID()); err != nil {
			s.logger.Error(fmt.Errorf("failed to authorize operation: %w", err))
			return sensor.NewError(sensor.ErrorUnableToProcess)
		}
	}
	// A match restores the full attempt budget.
	s.limiter = s.newLimiter()
	return sensor.Succeeded{Result: sensor.Result{Handle: sc.handle}}
}

func (s *Sensor) deliver(sc *scan, ev sensor.Event) error {
	select {
	case sc.input <- ev:
		return nil
	case <-sc.done:
		return ErrNoActiveScan
	}
}

// run owns the scan's output channel.
func (s *Sensor) run(ctx context.Context, sc *scan, out chan<- sensor.Event) {
	defer close(out)
	defer s.finish(sc)

	for {
		select {
		case ev := <-sc.input:
			out <- ev
			if ev.Terminal() {
				return
			}
		case <-sc.token.Done():
			out <- sensor.NewError(sensor.ErrorCanceled)
			return
		case <-ctx.Done():
			out <- sensor.NewError(sensor.ErrorCanceled)
			return
		}
	}
}

func (s *Sensor) finish(sc *scan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sc {
		s.active = nil
	}
	close(sc.done)
}

func (s *Sensor) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(s.cfg.LockoutWindow), s.cfg.LockoutAttempts)
}

// lockedOut reports whether no attempt is left. Callers hold mu.
func (s *Sensor) lockedOut() bool {
	return s.limiter.TokensAt(s.clock.Now()) < 1
}

// persist writes the template set. Callers hold mu.
func (s *Sensor) persist() error {
	data, err := cbor.Marshal(enrollmentRecord{Templates: s.sortedTemplates(), Salt: s.salt})
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}
	if err := s.storage.Put(storage.EnrollmentPath, data, nil); err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

func (s *Sensor) sortedTemplates() []string {
	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateTemplate(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidTemplate, id)
	}
	return nil
}
