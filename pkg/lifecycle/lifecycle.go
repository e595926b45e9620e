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

// Package lifecycle manages the key pair behind an alias: generation under
// the policy chosen for the environment, retrieval as single-use cipher
// handles, detection of permanent invalidation and deliberate deletion.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
	"github.com/jeremyhahn/go-biokey/pkg/policy"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

var (
	// ErrKeyInvalidated is returned when the key under an alias has been
	// permanently invalidated and must be deleted and regenerated.
	ErrKeyInvalidated = errors.New("lifecycle: key invalidated")

	// ErrKeyStoreFault is returned for every other key store failure,
	// including a missing key and concurrent access rejection.
	ErrKeyStoreFault = errors.New("lifecycle: key store fault")
)

// Config contains configuration for a Lifecycle.
type Config struct {
	// Store is the secure key store. Required.
	Store keystore.Store

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger

	// Metrics enables Prometheus instrumentation.
	Metrics bool
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
	return nil
}

// Lifecycle drives a keystore.Store. It holds no key material: every
// retrieval goes back to the store.
type Lifecycle struct {
	store   keystore.Store
	logger  *logging.Logger
	metrics bool
}

// New creates a Lifecycle.
func New(config *Config) (*Lifecycle, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Lifecycle{
		store:   config.Store,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// Store returns the underlying key store.
func (l *Lifecycle) Store() keystore.Store {
	return l.store
}

// Generate asks the store for a new key pair under alias. It is not
// idempotent: an existing pair is replaced.
func (l *Lifecycle) Generate(alias types.KeyAlias, spec types.GenerationSpec) (err error) {
	defer l.observe("generate", time.Now(), &err)

	if spec == nil || spec.KeyAlias() != alias {
		return fmt.Errorf("%w: spec does not describe alias %q", ErrKeyStoreFault, alias)
	}
	if err := l.store.Generate(spec); err != nil {
		return fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	l.logger.Info("key generated", "alias", alias, "tier", spec.Tier().String(), "policy", spec.Policy().String())
	return nil
}

// Exists reports whether alias has a key pair.
func (l *Lifecycle) Exists(alias types.KeyAlias) (bool, error) {
	ok, err := l.store.Exists(alias)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	return ok, nil
}

// RetrieveForDecryption opens a private-key operation and returns a decrypt
// handle. For authentication-bound keys the handle is usable only after a
// successful scan authorizes its operation.
func (l *Lifecycle) RetrieveForDecryption(alias types.KeyAlias) (h *cipher.Handle, err error) {
	defer l.observe("retrieve_decrypt", time.Now(), &err)

	key, err := l.store.PrivateKey(alias)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyInvalidated) {
			l.logger.Warn("key permanently invalidated", "alias", alias)
			return nil, fmt.Errorf("%w: %w", ErrKeyInvalidated, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	h, err = cipher.NewDecryptHandle(alias, key)
	if err != nil {
		key.Release()
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	return h, nil
}

// RetrieveForEncryption returns an encrypt handle over the public key. It
// never requires authentication.
func (l *Lifecycle) RetrieveForEncryption(alias types.KeyAlias) (h *cipher.Handle, err error) {
	defer l.observe("retrieve_encrypt", time.Now(), &err)

	pub, err := l.store.PublicKey(alias)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	h, err = cipher.NewEncryptHandle(alias, pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	return h, nil
}

// Invalidate deletes the key pair. A missing key is not an error; any other
// failure is logged and returned but leaves the caller free to regenerate.
func (l *Lifecycle) Invalidate(alias types.KeyAlias) (err error) {
	defer l.observe("invalidate", time.Now(), &err)

	if err := l.store.Delete(alias); err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil
		}
		l.logger.Error(fmt.Errorf("failed to delete key %s: %w", alias, err))
		return fmt.Errorf("%w: %w", ErrKeyStoreFault, err)
	}
	l.logger.Info("key invalidated", "alias", alias)
	return nil
}

// EnsureKey generates a key under the policy for env when alias has none.
// It reports whether a key was generated.
func (l *Lifecycle) EnsureKey(alias types.KeyAlias, env types.EnvironmentFacts) (bool, error) {
	ok, err := l.Exists(alias)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := l.Generate(alias, policy.Spec(alias, env)); err != nil {
		return false, err
	}
	return true, nil
}

// Rotate replaces the key under alias with a fresh one generated under the
// policy for env. It is the recovery path after ErrKeyInvalidated.
func (l *Lifecycle) Rotate(alias types.KeyAlias, env types.EnvironmentFacts) error {
	if err := l.Invalidate(alias); err != nil {
		return err
	}
	return l.Generate(alias, policy.Spec(alias, env))
}

func (l *Lifecycle) observe(op string, start time.Time, errp *error) {
	if !l.metrics {
		return
	}
	metrics.RecordKeyOperation(op, time.Since(start), *errp)
}
