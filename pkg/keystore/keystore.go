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

// Package keystore defines the secure key store the key lifecycle talks to.
// The store owns key material: callers name keys by alias and receive
// operation handles, never raw private key bytes.
package keystore

import (
	"crypto/rsa"

	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Store generates, retrieves and deletes RSA key pairs by alias.
//
// Implementations must be safe for concurrent use. A store may reject a
// second outstanding private-key operation on the same alias with
// ErrKeyBusy.
type Store interface {
	// Generate creates a key pair under spec.KeyAlias(), replacing any
	// existing pair. Returns ErrInvalidSpec when spec is incomplete.
	Generate(spec types.GenerationSpec) error

	// Exists reports whether a key pair is stored under alias.
	Exists(alias types.KeyAlias) (bool, error)

	// PrivateKey begins a private-key operation. Returns ErrKeyNotFound,
	// ErrKeyInvalidated when the key was permanently invalidated, or
	// ErrKeyBusy when another operation on alias is outstanding.
	PrivateKey(alias types.KeyAlias) (PrivateKey, error)

	// PublicKey returns the public half of the pair. Public key use is
	// never gated on user authentication.
	PublicKey(alias types.KeyAlias) (*rsa.PublicKey, error)

	// Delete removes the pair. Returns ErrKeyNotFound when absent.
	Delete(alias types.KeyAlias) error

	// Close releases resources held by the store.
	Close() error
}

// PrivateKey is a single private-key operation. It is usable for one
// Decrypt; after that, or after Release, it is spent.
type PrivateKey interface {
	// Decrypt performs an RSA PKCS#1 v1.5 decryption. Returns
	// ErrUserNotAuthenticated when the key requires a live scan that has not
	// yet authorized this operation.
	Decrypt(ciphertext []byte) ([]byte, error)

	// OperationID identifies the operation to an OperationAuthorizer.
	OperationID() uint64

	// Size returns the modulus size in bytes.
	Size() int

	// Release ends the operation without using it. Safe to call repeatedly.
	Release()
}

// OperationAuthorizer accepts the authentication token a biometric sensor
// produces after a successful scan bound to an operation.
type OperationAuthorizer interface {
	Authorize(operationID uint64) error
}

// EnrollmentSource reports a digest of the currently enrolled biometric
// templates. Keys generated with enrollment invalidation remember the digest
// and become permanently invalid when it changes.
type EnrollmentSource interface {
	EnrollmentDigest() ([]byte, error)
}
