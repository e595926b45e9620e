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

// Package cipher performs the single asymmetric construction go-biokey
// supports: RSA with PKCS#1 v1.5 encryption padding. Operations run through
// single-use handles bound to one key and one mode.
package cipher

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// PKCS1Overhead is the number of bytes PKCS#1 v1.5 padding consumes.
const PKCS1Overhead = 11

var (
	// ErrCipherFault is returned for every failed cipher operation.
	ErrCipherFault = errors.New("cipher: operation failed")

	// ErrHandleConsumed is returned, alongside ErrCipherFault, when a handle
	// is used a second time.
	ErrHandleConsumed = errors.New("cipher: handle already consumed")

	// ErrWrongMode is returned, alongside ErrCipherFault, when a handle is
	// used for the opposite operation.
	ErrWrongMode = errors.New("cipher: wrong handle mode")
)

// Mode is the operation a Handle is initialized for.
type Mode int

const (
	ModeEncrypt Mode = iota + 1
	ModeDecrypt
)

func (m Mode) String() string {
	switch m {
	case ModeEncrypt:
		return "encrypt"
	case ModeDecrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Handle is an initialized cipher bound to one key and one mode. It may be
// used for exactly one Encrypt or Decrypt.
type Handle struct {
	alias    types.KeyAlias
	mode     Mode
	public   *rsa.PublicKey
	private  keystore.PrivateKey
	consumed atomic.Bool
}

// NewEncryptHandle binds a public key for encryption.
func NewEncryptHandle(alias types.KeyAlias, pub *rsa.PublicKey) (*Handle, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: public key is nil", ErrCipherFault)
	}
	return &Handle{alias: alias, mode: ModeEncrypt, public: pub}, nil
}

// NewDecryptHandle binds a private-key operation for decryption. The handle
// takes ownership of key and releases it when consumed.
func NewDecryptHandle(alias types.KeyAlias, key keystore.PrivateKey) (*Handle, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: private key is nil", ErrCipherFault)
	}
	return &Handle{alias: alias, mode: ModeDecrypt, private: key}, nil
}

// Alias returns the key alias the handle is bound to.
func (h *Handle) Alias() types.KeyAlias { return h.alias }

// Mode returns the handle's mode.
func (h *Handle) Mode() Mode { return h.mode }

// OperationID returns the key-store operation a sensor must authorize
// before a gated decrypt handle can be used. Encrypt handles return zero.
func (h *Handle) OperationID() uint64 {
	if h.private == nil {
		return 0
	}
	return h.private.OperationID()
}

// MaxPlaintextSize returns the largest message Encrypt accepts, k-11 bytes.
func (h *Handle) MaxPlaintextSize() int {
	return h.size() - PKCS1Overhead
}

// Consumed reports whether the handle has been used or released.
func (h *Handle) Consumed() bool {
	return h.consumed.Load()
}

// Release spends the handle without using it.
func (h *Handle) Release() {
	if h == nil || h.consumed.Swap(true) {
		return
	}
	if h.private != nil {
		h.private.Release()
	}
}

func (h *Handle) size() int {
	if h.public != nil {
		return h.public.Size()
	}
	return h.private.Size()
}

func (h *Handle) consume(want Mode) error {
	if h == nil {
		return fmt.Errorf("%w: handle is nil", ErrCipherFault)
	}
	if h.mode != want {
		return fmt.Errorf("%w: %w: %s handle used to %s", ErrCipherFault, ErrWrongMode, h.mode, want)
	}
	if h.consumed.Swap(true) {
		return fmt.Errorf("%w: %w", ErrCipherFault, ErrHandleConsumed)
	}
	return nil
}

// Encrypt encrypts plaintext with RSA PKCS#1 v1.5. The handle is consumed
// even when the plaintext is too large.
func Encrypt(h *Handle, plaintext []byte) ([]byte, error) {
	if err := h.consume(ModeEncrypt); err != nil {
		return nil, err
	}
	if limit := h.MaxPlaintextSize(); len(plaintext) > limit {
		return nil, fmt.Errorf("%w: plaintext is %d bytes, limit is %d", ErrCipherFault, len(plaintext), limit)
	}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, h.public, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherFault, err)
	}
	return ciphertext, nil
}

// Decrypt decrypts ciphertext through the key store. An authentication-bound
// key that has not been authorized fails with an error matching both
// ErrCipherFault and keystore.ErrUserNotAuthenticated.
func Decrypt(h *Handle, ciphertext []byte) ([]byte, error) {
	if err := h.consume(ModeDecrypt); err != nil {
		return nil, err
	}
	defer h.private.Release()

	if len(ciphertext) != h.private.Size() {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, expected %d", ErrCipherFault, len(ciphertext), h.private.Size())
	}
	plaintext, err := h.private.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherFault, err)
	}
	return plaintext, nil
}

// EncryptString encrypts s and returns the ciphertext in standard base64.
func EncryptString(h *Handle, s string) (string, error) {
	ciphertext, err := Encrypt(h, []byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decodes standard base64 and decrypts the result.
func DecryptString(h *Handle, encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		h.Release()
		return "", fmt.Errorf("%w: invalid base64: %v", ErrCipherFault, err)
	}
	plaintext, err := Decrypt(h, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
