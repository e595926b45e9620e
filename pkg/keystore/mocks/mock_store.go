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

package mocks

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// MockStore is a mock implementation of keystore.Store for testing. By
// default it generates real (small) RSA keys and hands out ungated private
// keys; each behavior can be replaced through the XxxFunc fields.
type MockStore struct {
	mu sync.Mutex

	keys   map[types.KeyAlias]*rsa.PrivateKey
	specs  map[types.KeyAlias]types.GenerationSpec
	nextID atomic.Uint64

	// Configurable behavior
	GenerateFunc   func(types.GenerationSpec) error
	ExistsFunc     func(types.KeyAlias) (bool, error)
	PrivateKeyFunc func(types.KeyAlias) (keystore.PrivateKey, error)
	PublicKeyFunc  func(types.KeyAlias) (*rsa.PublicKey, error)
	DeleteFunc     func(types.KeyAlias) error
	CloseFunc      func() error

	// Call tracking
	GenerateCalls   []types.GenerationSpec
	ExistsCalls     []types.KeyAlias
	PrivateKeyCalls []types.KeyAlias
	PublicKeyCalls  []types.KeyAlias
	DeleteCalls     []types.KeyAlias
	CloseCalls      int

	// KeySize of generated keys. Defaults to 1024.
	KeySize int
}

var _ keystore.Store = (*MockStore)(nil)

// NewMockStore creates a MockStore with default behavior.
func NewMockStore() *MockStore {
	return &MockStore{
		keys:    make(map[types.KeyAlias]*rsa.PrivateKey),
		specs:   make(map[types.KeyAlias]types.GenerationSpec),
		KeySize: 1024,
	}
}

// Generate records the call and creates a key pair.
func (m *MockStore) Generate(spec types.GenerationSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GenerateCalls = append(m.GenerateCalls, spec)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(spec)
	}
	if spec == nil || spec.Validate() != nil {
		return keystore.ErrInvalidSpec
	}

	key, err := rsa.GenerateKey(rand.Reader, m.KeySize)
	if err != nil {
		return err
	}
	m.keys[spec.KeyAlias()] = key
	m.specs[spec.KeyAlias()] = spec
	return nil
}

// Exists reports whether alias has a key.
func (m *MockStore) Exists(alias types.KeyAlias) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExistsCalls = append(m.ExistsCalls, alias)
	if m.ExistsFunc != nil {
		return m.ExistsFunc(alias)
	}
	_, ok := m.keys[alias]
	return ok, nil
}

// PrivateKey returns an ungated MockPrivateKey for alias.
func (m *MockStore) PrivateKey(alias types.KeyAlias) (keystore.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PrivateKeyCalls = append(m.PrivateKeyCalls, alias)
	if m.PrivateKeyFunc != nil {
		return m.PrivateKeyFunc(alias)
	}
	key, ok := m.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return &MockPrivateKey{Key: key, ID: m.nextID.Add(1)}, nil
}

// PublicKey returns the public half of alias.
func (m *MockStore) PublicKey(alias types.KeyAlias) (*rsa.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublicKeyCalls = append(m.PublicKeyCalls, alias)
	if m.PublicKeyFunc != nil {
		return m.PublicKeyFunc(alias)
	}
	key, ok := m.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return &key.PublicKey, nil
}

// Delete removes alias.
func (m *MockStore) Delete(alias types.KeyAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, alias)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(alias)
	}
	if _, ok := m.keys[alias]; !ok {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	delete(m.keys, alias)
	delete(m.specs, alias)
	return nil
}

// Close records the call.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Spec returns the GenerationSpec alias was last generated with.
func (m *MockStore) Spec(alias types.KeyAlias) types.GenerationSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.specs[alias]
}

// MockPrivateKey is a mock keystore.PrivateKey backed by a real RSA key.
type MockPrivateKey struct {
	Key *rsa.PrivateKey
	ID  uint64

	DecryptFunc func([]byte) ([]byte, error)

	mu           sync.Mutex
	DecryptCalls int
	Released     bool
}

var _ keystore.PrivateKey = (*MockPrivateKey)(nil)

// Decrypt decrypts with PKCS#1 v1.5 unless DecryptFunc is set.
func (k *MockPrivateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	k.mu.Lock()
	k.DecryptCalls++
	k.mu.Unlock()

	if k.DecryptFunc != nil {
		return k.DecryptFunc(ciphertext)
	}
	return rsa.DecryptPKCS1v15(nil, k.Key, ciphertext)
}

// OperationID returns ID.
func (k *MockPrivateKey) OperationID() uint64 { return k.ID }

// Size returns the modulus size in bytes.
func (k *MockPrivateKey) Size() int {
	if k.Key == nil {
		return 0
	}
	return k.Key.Size()
}

// Release marks the key released.
func (k *MockPrivateKey) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Released = true
}

// IsReleased reports whether Release was called.
func (k *MockPrivateKey) IsReleased() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Released
}
