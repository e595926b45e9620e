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

// Package badger implements storage.Backend on an embedded Badger database.
package badger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/jeremyhahn/go-biokey/pkg/storage"
)

// Config configures the database.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps the database entirely in memory.
	InMemory bool

	// SyncWrites fsyncs every committed transaction.
	SyncWrites bool
}

// Backend is a Badger-backed storage.Backend.
type Backend struct {
	mu sync.RWMutex
	db *badger.DB
}

// New opens (or creates) the database described by cfg.
func New(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, fmt.Errorf("badger storage: directory cannot be empty")
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to open: %w", err)
	}
	return &Backend{db: db}, nil
}

// Get returns a copy of the value stored under key.
func (b *Backend) Get(key string) ([]byte, error) {
	var value []byte
	err := b.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, translate(key, err)
	}
	return value, nil
}

// Put stores value under key. Options are ignored.
func (b *Backend) Put(key string, value []byte, _ *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	err := b.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return translate(key, err)
}

// Delete removes key.
func (b *Backend) Delete(key string) error {
	err := b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	return translate(key, err)
}

// List returns the keys beginning with prefix. Badger iterates in byte order,
// so the result is sorted.
func (b *Backend) List(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := b.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, translate(prefix, err)
	}
	return keys, nil
}

// Exists reports whether key is present.
func (b *Backend) Exists(key string) (bool, error) {
	_, err := b.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Close closes the database. Closing twice is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("badger storage: failed to close: %w", err)
	}
	return nil
}

func (b *Backend) view(fn func(txn *badger.Txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return storage.ErrClosed
	}
	return b.db.View(fn)
}

func (b *Backend) update(fn func(txn *badger.Txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return storage.ErrClosed
	}
	return b.db.Update(fn)
}

func translate(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrClosed):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return storage.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return storage.ErrInvalidKey
	case errors.Is(err, badger.ErrDBClosed):
		return storage.ErrClosed
	default:
		return fmt.Errorf("badger storage: %q: %w", key, err)
	}
}
