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

// Package file stores records as files below a root directory. Writes go to a
// temporary file that is renamed into place, so a crash never leaves a
// half-written private key behind.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-biokey/pkg/storage"
)

const (
	dirPerms   = 0700
	keyPerms   = 0600
	certPerms  = 0644
	otherPerms = 0600
)

// Backend is a directory-backed storage.Backend.
type Backend struct {
	mu      sync.RWMutex
	rootDir string
	closed  bool
}

// New creates rootDir if needed and returns a backend rooted there.
func New(rootDir string) (*Backend, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}
	if err := os.MkdirAll(rootDir, dirPerms); err != nil {
		return nil, fmt.Errorf("file storage: failed to create root directory: %w", err)
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("file storage: %w", err)
	}
	return &Backend{rootDir: abs}, nil
}

// Root returns the absolute root directory.
func (b *Backend) Root() string {
	return b.rootDir
}

// Get reads the file for key.
func (b *Backend) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: failed to read %q: %w", key, err)
	}
	return data, nil
}

// Put writes value for key. Permissions come from opts when set, otherwise
// private keys get 0600 and certificates 0644.
func (b *Backend) Put(key string, value []byte, opts *storage.Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("file storage: failed to create directory for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file storage: failed to write %q: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("file storage: failed to write %q: %w", key, err)
	}
	if err := tmp.Chmod(permissions(key, opts)); err != nil {
		tmp.Close()
		return fmt.Errorf("file storage: failed to set permissions on %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file storage: failed to write %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("file storage: failed to write %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: failed to delete %q: %w", key, err)
	}
	return nil
}

// List walks the root and returns the keys beginning with prefix, sorted.
// In-flight temporary files are skipped.
func (b *Backend) List(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(b.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether a file exists for key.
func (b *Backend) Exists(key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("file storage: failed to stat %q: %w", key, err)
	}
	return true, nil
}

// Close marks the backend closed. Files are left on disk.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// resolve maps key to an absolute path below the root. Callers hold mu.
func (b *Backend) resolve(key string) (string, error) {
	if b.closed {
		return "", storage.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidKey, err)
	}
	return filepath.Join(b.rootDir, filepath.FromSlash(key)), nil
}

// validateKey permits nested keys such as "keys/KEY_ALIAS.key" but rejects
// anything that could escape the root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("key contains null byte")
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return fmt.Errorf("key cannot be an absolute path")
	}
	for _, part := range strings.Split(filepath.ToSlash(key), "/") {
		if part == ".." {
			return fmt.Errorf("key contains path traversal")
		}
	}
	return nil
}

func permissions(key string, opts *storage.Options) fs.FileMode {
	if opts != nil && opts.Permissions != 0 {
		return opts.Permissions
	}
	switch {
	case strings.HasPrefix(key, "keys/"):
		return keyPerms
	case strings.HasPrefix(key, "certs/"):
		return certPerms
	default:
		return otherPerms
	}
}
