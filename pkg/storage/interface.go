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

// Package storage provides the key-value persistence used by the software key
// store and the virtual sensor. It supports in-memory, file and badger
// implementations behind a common interface.
package storage

import (
	"io/fs"
)

// Backend persists the records of a biokey installation: the PKCS#8 key,
// certificate and metadata of each alias, and the virtual sensor's enrolled
// templates. Paths are built with KeyPath, CertPath, MetaPath and
// EnrollmentPath. Implementations are safe for concurrent use.
type Backend interface {
	// Get returns the record at path, or ErrNotFound.
	Get(path string) ([]byte, error)

	// Put writes the record at path, replacing an existing one. A key
	// regenerated under the same alias overwrites all three of its records.
	Put(path string, value []byte, opts *Options) error

	// Delete removes the record at path, or returns ErrNotFound.
	Delete(path string) error

	// List returns the paths under prefix. The key store lists "keys/" to
	// enumerate aliases.
	List(prefix string) ([]string, error)

	// Exists reports whether a record is stored at path.
	Exists(path string) (bool, error)

	// Close flushes and releases the backend. The key store and sensor must
	// not use it afterwards.
	Close() error
}

// Options tunes a single Put.
type Options struct {
	// Permissions of the file written by the file backend. Other backends
	// ignore it.
	Permissions fs.FileMode
}

// DefaultOptions returns Options that keep key material readable by the
// owner only.
func DefaultOptions() *Options {
	return &Options{
		Permissions: 0600,
	}
}
