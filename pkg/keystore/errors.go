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

package keystore

import "errors"

var (
	// ErrKeyNotFound is returned when no key pair exists for an alias.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrKeyInvalidated is returned when a key was permanently invalidated,
	// for example by a change to the enrolled fingerprints.
	ErrKeyInvalidated = errors.New("keystore: key permanently invalidated")

	// ErrKeyBusy is returned when another private-key operation on the same
	// alias has not been released.
	ErrKeyBusy = errors.New("keystore: key busy")

	// ErrUserNotAuthenticated is returned when an authentication-bound key is
	// used before a successful scan authorized the operation.
	ErrUserNotAuthenticated = errors.New("keystore: user not authenticated")

	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("keystore: store closed")

	// ErrInvalidSpec is returned when a generation spec is incomplete or
	// requests an unsupported construction.
	ErrInvalidSpec = errors.New("keystore: invalid generation spec")

	// ErrInvalidOperation is returned when authorizing or using an operation
	// that does not exist or has already been spent.
	ErrInvalidOperation = errors.New("keystore: invalid operation")
)
