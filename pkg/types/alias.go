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

// Package types contains the shared type definitions used across go-biokey:
// key aliases, platform capabilities, environment facts, key generation
// policies and the tagged generation specs handed to the secure key store.
// This package has no dependencies on other go-biokey packages to prevent
// import cycles.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultKeyAlias is the alias used when no alias is configured.
const DefaultKeyAlias KeyAlias = "KEY_ALIAS"

var (
	// ErrInvalidAlias is returned when a key alias is empty or malformed.
	ErrInvalidAlias = errors.New("types: invalid key alias")
)

// KeyAlias names one key-pair slot in the secure key store.
type KeyAlias string

// String returns the alias as a plain string.
func (a KeyAlias) String() string {
	return string(a)
}

// Validate checks that the alias can be used as a storage identifier.
func (a KeyAlias) Validate() error {
	s := string(a)
	if s == "" {
		return fmt.Errorf("%w: alias cannot be empty", ErrInvalidAlias)
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator or null byte", ErrInvalidAlias, s)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAlias, s)
	}
	return nil
}
