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

package storage

import (
	"sort"
	"strings"
)

// Storage layout. Each alias owns three records:
//
//	keys/{alias}.key   PKCS#8 DER private key (optionally password encrypted)
//	certs/{alias}.pem  PEM self-signed certificate carrying the public key
//	meta/{alias}.cbor  CBOR key metadata (policy, enrollment digest, state)
//
// The virtual sensor keeps its enrolled templates under sensor/enrollment.cbor.
const (
	keysPrefix  = "keys/"
	certsPrefix = "certs/"
	metaPrefix  = "meta/"

	// EnrollmentPath is where the virtual sensor persists its templates.
	EnrollmentPath = "sensor/enrollment.cbor"
)

// KeyPath returns the storage path of the private key for alias.
func KeyPath(alias string) string {
	return keysPrefix + alias + ".key"
}

// CertPath returns the storage path of the certificate for alias.
func CertPath(alias string) string {
	return certsPrefix + alias + ".pem"
}

// MetaPath returns the storage path of the key metadata for alias.
func MetaPath(alias string) string {
	return metaPrefix + alias + ".cbor"
}

// AliasPaths returns every record path owned by alias.
func AliasPaths(alias string) []string {
	return []string{KeyPath(alias), CertPath(alias), MetaPath(alias)}
}

// ListAliases returns the aliases that have a private key record, sorted.
func ListAliases(backend Backend) ([]string, error) {
	keys, err := backend.List(keysPrefix)
	if err != nil {
		return nil, err
	}

	aliases := make([]string, 0, len(keys))
	for _, k := range keys {
		alias := strings.TrimSuffix(strings.TrimPrefix(k, keysPrefix), ".key")
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return aliases, nil
}

// DeleteAll removes every path, ignoring ErrNotFound. It returns the first
// other error after attempting all deletions.
func DeleteAll(backend Backend, paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := backend.Delete(p); err != nil && err != ErrNotFound && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
