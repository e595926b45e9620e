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

package file

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-biokey/pkg/storage"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{"empty", "", "cannot be empty"},
		{"null byte", "keys/a\x00b.key", "null byte"},
		{"absolute", "/etc/passwd", "absolute path"},
		{"traversal at start", "../secret", "path traversal"},
		{"traversal in middle", "keys/../../etc/passwd", "path traversal"},
		{"trailing traversal", "keys/..", "path traversal"},
		{"simple", "KEY_ALIAS", ""},
		{"key path", storage.KeyPath("KEY_ALIAS"), ""},
		{"cert path", storage.CertPath("KEY_ALIAS"), ""},
		{"enrollment", storage.EnrollmentPath, ""},
		{"dotted name", "keys/..hidden.key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateKey(tt.key)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	assert.Equal(t, keyPerms, int(permissions(storage.KeyPath("a"), nil)))
	assert.Equal(t, certPerms, int(permissions(storage.CertPath("a"), nil)))
	assert.Equal(t, otherPerms, int(permissions(storage.MetaPath("a"), nil)))
	assert.Equal(t, 0640, int(permissions(storage.KeyPath("a"), &storage.Options{Permissions: 0640})))
}
