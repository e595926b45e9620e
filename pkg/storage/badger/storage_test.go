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

package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/storage"
)

var _ storage.Backend = (*Backend)(nil)

func newInMemory(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBackend_CRUD(t *testing.T) {
	b := newInMemory(t)

	_, err := b.Get(storage.KeyPath("KEY_ALIAS"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.Put(storage.KeyPath("KEY_ALIAS"), []byte("der"), nil))
	require.NoError(t, b.Put(storage.MetaPath("KEY_ALIAS"), []byte("meta"), nil))

	got, err := b.Get(storage.KeyPath("KEY_ALIAS"))
	require.NoError(t, err)
	assert.Equal(t, []byte("der"), got)

	ok, err := b.Exists(storage.MetaPath("KEY_ALIAS"))
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := b.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/KEY_ALIAS.key", "meta/KEY_ALIAS.cbor"}, keys)

	require.NoError(t, b.Delete(storage.KeyPath("KEY_ALIAS")))
	assert.ErrorIs(t, b.Delete(storage.KeyPath("KEY_ALIAS")), storage.ErrNotFound)

	ok, err = b.Exists(storage.KeyPath("KEY_ALIAS"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, b.Put("", []byte("x"), nil), storage.ErrInvalidKey)
}

func TestBackend_ListAliases(t *testing.T) {
	b := newInMemory(t)
	for _, alias := range []string{"b", "a"} {
		for _, p := range storage.AliasPaths(alias) {
			require.NoError(t, b.Put(p, []byte("v"), nil))
		}
	}

	aliases, err := storage.ListAliases(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, aliases)
}

func TestBackend_OnDisk(t *testing.T) {
	dir := t.TempDir()

	b1, err := New(Config{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, b1.Put(storage.EnrollmentPath, []byte{1, 2, 3}, nil))
	require.NoError(t, b1.Close())

	b2, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer b2.Close()

	got, err := b2.Get(storage.EnrollmentPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestBackend_Closed(t *testing.T) {
	b, err := New(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Get("a")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Put("a", []byte("x"), nil), storage.ErrClosed)
	_, err = b.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}
