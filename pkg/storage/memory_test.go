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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutGet(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	value := []byte("secret")
	require.NoError(t, m.Put(KeyPath("a"), value, nil))

	// Mutating the caller's slice must not change the stored record.
	value[0] = 'X'

	got, err := m.Get(KeyPath("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	// Nor must mutating the returned slice.
	got[0] = 'Y'
	again, err := m.Get(KeyPath("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), again)
}

func TestMemoryBackend_Errors(t *testing.T) {
	m := NewMemory()

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete("missing"), ErrNotFound)
	assert.ErrorIs(t, m.Put("", []byte("x"), nil), ErrInvalidKey)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Get("a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Put("a", nil, nil), ErrClosed)
	assert.ErrorIs(t, m.Delete("a"), ErrClosed)
	_, err = m.List("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Exists("a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_ListSorted(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	for _, alias := range []string{"zeta", "alpha", "mid"} {
		for _, p := range AliasPaths(alias) {
			require.NoError(t, m.Put(p, []byte(alias), nil))
		}
	}

	keys, err := m.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/alpha.key", "keys/mid.key", "keys/zeta.key"}, keys)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 9)
}

func TestListAliasesAndDeleteAll(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	for _, alias := range []string{"KEY_ALIAS", "backup"} {
		for _, p := range AliasPaths(alias) {
			require.NoError(t, m.Put(p, []byte("v"), nil))
		}
	}

	aliases, err := ListAliases(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"KEY_ALIAS", "backup"}, aliases)

	// A missing record does not stop the rest from being removed.
	require.NoError(t, m.Delete(CertPath("backup")))
	require.NoError(t, DeleteAll(m, AliasPaths("backup")...))

	for _, p := range AliasPaths("backup") {
		ok, err := m.Exists(p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}

	aliases, err = ListAliases(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"KEY_ALIAS"}, aliases)
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("meta/%d.cbor", n)
			assert.NoError(t, m.Put(key, []byte{byte(n)}, nil))
			v, err := m.Get(key)
			assert.NoError(t, err)
			assert.Equal(t, []byte{byte(n)}, v)
		}(i)
	}
	wg.Wait()

	keys, err := m.List("meta/")
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}
