/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreBasic(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "a", []byte("hello")))

	val, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), val)

	// mutating the returned slice must not leak into the store
	val[0] = 'j'
	val, _, _ = store.Get(ctx, "a")
	require.Equal(t, []byte("hello"), val)

	require.NoError(t, store.Delete(ctx, "a"))
	_, ok, err = store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStoreSetIf(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	rev, err := store.SetIf(ctx, "a", []byte("1"), 0)
	require.NoError(t, err)
	require.Greater(t, rev, int64(0))

	_, err = store.SetIf(ctx, "a", []byte("2"), 0)
	require.ErrorIs(t, err, ErrRevisionMismatch)

	newRev, err := store.SetIf(ctx, "a", []byte("2"), rev)
	require.NoError(t, err)
	require.Greater(t, newRev, rev)

	val, curRev, err := store.GetVersioned(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, newRev, curRev)
	require.Equal(t, []byte("2"), val)

	// an unconditional write moves the revision on as well
	require.NoError(t, store.Set(ctx, "a", []byte("3")))
	_, err = store.SetIf(ctx, "a", []byte("4"), newRev)
	require.ErrorIs(t, err, ErrRevisionMismatch)
}

func TestMemStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemStore()
	require.Error(t, store.Set(ctx, "a", nil))
	_, _, err := store.Get(ctx, "a")
	require.Error(t, err)
}

func TestPaths(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	require.NoError(t, SetPath(ctx, store, "topo", map[string]interface{}{
		"version": 1,
	}))
	require.NoError(t, SetPath(ctx, store, "topo.replicasets.rs1.weight", 2))

	val, ok, err := GetPath(ctx, store, "topo.replicasets.rs1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, map[string]interface{}{"weight": float64(2)}, val)

	val, ok, err = GetPath(ctx, store, "topo.version")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(1), val)

	_, ok, err = GetPath(ctx, store, "topo.version.nested")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = GetPath(ctx, store, "other.version")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, DeletePath(ctx, store, "topo.replicasets.rs1"))
	_, ok, err = GetPath(ctx, store, "topo.replicasets.rs1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, DeletePath(ctx, store, "topo"))
	_, ok, err = GetPath(ctx, store, "topo")
	require.NoError(t, err)
	require.False(t, ok)
}
