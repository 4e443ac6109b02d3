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
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	etcd "go.etcd.io/etcd/client/v3"
)

var globalTestEtcdClient *etcd.Client
var globalEtcdDisabled bool

func getTestEtcdClient(t *testing.T) *etcd.Client {
	if globalTestEtcdClient != nil {
		return globalTestEtcdClient
	}
	if globalEtcdDisabled {
		t.Skip("etcd unavailable: previous connect attempt failed")
	}

	connectTimeout := 2 * time.Second

	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: connectTimeout,
	})
	if err != nil {
		globalEtcdDisabled = true
		t.Skipf("failed to connect to etcd: %s", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), connectTimeout)
	_, err = etcdClient.Get(waitCtx, "invalid-key")
	waitCancel()
	if err != nil {
		globalEtcdDisabled = true
		_ = etcdClient.Close()
		t.Skipf("failed to connect to etcd: %s", err)
	}

	globalTestEtcdClient = etcdClient
	return etcdClient
}

func TestEtcdStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewEtcdStore(EtcdStoreOptions{
		EtcdClient: getTestEtcdClient(t),
		KeyPrefix:  "testing/" + uuid.NewString(),
	})
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "topo")
	require.NoError(t, err)
	require.False(t, ok)

	rev, err := store.SetIf(ctx, "topo", []byte("1"), 0)
	require.NoError(t, err)

	_, err = store.SetIf(ctx, "topo", []byte("2"), 0)
	require.ErrorIs(t, err, ErrRevisionMismatch)

	_, err = store.SetIf(ctx, "topo", []byte("2"), rev)
	require.NoError(t, err)

	val, ok, err := store.Get(ctx, "topo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), val)

	require.NoError(t, store.Delete(ctx, "topo"))
	_, ok, err = store.Get(ctx, "topo")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewEtcdStoreRequiresClient(t *testing.T) {
	_, err := NewEtcdStore(EtcdStoreOptions{})
	require.Error(t, err)
}
