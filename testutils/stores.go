/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"
)

const connectTimeout = 2 * time.Second

var globalTestEtcdClient *etcd.Client
var globalEtcdDisabled bool

// GetEtcdClient returns a shared etcd client, skipping the test when no etcd
// server is reachable.
func GetEtcdClient(t *testing.T) *etcd.Client {
	if globalTestEtcdClient != nil {
		return globalTestEtcdClient
	}
	if globalEtcdDisabled {
		t.Skip("etcd unavailable: previous connect attempt failed")
	}

	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   []string{GetTestConfig(t).EtcdEndpoint},
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

func GetRedisClient(t *testing.T) *rdb.Client {
	client := rdb.NewClient(&rdb.Options{
		Addr:        GetTestConfig(t).RedisAddr,
		DialTimeout: connectTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), connectTimeout)
	err := client.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("failed to connect to redis: %s", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// NewEtcdStore builds a store under a unique key prefix.
func NewEtcdStore(t *testing.T) *kvstore.EtcdStore {
	store, err := kvstore.NewEtcdStore(kvstore.EtcdStoreOptions{
		EtcdClient: GetEtcdClient(t),
		KeyPrefix:  "testing/" + uuid.NewString(),
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	return store
}

func NewRedisStore(t *testing.T) *kvstore.RedisStore {
	store, err := kvstore.NewRedisStore(kvstore.RedisStoreOptions{
		Client:    GetRedisClient(t),
		KeyPrefix: "testing-" + uuid.NewString(),
	})
	require.NoError(t, err)

	return store
}
