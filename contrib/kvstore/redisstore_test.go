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
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) *rdb.Client {
	client := rdb.NewClient(&rdb.Options{
		Addr:        "localhost:6379",
		DialTimeout: 2 * time.Second,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
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

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewRedisStore(RedisStoreOptions{
		Client:    getTestRedisClient(t),
		KeyPrefix: "testing-" + uuid.NewString(),
	})
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "topo")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "topo", []byte("x")))

	val, ok, err := store.Get(ctx, "topo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("x"), val)

	require.NoError(t, store.Delete(ctx, "topo"))
	_, ok, err = store.Get(ctx, "topo")
	require.NoError(t, err)
	require.False(t, ok)
}
