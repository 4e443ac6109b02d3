/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package main

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/pkg/errors"
	rdb "github.com/redis/go-redis/v9"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const storeConnectTimeout = 5 * time.Second

func openStore(ctx context.Context, logger *zap.Logger, config *config) (kvstore.Store, func() error, error) {
	switch config.storeType {
	case "memory":
		return kvstore.NewMemStore(), func() error { return nil }, nil

	case "etcd":
		etcdClient, err := etcd.New(etcd.Config{
			Endpoints:   config.etcdEndpoints,
			DialTimeout: storeConnectTimeout,
			Logger:      logger.Named("etcd-client"),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create etcd client")
		}

		store, err := kvstore.NewEtcdStore(kvstore.EtcdStoreOptions{
			EtcdClient: etcdClient,
			KeyPrefix:  config.etcdPrefix,
			Logger:     logger.Named("etcd-store"),
		})
		if err != nil {
			_ = etcdClient.Close()
			return nil, nil, err
		}

		err = probeStore(ctx, logger, store)
		if err != nil {
			_ = etcdClient.Close()
			return nil, nil, err
		}

		return store, etcdClient.Close, nil

	case "redis":
		client := rdb.NewClient(&rdb.Options{
			Addr:        config.redisAddr,
			DialTimeout: storeConnectTimeout,
		})

		store, err := kvstore.NewRedisStore(kvstore.RedisStoreOptions{
			Client:    client,
			KeyPrefix: config.redisPrefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		err = probeStore(ctx, logger, store)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		return store, client.Close, nil
	}

	return nil, nil, errors.Errorf("unknown store type %q", config.storeType)
}

// probeStore retries a read until the store answers.
func probeStore(ctx context.Context, logger *zap.Logger, store kvstore.Store) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	return backoff.RetryNotify(func() error {
		probeCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()

		_, _, err := store.Get(probeCtx, "probe")
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("configuration store is not reachable yet",
			zap.Error(err),
			zap.Duration("retryIn", next))
	})
}
