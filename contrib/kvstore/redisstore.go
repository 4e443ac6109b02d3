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

	"github.com/pkg/errors"
	rdb "github.com/redis/go-redis/v9"
)

type RedisStoreOptions struct {
	Client    *rdb.Client
	KeyPrefix string
}

// RedisStore keeps each key as a plain redis string.  It offers no revisions,
// so sessions on top of it are always last-writer-wins.
type RedisStore struct {
	client    *rdb.Client
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client must be specified")
	}

	return &RedisStore{
		client:    opts.Client,
		keyPrefix: opts.KeyPrefix,
	}, nil
}

func (s *RedisStore) key(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "failed to load %s from redis", key)
	}

	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.client.Set(ctx, s.key(key), value, 0).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to save %s to redis", key)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to remove %s from redis", key)
	}

	return nil
}
