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
	"time"

	"github.com/pkg/errors"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	// DefaultSlowRequestTime is the threshold above which an etcd request is
	// logged as slow.
	DefaultSlowRequestTime = 1 * time.Second
)

type EtcdStoreOptions struct {
	EtcdClient *etcd.Client
	KeyPrefix  string
	Logger     *zap.Logger
}

type EtcdStore struct {
	etcdClient *etcd.Client
	keyPrefix  string
	logger     *zap.Logger
}

var _ VersionedStore = (*EtcdStore)(nil)

func NewEtcdStore(opts EtcdStoreOptions) (*EtcdStore, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("etcd client must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EtcdStore{
		etcdClient: opts.EtcdClient,
		keyPrefix:  opts.KeyPrefix,
		logger:     logger,
	}, nil
}

func (s *EtcdStore) key(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + "/" + key
}

func (s *EtcdStore) logSlow(op, key string, start time.Time, err error) {
	cost := time.Since(start)
	if cost > DefaultSlowRequestTime {
		s.logger.Warn("etcd request runs too slow",
			zap.String("op", op),
			zap.String("key", key),
			zap.Duration("cost", cost),
			zap.Error(err))
	}
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, rev, err := s.GetVersioned(ctx, key)
	return value, rev > 0, err
}

func (s *EtcdStore) GetVersioned(ctx context.Context, key string) ([]byte, int64, error) {
	fullKey := s.key(key)

	start := time.Now()
	resp, err := s.etcdClient.KV.Get(ctx, fullKey)
	s.logSlow("get", fullKey, start, err)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to load %s from etcd", fullKey)
	}

	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}

	return resp.Kvs[0].Value, resp.Kvs[0].ModRevision, nil
}

func (s *EtcdStore) Set(ctx context.Context, key string, value []byte) error {
	fullKey := s.key(key)

	start := time.Now()
	_, err := s.etcdClient.KV.Put(ctx, fullKey, string(value))
	s.logSlow("put", fullKey, start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to save %s to etcd", fullKey)
	}

	return nil
}

func (s *EtcdStore) SetIf(ctx context.Context, key string, value []byte, expectedRev int64) (int64, error) {
	fullKey := s.key(key)

	start := time.Now()
	resp, err := s.etcdClient.KV.Txn(ctx).
		If(etcd.Compare(etcd.ModRevision(fullKey), "=", expectedRev)).
		Then(etcd.OpPut(fullKey, string(value))).
		Commit()
	s.logSlow("txn", fullKey, start, err)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to save %s to etcd", fullKey)
	}

	if !resp.Succeeded {
		return 0, ErrRevisionMismatch
	}

	return resp.Header.Revision, nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	fullKey := s.key(key)

	start := time.Now()
	_, err := s.etcdClient.KV.Delete(ctx, fullKey)
	s.logSlow("delete", fullKey, start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to remove %s from etcd", fullKey)
	}

	return nil
}
