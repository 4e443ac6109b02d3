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
	"sync"

	"golang.org/x/exp/slices"
)

type memEntry struct {
	value    []byte
	revision int64
}

// MemStore is an in-process store.  Revisions are global and monotonically
// increasing, the same way etcd's are.
type MemStore struct {
	lock     sync.Mutex
	revision int64
	entries  map[string]memEntry
}

var _ VersionedStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]memEntry),
	}
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, rev, err := s.GetVersioned(ctx, key)
	return value, rev > 0, err
}

func (s *MemStore) GetVersioned(ctx context.Context, key string) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.lock.Lock()
	entry, ok := s.entries[key]
	s.lock.Unlock()

	if !ok {
		return nil, 0, nil
	}

	return slices.Clone(entry.value), entry.revision, nil
}

func (s *MemStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	s.putLocked(key, value)
	s.lock.Unlock()

	return nil
}

func (s *MemStore) SetIf(ctx context.Context, key string, value []byte, expectedRev int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.entries[key].revision != expectedRev {
		return 0, ErrRevisionMismatch
	}

	return s.putLocked(key, value), nil
}

func (s *MemStore) putLocked(key string, value []byte) int64 {
	s.revision++
	s.entries[key] = memEntry{
		value:    slices.Clone(value),
		revision: s.revision,
	}
	return s.revision
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	if _, ok := s.entries[key]; ok {
		s.revision++
		delete(s.entries, key)
	}
	s.lock.Unlock()

	return nil
}
