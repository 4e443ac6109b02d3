/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package kvstore defines the minimal contract required from a remote
// configuration store along with a few implementations of it.
package kvstore

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Store is a remote key-value configuration store.  Keys are hierarchical
// dotted paths.  Get reports whether the key exists.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// VersionedStore is implemented by stores which can compare-and-swap on a
// per-key revision.  A revision of 0 means the key does not exist.
type VersionedStore interface {
	Store

	GetVersioned(ctx context.Context, key string) ([]byte, int64, error)

	// SetIf writes the value only if the key is still at expectedRev, returning
	// ErrRevisionMismatch otherwise.  It returns the new revision on success.
	SetIf(ctx context.Context, key string, value []byte, expectedRev int64) (int64, error)
}
