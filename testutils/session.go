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

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const TopologyName = "testing"

// NewSession opens an autocommit session over a fresh in-memory store.
func NewSession(t *testing.T) (*topology.Session, *kvstore.MemStore) {
	store := kvstore.NewMemStore()
	return OpenSession(t, store, topology.Options{Autocommit: true}), store
}

func OpenSession(t *testing.T, store kvstore.Store, opts topology.Options) *topology.Session {
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}

	s, err := topology.Open(context.Background(), store, TopologyName, opts)
	require.NoError(t, err)

	return s
}

// Instance describes a node for BuildTopology.
type Instance struct {
	Name       string
	ReplicaSet string
	URI        string
	Master     bool
	Router     bool
	Storage    bool
	Groups     []string
	Box        map[string]interface{}
}

func (i Instance) options() map[string]interface{} {
	opts := map[string]interface{}{
		"is_master":  i.Master,
		"is_router":  i.Router,
		"is_storage": i.Storage,
	}
	if i.ReplicaSet != "" {
		opts["replicaset"] = i.ReplicaSet
	}
	if i.URI != "" {
		opts["advertise_uri"] = i.URI
	}
	if len(i.Groups) > 0 {
		opts["vshard_groups"] = i.Groups
	}
	if i.Box != nil {
		opts["box"] = i.Box
	}
	return opts
}

// BuildTopology creates every instance in order.
func BuildTopology(t *testing.T, s *topology.Session, instances ...Instance) {
	ctx := context.Background()
	for _, inst := range instances {
		require.NoError(t, s.CreateNode(ctx, inst.Name, inst.options()))
	}

	if !s.Autocommit() {
		require.NoError(t, s.Commit(ctx))
	}
}

func InstanceUUID(t *testing.T, s *topology.Session, name string) string {
	node, err := s.GetNode(context.Background(), name)
	require.NoError(t, err)
	require.NotEmpty(t, node.InstanceUUID)
	return node.InstanceUUID
}

func ClusterUUID(t *testing.T, s *topology.Session, name string) string {
	rs, err := s.GetReplicaGroup(context.Background(), name)
	require.NoError(t, err)
	require.NotEmpty(t, rs.ClusterUUID)
	return rs.ClusterUUID
}
