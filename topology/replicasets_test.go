/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"context"
	"math"
	"testing"

	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/stretchr/testify/require"
)

func TestCreateReplicaGroup(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateReplicaGroup(ctx, "rs1", map[string]interface{}{
		"master_mode":       "auto",
		"failover_priority": []string{"storage-2", "storage-1"},
		"cluster_uuid":      "mine",
	}))

	rs, err := s.GetReplicaGroup(ctx, "rs1")
	require.NoError(t, err)
	require.NotEmpty(t, rs.ClusterUUID)
	require.NotEqual(t, "mine", rs.ClusterUUID)
	require.Equal(t, MasterModeAuto, rs.MasterMode)
	require.Equal(t, []string{"storage-2", "storage-1"}, rs.FailoverPriority)
	require.Equal(t, float64(1), rs.Weight)

	require.ErrorIs(t, s.CreateReplicaGroup(ctx, "rs1", nil), ErrAlreadyExists)

	err = s.CreateReplicaGroup(ctx, "rs2", map[string]interface{}{"master_mode": "many"})
	require.ErrorIs(t, err, optschema.ErrValidation)
}

func TestDeleteReplicaGroupWithMembers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "storage-1", storageOpts("rs1")))
	require.NoError(t, s.CreateNode(ctx, "storage-2", storageOpts("rs1")))

	require.ErrorIs(t, s.DeleteReplicaGroup(ctx, "rs1"), ErrConflict)

	// reassigning one member is not enough
	require.NoError(t, s.SetNodeOptions(ctx, "storage-1", map[string]interface{}{"replicaset": "rs2"}))
	require.ErrorIs(t, s.DeleteReplicaGroup(ctx, "rs1"), ErrConflict)

	require.NoError(t, s.DeleteNode(ctx, "storage-2"))
	require.NoError(t, s.DeleteReplicaGroup(ctx, "rs1"))

	_, err := s.GetReplicaGroupOptions(ctx, "rs1")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.DeleteReplicaGroup(ctx, "rs1"), ErrNotFound)
}

func TestSetReplicaGroupOptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateReplicaGroup(ctx, "rs1", nil))
	before, err := s.GetReplicaGroup(ctx, "rs1")
	require.NoError(t, err)

	require.NoError(t, s.SetReplicaGroupOptions(ctx, "rs1", map[string]interface{}{
		"weight":       2.5,
		"cluster_uuid": "changed",
	}))

	after, err := s.GetReplicaGroup(ctx, "rs1")
	require.NoError(t, err)
	require.Equal(t, before.ClusterUUID, after.ClusterUUID)
	require.Equal(t, 2.5, after.Weight)
	require.Equal(t, MasterModeSingle, after.MasterMode)

	err = s.SetReplicaGroupOptions(ctx, "rs1", map[string]interface{}{"weight": math.Inf(1)})
	require.ErrorIs(t, err, optschema.ErrValidation)

	err = s.SetReplicaGroupOptions(ctx, "rs1", map[string]interface{}{"weight": -1})
	require.ErrorIs(t, err, optschema.ErrValidation)

	require.ErrorIs(t, s.SetReplicaGroupOptions(ctx, "missing", nil), ErrNotFound)
}

func TestReplicaGroupQueries(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "storage-b", storageOpts("rs2")))
	require.NoError(t, s.CreateNode(ctx, "storage-a", storageOpts("rs2")))
	require.NoError(t, s.CreateNode(ctx, "storage-c", storageOpts("rs1")))
	require.NoError(t, s.DeleteNode(ctx, "storage-b"))

	var names []string
	require.NoError(t, s.ForEachReplicaGroup(ctx, func(rs *ReplicaSet) error {
		names = append(names, rs.Name)
		return nil
	}))
	require.Equal(t, []string{"rs1", "rs2"}, names)

	members, err := s.GetReplicaGroupMembers(ctx, "rs2")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "storage-a", members[0].Name)

	_, err = s.GetReplicaGroupMembers(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
