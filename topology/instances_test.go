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
	"fmt"
	"testing"

	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/stretchr/testify/require"
)

func storageOpts(replicaset string) map[string]interface{} {
	return map[string]interface{}{
		"is_storage":    true,
		"replicaset":    replicaset,
		"advertise_uri": "localhost:3301",
	}
}

func TestCreateNodeGeneratesInstanceUUID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "storage-1", storageOpts("rs1")))
	require.NoError(t, s.CreateNode(ctx, "storage-2", storageOpts("rs1")))

	opts1, err := s.GetNodeOptions(ctx, "storage-1")
	require.NoError(t, err)
	opts2, err := s.GetNodeOptions(ctx, "storage-2")
	require.NoError(t, err)

	uuid1 := opts1["box"].(map[string]interface{})["instance_uuid"]
	uuid2 := opts2["box"].(map[string]interface{})["instance_uuid"]
	require.NotEmpty(t, uuid1)
	require.NotEmpty(t, uuid2)
	require.NotEqual(t, uuid1, uuid2)

	require.Equal(t, "reachable", opts1["status"])
	require.Equal(t, []interface{}{"default"}, opts1["vshard_groups"])
	require.Equal(t, false, opts1["is_master"])

	node, err := s.GetNode(ctx, "storage-1")
	require.NoError(t, err)
	require.Equal(t, uuid1, node.InstanceUUID)
	require.Equal(t, StatusReachable, node.Status)
	require.Equal(t, "rs1", node.ReplicaSet)
}

func TestCreateNodeOverridesSuppliedInstanceUUID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "router-1", map[string]interface{}{
		"is_router": true,
		"box":       map[string]interface{}{"instance_uuid": "mine", "listen": 3301},
	}))

	node, err := s.GetNode(ctx, "router-1")
	require.NoError(t, err)
	require.NotEqual(t, "mine", node.InstanceUUID)
	require.EqualValues(t, 3301, node.Box["listen"])
}

func TestCreateNodeRejectsInvalidOptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	tests := []struct {
		name  string
		opts  map[string]interface{}
		field string
	}{
		{"expelled status", map[string]interface{}{"status": "expelled"}, "status"},
		{"unknown option", map[string]interface{}{"colour": "blue"}, "colour"},
		{"bad uri", map[string]interface{}{"advertise_uri": "host:"}, "advertise_uri"},
		{"storage without replicaset", map[string]interface{}{"is_storage": true}, "replicaset"},
		{"non boolean role", map[string]interface{}{"is_router": "yes"}, "is_router"},
		{"bad listen", map[string]interface{}{"box": map[string]interface{}{"listen": -1}}, "box.listen"},
		{"unknown vshard group", map[string]interface{}{"vshard_groups": []string{"cold"}}, "vshard_groups"},
		{"dotted replicaset", map[string]interface{}{"replicaset": "rs.1"}, "replicaset"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := s.CreateNode(ctx, "node", test.opts)
			require.ErrorIs(t, err, optschema.ErrValidation)

			var fieldErr *optschema.FieldError
			require.ErrorAs(t, err, &fieldErr)
			require.Equal(t, test.field, fieldErr.Field)
		})
	}

	nodes, err := s.GetNodes(ctx)
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestCreateNodeAlreadyExists(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "router-1", nil))
	require.ErrorIs(t, s.CreateNode(ctx, "router-1", nil), ErrAlreadyExists)

	// expelled names stay reserved
	require.NoError(t, s.DeleteNode(ctx, "router-1"))
	require.ErrorIs(t, s.CreateNode(ctx, "router-1", nil), ErrAlreadyExists)
}

func TestCreateNodeCreatesReplicaSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "storage-1", storageOpts("rs1")))

	opts, err := s.GetReplicaGroupOptions(ctx, "rs1")
	require.NoError(t, err)
	require.NotEmpty(t, opts["cluster_uuid"])
	require.Equal(t, "single", opts["master_mode"])
	require.Equal(t, []interface{}{}, opts["failover_priority"])
	require.EqualValues(t, 1, opts["weight"])
}

func TestReplicaSetCapacity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	for i := 0; i < MaxReplicaSetSize; i++ {
		require.NoError(t, s.CreateNode(ctx, fmt.Sprintf("storage-%d", i), storageOpts("rs1")))
	}

	err := s.CreateNode(ctx, "storage-extra", storageOpts("rs1"))
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.CreateNode(ctx, "storage-other", storageOpts("rs2")))
	err = s.SetNodeOptions(ctx, "storage-other", map[string]interface{}{"replicaset": "rs1"})
	require.ErrorIs(t, err, ErrConflict)

	// expelled members free their slot
	require.NoError(t, s.DeleteNode(ctx, "storage-0"))
	require.NoError(t, s.CreateNode(ctx, "storage-extra", storageOpts("rs1")))

	members, err := s.GetReplicaGroupMembers(ctx, "rs1")
	require.NoError(t, err)
	require.Len(t, members, MaxReplicaSetSize)
}

func TestDeleteNodeIsTerminal(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "storage-1", storageOpts("rs1")))
	require.NoError(t, s.DeleteNode(ctx, "storage-1"))

	opts, err := s.GetNodeOptions(ctx, "storage-1")
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"status": "expelled"}, opts)

	require.ErrorIs(t, s.SetNodeOptions(ctx, "storage-1", map[string]interface{}{"zone": "z1"}), ErrExpelled)
	require.ErrorIs(t, s.SetNodeReachable(ctx, "storage-1"), ErrExpelled)
	require.ErrorIs(t, s.SetNodeUnreachable(ctx, "storage-1"), ErrExpelled)
	require.ErrorIs(t, s.DeleteNode(ctx, "storage-1"), ErrExpelled)

	require.ErrorIs(t, s.DeleteNode(ctx, "missing"), ErrNotFound)
	require.ErrorIs(t, s.SetNodeOptions(ctx, "missing", nil), ErrNotFound)
}

func TestSetNodeOptionsShallowMerge(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "router-1", map[string]interface{}{
		"is_router": true,
		"zone":      "z1",
		"box": map[string]interface{}{
			"listen":       "3301",
			"memtx_memory": 1024,
		},
	}))

	before, err := s.GetNode(ctx, "router-1")
	require.NoError(t, err)

	require.NoError(t, s.SetNodeOptions(ctx, "router-1", map[string]interface{}{
		"box": map[string]interface{}{"listen": "3302"},
	}))

	after, err := s.GetNode(ctx, "router-1")
	require.NoError(t, err)

	// nested bags are replaced, not merged, and the uuid survives
	require.Equal(t, map[string]interface{}{
		"listen":        "3302",
		"instance_uuid": before.InstanceUUID,
	}, after.Box)
	require.Equal(t, "z1", after.Zone)
	require.True(t, after.IsRouter)

	// nil resets a key to its default
	require.NoError(t, s.SetNodeOptions(ctx, "router-1", map[string]interface{}{"is_router": nil}))
	after, err = s.GetNode(ctx, "router-1")
	require.NoError(t, err)
	require.False(t, after.IsRouter)
}

func TestSetNodeStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "router-1", nil))

	require.NoError(t, s.SetNodeUnreachable(ctx, "router-1"))
	node, err := s.GetNode(ctx, "router-1")
	require.NoError(t, err)
	require.Equal(t, StatusUnreachable, node.Status)

	require.NoError(t, s.SetNodeReachable(ctx, "router-1"))
	node, err = s.GetNode(ctx, "router-1")
	require.NoError(t, err)
	require.Equal(t, StatusReachable, node.Status)

	err = s.SetNodeOptions(ctx, "router-1", map[string]interface{}{"status": "expelled"})
	require.ErrorIs(t, err, optschema.ErrValidation)
}

func TestStatusTransitions(t *testing.T) {
	next, err := StatusReachable.Transition(StatusUnreachable)
	require.NoError(t, err)
	require.Equal(t, StatusUnreachable, next)

	next, err = StatusUnreachable.Transition(StatusReachable)
	require.NoError(t, err)
	require.Equal(t, StatusReachable, next)

	_, err = StatusReachable.Transition(StatusExpelled)
	require.ErrorIs(t, err, optschema.ErrValidation)

	_, err = StatusExpelled.Transition(StatusReachable)
	require.ErrorIs(t, err, ErrExpelled)

	next, err = StatusUnreachable.expel()
	require.NoError(t, err)
	require.Equal(t, StatusExpelled, next)

	_, err = StatusExpelled.expel()
	require.ErrorIs(t, err, ErrExpelled)
}

func TestGetRoutersAndStorages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.CreateNode(ctx, "router-2", map[string]interface{}{"is_router": true}))
	require.NoError(t, s.CreateNode(ctx, "router-1", map[string]interface{}{"is_router": true}))
	require.NoError(t, s.CreateNode(ctx, "storage-1", storageOpts("rs1")))
	require.NoError(t, s.CreateNode(ctx, "storage-2", storageOpts("rs1")))
	require.NoError(t, s.DeleteNode(ctx, "storage-2"))

	routers, err := s.GetRouters(ctx)
	require.NoError(t, err)
	require.Len(t, routers, 2)
	require.Equal(t, "router-1", routers[0].Name)
	require.Equal(t, "router-2", routers[1].Name)

	storages, err := s.GetStorages(ctx)
	require.NoError(t, err)
	require.Len(t, storages, 1)
	require.Equal(t, "storage-1", storages[0].Name)

	var names []string
	require.NoError(t, s.ForEachNode(ctx, func(node *Node) error {
		names = append(names, node.Name)
		return nil
	}))
	require.Equal(t, []string{"router-1", "router-2", "storage-1", "storage-2"}, names)
}
