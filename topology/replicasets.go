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

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CreateReplicaGroup registers a replicaset with a freshly generated
// cluster_uuid.
func (s *Session) CreateReplicaGroup(ctx context.Context, name string, opts map[string]interface{}) error {
	err := validateName("replicaset", name)
	if err != nil {
		return err
	}

	return s.mutate(ctx, "CreateReplicaGroup", func(state *State) error {
		if _, ok := state.Replicasets[name]; ok {
			return errors.Wrapf(ErrAlreadyExists, "replicaset %s", name)
		}

		bag, err := replicasetSchema.Validate(opts)
		if err != nil {
			return err
		}

		s.injectClusterUUID(name, bag, uuid.NewString())
		state.Replicasets[name] = bag

		s.logger.Debug("created replicaset", zap.String("replicaset", name))
		return nil
	})
}

// DeleteReplicaGroup removes a replicaset which no non-expelled instance
// refers to anymore.
func (s *Session) DeleteReplicaGroup(ctx context.Context, name string) error {
	return s.mutate(ctx, "DeleteReplicaGroup", func(state *State) error {
		if _, ok := state.Replicasets[name]; !ok {
			return errors.Wrapf(ErrNotFound, "replicaset %s", name)
		}

		if count := state.memberCount(name, ""); count > 0 {
			return errors.Wrapf(ErrConflict, "replicaset %s still has %d members", name, count)
		}

		delete(state.Replicasets, name)

		s.logger.Debug("deleted replicaset", zap.String("replicaset", name))
		return nil
	})
}

// SetReplicaGroupOptions merges opts over the replicaset's options.  The
// cluster_uuid is kept as generated.
func (s *Session) SetReplicaGroupOptions(ctx context.Context, name string, opts map[string]interface{}) error {
	return s.mutate(ctx, "SetReplicaGroupOptions", func(state *State) error {
		current, ok := state.Replicasets[name]
		if !ok {
			return errors.Wrapf(ErrNotFound, "replicaset %s", name)
		}

		bag, err := replicasetSchema.Validate(shallowMerge(current, opts))
		if err != nil {
			return err
		}

		clusterUUID, _ := current["cluster_uuid"].(string)
		if clusterUUID == "" {
			clusterUUID = uuid.NewString()
		}
		s.injectClusterUUID(name, bag, clusterUUID)

		state.Replicasets[name] = bag
		return nil
	})
}

func (s *Session) injectClusterUUID(name string, bag map[string]interface{}, clusterUUID string) {
	if prev, ok := bag["cluster_uuid"]; ok && prev != clusterUUID {
		s.logger.Debug("overriding caller supplied cluster_uuid",
			zap.String("replicaset", name),
			zap.Any("supplied", prev))
	}

	bag["cluster_uuid"] = clusterUUID
}

// ensureReplicaSet creates a replicaset with default options if it does not
// exist yet.
func (s *Session) ensureReplicaSet(state *State, name string) error {
	if _, ok := state.Replicasets[name]; ok {
		return nil
	}

	bag, err := replicasetSchema.Validate(nil)
	if err != nil {
		return err
	}

	s.injectClusterUUID(name, bag, uuid.NewString())
	state.Replicasets[name] = bag

	s.logger.Debug("implicitly created replicaset", zap.String("replicaset", name))
	return nil
}

func (s *Session) GetReplicaGroupOptions(ctx context.Context, name string) (map[string]interface{}, error) {
	return s.getBag(ctx, "replicaset", "replicasets", name)
}

func (s *Session) GetReplicaGroup(ctx context.Context, name string) (*ReplicaSet, error) {
	bag, err := s.GetReplicaGroupOptions(ctx, name)
	if err != nil {
		return nil, err
	}
	return decodeReplicaSet(name, bag)
}

func (s *Session) GetReplicaGroups(ctx context.Context) ([]*ReplicaSet, error) {
	state, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return state.ReplicaSets()
}

func (s *Session) ForEachReplicaGroup(ctx context.Context, fn func(rs *ReplicaSet) error) error {
	sets, err := s.GetReplicaGroups(ctx)
	if err != nil {
		return err
	}

	for _, rs := range sets {
		err = fn(rs)
		if err != nil {
			return err
		}
	}

	return nil
}

// GetReplicaGroupMembers returns the non-expelled instances of a replicaset.
func (s *Session) GetReplicaGroupMembers(ctx context.Context, name string) ([]*Node, error) {
	state, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return state.Members(name)
}
