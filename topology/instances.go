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

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CreateNode registers a new instance.  A fresh instance_uuid is generated and
// the referenced replicaset is created when it does not exist yet.
func (s *Session) CreateNode(ctx context.Context, name string, opts map[string]interface{}) error {
	err := validateName("instance", name)
	if err != nil {
		return err
	}

	return s.mutate(ctx, "CreateNode", func(state *State) error {
		if _, ok := state.Instances[name]; ok {
			return errors.Wrapf(ErrAlreadyExists, "instance %s", name)
		}

		bag, err := instanceSchema.Validate(opts)
		if err != nil {
			return err
		}

		s.injectInstanceUUID(name, bag, uuid.NewString())

		err = s.placeNode(state, name, bag)
		if err != nil {
			return err
		}

		state.Instances[name] = bag

		s.logger.Debug("created instance", zap.String("instance", name))
		return nil
	})
}

// DeleteNode expels an instance.  Its name stays reserved and every other
// option is dropped.
func (s *Session) DeleteNode(ctx context.Context, name string) error {
	return s.mutate(ctx, "DeleteNode", func(state *State) error {
		bag, ok := state.Instances[name]
		if !ok {
			return errors.Wrapf(ErrNotFound, "instance %s", name)
		}

		status, err := statusOf(bag).expel()
		if err != nil {
			return errExpelled(name)
		}

		state.Instances[name] = map[string]interface{}{
			"status": string(status),
		}

		s.logger.Debug("expelled instance", zap.String("instance", name))
		return nil
	})
}

// SetNodeOptions merges opts over the instance's options.  Keys are replaced
// as a whole, so nested bags such as box are not merged.  A nil value resets
// the key to its default.
func (s *Session) SetNodeOptions(ctx context.Context, name string, opts map[string]interface{}) error {
	return s.mutate(ctx, "SetNodeOptions", func(state *State) error {
		current, ok := state.Instances[name]
		if !ok {
			return errors.Wrapf(ErrNotFound, "instance %s", name)
		}

		status := statusOf(current)
		if status.IsExpelled() {
			return errExpelled(name)
		}

		merged := shallowMerge(current, opts)

		bag, err := instanceSchema.Validate(merged)
		if err != nil {
			return err
		}

		_, err = status.Transition(statusOf(bag))
		if err != nil {
			return err
		}

		currentBox, _ := current["box"].(map[string]interface{})
		instanceUUID, _ := currentBox["instance_uuid"].(string)
		if instanceUUID == "" {
			instanceUUID = uuid.NewString()
		}
		s.injectInstanceUUID(name, bag, instanceUUID)

		err = s.placeNode(state, name, bag)
		if err != nil {
			return err
		}

		state.Instances[name] = bag
		return nil
	})
}

func (s *Session) SetNodeReachable(ctx context.Context, name string) error {
	return s.SetNodeOptions(ctx, name, map[string]interface{}{"status": string(StatusReachable)})
}

func (s *Session) SetNodeUnreachable(ctx context.Context, name string) error {
	return s.SetNodeOptions(ctx, name, map[string]interface{}{"status": string(StatusUnreachable)})
}

func (s *Session) injectInstanceUUID(name string, bag map[string]interface{}, instanceUUID string) {
	box, _ := bag["box"].(map[string]interface{})
	if box == nil {
		box = make(map[string]interface{})
		bag["box"] = box
	}

	if prev, ok := box["instance_uuid"]; ok && prev != instanceUUID {
		s.logger.Debug("overriding caller supplied instance_uuid",
			zap.String("instance", name),
			zap.Any("supplied", prev))
	}

	box["instance_uuid"] = instanceUUID
}

// placeNode checks the sharding groups an instance refers to and makes sure
// its replicaset exists and has room for it.
func (s *Session) placeNode(state *State, name string, bag map[string]interface{}) error {
	groups, _ := optschema.ToStringList(bag["vshard_groups"])
	for _, group := range groups {
		if _, ok := state.VshardGroups[group]; !ok {
			return &optschema.FieldError{
				Schema: instanceSchema.Name,
				Field:  "vshard_groups",
				Reason: "unknown vshard group " + group,
			}
		}
	}

	replicaset, _ := bag["replicaset"].(string)
	if replicaset == "" {
		return nil
	}

	err := s.ensureReplicaSet(state, replicaset)
	if err != nil {
		return err
	}

	if state.memberCount(replicaset, name) >= MaxReplicaSetSize {
		return errors.Wrapf(ErrConflict, "replicaset %s already has %d members", replicaset, MaxReplicaSetSize)
	}

	return nil
}

func shallowMerge(current, opts map[string]interface{}) map[string]interface{} {
	merged := optschema.CloneMap(current)
	if merged == nil {
		merged = make(map[string]interface{})
	}

	for key, val := range opts {
		if val == nil {
			delete(merged, key)
			continue
		}
		merged[key] = optschema.Clone(val)
	}

	return merged
}

// GetNodeOptions reads an instance's options straight from the store.
func (s *Session) GetNodeOptions(ctx context.Context, name string) (map[string]interface{}, error) {
	return s.getBag(ctx, "instance", "instances", name)
}

func (s *Session) GetNode(ctx context.Context, name string) (*Node, error) {
	bag, err := s.GetNodeOptions(ctx, name)
	if err != nil {
		return nil, err
	}
	return decodeNode(name, bag)
}

// GetNodes returns every stored instance, expelled ones included, sorted by
// name.
func (s *Session) GetNodes(ctx context.Context) ([]*Node, error) {
	state, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return state.Nodes()
}

func (s *Session) ForEachNode(ctx context.Context, fn func(node *Node) error) error {
	nodes, err := s.GetNodes(ctx)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		err = fn(node)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) GetRouters(ctx context.Context) ([]*Node, error) {
	return s.filterNodes(ctx, func(node *Node) bool {
		return node.IsRouter
	})
}

func (s *Session) GetStorages(ctx context.Context) ([]*Node, error) {
	return s.filterNodes(ctx, func(node *Node) bool {
		return node.IsStorage
	})
}

func (s *Session) filterNodes(ctx context.Context, match func(node *Node) bool) ([]*Node, error) {
	var out []*Node
	err := s.ForEachNode(ctx, func(node *Node) error {
		if !node.Status.IsExpelled() && match(node) {
			out = append(out, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) getBag(ctx context.Context, kind, section, name string) (map[string]interface{}, error) {
	if s.closed {
		return nil, ErrClosed
	}

	val, ok, err := kvstore.GetPath(ctx, s.store, s.path(section, name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s %s", kind, name)
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s %s", kind, name)
	}

	bag, isMap := val.(map[string]interface{})
	if !isMap {
		return nil, errors.Errorf("stored %s %s is malformed", kind, name)
	}

	return bag, nil
}
