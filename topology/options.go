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

	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SetTopologyOptions merges opts over the global options.  The vshard_groups
// and failover keys are merged entry by entry rather than replaced.  Setting a
// sharding group to nil removes it.
func (s *Session) SetTopologyOptions(ctx context.Context, opts map[string]interface{}) error {
	return s.mutate(ctx, "SetTopologyOptions", func(state *State) error {
		return state.applyOptions(opts)
	})
}

// GetTopologyOptions reads the global options, sharding groups included, from
// the store.
func (s *Session) GetTopologyOptions(ctx context.Context) (map[string]interface{}, error) {
	state, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return state.TopologyOptions(), nil
}

func (s *State) applyOptions(opts map[string]interface{}) error {
	merged := optschema.CloneMap(s.Options)
	if merged == nil {
		merged = make(map[string]interface{})
	}

	var groups map[string]interface{}
	for key, val := range opts {
		switch key {
		case "vshard_groups":
			if val == nil {
				continue
			}
			entries, ok := val.(map[string]interface{})
			if !ok {
				return &optschema.FieldError{Schema: topologyOptionsSchema.Name, Field: key, Reason: fmt.Sprintf("expected map, got %T", val)}
			}
			groups = entries
		case "failover":
			if val == nil {
				delete(merged, key)
				continue
			}
			entries, ok := val.(map[string]interface{})
			if !ok {
				return &optschema.FieldError{Schema: topologyOptionsSchema.Name, Field: key, Reason: fmt.Sprintf("expected map, got %T", val)}
			}
			current, _ := merged[key].(map[string]interface{})
			merged[key] = shallowMerge(current, entries)
		default:
			if val == nil {
				delete(merged, key)
				continue
			}
			merged[key] = optschema.Clone(val)
		}
	}

	options, err := topologyOptionsSchema.Validate(merged)
	if err != nil {
		return err
	}

	nextGroups := cloneBags(s.VshardGroups)
	names := maps.Keys(groups)
	slices.Sort(names)

	for _, name := range names {
		err := applyVshardGroup(s, nextGroups, name, groups[name])
		if err != nil {
			return err
		}
	}

	s.Options = options
	s.VshardGroups = nextGroups
	return nil
}

func applyVshardGroup(state *State, groups map[string]map[string]interface{}, name string, val interface{}) error {
	err := optschema.ValidName(name)
	if err != nil {
		return &optschema.FieldError{Schema: vshardGroupSchema.Name, Field: "vshard_groups." + name, Reason: err.Error()}
	}

	if val == nil {
		if name == DefaultVshardGroup {
			return &optschema.FieldError{Schema: vshardGroupSchema.Name, Field: "vshard_groups." + name, Reason: "the default group cannot be removed"}
		}

		for instance, bag := range state.Instances {
			if statusOf(bag).IsExpelled() {
				continue
			}
			member, _ := optschema.ToStringList(bag["vshard_groups"])
			if slices.Contains(member, name) {
				return errors.Wrapf(ErrConflict, "vshard group %s is used by instance %s", name, instance)
			}
		}

		delete(groups, name)
		return nil
	}

	entries, ok := val.(map[string]interface{})
	if !ok {
		return &optschema.FieldError{Schema: vshardGroupSchema.Name, Field: "vshard_groups." + name, Reason: fmt.Sprintf("expected map, got %T", val)}
	}

	bag, err := vshardGroupSchema.Validate(shallowMerge(groups[name], entries))
	if err != nil {
		return nestField("vshard_groups."+name, err)
	}

	groups[name] = bag
	return nil
}
