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
	"encoding/json"

	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// State is the whole persisted topology aggregate.  It is stored as a single
// JSON document under the topology name.
type State struct {
	Version      int64                             `json:"version"`
	Options      map[string]interface{}            `json:"options"`
	VshardGroups map[string]map[string]interface{} `json:"vshard_groups"`
	Replicasets  map[string]map[string]interface{} `json:"replicasets"`
	Instances    map[string]map[string]interface{} `json:"instances"`
}

// Node is a typed view over an instance option bag.
type Node struct {
	Name         string                 `mapstructure:"-" json:"name"`
	InstanceUUID string                 `mapstructure:"-" json:"instance_uuid"`
	Box          map[string]interface{} `mapstructure:"box" json:"box,omitempty"`
	AdvertiseURI string                 `mapstructure:"advertise_uri" json:"advertise_uri,omitempty"`
	IsMaster     bool                   `mapstructure:"is_master" json:"is_master"`
	IsRouter     bool                   `mapstructure:"is_router" json:"is_router"`
	IsStorage    bool                   `mapstructure:"is_storage" json:"is_storage"`
	ReplicaSet   string                 `mapstructure:"replicaset" json:"replicaset,omitempty"`
	VshardGroups []string               `mapstructure:"vshard_groups" json:"vshard_groups,omitempty"`
	Zone         interface{}            `mapstructure:"zone" json:"zone,omitempty"`
	Status       Status                 `mapstructure:"status" json:"status"`
}

func (n *Node) IsReachable() bool {
	return n.Status == StatusReachable
}

// InVshardGroup reports whether the node takes part in the named sharding
// group.
func (n *Node) InVshardGroup(group string) bool {
	return slices.Contains(n.VshardGroups, group)
}

type ReplicaSet struct {
	Name             string   `mapstructure:"-" json:"name"`
	ClusterUUID      string   `mapstructure:"cluster_uuid" json:"cluster_uuid"`
	MasterMode       string   `mapstructure:"master_mode" json:"master_mode"`
	FailoverPriority []string `mapstructure:"failover_priority" json:"failover_priority"`
	Weight           float64  `mapstructure:"weight" json:"weight"`
}

type VshardGroup struct {
	Name                          string  `mapstructure:"-" json:"name"`
	BucketCount                   int     `mapstructure:"bucket_count" json:"bucket_count"`
	RebalancerDisbalanceThreshold float64 `mapstructure:"rebalancer_disbalance_threshold" json:"rebalancer_disbalance_threshold"`
	RebalancerMaxReceiving        int     `mapstructure:"rebalancer_max_receiving" json:"rebalancer_max_receiving"`
	RebalancerMaxSending          int     `mapstructure:"rebalancer_max_sending" json:"rebalancer_max_sending"`
	CollectBucketGarbageInterval  float64 `mapstructure:"collect_bucket_garbage_interval" json:"collect_bucket_garbage_interval"`
	CollectLuaGarbage             bool    `mapstructure:"collect_lua_garbage" json:"collect_lua_garbage"`
	SyncTimeout                   float64 `mapstructure:"sync_timeout" json:"sync_timeout"`
	DiscoveryMode                 string  `mapstructure:"discovery_mode" json:"discovery_mode"`
	ShardIndex                    string  `mapstructure:"shard_index" json:"shard_index"`
	FailoverPingTimeout           float64 `mapstructure:"failover_ping_timeout" json:"failover_ping_timeout"`
}

func newState(initialOptions map[string]interface{}) (*State, error) {
	defaultGroup, err := vshardGroupSchema.Validate(nil)
	if err != nil {
		return nil, err
	}

	options, err := topologyOptionsSchema.Validate(nil)
	if err != nil {
		return nil, err
	}

	state := &State{
		Version: 0,
		Options: options,
		VshardGroups: map[string]map[string]interface{}{
			DefaultVshardGroup: defaultGroup,
		},
		Replicasets: make(map[string]map[string]interface{}),
		Instances:   make(map[string]map[string]interface{}),
	}

	if len(initialOptions) > 0 {
		err = state.applyOptions(initialOptions)
		if err != nil {
			return nil, err
		}
	}

	return state, nil
}

func decodeState(data []byte) (*State, error) {
	state := &State{}
	err := json.Unmarshal(data, state)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse stored topology")
	}

	if state.Options == nil {
		state.Options = make(map[string]interface{})
	}
	if state.VshardGroups == nil {
		state.VshardGroups = make(map[string]map[string]interface{})
	}
	if state.Replicasets == nil {
		state.Replicasets = make(map[string]map[string]interface{})
	}
	if state.Instances == nil {
		state.Instances = make(map[string]map[string]interface{})
	}

	return state, nil
}

func (s *State) encode() ([]byte, error) {
	return json.Marshal(s)
}

func cloneBags(bags map[string]map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(bags))
	for name, bag := range bags {
		out[name] = optschema.CloneMap(bag)
	}
	return out
}

func (s *State) clone() *State {
	return &State{
		Version:      s.Version,
		Options:      optschema.CloneMap(s.Options),
		VshardGroups: cloneBags(s.VshardGroups),
		Replicasets:  cloneBags(s.Replicasets),
		Instances:    cloneBags(s.Instances),
	}
}

func sortedNames(bags map[string]map[string]interface{}) []string {
	names := maps.Keys(bags)
	slices.Sort(names)
	return names
}

func decodeNode(name string, bag map[string]interface{}) (*Node, error) {
	node := &Node{}
	err := mapstructure.Decode(bag, node)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode instance %s", name)
	}

	node.Name = name
	if node.Status == "" {
		node.Status = StatusReachable
	}
	if uuid, ok := node.Box["instance_uuid"].(string); ok {
		node.InstanceUUID = uuid
	}

	return node, nil
}

func decodeReplicaSet(name string, bag map[string]interface{}) (*ReplicaSet, error) {
	rs := &ReplicaSet{}
	err := mapstructure.Decode(bag, rs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode replicaset %s", name)
	}

	rs.Name = name
	return rs, nil
}

func decodeVshardGroup(name string, bag map[string]interface{}) (*VshardGroup, error) {
	group := &VshardGroup{}
	err := mapstructure.Decode(bag, group)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode vshard group %s", name)
	}

	group.Name = name
	return group, nil
}

func (s *State) Node(name string) (*Node, error) {
	bag, ok := s.Instances[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "instance %s", name)
	}
	return decodeNode(name, bag)
}

// Nodes returns every instance, expelled ones included, sorted by name.
func (s *State) Nodes() ([]*Node, error) {
	nodes := make([]*Node, 0, len(s.Instances))
	for _, name := range sortedNames(s.Instances) {
		node, err := decodeNode(name, s.Instances[name])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *State) ReplicaSet(name string) (*ReplicaSet, error) {
	bag, ok := s.Replicasets[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "replicaset %s", name)
	}
	return decodeReplicaSet(name, bag)
}

func (s *State) ReplicaSets() ([]*ReplicaSet, error) {
	sets := make([]*ReplicaSet, 0, len(s.Replicasets))
	for _, name := range sortedNames(s.Replicasets) {
		rs, err := decodeReplicaSet(name, s.Replicasets[name])
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

// Members returns the non-expelled instances of a replicaset sorted by name.
func (s *State) Members(replicaset string) ([]*Node, error) {
	if _, ok := s.Replicasets[replicaset]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "replicaset %s", replicaset)
	}

	var members []*Node
	for _, name := range sortedNames(s.Instances) {
		bag := s.Instances[name]
		if statusOf(bag).IsExpelled() || bag["replicaset"] != replicaset {
			continue
		}

		node, err := decodeNode(name, bag)
		if err != nil {
			return nil, err
		}
		members = append(members, node)
	}

	return members, nil
}

func (s *State) VshardGroup(name string) (*VshardGroup, error) {
	bag, ok := s.VshardGroups[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "vshard group %s", name)
	}
	return decodeVshardGroup(name, bag)
}

// TopologyOptions returns a copy of the global options with the sharding
// groups folded in under "vshard_groups".
func (s *State) TopologyOptions() map[string]interface{} {
	options := optschema.CloneMap(s.Options)
	if options == nil {
		options = make(map[string]interface{})
	}

	groups := make(map[string]interface{}, len(s.VshardGroups))
	for name, bag := range s.VshardGroups {
		groups[name] = optschema.CloneMap(bag)
	}
	options["vshard_groups"] = groups

	return options
}

// ZoneDistances returns the configured zone distance matrix, or nil.
func (s *State) ZoneDistances() map[string]interface{} {
	distances, _ := s.Options["zone_distances"].(map[string]interface{})
	return optschema.CloneMap(distances)
}

// memberCount counts the non-expelled instances of a replicaset other than
// the named instance.
func (s *State) memberCount(replicaset, except string) int {
	count := 0
	for name, bag := range s.Instances {
		if name == except || statusOf(bag).IsExpelled() {
			continue
		}
		if bag["replicaset"] == replicaset {
			count++
		}
	}
	return count
}
