/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package vshardcfg

import (
	"context"

	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/couchbase/stellar-topology/pkg/metrics"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var tracer = otel.Tracer("com.couchbase.stellar-topology/vshardcfg")

// Source provides the committed topology to derive from.  *topology.Session
// implements it.
type Source interface {
	Snapshot(ctx context.Context) (*topology.State, error)
}

// DeriveShardingConfig reads the topology from src and builds the sharding
// config of the named vshard group.  An empty group means the default one.
func DeriveShardingConfig(ctx context.Context, src Source, group string) (*Config, error) {
	if group == "" {
		group = topology.DefaultVshardGroup
	}

	ctx, span := tracer.Start(ctx, "DeriveShardingConfig", trace.WithAttributes(attribute.String("group", group)))
	defer span.End()

	state, err := src.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cfg, err := Derive(state, group)
	recordDerivation(ctx, span, "sharding", err)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// DeriveAll builds the sharding config of every vshard group.
func DeriveAll(ctx context.Context, src Source) (map[string]*Config, error) {
	state, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	names := maps.Keys(state.VshardGroups)
	slices.Sort(names)

	configs := make(map[string]*Config, len(names))
	for _, name := range names {
		cfg, err := Derive(state, name)
		recordDerivation(ctx, nil, "sharding", err)
		if err != nil {
			return nil, err
		}
		configs[name] = cfg
	}

	return configs, nil
}

func recordDerivation(ctx context.Context, span trace.Span, kind string, err error) {
	tm := metrics.GetTopologyMetrics()
	attrs := metric.WithAttributes(attribute.String("kind", kind))

	if err != nil {
		tm.DerivationFailures.Add(ctx, 1, attrs)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return
	}

	tm.Derivations.Add(ctx, 1, attrs)
}

// Derive builds the sharding config of a vshard group from a topology
// snapshot.
func Derive(state *topology.State, group string) (*Config, error) {
	vg, err := state.VshardGroup(group)
	if errors.Is(err, topology.ErrNotFound) {
		return nil, errors.Wrapf(ErrUnknownGroup, "%s", group)
	} else if err != nil {
		return nil, err
	}

	sets, err := state.ReplicaSets()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BucketCount:                   vg.BucketCount,
		RebalancerDisbalanceThreshold: vg.RebalancerDisbalanceThreshold,
		RebalancerMaxReceiving:        vg.RebalancerMaxReceiving,
		RebalancerMaxSending:          vg.RebalancerMaxSending,
		CollectBucketGarbageInterval:  vg.CollectBucketGarbageInterval,
		CollectLuaGarbage:             vg.CollectLuaGarbage,
		SyncTimeout:                   vg.SyncTimeout,
		DiscoveryMode:                 vg.DiscoveryMode,
		ShardIndex:                    vg.ShardIndex,
		FailoverPingTimeout:           vg.FailoverPingTimeout,
		Weights:                       state.ZoneDistances(),
		Sharding:                      make(map[string]*ReplicaSet),
	}

	for _, rs := range sets {
		members, err := state.Members(rs.Name)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			return nil, errors.Wrapf(ErrDerivation, "replicaset %s has no members", rs.Name)
		}

		if !slices.ContainsFunc(members, func(node *topology.Node) bool {
			return takesPart(node, group)
		}) {
			continue
		}

		var included []*topology.Node
		for _, node := range members {
			if node.IsReachable() && takesPart(node, group) {
				included = append(included, node)
			}
		}
		if len(included) == 0 {
			return nil, errors.Wrapf(ErrDerivation, "replicaset %s has no eligible members", rs.Name)
		}

		master, err := pickMaster(rs, included)
		if err != nil {
			return nil, err
		}

		rsCfg := &ReplicaSet{
			Replicas: make(map[string]*Replica, len(included)),
			Weight:   rs.Weight,
		}
		for _, node := range included {
			replica := &Replica{
				URI:  node.AdvertiseURI,
				Name: node.Name,
			}
			if node == master {
				replica.Master = true
				rsCfg.Master = node.InstanceUUID
			}
			rsCfg.Replicas[node.InstanceUUID] = replica
		}

		cfg.Sharding[rs.ClusterUUID] = rsCfg
	}

	err = cfg.Check()
	if err != nil {
		return nil, &CheckError{Group: group, Err: err}
	}

	return cfg, nil
}

// takesPart reports whether a node routes, or stores buckets of the group.
func takesPart(node *topology.Node, group string) bool {
	return node.IsRouter || (node.IsStorage && node.InVshardGroup(group))
}

// pickMaster chooses the master among the included members, which are sorted
// by name.  A nil master is allowed.
func pickMaster(rs *topology.ReplicaSet, included []*topology.Node) (*topology.Node, error) {
	var masters []*topology.Node
	for _, node := range included {
		if node.IsMaster {
			masters = append(masters, node)
		}
	}

	switch rs.MasterMode {
	case topology.MasterModeMulti:
		if len(masters) == 0 {
			return nil, nil
		}
		return masters[0], nil

	case topology.MasterModeAuto:
		for _, name := range rs.FailoverPriority {
			for _, node := range included {
				if node.Name == name {
					return node, nil
				}
			}
		}
		if len(masters) == 0 {
			return nil, nil
		}
		return masters[0], nil

	default:
		if len(masters) > 1 {
			return nil, errors.Wrapf(ErrDerivation, "replicaset %s has %d masters (%s and %s)",
				rs.Name, len(masters), masters[0].Name, masters[1].Name)
		}
		if len(masters) == 0 {
			return nil, nil
		}
		return masters[0], nil
	}
}

// DeriveNodeConfig builds the runtime config of one instance: its box options
// plus identity, read_only and replication peers.
func DeriveNodeConfig(ctx context.Context, src Source, name string) (map[string]interface{}, error) {
	ctx, span := tracer.Start(ctx, "DeriveNodeConfig", trace.WithAttributes(attribute.String("instance", name)))
	defer span.End()

	state, err := src.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cfg, err := NodeConfig(state, name)
	recordDerivation(ctx, span, "instance", err)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func NodeConfig(state *topology.State, name string) (map[string]interface{}, error) {
	node, err := state.Node(name)
	if err != nil {
		return nil, err
	}
	if node.Status.IsExpelled() {
		return nil, errors.Wrapf(topology.ErrExpelled, "instance %s", name)
	}

	cfg := optschema.CloneMap(node.Box)
	if cfg == nil {
		cfg = make(map[string]interface{})
	}

	cfg["instance_uuid"] = node.InstanceUUID
	cfg["read_only"] = !node.IsMaster

	if node.ReplicaSet == "" {
		return cfg, nil
	}

	rs, err := state.ReplicaSet(node.ReplicaSet)
	if err != nil {
		return nil, err
	}
	cfg["replicaset_uuid"] = rs.ClusterUUID

	members, err := state.Members(rs.Name)
	if err != nil {
		return nil, err
	}

	replication := make([]string, 0, len(members))
	for _, member := range members {
		if member.IsReachable() && member.AdvertiseURI != "" {
			replication = append(replication, member.AdvertiseURI)
		}
	}
	cfg["replication"] = replication

	return cfg, nil
}
