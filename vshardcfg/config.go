/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package vshardcfg renders a stored topology into the configuration consumed
// by vshard routers and storages.
package vshardcfg

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrDerivation   = errors.New("failed to derive sharding config")
	ErrUnknownGroup = errors.New("unknown vshard group")
)

// CheckError is returned when a derived config fails the strict sharding
// schema.  It matches ErrDerivation and unwraps to the validation error.
type CheckError struct {
	Group string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("invalid sharding config for group %s: %s", e.Group, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

func (e *CheckError) Is(target error) bool {
	return target == ErrDerivation
}

// Replica is one instance of a replicaset as vshard sees it.
type Replica struct {
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Master bool   `json:"master,omitempty"`
}

type ReplicaSet struct {
	Replicas map[string]*Replica `json:"replicas"`
	Master   string              `json:"master,omitempty"`
	Weight   float64             `json:"weight"`
}

// Config is the sharding configuration of one vshard group.  Replicasets are
// keyed by cluster_uuid and replicas by instance_uuid.
type Config struct {
	BucketCount                   int     `json:"bucket_count"`
	RebalancerDisbalanceThreshold float64 `json:"rebalancer_disbalance_threshold"`
	RebalancerMaxReceiving        int     `json:"rebalancer_max_receiving"`
	RebalancerMaxSending          int     `json:"rebalancer_max_sending"`
	CollectBucketGarbageInterval  float64 `json:"collect_bucket_garbage_interval"`
	CollectLuaGarbage             bool    `json:"collect_lua_garbage"`
	SyncTimeout                   float64 `json:"sync_timeout"`
	DiscoveryMode                 string  `json:"discovery_mode"`
	ShardIndex                    string  `json:"shard_index"`
	FailoverPingTimeout           float64 `json:"failover_ping_timeout"`

	Weights  map[string]interface{} `json:"weights,omitempty"`
	Sharding map[string]*ReplicaSet `json:"sharding"`
}
