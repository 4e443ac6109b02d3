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
	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/pkg/errors"
)

const (
	DefaultVshardGroup = "default"

	// MaxReplicaSetSize is the largest number of non-expelled instances a
	// replicaset may hold.
	MaxReplicaSetSize = 32
)

const (
	MasterModeSingle = "single"
	MasterModeMulti  = "multi"
	MasterModeAuto   = "auto"
)

var boxSchema = &optschema.Schema{
	Name: "box",
	Fields: []optschema.Field{
		{Name: "listen", Type: optschema.OneOf(optschema.NonEmptyString, optschema.PositiveInteger), Optional: true},
		{Name: "instance_uuid", Type: optschema.NonEmptyString, Optional: true},
	},
}

var instanceSchema = &optschema.Schema{
	Name:   "instance",
	Strict: true,
	Fields: []optschema.Field{
		{Name: "box", Type: optschema.Map, Default: map[string]interface{}{}, Check: optschema.Nested(boxSchema)},
		{Name: "advertise_uri", Type: optschema.String, Optional: true, Check: optschema.CheckURI},
		{Name: "is_master", Type: optschema.Boolean, Default: false},
		{Name: "is_router", Type: optschema.Boolean, Default: false},
		{Name: "is_storage", Type: optschema.Boolean, Default: false},
		{Name: "replicaset", Type: optschema.NonEmptyString, Optional: true, Check: checkName},
		{Name: "vshard_groups", Type: optschema.StringList, Default: []interface{}{DefaultVshardGroup}, Check: optschema.CheckNames},
		{Name: "zone", Type: optschema.OneOf(optschema.NonEmptyString, optschema.Number), Optional: true},
		{Name: "status", Type: optschema.Enum(string(StatusReachable), string(StatusUnreachable)), Default: string(StatusReachable)},
	},
	Checks: []optschema.Checker{
		optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
			bag := val.(map[string]interface{})
			if isStorage, _ := bag["is_storage"].(bool); isStorage {
				if _, ok := bag["replicaset"]; !ok {
					return &optschema.FieldError{Schema: "instance", Field: "replicaset", Reason: "storage instances must belong to a replicaset"}
				}
			}
			return nil
		}),
	},
}

var replicasetSchema = &optschema.Schema{
	Name:   "replicaset",
	Strict: true,
	Fields: []optschema.Field{
		{Name: "cluster_uuid", Type: optschema.NonEmptyString, Optional: true},
		{Name: "master_mode", Type: optschema.Enum(MasterModeSingle, MasterModeMulti, MasterModeAuto), Default: MasterModeSingle},
		{Name: "failover_priority", Type: optschema.StringList, Default: []interface{}{}, Check: optschema.CheckNames},
		{Name: "weight", Type: optschema.NonNegativeNumber, Default: float64(1), Check: optschema.CheckFinite},
	},
}

var vshardGroupSchema = &optschema.Schema{
	Name:   "vshard_group",
	Strict: true,
	Fields: []optschema.Field{
		{Name: "bucket_count", Type: optschema.PositiveInteger, Default: float64(3000)},
		{Name: "rebalancer_disbalance_threshold", Type: optschema.NonNegativeNumber, Default: float64(1)},
		{Name: "rebalancer_max_receiving", Type: optschema.PositiveInteger, Default: float64(100)},
		{Name: "rebalancer_max_sending", Type: optschema.PositiveInteger, Default: float64(1), Max: optschema.Bound(15)},
		{Name: "collect_bucket_garbage_interval", Type: optschema.PositiveNumber, Default: 0.5},
		{Name: "collect_lua_garbage", Type: optschema.Boolean, Default: false},
		{Name: "sync_timeout", Type: optschema.NonNegativeNumber, Default: float64(1)},
		{Name: "discovery_mode", Type: optschema.Enum("on", "off", "once"), Default: "on"},
		{Name: "shard_index", Type: optschema.NonEmptyString, Default: "bucket_id"},
		{Name: "failover_ping_timeout", Type: optschema.PositiveNumber, Default: float64(5)},
	},
}

var failoverSchema = &optschema.Schema{
	Name: "failover",
	Fields: []optschema.Field{
		{Name: "mode", Type: optschema.Enum("disabled", "eventual", "stateful"), Default: "disabled"},
		{Name: "state_provider", Type: optschema.NonEmptyString, Optional: true},
		{Name: "failover_timeout", Type: optschema.PositiveNumber, Default: float64(20)},
		{Name: "fencing_enabled", Type: optschema.Boolean, Default: false},
	},
	Checks: []optschema.Checker{
		optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
			bag := val.(map[string]interface{})
			if bag["mode"] == "stateful" {
				if _, ok := bag["state_provider"]; !ok {
					return &optschema.FieldError{Schema: "failover", Field: "state_provider", Reason: "stateful failover requires a state provider"}
				}
			}
			return nil
		}),
	},
}

// topologyOptionsSchema covers the global options bag.  Keys it does not
// declare are free-form and pass through untouched.
var topologyOptionsSchema = &optschema.Schema{
	Name: "topology",
	Fields: []optschema.Field{
		{Name: "zone_distances", Type: optschema.Map, Optional: true, Check: optschema.CheckDistanceMatrix},
		{Name: "failover", Type: optschema.Map, Default: map[string]interface{}{}, Check: optschema.Nested(failoverSchema)},
	},
}

var checkName = optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
	name, _ := val.(string)
	return optschema.ValidName(name)
})

func validateName(kind, name string) error {
	err := optschema.ValidName(name)
	if err != nil {
		return &optschema.FieldError{Schema: kind, Field: "name", Reason: err.Error()}
	}
	return nil
}

// nestField prefixes the field path of a validation error.
func nestField(prefix string, err error) error {
	var fieldErr *optschema.FieldError
	if errors.As(err, &fieldErr) {
		return &optschema.FieldError{Schema: fieldErr.Schema, Field: prefix + "." + fieldErr.Field, Reason: fieldErr.Reason}
	}
	return err
}
