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
	"encoding/json"

	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/pkg/errors"
)

var replicaSchema = &optschema.Schema{
	Name:   "replica",
	Strict: true,
	Fields: []optschema.Field{
		{Name: "uri", Type: optschema.NonEmptyString, Check: optschema.All(optschema.CheckURI, optschema.Unique("uri"))},
		{Name: "name", Type: optschema.NonEmptyString, Check: optschema.Unique("name")},
		{Name: "master", Type: optschema.Boolean, Optional: true, Check: optschema.OnlyOnce("master")},
	},
	Checks: []optschema.Checker{
		// replicas are keyed by instance_uuid
		optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
			key, _ := ctx.Get(optschema.EntryKey)
			uuid, _ := key.(string)
			if uuid == "" {
				return errors.New("replica has no instance_uuid")
			}
			return optschema.Unique("instance_uuid").Check(uuid, ctx)
		}),
	},
}

var replicasetSchema = &optschema.Schema{
	Name:   "replicaset",
	Strict: true,
	Fields: []optschema.Field{
		{Name: "replicas", Type: optschema.Map, Check: optschema.All(checkNotEmpty, optschema.EachValue(replicaSchema))},
		{Name: "master", Type: optschema.NonEmptyString, Optional: true},
		{Name: "weight", Type: optschema.NonNegativeNumber, Check: optschema.CheckFinite},
	},
	Checks: []optschema.Checker{
		optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
			bag := val.(map[string]interface{})
			master, ok := bag["master"].(string)
			if !ok {
				return nil
			}

			replicas := bag["replicas"].(map[string]interface{})
			replica, ok := replicas[master].(map[string]interface{})
			if !ok {
				return &optschema.FieldError{Schema: "replicaset", Field: "master", Reason: "master " + master + " is not a replica"}
			}
			if isMaster, _ := replica["master"].(bool); !isMaster {
				return &optschema.FieldError{Schema: "replicaset", Field: "master", Reason: "master " + master + " is not flagged as master"}
			}
			return nil
		}),
	},
}

// shardingSchema is the strict pass run over every derived config.
var shardingSchema = &optschema.Schema{
	Name:   "sharding",
	Strict: true,
	Fields: []optschema.Field{
		{Name: "bucket_count", Type: optschema.PositiveInteger},
		{Name: "rebalancer_disbalance_threshold", Type: optschema.NonNegativeNumber},
		{Name: "rebalancer_max_receiving", Type: optschema.PositiveInteger},
		{Name: "rebalancer_max_sending", Type: optschema.PositiveInteger, Max: optschema.Bound(15)},
		{Name: "collect_bucket_garbage_interval", Type: optschema.PositiveNumber},
		{Name: "collect_lua_garbage", Type: optschema.Boolean},
		{Name: "sync_timeout", Type: optschema.NonNegativeNumber},
		{Name: "discovery_mode", Type: optschema.Enum("on", "off", "once")},
		{Name: "shard_index", Type: optschema.NonEmptyString},
		{Name: "failover_ping_timeout", Type: optschema.PositiveNumber},
		{Name: "weights", Type: optschema.Map, Optional: true, Check: optschema.CheckDistanceMatrix},
		{Name: "sharding", Type: optschema.Map, Check: optschema.EachValueScoped(replicasetSchema)},
	},
	Checks: []optschema.Checker{
		checkPositiveWeight,
	},
}

var checkNotEmpty = optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
	if entries, _ := val.(map[string]interface{}); len(entries) == 0 {
		return errors.New("must not be empty")
	}
	return nil
})

// checkPositiveWeight requires at least one replicaset able to take buckets.
var checkPositiveWeight = optschema.CheckerFunc(func(val interface{}, ctx *optschema.Context) error {
	sharding, _ := val.(map[string]interface{})["sharding"].(map[string]interface{})
	if len(sharding) == 0 {
		return nil
	}

	for _, rsVal := range sharding {
		rs, _ := rsVal.(map[string]interface{})
		if weight, ok := optschema.ToFloat(rs["weight"]); ok && weight > 0 {
			return nil
		}
	}

	return &optschema.FieldError{Schema: "sharding", Field: "sharding", Reason: "at least one replicaset must have a positive weight"}
})

// Check runs the strict sharding schema over a config.
func (c *Config) Check() error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode sharding config")
	}

	var doc map[string]interface{}
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return errors.Wrap(err, "failed to decode sharding config")
	}

	_, err = shardingSchema.Validate(doc)
	return err
}
