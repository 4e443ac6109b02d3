/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"os"
	"testing"
)

type Config struct {
	EtcdEndpoint string
	RedisAddr    string
}

var globalTestConfig *Config

func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{
			EtcdEndpoint: "localhost:2379",
			RedisAddr:    "localhost:6379",
		}

		envEtcdEndpoint := os.Getenv("STTEST_ETCD_ENDPOINT")
		if envEtcdEndpoint != "" {
			testConfig.EtcdEndpoint = envEtcdEndpoint
		}

		envRedisAddr := os.Getenv("STTEST_REDIS_ADDR")
		if envRedisAddr != "" {
			testConfig.RedisAddr = envRedisAddr
		}

		t.Logf("initialized test configuration")
		t.Logf("  etcd endpoint: %s", testConfig.EtcdEndpoint)
		t.Logf("  redis address: %s", testConfig.RedisAddr)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}
