/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newOptionsCmd(t *testing.T, raw string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("options", "", "")
	require.NoError(t, cmd.Flags().Set("options", raw))
	return cmd
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions(newOptionsCmd(t, `{"replicaset":"rs1","is_storage":true}`))
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"replicaset": "rs1",
		"is_storage": true,
	}, opts)

	opts, err = parseOptions(newOptionsCmd(t, ""))
	require.NoError(t, err)
	require.Nil(t, opts)

	_, err = parseOptions(newOptionsCmd(t, `[1, 2]`))
	require.ErrorContains(t, err, "--options")
}

func TestParseLogLevel(t *testing.T) {
	logger := zaptest.NewLogger(t)

	require.Equal(t, zapcore.DebugLevel, parseLogLevel(logger, "debug"))
	require.Equal(t, zapcore.WarnLevel, parseLogLevel(logger, "warn"))
	require.Equal(t, zapcore.InfoLevel, parseLogLevel(logger, "loud"))
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"init"},
		{"instance", "add"},
		{"instance", "rm"},
		{"instance", "set"},
		{"instance", "reachable"},
		{"instance", "unreachable"},
		{"replicaset", "add"},
		{"replicaset", "rm"},
		{"replicaset", "set"},
		{"options", "set"},
		{"show"},
		{"derive"},
		{"instance-config"},
		{"watch"},
		{"serve"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}
