/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"github.com/couchbase/stellar-topology/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type TopologyMetrics struct {
	Commits            metric.Int64Counter
	CommitConflicts    metric.Int64Counter
	ValidationFailures metric.Int64Counter
	WatchNotifications metric.Int64Counter
	Derivations        metric.Int64Counter
	DerivationFailures metric.Int64Counter
}

var (
	topologyMetrics     *TopologyMetrics
	topologyMetricsLock sync.Mutex
)

func GetTopologyMetrics() *TopologyMetrics {
	topologyMetricsLock.Lock()

	if topologyMetrics != nil {
		topologyMetricsLock.Unlock()
		return topologyMetrics
	}

	topologyMetrics = newTopologyMetrics()

	topologyMetricsLock.Unlock()
	return topologyMetrics
}

func newTopologyMetrics() *TopologyMetrics {
	meter := otel.Meter(
		"com.couchbase.stellar-topology",
		metric.WithInstrumentationVersion(version.GetVersion()))

	commits, _ := meter.Int64Counter("topology_commits_total")
	commitConflicts, _ := meter.Int64Counter("topology_commit_conflicts_total")
	validationFailures, _ := meter.Int64Counter("topology_validation_failures_total")
	watchNotifications, _ := meter.Int64Counter("topology_watch_notifications_total")
	derivations, _ := meter.Int64Counter("vshard_derivations_total")
	derivationFailures, _ := meter.Int64Counter("vshard_derivation_failures_total")

	return &TopologyMetrics{
		Commits:            commits,
		CommitConflicts:    commitConflicts,
		ValidationFailures: validationFailures,
		WatchNotifications: watchNotifications,
		Derivations:        derivations,
		DerivationFailures: derivationFailures,
	}
}
