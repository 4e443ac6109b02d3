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
	"time"

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const DefaultPollInterval = 100 * time.Millisecond

// ChangeCallback is invoked with the newly observed version.
type ChangeCallback func(ctx context.Context, version int64) error

// WatchChanges polls the stored version every interval and invokes cb once
// each time it grows.  Several commits between two polls produce a single
// call.  Errors and panics from cb are logged and otherwise ignored.  It
// blocks until ctx is cancelled.
func (s *Session) WatchChanges(ctx context.Context, cb ChangeCallback, interval time.Duration) error {
	if s.closed {
		return ErrClosed
	}

	w, err := newWatcher(ctx, s.store, s.name, s.logger)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval(interval))
	defer ticker.Stop()

	w.run(ctx, cb, ticker.C)
	return nil
}

// Watch is the channel form of WatchChanges.  The channel only ever holds the
// latest unseen version and is closed once ctx is cancelled.
func (s *Session) Watch(ctx context.Context, interval time.Duration) (<-chan int64, error) {
	if s.closed {
		return nil, ErrClosed
	}

	w, err := newWatcher(ctx, s.store, s.name, s.logger)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan int64, 1)

	go func() {
		ticker := time.NewTicker(pollInterval(interval))
		defer ticker.Stop()

		w.run(ctx, func(ctx context.Context, version int64) error {
			// we are the only sender, so once the stale value is drained the
			// send below never blocks
			select {
			case <-outputCh:
			default:
			}
			outputCh <- version
			return nil
		}, ticker.C)

		close(outputCh)
	}()

	return outputCh, nil
}

func pollInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return DefaultPollInterval
	}
	return interval
}

// watcher only ever reads the store, it never touches a session's working
// copy.
type watcher struct {
	logger      *zap.Logger
	metrics     *metrics.TopologyMetrics
	store       kvstore.Store
	name        string
	lastVersion int64
}

func newWatcher(ctx context.Context, store kvstore.Store, name string, logger *zap.Logger) (*watcher, error) {
	version, _, err := readVersion(ctx, store, name)
	if err != nil {
		return nil, err
	}

	return &watcher{
		logger:      logger.Named("watcher"),
		metrics:     metrics.GetTopologyMetrics(),
		store:       store,
		name:        name,
		lastVersion: version,
	}, nil
}

func (w *watcher) run(ctx context.Context, cb ChangeCallback, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}

		w.poll(ctx, cb)
	}
}

func (w *watcher) poll(ctx context.Context, cb ChangeCallback) {
	version, ok, err := readVersion(ctx, w.store, w.name)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("failed to poll topology version", zap.Error(err))
		}
		return
	}

	if !ok {
		return
	}

	if version < w.lastVersion {
		// the topology was deleted and recreated
		w.logger.Debug("topology version went backwards",
			zap.Int64("last", w.lastVersion),
			zap.Int64("version", version))
		w.lastVersion = version
		return
	}

	if version == w.lastVersion {
		return
	}

	w.lastVersion = version
	w.metrics.WatchNotifications.Add(ctx, 1, metric.WithAttributes(attribute.String("topology", w.name)))
	w.invoke(ctx, cb, version)
}

func (w *watcher) invoke(ctx context.Context, cb ChangeCallback, version int64) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Debug("change callback panicked",
				zap.Int64("version", version),
				zap.Any("panic", r))
		}
	}()

	err := cb(ctx, version)
	if err != nil {
		w.logger.Debug("change callback failed",
			zap.Int64("version", version),
			zap.Error(err))
	}
}
