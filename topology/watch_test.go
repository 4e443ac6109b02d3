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
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type manualWatch struct {
	ticks chan time.Time
	calls chan int64
	done  chan struct{}
}

func startManualWatch(t *testing.T, ctx context.Context, s *Session, cb ChangeCallback) *manualWatch {
	w, err := newWatcher(ctx, s.store, s.name, zaptest.NewLogger(t))
	require.NoError(t, err)

	mw := &manualWatch{
		ticks: make(chan time.Time),
		calls: make(chan int64, 16),
		done:  make(chan struct{}),
	}

	go func() {
		w.run(ctx, func(ctx context.Context, version int64) error {
			mw.calls <- version
			return cb(ctx, version)
		}, mw.ticks)
		close(mw.done)
	}()

	return mw
}

// tick blocks until the watch loop picked up the tick.  Since the loop only
// selects on ticks between polls, a returned tick also means every earlier
// poll has finished.
func (mw *manualWatch) tick() {
	mw.ticks <- time.Now()
}

func (mw *manualWatch) waitCall(t *testing.T) int64 {
	select {
	case version := <-mw.calls:
		return version
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}
	return 0
}

func TestWatchCollapsesCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestSession(t)

	var observed []int64
	mw := startManualWatch(t, ctx, s, func(ctx context.Context, version int64) error {
		observed = append(observed, version)
		return nil
	})

	// nothing changed yet
	mw.tick()
	mw.tick()
	require.Len(t, mw.calls, 0)

	require.NoError(t, s.CreateNode(ctx, "router-1", nil))
	require.NoError(t, s.CreateNode(ctx, "router-2", nil))

	mw.tick()
	require.Equal(t, int64(2), mw.waitCall(t))

	mw.tick()
	mw.tick()
	require.Len(t, mw.calls, 0)

	require.NoError(t, s.SetNodeUnreachable(ctx, "router-1"))

	mw.tick()
	require.Equal(t, int64(3), mw.waitCall(t))

	cancel()
	<-mw.done

	require.Equal(t, []int64{2, 3}, observed)
}

func TestWatchSwallowsCallbackFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestSession(t)

	var calls int
	mw := startManualWatch(t, ctx, s, func(ctx context.Context, version int64) error {
		calls++
		if calls == 1 {
			return errors.New("callback failed")
		}
		panic("callback panicked")
	})

	require.NoError(t, s.CreateNode(ctx, "router-1", nil))
	mw.tick()
	require.Equal(t, int64(1), mw.waitCall(t))

	require.NoError(t, s.CreateNode(ctx, "router-2", nil))
	mw.tick()
	require.Equal(t, int64(2), mw.waitCall(t))

	// the loop survived the panic
	require.NoError(t, s.CreateNode(ctx, "router-3", nil))
	mw.tick()
	require.Equal(t, int64(3), mw.waitCall(t))

	cancel()
	<-mw.done
}

func TestWatchChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, store := newTestSession(t)

	// the watcher only shares the store with the writer
	watchSession := openTestSession(t, store, Options{Autocommit: true})

	var lastVersion atomic.Int64
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- watchSession.WatchChanges(ctx, func(ctx context.Context, version int64) error {
			lastVersion.Store(version)
			return nil
		}, 5*time.Millisecond)
	}()

	// the watcher takes its starting version asynchronously, so keep writing
	// until it reports a change
	created := 0
	require.Eventually(t, func() bool {
		if lastVersion.Load() > 0 {
			return true
		}
		created++
		_ = s.CreateNode(ctx, fmt.Sprintf("router-%d", created), nil)
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// once running, every later commit is observed
	require.NoError(t, s.CreateNode(ctx, "router-last", nil))
	version, err := s.Version(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return lastVersion.Load() == version
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestWatchChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestSession(t)

	versionCh, err := s.Watch(ctx, 5*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.CreateNode(ctx, "router-1", nil))

	select {
	case version := <-versionCh:
		require.Equal(t, int64(1), version)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for version")
	}

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-versionCh:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
}

func TestWatchClosedSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.Delete(ctx))
	require.ErrorIs(t, s.WatchChanges(ctx, nil, 0), ErrClosed)

	_, err := s.Watch(ctx, 0)
	require.ErrorIs(t, err, ErrClosed)
}
