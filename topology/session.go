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
	"strings"

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/couchbase/stellar-topology/pkg/metrics"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("com.couchbase.stellar-topology/topology")

type Options struct {
	// Autocommit re-reads the store before and writes it after every
	// mutation.  Without it mutations stay local until Commit.
	Autocommit bool

	// InitialOptions are applied to a freshly created topology.  They are
	// ignored when the topology already exists.
	InitialOptions map[string]interface{}

	// ConflictCheck makes writes compare the store revision observed at the
	// last read and fail with ErrConflict when someone else wrote in
	// between.  It requires a kvstore.VersionedStore.  Without it the last
	// writer silently wins.
	ConflictCheck bool

	Logger *zap.Logger
}

// Session owns the working copy of one named topology.  It is not safe for
// concurrent use.
type Session struct {
	logger        *zap.Logger
	metrics       *metrics.TopologyMetrics
	store         kvstore.Store
	name          string
	autocommit    bool
	conflictCheck bool

	state    *State
	revision int64
	closed   bool
}

func Open(ctx context.Context, store kvstore.Store, name string, opts Options) (*Session, error) {
	err := validateName("topology", name)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.ConflictCheck {
		if _, ok := store.(kvstore.VersionedStore); !ok {
			return nil, errors.New("conflict checking requires a versioned store")
		}
	}

	s := &Session{
		logger:        logger.With(zap.String("topology", name)),
		metrics:       metrics.GetTopologyMetrics(),
		store:         store,
		name:          name,
		autocommit:    opts.Autocommit,
		conflictCheck: opts.ConflictCheck,
	}

	state, revision, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	if state != nil {
		if len(opts.InitialOptions) > 0 {
			s.logger.Debug("ignoring initial options for existing topology")
		}

		s.state = state
		s.revision = revision
		return s, nil
	}

	state, err = newState(opts.InitialOptions)
	if err != nil {
		return nil, err
	}

	if s.autocommit {
		err = s.persist(ctx, state)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("created new topology", zap.Bool("autocommit", s.autocommit))

	s.state = state
	return s, nil
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Autocommit() bool {
	return s.autocommit
}

// path builds a dotted store path below the topology document.
func (s *Session) path(segments ...string) string {
	return strings.Join(append([]string{s.name}, segments...), ".")
}

func (s *Session) load(ctx context.Context) (*State, int64, error) {
	var data []byte
	var revision int64

	if s.conflictCheck {
		value, rev, err := s.store.(kvstore.VersionedStore).GetVersioned(ctx, s.name)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "failed to read topology %s", s.name)
		}
		if rev == 0 {
			return nil, 0, nil
		}
		data, revision = value, rev
	} else {
		value, ok, err := s.store.Get(ctx, s.name)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "failed to read topology %s", s.name)
		}
		if !ok {
			return nil, 0, nil
		}
		data = value
	}

	state, err := decodeState(data)
	if err != nil {
		return nil, 0, err
	}

	return state, revision, nil
}

func (s *Session) persist(ctx context.Context, state *State) error {
	data, err := state.encode()
	if err != nil {
		return errors.Wrap(err, "failed to encode topology")
	}

	if s.conflictCheck {
		revision, err := s.store.(kvstore.VersionedStore).SetIf(ctx, s.name, data, s.revision)
		if errors.Is(err, kvstore.ErrRevisionMismatch) {
			s.metrics.CommitConflicts.Add(ctx, 1)
			return errors.Wrapf(ErrConflict, "topology %s was modified concurrently", s.name)
		} else if err != nil {
			return errors.Wrapf(err, "failed to write topology %s", s.name)
		}

		s.revision = revision
	} else {
		err = s.store.Set(ctx, s.name, data)
		if err != nil {
			return errors.Wrapf(err, "failed to write topology %s", s.name)
		}
	}

	s.metrics.Commits.Add(ctx, 1, metric.WithAttributes(attribute.String("topology", s.name)))
	s.logger.Debug("wrote topology", zap.Int64("version", state.Version))

	return nil
}

// mutate applies fn to a copy of the working state.  The working copy is only
// replaced once fn succeeded and, in autocommit mode, the write went through.
func (s *Session) mutate(ctx context.Context, op string, fn func(state *State) error) error {
	if s.closed {
		return ErrClosed
	}

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("topology", s.name)))
	defer span.End()

	err := s.doMutate(ctx, fn)
	if err != nil {
		if errors.Is(err, optschema.ErrValidation) {
			s.metrics.ValidationFailures.Add(ctx, 1)
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (s *Session) doMutate(ctx context.Context, fn func(state *State) error) error {
	if s.autocommit {
		state, revision, err := s.load(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errors.Wrapf(ErrNotFound, "topology %s", s.name)
		}

		s.state = state
		s.revision = revision
	}

	next := s.state.clone()
	err := fn(next)
	if err != nil {
		return err
	}

	if !s.autocommit {
		s.state = next
		return nil
	}

	next.Version++
	err = s.persist(ctx, next)
	if err != nil {
		return err
	}

	s.state = next
	return nil
}

// Commit writes the working copy and bumps the version.  It is a no-op in
// autocommit mode.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.autocommit {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Commit", trace.WithAttributes(attribute.String("topology", s.name)))
	defer span.End()

	next := s.state.clone()
	next.Version++

	err := s.persist(ctx, next)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.state = next
	return nil
}

// Reload replaces the working copy with the stored topology, discarding any
// uncommitted changes.
func (s *Session) Reload(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}

	state, revision, err := s.load(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.Wrapf(ErrNotFound, "topology %s", s.name)
	}

	s.state = state
	s.revision = revision
	return nil
}

// Delete removes the topology from the store.  The session is unusable
// afterwards.
func (s *Session) Delete(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}

	err := s.store.Delete(ctx, s.name)
	if err != nil {
		return errors.Wrapf(err, "failed to delete topology %s", s.name)
	}

	s.logger.Info("deleted topology")

	s.closed = true
	s.state = nil
	return nil
}

// Snapshot reads the committed topology from the store.
func (s *Session) Snapshot(ctx context.Context) (*State, error) {
	if s.closed {
		return nil, ErrClosed
	}

	state, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.Wrapf(ErrNotFound, "topology %s", s.name)
	}

	return state, nil
}

// Pending returns a copy of the working state, including uncommitted changes.
func (s *Session) Pending() (*State, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.state.clone(), nil
}

// Version reads the committed version from the store.
func (s *Session) Version(ctx context.Context) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}

	version, ok, err := readVersion(ctx, s.store, s.name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "topology %s", s.name)
	}

	return version, nil
}

func readVersion(ctx context.Context, store kvstore.Store, name string) (int64, bool, error) {
	val, ok, err := kvstore.GetPath(ctx, store, name+".version")
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to read version of topology %s", name)
	}
	if !ok {
		return 0, false, nil
	}

	version, isNum := optschema.ToFloat(val)
	if !isNum {
		return 0, false, errors.Errorf("topology %s has a malformed version %v", name, val)
	}

	return int64(version), true, nil
}
