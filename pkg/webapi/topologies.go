/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package webapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/couchbase/stellar-topology/vshardcfg"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TopologyOpener gives read access to a named topology.
type TopologyOpener interface {
	OpenTopology(ctx context.Context, name string) (vshardcfg.Source, error)
}

// StoreTopologies opens read-only sessions over a store.  Nothing is ever
// written, so requests for unknown topologies fail with ErrNotFound.
type StoreTopologies struct {
	Store  kvstore.Store
	Logger *zap.Logger
}

func (t *StoreTopologies) OpenTopology(ctx context.Context, name string) (vshardcfg.Source, error) {
	s, err := topology.Open(ctx, t.Store, name, topology.Options{
		Logger: t.Logger,
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (w *WebServer) registerTopologyRoutes(r *mux.Router) {
	r.HandleFunc("/topologies/{name}", w.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/topologies/{name}/vshard", w.handleShardingConfig).Methods(http.MethodGet)
	r.HandleFunc("/topologies/{name}/instances/{instance}/config", w.handleInstanceConfig).Methods(http.MethodGet)
}

func (w *WebServer) handleTopology(rw http.ResponseWriter, r *http.Request) {
	src, err := w.topologies.OpenTopology(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		w.writeError(rw, err)
		return
	}

	state, err := src.Snapshot(r.Context())
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.writeJSON(rw, http.StatusOK, state)
}

func (w *WebServer) handleShardingConfig(rw http.ResponseWriter, r *http.Request) {
	src, err := w.topologies.OpenTopology(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		w.writeError(rw, err)
		return
	}

	cfg, err := vshardcfg.DeriveShardingConfig(r.Context(), src, r.URL.Query().Get("group"))
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.writeJSON(rw, http.StatusOK, cfg)
}

func (w *WebServer) handleInstanceConfig(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	src, err := w.topologies.OpenTopology(r.Context(), vars["name"])
	if err != nil {
		w.writeError(rw, err)
		return
	}

	cfg, err := vshardcfg.DeriveNodeConfig(r.Context(), src, vars["instance"])
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.writeJSON(rw, http.StatusOK, cfg)
}

type errorJson struct {
	Error string `json:"error"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, topology.ErrNotFound), errors.Is(err, vshardcfg.ErrUnknownGroup):
		return http.StatusNotFound
	case errors.Is(err, topology.ErrExpelled):
		return http.StatusGone
	case errors.Is(err, vshardcfg.ErrDerivation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, optschema.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (w *WebServer) writeError(rw http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		w.logger.Warn("failed to serve topology request", zap.Error(err))
	} else {
		w.logger.Debug("rejected topology request", zap.Error(err))
	}

	w.writeJSON(rw, status, errorJson{Error: err.Error()})
}

func (w *WebServer) writeJSON(rw http.ResponseWriter, status int, val interface{}) {
	data, err := json.Marshal(val)
	if err != nil {
		w.logger.Warn("failed to encode response", zap.Error(err))
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_, err = rw.Write(data)
	if err != nil {
		w.logger.Debug("failed to write response", zap.Error(err))
	}
}
