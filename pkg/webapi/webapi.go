/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// This file is to handle things such as metrics/health/log level, etc

package webapi

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string

	// Topologies serves the /topologies routes.  They are not registered
	// when it is nil.
	Topologies TopologyOpener

	// AllowedOrigins configures CORS.  Defaults to any origin.
	AllowedOrigins []string
}

type WebServer struct {
	logger         *zap.Logger
	logLevel       *zap.AtomicLevel
	listenAddress  string
	topologies     TopologyOpener
	allowedOrigins []string
	httpServer     *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &WebServer{
		logger:         logger,
		logLevel:       opts.LogLevel,
		listenAddress:  opts.ListenAddress,
		topologies:     opts.Topologies,
		allowedOrigins: allowedOrigins,
	}
}

var systemHealthy atomic.Bool

func MarkSystemHealthy() {
	systemHealthy.Store(true)
}

func MarkSystemUnhealthy() {
	systemHealthy.Store(false)
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the stellar topology internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if !systemHealthy.Load() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_, _ = rw.Write([]byte("unhealthy"))
		return
	}

	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

// Handler builds the router with every route registered.
func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
	if w.logLevel != nil {
		r.Handle("/log-level", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	if w.topologies != nil {
		w.registerTopologyRoutes(r)
	}
	r.HandleFunc("/", w.handleRoot)

	c := cors.New(cors.Options{
		AllowedOrigins: w.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
	})

	return otelhttp.NewHandler(c.Handler(r), "webapi")
}

func (w *WebServer) ListenAndServe() error {
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	if w.httpServer == nil {
		return nil
	}
	return w.httpServer.Shutdown(ctx)
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return globalWebServer
	}

	globalWebServer = NewWebServer(opts)
	server := globalWebServer
	globalWebLock.Unlock()

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			server.logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()

	return server
}
