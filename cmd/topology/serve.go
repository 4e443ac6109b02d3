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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchbase/stellar-topology/pkg/webapi"
	"github.com/couchbase/stellar-topology/utils/netutils"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/couchbase/stellar-topology/vshardcfg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve topologies and derived configs over http",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		logger := globalApp.logger
		config := globalApp.config

		s, err := globalApp.openSession(ctx, nil)
		if err != nil {
			return err
		}

		webServer := webapi.InitializeWebServer(webapi.WebServerOptions{
			Logger:   logger.Named("webapi"),
			LogLevel: &globalApp.logLevel,
			Topologies: &webapi.StoreTopologies{
				Store:  globalApp.store,
				Logger: logger,
			},
			ListenAddress: fmt.Sprintf("%s:%v", config.bindAddress, config.webPort),
		})
		webapi.MarkSystemHealthy()

		advertiseAddr, err := netutils.AdvertiseAddress(config.bindAddress, config.webPort)
		if err != nil {
			logger.Warn("failed to determine advertise address", zap.Error(err))
			advertiseAddr = fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
		}

		logger.Info("serving topology",
			zap.String("topology", s.Name()),
			zap.String("address", advertiseAddr))

		err = s.WatchChanges(ctx, func(ctx context.Context, version int64) error {
			return logDerivation(ctx, logger, s, version)
		}, config.pollInterval)
		if err != nil {
			webapi.MarkSystemUnhealthy()
			logger.Error("topology watch stopped", zap.Error(err))
		}

		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		shutdownErr := webServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			logger.Warn("failed to shut down web server", zap.Error(shutdownErr))
		}

		return err
	},
}

// logDerivation re-derives every vshard group after a change so broken
// topologies show up in the logs and metrics as soon as they are written.
func logDerivation(ctx context.Context, logger *zap.Logger, s *topology.Session, version int64) error {
	configs, err := vshardcfg.DeriveAll(ctx, s)
	if err != nil {
		logger.Warn("topology changed but does not derive",
			zap.Int64("version", version),
			zap.Error(err))
		return err
	}

	logger.Info("topology changed",
		zap.Int64("version", version),
		zap.Int("vshardGroups", len(configs)))
	return nil
}
