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
	"sync"
	"time"

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	logLevelStr        string
	topologyName       string
	storeType          string
	etcdEndpoints      []string
	etcdPrefix         string
	redisAddr          string
	redisPrefix        string
	conflictCheck      bool
	pollInterval       time.Duration
	bindAddress        string
	webPort            int
	otlpEndpoint       string
	disableOtlpTraces  bool
	disableOtlpMetrics bool
	traceEverything    bool
}

func readConfig() *config {
	return &config{
		logLevelStr:        viper.GetString("log-level"),
		topologyName:       viper.GetString("topology"),
		storeType:          viper.GetString("store"),
		etcdEndpoints:      viper.GetStringSlice("etcd-endpoints"),
		etcdPrefix:         viper.GetString("etcd-prefix"),
		redisAddr:          viper.GetString("redis-addr"),
		redisPrefix:        viper.GetString("redis-prefix"),
		conflictCheck:      viper.GetBool("conflict-check"),
		pollInterval:       viper.GetDuration("poll-interval"),
		bindAddress:        viper.GetString("bind-address"),
		webPort:            viper.GetInt("web-port"),
		otlpEndpoint:       viper.GetString("otlp-endpoint"),
		disableOtlpTraces:  viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics: viper.GetBool("disable-otlp-metrics"),
		traceEverything:    viper.GetBool("trace-everything"),
	}
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		return zapcore.InfoLevel
	}
	return level
}

// app is the state shared by every command once the root pre-run finished.
type app struct {
	logLevel zap.AtomicLevel
	logger   *zap.Logger
	config   *config

	store          kvstore.Store
	closeStore     func() error
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

var globalApp *app

func setupApp(cmd *cobra.Command) error {
	logLevel, logger := getLogger()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Error("failed to load specified config file", zap.Error(err))
			return err
		}
	}

	config := readConfig()
	logLevel.SetLevel(parseLogLevel(logger, config.logLevelStr))

	logger.Debug("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile),
		zap.String("store", config.storeType),
		zap.String("topology", config.topologyName))

	tracerProvider, meterProvider, err :=
		initTelemetry(cmd.Context(),
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics,
			config.traceEverything)
	if err != nil {
		logger.Error("failed to initialize opentelemetry", zap.Error(err))
		return err
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	store, closeStore, err := openStore(cmd.Context(), logger, config)
	if err != nil {
		logger.Error("failed to connect to the configuration store", zap.Error(err))
		return err
	}

	a := &app{
		logLevel:       logLevel,
		logger:         logger,
		config:         config,
		store:          store,
		closeStore:     closeStore,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}

	if watchCfgFile && cfgFile != "" {
		a.watchConfig()
	}

	globalApp = a
	return nil
}

// watchConfig reloads the log level when the config file changes.  Every
// other setting needs a restart.
func (a *app) watchConfig() {
	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			a.logger.Warn("failed to parse configuration file", zap.Error(err))
		}

		newConfig := readConfig()

		if newConfig.storeType != a.config.storeType ||
			newConfig.topologyName != a.config.topologyName {
			a.logger.Warn("config changes for store or topology require a restart")
		}

		if newConfig.logLevelStr != a.config.logLevelStr {
			newLevel := parseLogLevel(a.logger, newConfig.logLevelStr)
			a.logLevel.SetLevel(newLevel)

			a.logger.Info("updated log level",
				zap.String("newLevel", newLevel.String()))
		}

		a.config = newConfig
	}

	viper.OnConfigChange(func(in fsnotify.Event) {
		a.logger.Info("configuration file change detected")
		reloadConfiguration()
	})

	go viper.WatchConfig()
}

func (a *app) shutdown(ctx context.Context) {
	if a.closeStore != nil {
		err := a.closeStore()
		if err != nil {
			a.logger.Debug("failed to close store", zap.Error(err))
		}
	}

	if a.tracerProvider != nil {
		_ = a.tracerProvider.Shutdown(ctx)
	}
	if a.meterProvider != nil {
		_ = a.meterProvider.Shutdown(ctx)
	}

	_ = a.logger.Sync()
}

func (a *app) openSession(ctx context.Context, initialOptions map[string]interface{}) (*topology.Session, error) {
	_, versioned := a.store.(kvstore.VersionedStore)

	return topology.Open(ctx, a.store, a.config.topologyName, topology.Options{
		Autocommit:     true,
		InitialOptions: initialOptions,
		ConflictCheck:  a.config.conflictCheck && versioned,
		Logger:         a.logger,
	})
}
