package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/platinummonkey/og/pkg/async"
	"github.com/platinummonkey/og/pkg/config"
	"github.com/platinummonkey/og/pkg/httputil"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/og"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxRequestBytes = 1 << 20
	purgeTimeout    = 5 * time.Minute
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	rt, err := og.Open(ctx, cfg, metrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	svc := rt.Service

	if err := svc.RunMigrations(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	if cfg.Groups.WatchSettings {
		async.SafeGo(ctx, logger, 0, "settings watcher", svc.Settings().Watch)
	}

	scheduler := cron.New()
	if cfg.Groups.PurgeSchedule != "" {
		purger := svc.OrphanPurger()
		purge := func(ctx context.Context) error {
			_, err := purger.Purge(ctx)
			return err
		}
		if _, err := scheduler.AddFunc(cfg.Groups.PurgeSchedule, async.Job(ctx, logger, purgeTimeout, "orphan purge", purge)); err != nil {
			logger.WithError(err).Fatal("Failed to schedule orphan purge")
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Groups.PurgeSchedule).Info("Orphan purge scheduled")
	}

	router := mux.NewRouter()
	og.NewHandlers(svc).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)(router)
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "ogd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(rt.DB, rt.Redis)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/health/live", health.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthRouter,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(context.Context) error { return rt.Close() })
	shutdown.Register(otelProviders.Shutdown)
	shutdown.Register(func(ctx context.Context) error {
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		cancel()
		return nil
	})
	shutdown.Register(healthServer.Shutdown)

	go serve(logger, healthServer, "health")
	go serve(logger, server, "api")

	if err := shutdown.WaitForSignal(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func serve(logger logrus.FieldLogger, server *http.Server, name string) {
	logger.WithFields(logrus.Fields{"server": name, "addr": server.Addr}).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", name).Fatal("Server failed")
	}
}
