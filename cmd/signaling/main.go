// Command signaling runs the signaling bus: an append-only event log with a
// push/browse/heartbeat HTTP API and a Redis-backed broadcast side
// (spec §4.4).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/unicornparson/lunaricorn/internal/config"
	"github.com/unicornparson/lunaricorn/internal/httpserver"
	"github.com/unicornparson/lunaricorn/internal/platform"
	"github.com/unicornparson/lunaricorn/internal/telemetry"
	"github.com/unicornparson/lunaricorn/internal/version"
	clusterclient "github.com/unicornparson/lunaricorn/pkg/cluster/client"
	"github.com/unicornparson/lunaricorn/pkg/cluster"
	"github.com/unicornparson/lunaricorn/pkg/signaling/hub"
)

func main() {
	configPath := flag.String("config", "signaling_config.yaml", "path to the signaling service's YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.SignalingConfig{DB: config.DefaultDBConfig()}
	if err := config.LoadYAMLThenEnv(configPath, &cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting signaling", "version", version.Version, "listen", cfg.ListenAddr())

	db, err := platform.Open(ctx, cfg.DB.ConnString(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	store := hub.NewStore(db)
	if err := store.Install(ctx, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("installing schema: %w", err)
	}

	h := hub.New(store, rdb, logger, hub.Config{SubscriberTimeout: cfg.SubscriberTimeout})
	go h.Sweep(ctx, time.Minute)

	leader := clusterclient.New(cfg.LeaderAddr, logger)
	if err := leader.Start(ctx, cluster.BeaconRequest{
		NodeName:    "signaling",
		NodeType:    "signaling",
		InstanceKey: fmt.Sprintf("signaling-%s", cfg.ListenAddr()),
		Host:        cfg.Host,
		Port:        cfg.Port,
	}); err != nil {
		logger.Warn("registering with leader failed, continuing without registration", "error", err)
	} else {
		defer leader.Stop()
	}

	metrics := hub.NewMetrics()
	metricsReg := telemetry.NewMetricsRegistry(metrics.All()...)

	server := hub.NewServer(h, logger, metrics)

	router := chi.NewRouter()
	router.Use(httpserver.RequestID, httpserver.Logger(logger), httpserver.Metrics)
	router.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))
	router.Mount("/metrics", httpserver.MetricsHandler(metricsReg))
	router.Mount("/", server.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("signaling api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down signaling")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
