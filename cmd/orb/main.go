// Command orb runs the object store service: an HTTP API for normal
// clients and a net/rpc listener for legacy byte-payload callers
// (spec §4.6, §4.7).
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
	"github.com/unicornparson/lunaricorn/pkg/cluster"
	clusterclient "github.com/unicornparson/lunaricorn/pkg/cluster/client"
	orbserver "github.com/unicornparson/lunaricorn/pkg/orb/server"
	orbstorage "github.com/unicornparson/lunaricorn/pkg/orb/storage"
	signalingclient "github.com/unicornparson/lunaricorn/pkg/signaling/client"
)

func main() {
	configPath := flag.String("config", "orb_config.yaml", "path to the orb service's YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.OrbConfig{DB: config.DefaultDBConfig()}
	if err := config.LoadYAMLThenEnv(configPath, &cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting orb", "version", version.Version, "listen", cfg.ListenAddr(), "rpc_listen", cfg.RPCListenAddr())

	db, err := platform.Open(ctx, cfg.DB.ConnString(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	store := orbstorage.NewStore(db)
	if err := store.Install(ctx, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("installing schema: %w", err)
	}

	leader := clusterclient.New(cfg.LeaderAddr, logger)
	if err := leader.Start(ctx, cluster.BeaconRequest{
		NodeName:    "orb",
		NodeType:    "orb",
		InstanceKey: fmt.Sprintf("orb-%s", cfg.ListenAddr()),
		Host:        cfg.Host,
		Port:        cfg.Port,
	}); err != nil {
		logger.Warn("registering with leader failed, continuing without registration", "error", err)
	} else {
		defer leader.Stop()
	}

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

	events := signalingclient.New(cfg.SignalingAddr, rdb, logger, "orb")

	svc := orbstorage.New(store, leader, events, logger)

	rpcSrv, err := orbserver.NewRPCServer(cfg.RPCListenAddr(), svc, logger)
	if err != nil {
		return fmt.Errorf("starting rpc server: %w", err)
	}
	defer rpcSrv.Close()

	metrics := orbserver.NewMetrics()
	metricsReg := telemetry.NewMetricsRegistry(metrics.All()...)

	httpHandler := orbserver.NewHTTPServer(svc, logger, metrics)

	router := chi.NewRouter()
	router.Use(httpserver.RequestID, httpserver.Logger(logger), httpserver.Metrics)
	router.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))
	router.Mount("/metrics", httpserver.MetricsHandler(metricsReg))
	router.Mount("/", httpHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orb api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down orb")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
