// Command leader runs the cluster registrar: the control-plane service that
// tracks node liveness, gates readiness, and hands out cluster-wide
// monotonic ids (spec §4.2).
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
	"gopkg.in/yaml.v3"

	"github.com/unicornparson/lunaricorn/internal/config"
	"github.com/unicornparson/lunaricorn/internal/httpserver"
	"github.com/unicornparson/lunaricorn/internal/platform"
	"github.com/unicornparson/lunaricorn/internal/telemetry"
	"github.com/unicornparson/lunaricorn/internal/version"
	"github.com/unicornparson/lunaricorn/pkg/cluster/registrar"
)

func main() {
	configPath := flag.String("config", "leader_config.yaml", "path to the leader's YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.LeaderConfig{DB: config.DefaultDBConfig()}
	if err := config.LoadYAMLThenEnv(configPath, &cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting leader", "version", version.Version, "listen", cfg.ListenAddr())

	db, err := platform.Open(ctx, cfg.DB.ConnString(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	store := registrar.NewStore(db)
	if err := store.Install(ctx, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("installing schema: %w", err)
	}

	getClusterConfig := func() (map[string]any, error) {
		data, err := os.ReadFile(cfg.ClusterConfig)
		if err != nil {
			if os.IsNotExist(err) {
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("reading cluster config %s: %w", cfg.ClusterConfig, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing cluster config %s: %w", cfg.ClusterConfig, err)
		}
		return doc, nil
	}

	reg := registrar.New(store, logger, registrar.Config{
		AliveTimeout:  cfg.AliveTimeout,
		RequiredNodes: cfg.RequiredNodes,
	}, getClusterConfig)

	metrics := registrar.NewMetrics()
	metricsReg := telemetry.NewMetricsRegistry(metrics.All()...)

	handler := registrar.NewHandler(reg, logger, metrics)

	router := chi.NewRouter()
	router.Use(httpserver.RequestID, httpserver.Logger(logger), httpserver.Metrics)
	router.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))
	router.Mount("/metrics", httpserver.MetricsHandler(metricsReg))
	router.Mount("/", handler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("leader api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down leader")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
