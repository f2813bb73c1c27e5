package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempest-sync/internal/config"
	"tempest-sync/internal/handlers"
	"tempest-sync/internal/repository"
	"tempest-sync/internal/services"
	"tempest-sync/pkg/database"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

var version = "dev"

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewStructuredLogger("tempest-server", version, cfg.LogLevel)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting tempest inspection server", logging.Fields{
		"version": version,
		"addr":    cfg.Addr,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewCollector("tempest_server", registry)

	db, err := openStore(ctx, cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to open database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewObservationRepository(db, logger)
	observationService := services.NewObservationService(repo, logger, metricsCollector)
	observationHandler := handlers.NewObservationHandler(observationService, logger, metricsCollector)

	router := mux.NewRouter()
	observationHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

// openStore opens an existing database read-only and checks that the weather table is there.
func openStore(ctx context.Context, cfg *config.ServerConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*database.DB, error) {
	db, err := database.Open(ctx, &database.Config{
		Database:        cfg.Database,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ReadOnly:        true,
	}, logger, metricsCollector)
	if err != nil {
		return nil, err
	}

	if err := db.CheckSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
