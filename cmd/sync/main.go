package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tempest-sync/internal/config"
	"tempest-sync/internal/repository"
	"tempest-sync/internal/services"
	"tempest-sync/internal/tempest"
	"tempest-sync/pkg/database"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewStructuredLogger("tempest-sync", version, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewCollector("tempest_sync", registry)

	runErr := run(ctx, cfg, logger, metricsCollector)

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile, registry); err != nil {
			logger.Error(ctx, "[SYNC_METRICS_ERROR] Failed to write metrics file", logging.Fields{
				"path": cfg.MetricsFile,
			}, err)
		}
	}

	if runErr != nil {
		stop()
		logger.Fatal(ctx, "[SYNC_ERROR] Sync failed", logging.Fields{}, runErr)
	}
}

// run syncs every configured device into the database.
func run(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) error {
	logger.Info(ctx, "[SYNC_INIT] Starting tempest sync", logging.Fields{
		"version":      version,
		"device_ids":   cfg.DeviceIDs,
		"api_url":      cfg.APIURL,
		"http_timeout": cfg.HTTPTimeout.String(),
	})

	db, err := database.Open(ctx, &database.Config{Database: cfg.Database}, logger, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	repo := repository.NewObservationRepository(db, logger)
	client := tempest.NewClient(cfg.APIURL, cfg.APIToken, cfg.HTTPTimeout)
	syncService := services.NewSyncService(client, repo, logger, metricsCollector)

	result, err := syncService.SyncDevices(ctx, cfg.DeviceIDs)
	if err != nil {
		return err
	}

	for _, device := range result.Devices {
		logger.Info(logging.WithDeviceID(ctx, device.DeviceID), "[SYNC_DEVICE_SUMMARY] Device synced", logging.Fields{
			"watermark":    device.Watermark,
			"range_start":  device.RangeStart,
			"range_end":    device.RangeEnd,
			"fetches":      device.Fetches,
			"rows_written": device.RowsWritten,
		})
	}
	return nil
}
