package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"tempest-sync/internal/config"
	"tempest-sync/internal/repository"
	"tempest-sync/internal/services"
	"tempest-sync/pkg/database"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

var version = "dev"

// errFilesFailed means the import finished but some files were skipped.
var errFilesFailed = errors.New("some files failed to import")

func main() {
	cfg, err := config.LoadImport(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewStructuredLogger("tempest-import", version, cfg.LogLevel)

	ctx := context.Background()
	logger.Info(ctx, "[IMPORTER_START] Starting Tempest CSV import", logging.Fields{
		"version":    version,
		"data_dir":   cfg.DataDir,
		"batch_size": cfg.BatchSize,
	})

	err = run(ctx, cfg, logger, metrics.NewCollector("tempest_import", prometheus.NewRegistry()), os.Stdout)
	if errors.Is(err, errFilesFailed) {
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal(ctx, "[IMPORT_ERROR] Import failed", logging.Fields{}, err)
	}
}

func run(ctx context.Context, cfg *config.ImportConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, out io.Writer) error {
	db, err := database.Open(ctx, &database.Config{Database: cfg.Database}, logger, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	repo := repository.NewObservationRepository(db, logger)
	importService := services.NewImportService(repo, logger, metricsCollector)

	result, err := importService.ImportDirectory(ctx, cfg.DataDir, cfg.BatchSize)
	if err != nil {
		return err
	}

	printSummary(out, result)
	if len(result.Errors) > 0 {
		return fmt.Errorf("%w: %d of %d", errFilesFailed, len(result.Errors), result.TotalFiles)
	}
	return nil
}

func printSummary(out io.Writer, result *services.ImportResult) {
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintln(out, "IMPORT COMPLETE")
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "Total Files:   %d\n", result.TotalFiles)
	fmt.Fprintf(out, "Rows Written:  %d\n", result.RowsWritten)
	fmt.Fprintf(out, "Duration:      %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Fprintf(out, "  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Fprintf(out, "  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}
