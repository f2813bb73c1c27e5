package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"tempest-sync/internal/config"
	"tempest-sync/internal/schema"
	"tempest-sync/pkg/database"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.LoadMigrate(args, stderr)
	if err != nil {
		return err
	}

	if cfg.Print {
		_, err := fmt.Fprintln(stdout, schema.CreateTableStatement(cfg.Dialect)+";")
		return err
	}

	logger := logging.NewStructuredLogger("tempest-migrate", "1.0.0", logging.WarnLevel)
	logger.SetOutput(stderr)

	ctx := context.Background()
	db, err := database.Open(ctx, &database.Config{Database: cfg.Database}, logger, metrics.NewCollector("tempest_migrate", prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(stdout, "Creating table %s (%s)\n", schema.TableName, db.Dialect())

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "Migration completed successfully")
	return nil
}
