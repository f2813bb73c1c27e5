package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"tempest-sync/internal/schema"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

// Config holds database connection configuration
type Config struct {
	// Database is a SQLite file path or a postgres:// URL.
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	// ReadOnly refuses to create a missing SQLite file and opens it with query_only.
	ReadOnly bool
}

// DB wraps sqlx.DB with logging, metrics and dialect knowledge
type DB struct {
	db      *sqlx.DB
	dialect schema.Dialect
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config
}

// Open connects to the configured database. A missing SQLite file is created
// unless cfg.ReadOnly is set.
func Open(ctx context.Context, cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	dialect := schema.DetectDialect(cfg.Database)

	if dialect == schema.SQLite && cfg.ReadOnly {
		if err := requireFile(cfg.Database); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(dialect.DriverName(), dataSourceName(dialect, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if dialect == schema.SQLite {
		// SQLite has a single writer and :memory: databases are per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(ctx, "[DB_INIT] Database connection established", logging.Fields{
		"dialect":  string(dialect),
		"database": redact(cfg.Database),
	})

	return &DB{
		db:      db,
		dialect: dialect,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
	}, nil
}

func dataSourceName(dialect schema.Dialect, cfg *Config) string {
	if dialect != schema.SQLite {
		return cfg.Database
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(cfg.Database, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", cfg.Database, sep, busy.Milliseconds())
	if cfg.ReadOnly {
		dsn += "&_pragma=query_only(1)"
	}
	return dsn
}

// requireFile fails when the SQLite file behind a path or file: URI is absent.
func requireFile(database string) error {
	path := strings.TrimPrefix(database, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == ":memory:" || path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("sqlite database %s does not exist", path)
		}
		return fmt.Errorf("failed to stat sqlite database: %w", err)
	}
	return nil
}

// redact hides the password of a postgres URL before it is logged.
func redact(database string) string {
	at := strings.LastIndex(database, "@")
	scheme := strings.Index(database, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return database
	}
	creds := database[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return database[:scheme+3] + creds[:colon] + ":xxxxx" + database[at:]
	}
	return database
}

// Close closes the database connection
func (d *DB) Close() error {
	d.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"dialect": string(d.dialect),
	})
	return d.db.Close()
}

// DB returns the underlying sqlx.DB instance
func (d *DB) DB() *sqlx.DB {
	return d.db
}

// Dialect reports which SQL dialect the connection speaks
func (d *DB) Dialect() schema.Dialect {
	return d.dialect
}

// Rebind converts '?' placeholders to the driver's bind style
func (d *DB) Rebind(query string) string {
	return d.db.Rebind(query)
}

// EnsureSchema creates the weather table when it does not exist yet
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, "create_table", schema.CreateTableStatement(d.dialect)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", schema.TableName, err)
	}
	return nil
}

// CheckSchema fails when the weather table has not been created yet
func (d *DB) CheckSchema(ctx context.Context) error {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1 = 0", schema.TableName)
	if err := d.GetContext(ctx, "check_schema", &n, query); err != nil {
		return fmt.Errorf("%s table is missing, run migrate or sync first: %w", schema.TableName, err)
	}
	return nil
}

// ExecContext executes a command with context and metrics
func (d *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		d.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := d.db.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		d.metrics.RecordDBError("exec_error")
		d.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return result, nil
}

// GetContext executes a query that returns a single row
func (d *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	err := d.db.GetContext(ctx, dest, d.Rebind(query), args...)
	if err != nil && err != sql.ErrNoRows {
		d.metrics.RecordDBError("get_error")
		d.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}

	return err
}

// SelectContext executes a query that returns multiple rows
func (d *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	err := d.db.SelectContext(ctx, dest, d.Rebind(query), args...)
	if err != nil {
		d.metrics.RecordDBError("select_error")
		d.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}

	return nil
}

// BeginTx begins a new transaction. Postgres runs serializable; SQLite
// transactions are already serialised by its database lock.
func (d *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	var opts *sql.TxOptions
	if d.dialect == schema.Postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := d.db.BeginTxx(ctx, opts)
	if err != nil {
		d.metrics.RecordDBError("transaction_begin_error")
		d.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}

	return tx, nil
}

// ObserveQuery records the duration of a query run outside the helpers above, such as inside a transaction
func (d *DB) ObserveQuery(queryType string, start time.Time) {
	d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}

// HealthCheck pings the database and refreshes pool metrics
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	stats := d.db.Stats()
	d.metrics.UpdateDBConnectionPool(stats.InUse, stats.Idle, stats.OpenConnections)

	return nil
}
