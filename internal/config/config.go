// Package config builds the immutable run configuration of the tempest-sync
// commands from flags, the environment and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tempest-sync/internal/schema"
	"tempest-sync/internal/tempest"
	"tempest-sync/pkg/logging"
)

const (
	defaultServerAddr = ":8080"
	defaultLogLevel   = logging.WarnLevel
)

// Config holds the settings of one sync run
type Config struct {
	APIToken    string
	Database    string
	DeviceIDs   []int64
	APIURL      string
	HTTPTimeout time.Duration
	MetricsFile string
	LogLevel    logging.LogLevel
}

// ServerConfig holds the settings of the inspection server
type ServerConfig struct {
	Database     string
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	LogLevel     logging.LogLevel
}

// MigrateConfig holds the settings of the schema command
type MigrateConfig struct {
	Database string
	Print    bool
	Dialect  schema.Dialect
}

// ImportConfig holds the settings of the CSV import command
type ImportConfig struct {
	Database  string
	DataDir   string
	BatchSize int
	LogLevel  logging.LogLevel
}

// deviceList collects --device_id values in the order given.
type deviceList []int64

func (d *deviceList) String() string {
	ids := make([]string, len(*d))
	for i, id := range *d {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(ids, ",")
}

func (d *deviceList) Set(value string) error {
	ids, err := parseDeviceIDs(value)
	if err != nil {
		return err
	}
	*d = append(*d, ids...)
	return nil
}

func parseDeviceIDs(value string) ([]int64, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid device id %q", field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Load parses the sync command line. Values not given as flags fall back to
// TEMPEST_* environment variables, which may come from a .env file.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var devices deviceList
	var verbose, debug bool

	fs := flag.NewFlagSet("tempest-sync", flag.ContinueOnError)
	fs.StringVar(&cfg.APIToken, "api_token", "", "Tempest API token (env TEMPEST_API_TOKEN)")
	fs.StringVar(&cfg.Database, "database", "", "SQLite file or postgres:// URL; created if needed (env TEMPEST_DATABASE)")
	fs.Var(&devices, "device_id", "device id(s) to sync, in order (env TEMPEST_DEVICE_IDS)")
	fs.StringVar(&cfg.APIURL, "api_url", "", "Tempest REST base URL (env TEMPEST_API_URL)")
	fs.DurationVar(&cfg.HTTPTimeout, "http_timeout", 0, "per-request timeout, 0 for none (env TEMPEST_HTTP_TIMEOUT)")
	fs.StringVar(&cfg.MetricsFile, "metrics_file", "", "write Prometheus metrics to this file after the run (env TEMPEST_METRICS_FILE)")
	fs.BoolVar(&verbose, "v", false, "emit progress information")
	fs.BoolVar(&verbose, "verbose", false, "emit progress information")
	fs.BoolVar(&debug, "debug", false, "emit debug information")

	if err := fs.Parse(normalizeArgs(args, "device_id")); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	set := visited(fs)

	if !set["api_token"] {
		cfg.APIToken = strings.TrimSpace(os.Getenv("TEMPEST_API_TOKEN"))
	}
	if !set["database"] {
		cfg.Database = strings.TrimSpace(os.Getenv("TEMPEST_DATABASE"))
	}
	cfg.DeviceIDs = devices
	if !set["device_id"] {
		ids, err := parseDeviceIDs(os.Getenv("TEMPEST_DEVICE_IDS"))
		if err != nil {
			return nil, fmt.Errorf("invalid TEMPEST_DEVICE_IDS: %w", err)
		}
		cfg.DeviceIDs = ids
	}
	if !set["api_url"] {
		cfg.APIURL = getenvDefault("TEMPEST_API_URL", tempest.DefaultBaseURL)
	}
	if !set["http_timeout"] {
		d, err := getenvDuration("TEMPEST_HTTP_TIMEOUT", 0)
		if err != nil {
			return nil, err
		}
		cfg.HTTPTimeout = d
	}
	if !set["metrics_file"] {
		cfg.MetricsFile = strings.TrimSpace(os.Getenv("TEMPEST_METRICS_FILE"))
	}

	level, err := getenvLevel(defaultLogLevel)
	if err != nil {
		return nil, err
	}
	switch {
	case debug:
		level = logging.DebugLevel
	case verbose:
		level = min(level, logging.InfoLevel)
	}
	cfg.LogLevel = level

	return cfg, nil
}

// Validate checks that a sync run has everything it needs
func (c *Config) Validate() error {
	var errs []error

	if c.APIToken == "" {
		errs = append(errs, errors.New("api_token is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if len(c.DeviceIDs) == 0 {
		errs = append(errs, errors.New("at least one device_id is required"))
	}
	for _, id := range c.DeviceIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("device_id must be positive, got %d", id))
		}
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("http_timeout must not be negative, got %s", c.HTTPTimeout))
	}
	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL))
	}

	return errors.Join(errs...)
}

// LoadServer parses the inspection server command line
func LoadServer(args []string) (*ServerConfig, error) {
	_ = godotenv.Load()

	cfg := &ServerConfig{}
	var levelName string

	fs := flag.NewFlagSet("tempest-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Database, "database", strings.TrimSpace(os.Getenv("TEMPEST_DATABASE")), "SQLite file or postgres:// URL (env TEMPEST_DATABASE)")
	fs.StringVar(&cfg.Addr, "addr", getenvDefault("TEMPEST_SERVER_ADDR", defaultServerAddr), "listen address (env TEMPEST_SERVER_ADDR)")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", 15*time.Second, "HTTP read timeout")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", 15*time.Second, "HTTP write timeout")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 60*time.Second, "HTTP idle timeout")
	fs.StringVar(&levelName, "log-level", getenvDefault("TEMPEST_LOG_LEVEL", "info"), "debug, info, warn or error (env TEMPEST_LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if cfg.Database == "" {
		return nil, errors.New("database is required")
	}
	return cfg, nil
}

// LoadMigrate parses the schema command line
func LoadMigrate(args []string, output io.Writer) (*MigrateConfig, error) {
	_ = godotenv.Load()

	cfg := &MigrateConfig{}
	var dialectName string

	fs := flag.NewFlagSet("tempest-migrate", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Database, "database", strings.TrimSpace(os.Getenv("TEMPEST_DATABASE")), "SQLite file or postgres:// URL to create the table in (env TEMPEST_DATABASE)")
	fs.BoolVar(&cfg.Print, "print", false, "print the DDL instead of applying it")
	fs.StringVar(&dialectName, "dialect", "", "dialect for -print: sqlite or postgres (default: from -database, else sqlite)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case dialectName != "":
		d, err := schema.ParseDialect(dialectName)
		if err != nil {
			return nil, err
		}
		cfg.Dialect = d
	case cfg.Database != "":
		cfg.Dialect = schema.DetectDialect(cfg.Database)
	default:
		cfg.Dialect = schema.SQLite
	}

	if !cfg.Print && cfg.Database == "" {
		return nil, errors.New("database is required unless -print is given")
	}
	return cfg, nil
}

// LoadImport parses the CSV import command line
func LoadImport(args []string) (*ImportConfig, error) {
	_ = godotenv.Load()

	cfg := &ImportConfig{}
	var levelName string

	fs := flag.NewFlagSet("tempest-import", flag.ContinueOnError)
	fs.StringVar(&cfg.Database, "database", strings.TrimSpace(os.Getenv("TEMPEST_DATABASE")), "SQLite file or postgres:// URL; created if needed (env TEMPEST_DATABASE)")
	fs.StringVar(&cfg.DataDir, "data-dir", ".", "directory containing Tempest CSV exports")
	fs.IntVar(&cfg.BatchSize, "batch-size", 1000, "rows per upsert transaction")
	fs.StringVar(&levelName, "log-level", getenvDefault("TEMPEST_LOG_LEVEL", "info"), "debug, info, warn or error (env TEMPEST_LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if cfg.Database == "" {
		return nil, errors.New("database is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch-size must be positive, got %d", cfg.BatchSize)
	}
	return cfg, nil
}

// normalizeArgs rewrites "--name a b c" into "--name=a --name=b --name=c" so
// a repeatable flag can take several space separated values.
func normalizeArgs(args []string, name string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			out = append(out, args[i:]...)
			break
		}
		if arg != "-"+name && arg != "--"+name {
			out = append(out, arg)
			continue
		}

		consumed := 0
		for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			consumed++
			out = append(out, "--"+name+"="+args[i])
		}
		if consumed == 0 {
			out = append(out, arg)
		}
	}
	return out
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvLevel(fallback logging.LogLevel) (logging.LogLevel, error) {
	v := strings.TrimSpace(os.Getenv("TEMPEST_LOG_LEVEL"))
	if v == "" {
		return fallback, nil
	}
	level, err := logging.ParseLevel(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid TEMPEST_LOG_LEVEL: %w", err)
	}
	return level, nil
}
