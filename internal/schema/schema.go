// Package schema defines the fixed layout of the weather table and the SQL
// that creates and writes it.
package schema

import (
	"fmt"
	"strings"
)

// TableName is the table holding observations for every device.
const TableName = "weather"

// DefaultGapThresholdSeconds flags deltas of nearly two one-minute samples.
const DefaultGapThresholdSeconds = 119

// Kind is the storage class of a column.
type Kind int

const (
	KindReal Kind = iota
	KindInteger
	KindKey
	KindText
)

// Column is one entry of the table layout.
type Column struct {
	Name string
	Kind Kind
}

// Columns lists the table columns in the order the Tempest API reports them.
var Columns = []Column{
	{"device_id", KindKey},
	{"timestamp", KindKey},
	{"type", KindText},
	{"bucket_step_minutes", KindInteger},
	{"wind_lull", KindReal},
	{"wind_avg", KindReal},
	{"wind_gust", KindReal},
	{"wind_dir", KindReal},
	{"wind_interval", KindReal},
	{"pressure", KindReal},
	{"temperature", KindReal},
	{"humidity", KindReal},
	{"lux", KindReal},
	{"uv", KindReal},
	{"solar_radiation", KindReal},
	{"precip", KindReal},
	{"precip_type", KindText},
	{"strike_distance", KindReal},
	{"strike_count", KindReal},
	{"battery", KindReal},
	{"report_interval", KindReal},
	{"local_daily_precip", KindReal},
	{"precip_final", KindReal},
	{"local_daily_precip_final", KindReal},
	{"precip_analysis_type", KindText},
}

// KeyColumns form the primary key.
var KeyColumns = []string{"device_id", "timestamp"}

// Dialect selects SQL type names for a database engine.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DetectDialect picks Postgres for postgres:// URLs and SQLite for anything else,
// which is treated as a file path.
func DetectDialect(database string) Dialect {
	lower := strings.ToLower(database)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// ParseDialect parses a dialect name.
func ParseDialect(name string) (Dialect, error) {
	switch Dialect(strings.ToLower(name)) {
	case SQLite:
		return SQLite, nil
	case Postgres:
		return Postgres, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", name)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// SQLType returns the declared column type for kind.
func (d Dialect) SQLType(kind Kind) string {
	switch kind {
	case KindKey:
		if d == Postgres {
			return "BIGINT NOT NULL"
		}
		return "INTEGER NOT NULL"
	case KindInteger:
		if d == Postgres {
			return "BIGINT"
		}
		return "INTEGER"
	case KindText:
		return "TEXT"
	default:
		if d == Postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	}
}

// ColumnNames returns the column names in table order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// Quote quotes an identifier; "timestamp" and "type" are keywords in Postgres.
func Quote(name string) string {
	return `"` + name + `"`
}

// CreateTableStatement returns an idempotent CREATE TABLE for the dialect.
// An existing table is never altered.
func CreateTableStatement(d Dialect) string {
	defs := make([]string, 0, len(Columns)+1)
	for _, c := range Columns {
		defs = append(defs, fmt.Sprintf("%s %s", Quote(c.Name), d.SQLType(c.Kind)))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(KeyColumns)))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", TableName, strings.Join(defs, ",\n  "))
}

// UpsertStatement returns a named insert that replaces every non-key column
// when (device_id, timestamp) already exists. Binds use sqlx named parameters.
func UpsertStatement() string {
	names := ColumnNames()
	binds := make([]string, len(names))
	var updates []string
	for i, name := range names {
		binds[i] = ":" + name
		if !isKey(name) {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", Quote(name), Quote(name)))
		}
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nVALUES (%s)\nON CONFLICT (%s) DO UPDATE SET\n  %s",
		TableName,
		quoteAll(names),
		strings.Join(binds, ", "),
		quoteAll(KeyColumns),
		strings.Join(updates, ",\n  "),
	)
}

// GapsQuery finds consecutive samples of one device further apart than a threshold.
// Parameters: device_id, threshold seconds.
func GapsQuery() string {
	ts := Quote("timestamp")
	return fmt.Sprintf(`WITH deltas AS (
  SELECT
    LAG(%[1]s) OVER win AS start_timestamp,
    %[1]s AS end_timestamp,
    %[1]s - LAG(%[1]s) OVER win AS delta_seconds
  FROM %[2]s
  WHERE device_id = ?
  WINDOW win AS (PARTITION BY device_id ORDER BY %[1]s)
)
SELECT start_timestamp, end_timestamp, delta_seconds
FROM deltas
WHERE delta_seconds > ?
ORDER BY end_timestamp`, ts, TableName)
}

func isKey(name string) bool {
	for _, k := range KeyColumns {
		if k == name {
			return true
		}
	}
	return false
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Quote(n)
	}
	return strings.Join(quoted, ", ")
}
