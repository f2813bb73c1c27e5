package schema

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx/reflectx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempest-sync/internal/models"
)

func TestColumns(t *testing.T) {
	require.Len(t, Columns, 25)
	assert.Equal(t, "device_id", Columns[0].Name)
	assert.Equal(t, "timestamp", Columns[1].Name)
	assert.Equal(t, "precip_analysis_type", Columns[24].Name)

	seen := make(map[string]bool)
	for _, c := range Columns {
		assert.False(t, seen[c.Name], "duplicate column %s", c.Name)
		seen[c.Name] = true
	}
}

func TestColumnsMatchObservationFields(t *testing.T) {
	fields := reflectx.NewMapper("db").TypeMap(reflect.TypeOf(models.Observation{}))

	for _, c := range Columns {
		assert.NotNil(t, fields.GetByPath(c.Name), "no Observation field tagged %q", c.Name)
	}
	assert.Equal(t, len(Columns), reflect.TypeOf(models.Observation{}).NumField())
}

func TestSQLType(t *testing.T) {
	tests := []struct {
		dialect Dialect
		kind    Kind
		want    string
	}{
		{SQLite, KindKey, "INTEGER NOT NULL"},
		{SQLite, KindInteger, "INTEGER"},
		{SQLite, KindText, "TEXT"},
		{SQLite, KindReal, "REAL"},
		{Postgres, KindKey, "BIGINT NOT NULL"},
		{Postgres, KindInteger, "BIGINT"},
		{Postgres, KindText, "TEXT"},
		{Postgres, KindReal, "DOUBLE PRECISION"},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.SQLType(tt.kind))
		})
	}
}

func TestCreateTableStatement(t *testing.T) {
	ddl := CreateTableStatement(SQLite)

	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS weather ("))
	assert.Contains(t, ddl, `"device_id" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `"timestamp" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `"type" TEXT`)
	assert.Contains(t, ddl, `"bucket_step_minutes" INTEGER`)
	assert.Contains(t, ddl, `"temperature" REAL`)
	assert.Contains(t, ddl, `"precip_type" TEXT`)
	assert.Contains(t, ddl, `PRIMARY KEY ("device_id", "timestamp")`)

	pg := CreateTableStatement(Postgres)
	assert.Contains(t, pg, `"timestamp" BIGINT NOT NULL`)
	assert.Contains(t, pg, `"wind_avg" DOUBLE PRECISION`)
}

func TestUpsertStatement(t *testing.T) {
	stmt := UpsertStatement()

	assert.Contains(t, stmt, `ON CONFLICT ("device_id", "timestamp") DO UPDATE SET`)
	assert.Contains(t, stmt, `"temperature" = excluded."temperature"`)
	assert.NotContains(t, stmt, `"device_id" = excluded`)
	assert.NotContains(t, stmt, `"timestamp" = excluded`)
	for _, name := range ColumnNames() {
		assert.Contains(t, stmt, ":"+name)
	}
}

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		database string
		want     Dialect
	}{
		{"/home/me/weather.db", SQLite},
		{"weather.db", SQLite},
		{":memory:", SQLite},
		{"postgres://user:pw@localhost/weather", Postgres},
		{"PostgreSQL://localhost/weather", Postgres},
	}

	for _, tt := range tests {
		t.Run(tt.database, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDialect(tt.database))
		})
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("Postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}
