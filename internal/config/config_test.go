package config

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempest-sync/internal/schema"
	"tempest-sync/internal/tempest"
	"tempest-sync/pkg/logging"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TEMPEST_API_TOKEN", "TEMPEST_DATABASE", "TEMPEST_DEVICE_IDS", "TEMPEST_API_URL",
		"TEMPEST_HTTP_TIMEOUT", "TEMPEST_METRICS_FILE", "TEMPEST_LOG_LEVEL", "TEMPEST_SERVER_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDeviceIDs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []int64
	}{
		{
			name: "space separated values",
			args: []string{"--device_id", "123456", "789012", "--api_token", "t"},
			want: []int64{123456, 789012},
		},
		{
			name: "repeated flag",
			args: []string{"--device_id=3", "-device_id", "1", "--device_id", "2"},
			want: []int64{3, 1, 2},
		},
		{
			name: "comma list",
			args: []string{"--device_id", "20,10"},
			want: []int64{20, 10},
		},
		{
			name: "values before other flags",
			args: []string{"--database", "w.db", "--device_id", "5", "6", "-v"},
			want: []int64{5, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.DeviceIDs)
		})
	}
}

func TestLoadFlags(t *testing.T) {
	clearEnv(t)

	cfg, err := Load([]string{
		"--api_token", "abc", "--database", "/tmp/weather.db", "--device_id", "1",
		"--http_timeout", "30s", "--metrics_file", "/tmp/tempest.prom", "--verbose",
	})
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.APIToken)
	assert.Equal(t, "/tmp/weather.db", cfg.Database)
	assert.Equal(t, tempest.DefaultBaseURL, cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "/tmp/tempest.prom", cfg.MetricsFile)
	assert.Equal(t, logging.InfoLevel, cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadLogLevel(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  string
		want logging.LogLevel
	}{
		{"quiet by default", nil, "", logging.WarnLevel},
		{"short verbose", []string{"-v"}, "", logging.InfoLevel},
		{"debug wins", []string{"-v", "--debug"}, "", logging.DebugLevel},
		{"environment level", nil, "error", logging.ErrorLevel},
		{"verbose does not raise a lower level", []string{"-v"}, "debug", logging.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("TEMPEST_LOG_LEVEL", tt.env)
			cfg, err := Load(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.LogLevel)
		})
	}
}

func TestLoadEnvironmentFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPEST_API_TOKEN", "from-env")
	t.Setenv("TEMPEST_DATABASE", "postgres://localhost/weather")
	t.Setenv("TEMPEST_DEVICE_IDS", "7, 8")
	t.Setenv("TEMPEST_HTTP_TIMEOUT", "1m")

	cfg, err := Load([]string{"--api_token", "from-flag"})
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.APIToken)
	assert.Equal(t, "postgres://localhost/weather", cfg.Database)
	assert.Equal(t, []int64{7, 8}, cfg.DeviceIDs)
	assert.Equal(t, time.Minute, cfg.HTTPTimeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "non numeric device", args: []string{"--device_id", "abc"}},
		{name: "device flag without value", args: []string{"--device_id"}},
		{name: "unknown flag", args: []string{"--nope"}},
		{name: "stray positional", args: []string{"--database", "w.db", "extra", "--device_id", "1"}},
		{name: "bad env timeout", env: map[string]string{"TEMPEST_HTTP_TIMEOUT": "soon"}},
		{name: "bad env devices", env: map[string]string{"TEMPEST_DEVICE_IDS": "1,x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			APIToken:  "abc",
			Database:  "weather.db",
			DeviceIDs: []int64{1},
			APIURL:    tempest.DefaultBaseURL,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.APIToken = "" }, "api_token is required"},
		{"missing database", func(c *Config) { c.Database = "" }, "database is required"},
		{"no devices", func(c *Config) { c.DeviceIDs = nil }, "at least one device_id is required"},
		{"zero device", func(c *Config) { c.DeviceIDs = []int64{1, 0} }, "device_id must be positive, got 0"},
		{"negative timeout", func(c *Config) { c.HTTPTimeout = -time.Second }, "http_timeout must not be negative"},
		{"bad url", func(c *Config) { c.APIURL = "ftp://example" }, "api_url must be an http(s) URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeArgs(t *testing.T) {
	got := normalizeArgs([]string{"-v", "--device_id", "1", "2", "--database", "x", "--", "--device_id", "3"}, "device_id")
	assert.Equal(t, []string{"-v", "--device_id=1", "--device_id=2", "--database", "x", "--", "--device_id", "3"}, got)
}

func TestLoadServer(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPEST_DATABASE", "weather.db")

	cfg, err := LoadServer([]string{"-addr", "127.0.0.1:9090", "-log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "weather.db", cfg.Database)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, logging.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)

	clearEnv(t)
	_, err = LoadServer(nil)
	assert.Error(t, err)
}

func TestLoadMigrate(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantDialect schema.Dialect
		wantErr     bool
	}{
		{name: "print defaults to sqlite", args: []string{"-print"}, wantDialect: schema.SQLite},
		{name: "print postgres", args: []string{"-print", "-dialect", "postgres"}, wantDialect: schema.Postgres},
		{name: "dialect from database", args: []string{"-database", "postgres://db/weather"}, wantDialect: schema.Postgres},
		{name: "apply needs database", args: nil, wantErr: true},
		{name: "unknown dialect", args: []string{"-print", "-dialect", "oracle"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := LoadMigrate(tt.args, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDialect, cfg.Dialect)
		})
	}
}

func TestLoadImport(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadImport([]string{"-database", "w.db", "-data-dir", "exports", "-batch-size", "50"})
	require.NoError(t, err)
	assert.Equal(t, "w.db", cfg.Database)
	assert.Equal(t, "exports", cfg.DataDir)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, logging.InfoLevel, cfg.LogLevel)

	_, err = LoadImport([]string{"-database", "w.db", "-batch-size", "0"})
	assert.Error(t, err)

	_, err = LoadImport(nil)
	assert.Error(t, err)
}
