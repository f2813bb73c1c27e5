package tempest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempest-sync/internal/models"
	"tempest-sync/internal/schema"
)

const sampleCSV = `device_id,type,bucket_step_minutes,timestamp,wind_lull,wind_avg,wind_gust,wind_dir,wind_interval,pressure,temperature,humidity,lux,uv,solar_radiation,precip,precip_type,strike_distance,strike_count,battery,report_interval,local_daily_precip,precip_final,local_daily_precip_final,precip_analysis_type
12345,obs_st,1,1700000000,0.5,1.2,2.4,180,3,1012.3,20.5,55,1000,1.5,80,0,none,,0,2.6,1,0.3,0,0.3,rain_check
12345,obs_st,1,1700000060,,1.1,,175,3,1012.2,20.4,56,990,1.4,79,0,none,,0,2.6,1,0.3,,,
`

// csvBody renders rows under a header of the given columns; unset fields are blank.
func csvBody(columns []string, rows ...map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(columns, ",") + "\n")
	for _, row := range rows {
		fields := make([]string, len(columns))
		for i, name := range columns {
			fields[i] = row[name]
		}
		b.WriteString(strings.Join(fields, ",") + "\n")
	}
	return b.String()
}

func columnsWithout(column string) []string {
	columns := []string{}
	for _, name := range schema.ColumnNames() {
		if name != column {
			columns = append(columns, name)
		}
	}
	return columns
}

func TestFetchObservations(t *testing.T) {
	var gotPath string
	var gotQuery url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	client := NewClient(server.URL, "s3cret", 0)
	observations, err := client.FetchObservations(context.Background(), 12345, 1699913600, 1700000000)
	require.NoError(t, err)

	assert.Equal(t, "/observations/device/12345", gotPath)
	assert.Equal(t, "1699913600", gotQuery.Get("time_start"))
	assert.Equal(t, "1700000000", gotQuery.Get("time_end"))
	assert.Equal(t, "csv", gotQuery.Get("format"))
	assert.Equal(t, "s3cret", gotQuery.Get("token"))

	require.Len(t, observations, 2)

	first := observations[0]
	assert.Equal(t, int64(12345), first.DeviceID)
	assert.Equal(t, int64(1700000000), first.Timestamp)
	require.NotNil(t, first.Temperature)
	assert.Equal(t, 20.5, *first.Temperature)
	require.NotNil(t, first.BucketStepMinutes)
	assert.Equal(t, int64(1), *first.BucketStepMinutes)
	require.NotNil(t, first.PrecipAnalysisType)
	assert.Equal(t, "rain_check", *first.PrecipAnalysisType)
	assert.Nil(t, first.StrikeDistance)

	second := observations[1]
	assert.Nil(t, second.WindLull)
	assert.Nil(t, second.WindGust)
	assert.Nil(t, second.PrecipFinal)
	assert.Nil(t, second.PrecipAnalysisType)
}

func TestObservationsURLEncodesComponents(t *testing.T) {
	client := NewClient("https://example.test/swd/rest/", "a b&c", 0)

	got, err := client.ObservationsURL(7, 10, 20)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/swd/rest/observations/device/7?format=csv&time_end=20&time_start=10&token=a+b%26c", got)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient("", "token", 0)
	assert.Equal(t, DefaultBaseURL, client.BaseURL)
	assert.Zero(t, client.HTTPClient.Timeout)
}

func TestFetchObservationsEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "header only", body: csvBody(schema.ColumnNames())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			observations, err := NewClient(server.URL, "token", 0).FetchObservations(context.Background(), 1, 0, 60)
			require.NoError(t, err)
			assert.NotNil(t, observations)
			assert.Empty(t, observations)
		})
	}
}

func TestFetchObservationsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "bad", 0).FetchObservations(context.Background(), 1, 0, 60)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "unauthorized", statusErr.Body)
	assert.False(t, statusErr.IsTransient())
}

func TestFetchObservationsTransportErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	_, err := NewClient(baseURL, "topsecret", 0).FetchObservations(context.Background(), 1, 0, 60)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "topsecret")
	assert.Contains(t, err.Error(), "REDACTED")
}

func TestFetchObservationsCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(server.URL, "token", 0).FetchObservations(ctx, 1, 0, 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecodeObservations(t *testing.T) {
	all := schema.ColumnNames()
	reversed := make([]string, len(all))
	for i, name := range all {
		reversed[len(all)-1-i] = name
	}
	row := map[string]string{"device_id": "9", "timestamp": "60", "temperature": "12.5"}

	tests := []struct {
		name        string
		body        string
		wantCount   int
		wantField   string
		wantMissing string
		wantErr     bool
	}{
		{
			name:      "columns looked up by name",
			body:      csvBody(reversed, row),
			wantCount: 1,
		},
		{
			name:      "byte order mark on header",
			body:      "\ufeff" + csvBody(all, row),
			wantCount: 1,
		},
		{
			name:      "non numeric temperature",
			body:      csvBody(all, map[string]string{"device_id": "9", "timestamp": "60", "temperature": "warm"}),
			wantErr:   true,
			wantField: "temperature",
		},
		{
			name:      "empty timestamp",
			body:      csvBody(all, map[string]string{"device_id": "9", "temperature": "12.5"}),
			wantErr:   true,
			wantField: "timestamp",
		},
		{
			name:        "header without temperature",
			body:        csvBody(columnsWithout("temperature"), row),
			wantErr:     true,
			wantMissing: "temperature",
		},
		{
			name:        "header without timestamp",
			body:        csvBody(columnsWithout("timestamp"), row),
			wantErr:     true,
			wantMissing: "timestamp",
		},
		{
			name:        "short header without rows",
			body:        "device_id,timestamp\n",
			wantErr:     true,
			wantMissing: "type",
		},
		{
			name:    "ragged row",
			body:    csvBody(all, row) + "9,120,extra\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observations, err := DecodeObservations(strings.NewReader(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, observations)
				if tt.wantField != "" {
					var validationErr *models.ValidationError
					require.True(t, errors.As(err, &validationErr))
					assert.Equal(t, tt.wantField, validationErr.Field)
				}
				if tt.wantMissing != "" {
					var missing *models.MissingColumnError
					require.True(t, errors.As(err, &missing))
					assert.Equal(t, tt.wantMissing, missing.Column)
				}
				return
			}
			require.NoError(t, err)
			require.Len(t, observations, tt.wantCount)
			assert.Equal(t, int64(9), observations[0].DeviceID)
			assert.Equal(t, int64(60), observations[0].Timestamp)
			require.NotNil(t, observations[0].Temperature)
			assert.Equal(t, 12.5, *observations[0].Temperature)
			assert.Nil(t, observations[0].Humidity)
		})
	}
}
