package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("tempest_sync", reg), reg
}

func TestRecordFetch(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordFetch("rows", 1440)
	c.RecordFetch("rows", 60)
	c.RecordFetch("empty", 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.FetchRequestsTotal.WithLabelValues("rows")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.FetchRequestsTotal.WithLabelValues("empty")))
	assert.Equal(t, float64(1500), testutil.ToFloat64(c.FetchRowsTotal))
}

func TestDeviceScopedMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRowsWritten(10, 5)
	c.RecordRowsWritten(20, 7)
	c.SetWatermark(10, 1690000000)

	assert.Equal(t, float64(5), testutil.ToFloat64(c.RowsWrittenTotal.WithLabelValues("10")))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.RowsWrittenTotal.WithLabelValues("20")))
	assert.Equal(t, float64(1690000000), testutil.ToFloat64(c.DeviceWatermark.WithLabelValues("10")))
}

func TestCollectorsUseSeparateRegistries(t *testing.T) {
	first, _ := newTestCollector(t)
	second, _ := newTestCollector(t)

	first.RecordSyncError("fetch")

	assert.Equal(t, float64(1), testutil.ToFloat64(first.SyncErrorsTotal.WithLabelValues("fetch")))
	assert.Equal(t, float64(0), testutil.ToFloat64(second.SyncErrorsTotal.WithLabelValues("fetch")))
}

func TestTimer(t *testing.T) {
	c, _ := newTestCollector(t)

	timer := c.NewTimer(c.FetchDuration)
	d := timer.ObserveDuration()

	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, 1, testutil.CollectAndCount(c.FetchDuration))
}

func TestWriteTextfile(t *testing.T) {
	c, reg := newTestCollector(t)
	c.MarkSuccess(time.Unix(1690000000, 0))

	path := filepath.Join(t.TempDir(), "tempest_sync.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tempest_sync_last_success_timestamp_seconds 1.69e+09")
}
