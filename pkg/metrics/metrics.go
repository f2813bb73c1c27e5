package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// Sync Metrics
	FetchRequestsTotal   *prometheus.CounterVec
	FetchDuration        prometheus.Histogram
	FetchRowsTotal       prometheus.Counter
	RowsWrittenTotal     *prometheus.CounterVec
	UpsertBatchSize      prometheus.Histogram
	DeviceSyncDuration   *prometheus.HistogramVec
	DeviceWatermark      *prometheus.GaugeVec
	SyncErrorsTotal      *prometheus.CounterVec
	LastSuccessTimestamp prometheus.Gauge

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec
}

// NewCollector registers the collector's metrics with reg under namespace.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		FetchRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_requests_total",
				Help:      "Total number of Tempest API page requests by outcome",
			},
			[]string{"outcome"}, // "ok", "empty", "error"
		),

		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of Tempest API page requests in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		FetchRowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_rows_total",
				Help:      "Total number of observation rows decoded from API responses",
			},
		),

		RowsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Total number of observation rows upserted by device",
			},
			[]string{"device_id"},
		),

		UpsertBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upsert_batch_size",
				Help:      "Number of rows per upsert transaction",
				Buckets:   []float64{1, 10, 60, 240, 720, 1440, 2880},
			},
		),

		DeviceSyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "device_sync_duration_seconds",
				Help:      "Duration of a full device sync in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"device_id"},
		),

		DeviceWatermark: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "device_watermark_timestamp_seconds",
				Help:      "Most recent stored observation timestamp per device",
			},
			[]string{"device_id"},
		),

		SyncErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_errors_total",
				Help:      "Total number of sync failures by stage",
			},
			[]string{"stage"}, // "watermark", "fetch", "upsert"
		),

		LastSuccessTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run that synced every device",
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of inspection API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Inspection API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of inspection API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordFetch counts one page request by its outcome
func (c *Collector) RecordFetch(outcome string, rows int) {
	c.FetchRequestsTotal.WithLabelValues(outcome).Inc()
	c.FetchRowsTotal.Add(float64(rows))
}

// RecordRowsWritten counts upserted rows for a device
func (c *Collector) RecordRowsWritten(deviceID int64, rows int) {
	c.RowsWrittenTotal.WithLabelValues(deviceLabel(deviceID)).Add(float64(rows))
	c.UpsertBatchSize.Observe(float64(rows))
}

// SetWatermark publishes the stored high-water mark of a device
func (c *Collector) SetWatermark(deviceID, timestamp int64) {
	c.DeviceWatermark.WithLabelValues(deviceLabel(deviceID)).Set(float64(timestamp))
}

// ObserveDeviceSync records how long a device sync took
func (c *Collector) ObserveDeviceSync(deviceID int64, d time.Duration) {
	c.DeviceSyncDuration.WithLabelValues(deviceLabel(deviceID)).Observe(d.Seconds())
}

// RecordSyncError increments the sync error counter
func (c *Collector) RecordSyncError(stage string) {
	c.SyncErrorsTotal.WithLabelValues(stage).Inc()
}

// MarkSuccess stamps the time of a fully successful run
func (c *Collector) MarkSuccess(at time.Time) {
	c.LastSuccessTimestamp.Set(float64(at.Unix()))
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}

// WriteTextfile writes everything gathered by g in the Prometheus text format,
// for node_exporter's textfile collector. The file is replaced atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func deviceLabel(deviceID int64) string {
	return strconv.FormatInt(deviceID, 10)
}
