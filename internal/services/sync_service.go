package services

import (
	"context"
	"fmt"
	"time"

	"tempest-sync/internal/models"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

// ChunkSeconds is the widest window requested per fetch. The API only
// returns one-minute resolution for ranges of a day or less.
const ChunkSeconds int64 = 24 * 60 * 60

// Source fetches observations for one device and time window
type Source interface {
	FetchObservations(ctx context.Context, deviceID, start, end int64) ([]*models.Observation, error)
}

// Store persists observations and reports how far a device has been synced
type Store interface {
	Watermark(ctx context.Context, deviceID int64) (int64, error)
	UpsertObservations(ctx context.Context, observations []*models.Observation) error
}

// SyncService pulls observations from a Source into a Store
type SyncService struct {
	source  Source
	store   Store
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// DeviceResult summarises one device sync
type DeviceResult struct {
	DeviceID    int64
	Watermark   int64
	RangeStart  int64
	RangeEnd    int64
	Fetches     int
	RowsWritten int
	Duration    time.Duration
}

// SyncResult summarises a run over several devices
type SyncResult struct {
	Devices     []*DeviceResult
	RowsWritten int
	Duration    time.Duration
}

// NewSyncService creates a new sync service
func NewSyncService(source Source, store Store, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SyncService {
	return &SyncService{
		source:  source,
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// SetClock replaces the wall clock used to pick the end of the sync range
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// SyncRange returns the window a device sync covers. It always reaches back
// at least one chunk from now so that revised recent data is fetched again.
func SyncRange(watermark, now int64) (start, end int64) {
	return min(watermark, now-ChunkSeconds), now
}

// NextChunk returns the start of the chunk that ends at end.
func NextChunk(rangeStart, end int64) int64 {
	return max(end-ChunkSeconds, rangeStart)
}

// SyncDevices syncs each device in order. The first failure aborts the run.
func (s *SyncService) SyncDevices(ctx context.Context, deviceIDs []int64) (*SyncResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[SYNC_START] Starting sync run", logging.Fields{
		"device_count": len(deviceIDs),
		"device_ids":   deviceIDs,
	})

	result := &SyncResult{Devices: make([]*DeviceResult, 0, len(deviceIDs))}

	for _, deviceID := range deviceIDs {
		deviceResult, err := s.SyncDevice(ctx, deviceID)
		if deviceResult != nil {
			result.Devices = append(result.Devices, deviceResult)
			result.RowsWritten += deviceResult.RowsWritten
		}
		if err != nil {
			result.Duration = time.Since(startTime)
			return result, err
		}
	}

	result.Duration = time.Since(startTime)
	s.metrics.MarkSuccess(s.now())

	s.logger.Info(ctx, "[SYNC_COMPLETE] Sync run completed", logging.Fields{
		"device_count":     len(result.Devices),
		"rows_written":     result.RowsWritten,
		"duration_seconds": result.Duration.Seconds(),
	})

	return result, nil
}

// SyncDevice brings one device up to date, walking backward from now in
// chunks until the range is covered or the API has no more data.
func (s *SyncService) SyncDevice(ctx context.Context, deviceID int64) (*DeviceResult, error) {
	ctx = logging.WithDeviceID(ctx, deviceID)
	timer := time.Now()

	s.logger.Info(ctx, "[SYNC_DEVICE_START] Syncing device", nil)

	watermark, err := s.store.Watermark(ctx, deviceID)
	if err != nil {
		s.metrics.RecordSyncError("watermark")
		return nil, fmt.Errorf("failed to read watermark for device %d: %w", deviceID, err)
	}

	rangeStart, end := SyncRange(watermark, s.now().Unix())
	result := &DeviceResult{
		DeviceID:   deviceID,
		Watermark:  watermark,
		RangeStart: rangeStart,
		RangeEnd:   end,
	}

	s.logger.Info(ctx, "[SYNC_DEVICE_RANGE] Computed sync range", logging.Fields{
		"watermark":   watermark,
		"range_start": rangeStart,
		"range_end":   end,
	})

	newest := watermark
	for rangeStart < end {
		chunkStart := NextChunk(rangeStart, end)

		s.logger.Info(ctx, "[SYNC_FETCH] Fetching chunk", logging.Fields{
			"chunk_start": chunkStart,
			"chunk_end":   end,
		})

		fetchTimer := s.metrics.NewTimer(s.metrics.FetchDuration)
		rows, err := s.source.FetchObservations(ctx, deviceID, chunkStart, end)
		fetchTimer.ObserveDuration()
		result.Fetches++
		if err != nil {
			s.metrics.RecordFetch("error", 0)
			s.metrics.RecordSyncError("fetch")
			result.Duration = time.Since(timer)
			return result, fmt.Errorf("failed to fetch device %d range [%d, %d]: %w", deviceID, chunkStart, end, err)
		}

		if len(rows) == 0 {
			s.metrics.RecordFetch("empty", 0)
			s.logger.Info(ctx, "[SYNC_FETCH_EMPTY] No more data available", logging.Fields{
				"chunk_start": chunkStart,
				"chunk_end":   end,
			})
			break
		}
		s.metrics.RecordFetch("ok", len(rows))

		if err := s.store.UpsertObservations(ctx, rows); err != nil {
			s.metrics.RecordSyncError("upsert")
			result.Duration = time.Since(timer)
			return result, fmt.Errorf("failed to write device %d range [%d, %d]: %w", deviceID, chunkStart, end, err)
		}
		s.metrics.RecordRowsWritten(deviceID, len(rows))
		result.RowsWritten += len(rows)

		for _, row := range rows {
			if row.DeviceID == deviceID && row.Timestamp > newest {
				newest = row.Timestamp
			}
		}

		s.logger.Info(ctx, "[SYNC_WRITE] Wrote chunk", logging.Fields{
			"rows":        len(rows),
			"chunk_start": chunkStart,
			"chunk_end":   end,
		})

		end = chunkStart
	}

	result.Duration = time.Since(timer)
	s.metrics.ObserveDeviceSync(deviceID, result.Duration)
	s.metrics.SetWatermark(deviceID, newest)

	s.logger.Info(ctx, "[SYNC_DEVICE_COMPLETE] Finished device sync", logging.Fields{
		"fetches":      result.Fetches,
		"rows_written": result.RowsWritten,
		"duration_ms":  result.Duration.Milliseconds(),
	})

	return result, nil
}
