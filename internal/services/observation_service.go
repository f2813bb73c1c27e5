package services

import (
	"context"
	"fmt"
	"time"

	"tempest-sync/internal/models"
	"tempest-sync/internal/repository"
	"tempest-sync/pkg/logging"
	"tempest-sync/pkg/metrics"
)

// SampleIntervalSeconds is the spacing of Tempest one-minute observations.
const SampleIntervalSeconds int64 = 60

// ObservationService answers read-only questions about the local store
type ObservationService struct {
	repo    repository.ObservationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationService creates a new observation service
func NewObservationService(repo repository.ObservationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ObservationService {
	return &ObservationService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListDevices returns the stored span of every device
func (s *ObservationService) ListDevices(ctx context.Context) ([]*models.DeviceSummary, error) {
	return s.repo.ListDeviceSummaries(ctx)
}

// Watermark returns the newest stored timestamp of a device, 0 if none
func (s *ObservationService) Watermark(ctx context.Context, deviceID int64) (int64, error) {
	return s.repo.Watermark(ctx, deviceID)
}

// GetObservation returns one stored sample
func (s *ObservationService) GetObservation(ctx context.Context, deviceID, timestamp int64) (*models.Observation, error) {
	return s.repo.GetObservation(ctx, deviceID, timestamp)
}

// FindGaps lists holes in a device's series wider than thresholdSeconds
func (s *ObservationService) FindGaps(ctx context.Context, deviceID, thresholdSeconds int64) ([]models.Gap, error) {
	if thresholdSeconds <= 0 {
		return nil, &models.ValidationError{
			Field:   "threshold",
			Value:   fmt.Sprint(thresholdSeconds),
			Message: "threshold must be a positive number of seconds",
		}
	}
	return s.repo.FindGaps(ctx, deviceID, thresholdSeconds)
}

// DeviceCoverage computes, per device, how many of the expected one-minute
// samples between its first and last timestamp are stored.
func (s *ObservationService) DeviceCoverage(ctx context.Context, thresholdSeconds int64) ([]*models.DeviceCoverage, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[COVERAGE_START] Starting coverage calculation", logging.Fields{
		"threshold_seconds": thresholdSeconds,
	})

	summaries, err := s.repo.ListDeviceSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	coverage := make([]*models.DeviceCoverage, 0, len(summaries))
	for _, summary := range summaries {
		gaps, err := s.FindGaps(ctx, summary.DeviceID, thresholdSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to find gaps for device %d: %w", summary.DeviceID, err)
		}
		coverage = append(coverage, calculateCoverage(*summary, gaps))
	}

	s.logger.Info(ctx, "[COVERAGE_COMPLETE] Coverage calculation completed", logging.Fields{
		"device_count":     len(coverage),
		"duration_seconds": time.Since(startTime).Seconds(),
	})

	return coverage, nil
}

func calculateCoverage(summary models.DeviceSummary, gaps []models.Gap) *models.DeviceCoverage {
	expected := (summary.LastTimestamp-summary.FirstTimestamp)/SampleIntervalSeconds + 1

	var missing int64
	for _, gap := range gaps {
		missing += gap.DeltaSeconds - SampleIntervalSeconds
	}

	ratio := 0.0
	if expected > 0 {
		ratio = min(float64(summary.RecordCount)/float64(expected), 1)
	}

	return &models.DeviceCoverage{
		DeviceSummary:   summary,
		ExpectedRecords: expected,
		Coverage:        ratio,
		GapCount:        len(gaps),
		MissingSeconds:  missing,
	}
}

// HealthCheck checks the store is reachable
func (s *ObservationService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
