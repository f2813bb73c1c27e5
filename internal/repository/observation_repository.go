package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tempest-sync/internal/models"
	"tempest-sync/internal/schema"
	"tempest-sync/pkg/database"
	"tempest-sync/pkg/logging"
)

// ObservationRepository provides data access for the weather table
type ObservationRepository interface {
	// Sync operations
	Watermark(ctx context.Context, deviceID int64) (int64, error)
	UpsertObservations(ctx context.Context, observations []*models.Observation) error

	// Inspection operations
	GetObservation(ctx context.Context, deviceID, timestamp int64) (*models.Observation, error)
	CountObservations(ctx context.Context, deviceID int64) (int64, error)
	FindGaps(ctx context.Context, deviceID, thresholdSeconds int64) ([]models.Gap, error)
	ListDeviceSummaries(ctx context.Context) ([]*models.DeviceSummary, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// observationRepository implements ObservationRepository
type observationRepository struct {
	db     *database.DB
	logger *logging.StructuredLogger
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *database.DB, logger *logging.StructuredLogger) ObservationRepository {
	return &observationRepository{
		db:     db,
		logger: logger,
	}
}

var selectObservationColumns = func() string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = schema.Quote(c.Name)
	}
	return strings.Join(cols, ", ")
}()

// Watermark returns the newest stored timestamp for a device, or 0 when it has no rows
func (r *observationRepository) Watermark(ctx context.Context, deviceID int64) (int64, error) {
	start := time.Now()
	defer r.db.ObserveQuery("watermark", start)

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxTimestamp sql.NullInt64
	query := tx.Rebind(fmt.Sprintf(`SELECT MAX("timestamp") FROM %s WHERE device_id = ?`, schema.TableName))
	if err := tx.GetContext(ctx, &maxTimestamp, query, deviceID); err != nil {
		return 0, fmt.Errorf("failed to read watermark for device %d: %w", deviceID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if !maxTimestamp.Valid {
		return 0, nil
	}
	return maxTimestamp.Int64, nil
}

// UpsertObservations writes all observations in one transaction. A row whose
// (device_id, timestamp) already exists is replaced in full.
func (r *observationRepository) UpsertObservations(ctx context.Context, observations []*models.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		r.db.ObserveQuery("upsert_observations", start)
		r.logger.Debug(ctx, "[REPO_UPSERT] Batch upsert completed", logging.Fields{
			"count":       len(observations),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, schema.UpsertStatement())
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx, obs); err != nil {
			return fmt.Errorf("failed to upsert observation (device %d, timestamp %d): %w", obs.DeviceID, obs.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetObservation retrieves one stored observation
func (r *observationRepository) GetObservation(ctx context.Context, deviceID, timestamp int64) (*models.Observation, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE device_id = ? AND "timestamp" = ?`, selectObservationColumns, schema.TableName)

	var obs models.Observation
	err := r.db.GetContext(ctx, "get_observation", &obs, query, deviceID, timestamp)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "observation",
			ID:       fmt.Sprintf("%d:%d", deviceID, timestamp),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	return &obs, nil
}

// CountObservations counts the rows stored for a device
func (r *observationRepository) CountObservations(ctx context.Context, deviceID int64) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE device_id = ?`, schema.TableName)
	if err := r.db.GetContext(ctx, "count_observations", &count, query, deviceID); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

// FindGaps lists consecutive samples of a device more than thresholdSeconds apart
func (r *observationRepository) FindGaps(ctx context.Context, deviceID, thresholdSeconds int64) ([]models.Gap, error) {
	gaps := []models.Gap{}
	if err := r.db.SelectContext(ctx, "find_gaps", &gaps, schema.GapsQuery(), deviceID, thresholdSeconds); err != nil {
		return nil, fmt.Errorf("failed to find gaps: %w", err)
	}
	return gaps, nil
}

// ListDeviceSummaries reports the row count and time span stored per device
func (r *observationRepository) ListDeviceSummaries(ctx context.Context) ([]*models.DeviceSummary, error) {
	query := fmt.Sprintf(`
		SELECT device_id,
		       COUNT(*) AS record_count,
		       MIN("timestamp") AS first_timestamp,
		       MAX("timestamp") AS last_timestamp
		FROM %s
		GROUP BY device_id
		ORDER BY device_id
	`, schema.TableName)

	summaries := []*models.DeviceSummary{}
	if err := r.db.SelectContext(ctx, "list_device_summaries", &summaries, query); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return summaries, nil
}

// HealthCheck performs a repository health check
func (r *observationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
