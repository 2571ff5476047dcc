package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

// MergeRepository persists offline merge records in Postgres. Conflicts are
// stored as a JSONB document alongside the counters; the table is
// append-only.
type MergeRepository struct {
	conn *ConnectionPool
}

// NewMergeRepository creates a repository backed by the shared pool
func NewMergeRepository(conn *ConnectionPool) *MergeRepository {
	return &MergeRepository{conn: conn}
}

const mergeColumns = `
	merge_id, chain_id, merge_timestamp, user_id, device_id, offline_session_id,
	events_received, events_merged, duplicates_skipped, conflicts_detected,
	events_rehashed, conflicts, merge_duration_ms, status, error_details`

// SaveMergeRecord writes a completed merge record
func (r *MergeRepository) SaveMergeRecord(ctx context.Context, record *ledger.MergeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	var conflicts []byte
	if len(record.Conflicts) > 0 {
		var err error
		conflicts, err = json.Marshal(record.Conflicts)
		if err != nil {
			return errors.NewInternalError("failed to encode merge conflicts").WithCause(err)
		}
	}

	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO offline_merge_records (`+mergeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.MergeID, record.ChainID, record.MergeTimestamp,
		nullString(record.UserID), record.DeviceID, record.OfflineSessionID,
		record.EventsReceived, record.EventsMerged, record.DuplicatesSkipped,
		record.ConflictsDetected, record.EventsReHashed, conflicts,
		record.MergeDurationMs, string(record.Status), nullString(record.ErrorDetails))
	if err != nil {
		return errors.NewInternalError("failed to save merge record").WithCause(err)
	}
	return nil
}

// GetMergeRecord looks up a single merge record by ID
func (r *MergeRepository) GetMergeRecord(ctx context.Context, mergeID uuid.UUID) (*ledger.MergeRecord, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+mergeColumns+`
		FROM offline_merge_records
		WHERE merge_id = $1`, mergeID)
	if err != nil {
		return nil, errors.NewInternalError("failed to read merge record").WithCause(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.NewInternalError("failed to read merge record").WithCause(err)
		}
		return nil, errors.NewNotFoundError("merge record")
	}
	return scanMergeRecord(rows)
}

// ListMergeRecords returns the most recent merges for a device, newest first
func (r *MergeRepository) ListMergeRecords(ctx context.Context, deviceID string, limit int) ([]*ledger.MergeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+mergeColumns+`
		FROM offline_merge_records
		WHERE device_id = $1
		ORDER BY merge_timestamp DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list merge records").WithCause(err)
	}
	defer rows.Close()

	var records []*ledger.MergeRecord
	for rows.Next() {
		record, err := scanMergeRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate merge records").WithCause(err)
	}
	return records, nil
}

func scanMergeRecord(rows pgx.Rows) (*ledger.MergeRecord, error) {
	var (
		record       ledger.MergeRecord
		userID       *string
		errorDetails *string
		conflicts    []byte
		status       string
	)
	err := rows.Scan(
		&record.MergeID, &record.ChainID, &record.MergeTimestamp,
		&userID, &record.DeviceID, &record.OfflineSessionID,
		&record.EventsReceived, &record.EventsMerged, &record.DuplicatesSkipped,
		&record.ConflictsDetected, &record.EventsReHashed, &conflicts,
		&record.MergeDurationMs, &status, &errorDetails)
	if err != nil {
		return nil, errors.NewInternalError("failed to scan merge record").WithCause(err)
	}
	record.UserID = deref(userID)
	record.ErrorDetails = deref(errorDetails)
	record.Status = ledger.MergeStatus(status)
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &record.Conflicts); err != nil {
			return nil, errors.NewInternalError("failed to decode merge conflicts").WithCause(err)
		}
	}
	return &record, nil
}
