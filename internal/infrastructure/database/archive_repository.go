package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// ArchiveRepository persists archive metadata in Postgres. Rows are created
// at seal time with PENDING replication and updated only through the
// replication check and access-trail paths.
type ArchiveRepository struct {
	conn *ConnectionPool
}

// NewArchiveRepository creates a repository backed by the shared pool
func NewArchiveRepository(conn *ConnectionPool) *ArchiveRepository {
	return &ArchiveRepository{conn: conn}
}

const archiveColumns = `
	archive_id, chain_id, file_name, object_key, export_date,
	event_date_start, event_date_end, sequence_start, sequence_end,
	event_count, file_size, compression_ratio,
	chain_start_hash, chain_end_hash, previous_day_end_hash,
	retention_expiry_date, storage_location, replication_status,
	last_replication_check_utc, last_accessed_at_utc, last_accessed_by`

// SaveArchive writes freshly sealed archive metadata
func (r *ArchiveRepository) SaveArchive(ctx context.Context, meta *ledger.ArchiveMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	seqStart, err := meta.SequenceStart.DatabaseValue()
	if err != nil {
		return err
	}
	seqEnd, err := meta.SequenceEnd.DatabaseValue()
	if err != nil {
		return err
	}
	prevDayEnd, err := meta.PreviousDayEndHash.Value()
	if err != nil {
		return err
	}

	_, err = r.conn.Pool().Exec(ctx, `
		INSERT INTO archive_metadata (`+archiveColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		meta.ArchiveID, meta.ChainID, meta.FileName, meta.ObjectKey, meta.ExportDate,
		meta.EventDateStart, meta.EventDateEnd, seqStart, seqEnd,
		meta.EventCount, meta.FileSize, meta.CompressionRatio,
		meta.ChainStartHash.String(), meta.ChainEndHash.String(), prevDayEnd,
		meta.RetentionExpiry, meta.StorageLocation, string(meta.ReplicationStatus),
		meta.LastReplicationCheckUTC, meta.LastAccessedAtUTC, nullString(meta.LastAccessedBy))
	if err != nil {
		return errors.NewInternalError("failed to save archive metadata").WithCause(err)
	}
	return nil
}

// GetArchive looks up archive metadata by ID
func (r *ArchiveRepository) GetArchive(ctx context.Context, archiveID uuid.UUID) (*ledger.ArchiveMetadata, error) {
	return r.queryOne(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_metadata
		WHERE archive_id = $1`, archiveID)
}

// LatestSealed returns the most recent archive of a chain, nil when the
// chain has never been sealed
func (r *ArchiveRepository) LatestSealed(ctx context.Context, chainID string) (*ledger.ArchiveMetadata, error) {
	meta, err := r.queryOne(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_metadata
		WHERE chain_id = $1
		ORDER BY sequence_end DESC
		LIMIT 1`, chainID)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return meta, nil
}

// ListArchives returns archives of a chain whose event date range overlaps
// [from, to], oldest first
func (r *ArchiveRepository) ListArchives(ctx context.Context, chainID string, from, to time.Time) ([]*ledger.ArchiveMetadata, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_metadata
		WHERE chain_id = $1 AND event_date_end >= $2 AND event_date_start <= $3
		ORDER BY sequence_start ASC`, chainID, from, to)
	if err != nil {
		return nil, errors.NewInternalError("failed to list archives").WithCause(err)
	}
	defer rows.Close()

	return collectArchives(rows)
}

// UpdateReplication persists the outcome of a durability check
func (r *ArchiveRepository) UpdateReplication(ctx context.Context, meta *ledger.ArchiveMetadata) error {
	tag, err := r.conn.Pool().Exec(ctx, `
		UPDATE archive_metadata
		SET replication_status = $2, last_replication_check_utc = $3
		WHERE archive_id = $1`,
		meta.ArchiveID, string(meta.ReplicationStatus), meta.LastReplicationCheckUTC)
	if err != nil {
		return errors.NewInternalError("failed to update replication status").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrArchiveNotFound
	}
	return nil
}

// RecordAccess stamps the access trail of an archive
func (r *ArchiveRepository) RecordAccess(ctx context.Context, archiveID uuid.UUID, accessedBy string, at time.Time) error {
	tag, err := r.conn.Pool().Exec(ctx, `
		UPDATE archive_metadata
		SET last_accessed_at_utc = $2, last_accessed_by = $3
		WHERE archive_id = $1`, archiveID, at.UTC(), accessedBy)
	if err != nil {
		return errors.NewInternalError("failed to record archive access").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrArchiveNotFound
	}
	return nil
}

// ListPendingReplication returns archives still awaiting durability
// confirmation, oldest export first
func (r *ArchiveRepository) ListPendingReplication(ctx context.Context, limit int) ([]*ledger.ArchiveMetadata, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_metadata
		WHERE replication_status = 'PENDING'
		ORDER BY export_date ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list pending archives").WithCause(err)
	}
	defer rows.Close()

	return collectArchives(rows)
}

func (r *ArchiveRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*ledger.ArchiveMetadata, error) {
	rows, err := r.conn.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to read archive metadata").WithCause(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.NewInternalError("failed to read archive metadata").WithCause(err)
		}
		return nil, errors.ErrArchiveNotFound
	}
	return scanArchive(rows)
}

func collectArchives(rows pgx.Rows) ([]*ledger.ArchiveMetadata, error) {
	var archives []*ledger.ArchiveMetadata
	for rows.Next() {
		meta, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		archives = append(archives, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate archives").WithCause(err)
	}
	return archives, nil
}

func scanArchive(rows pgx.Rows) (*ledger.ArchiveMetadata, error) {
	var (
		meta       ledger.ArchiveMetadata
		status     string
		accessedBy *string
		startHex   string
		endHex     string
	)
	err := rows.Scan(
		&meta.ArchiveID, &meta.ChainID, &meta.FileName, &meta.ObjectKey, &meta.ExportDate,
		&meta.EventDateStart, &meta.EventDateEnd, &meta.SequenceStart, &meta.SequenceEnd,
		&meta.EventCount, &meta.FileSize, &meta.CompressionRatio,
		&startHex, &endHex, &meta.PreviousDayEndHash,
		&meta.RetentionExpiry, &meta.StorageLocation, &status,
		&meta.LastReplicationCheckUTC, &meta.LastAccessedAtUTC, &accessedBy)
	if err != nil {
		return nil, errors.NewInternalError("failed to scan archive metadata").WithCause(err)
	}

	startHash, err := values.NewHash(startHex)
	if err != nil {
		return nil, errors.NewInternalError("corrupt chain start hash").WithCause(err)
	}
	endHash, err := values.NewHash(endHex)
	if err != nil {
		return nil, errors.NewInternalError("corrupt chain end hash").WithCause(err)
	}

	meta.ChainStartHash = startHash
	meta.ChainEndHash = endHash
	meta.ReplicationStatus = ledger.ReplicationStatus(status)
	meta.LastAccessedBy = deref(accessedBy)
	return &meta, nil
}
