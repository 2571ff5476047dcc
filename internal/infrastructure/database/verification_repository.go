package database

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

// VerificationRepository persists chain verification runs in Postgres.
// The table is append-only; runs are never updated or deleted.
type VerificationRepository struct {
	conn *ConnectionPool
}

// NewVerificationRepository creates a repository backed by the shared pool
func NewVerificationRepository(conn *ConnectionPool) *VerificationRepository {
	return &VerificationRepository{conn: conn}
}

const verificationColumns = `
	verification_id, chain_id, start_time, end_time, events_verified,
	chain_status, broken_event_id, broken_event_timestamp, initiated_by, duration_ms`

// SaveRun writes a completed verification run
func (r *VerificationRepository) SaveRun(ctx context.Context, run *ledger.VerificationRun) error {
	if err := run.Validate(); err != nil {
		return err
	}

	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO chain_verification_runs (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.VerificationID, run.ChainID, run.StartTime, run.EndTime, run.EventsVerified,
		string(run.ChainStatus), run.BrokenEventID, run.BrokenEventTimestamp,
		run.InitiatedBy, run.DurationMs)
	if err != nil {
		return errors.NewInternalError("failed to save verification run").WithCause(err)
	}
	return nil
}

// LatestRun returns the most recent run for a chain, nil when none exists
func (r *VerificationRepository) LatestRun(ctx context.Context, chainID string) (*ledger.VerificationRun, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+verificationColumns+`
		FROM chain_verification_runs
		WHERE chain_id = $1
		ORDER BY start_time DESC
		LIMIT 1`, chainID)
	if err != nil {
		return nil, errors.NewInternalError("failed to read latest verification run").WithCause(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.NewInternalError("failed to read latest verification run").WithCause(err)
		}
		return nil, nil
	}
	return scanVerificationRun(rows)
}

// ListRuns returns the most recent runs for a chain, newest first
func (r *VerificationRepository) ListRuns(ctx context.Context, chainID string, limit int) ([]*ledger.VerificationRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+verificationColumns+`
		FROM chain_verification_runs
		WHERE chain_id = $1
		ORDER BY start_time DESC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list verification runs").WithCause(err)
	}
	defer rows.Close()

	var runs []*ledger.VerificationRun
	for rows.Next() {
		run, err := scanVerificationRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate verification runs").WithCause(err)
	}
	return runs, nil
}

func scanVerificationRun(rows pgx.Rows) (*ledger.VerificationRun, error) {
	var (
		run    ledger.VerificationRun
		status string
	)
	err := rows.Scan(
		&run.VerificationID, &run.ChainID, &run.StartTime, &run.EndTime,
		&run.EventsVerified, &status, &run.BrokenEventID,
		&run.BrokenEventTimestamp, &run.InitiatedBy, &run.DurationMs)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to scan verification run").WithCause(err)
	}
	run.ChainStatus = ledger.ChainStatus(status)
	return &run, nil
}
