package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// LedgerStore is the Postgres implementation of ledger.Store. Events live in
// audit_events, which carries no UPDATE path for payload or chain columns;
// the only mutable row per chain is its chain_tips entry, advanced by
// compare-and-swap inside the same transaction that inserts the batch.
type LedgerStore struct {
	conn   *ConnectionPool
	logger *zap.Logger
}

// NewLedgerStore creates a LedgerStore backed by the shared pool
func NewLedgerStore(conn *ConnectionPool, logger *zap.Logger) *LedgerStore {
	return &LedgerStore{conn: conn, logger: logger}
}

const eventColumns = `
	event_id, chain_id, sequence_id, timestamp, actor, action,
	entity_type, entity_id, correlation_id, ip_address, user_agent, event_data,
	previous_event_hash, current_event_hash, is_genesis_event,
	integrity_status, last_verified_at,
	is_offline_event, offline_device_id, offline_session_id,
	offline_merge_id, original_hash`

const insertEventQuery = `
	INSERT INTO audit_events (` + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

// GetTip returns the current tip of a chain, or the empty tip for a chain
// that has never been appended to.
func (s *LedgerStore) GetTip(ctx context.Context, chainID string) (ledger.Tip, error) {
	query := `
		SELECT chain_id, last_sequence, last_hash, version
		FROM chain_tips
		WHERE chain_id = $1`

	var (
		tip     ledger.Tip
		lastSeq int64
		lastHex string
	)
	err := s.conn.Pool().QueryRow(ctx, query, chainID).Scan(
		&tip.ChainID, &lastSeq, &lastHex, &tip.Version)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return ledger.EmptyTip(chainID), nil
		}
		return ledger.Tip{}, errors.NewInternalError("failed to read chain tip").WithCause(err)
	}

	seq, err := values.NewSequenceNumber(uint64(lastSeq))
	if err != nil {
		return ledger.Tip{}, errors.NewInternalError("corrupt chain tip sequence").WithCause(err)
	}
	hash, err := values.NewHash(lastHex)
	if err != nil {
		return ledger.Tip{}, errors.NewInternalError("corrupt chain tip hash").WithCause(err)
	}
	tip.Sequence = seq
	tip.Hash = hash
	return tip, nil
}

// AppendBatch commits sealed events and advances the tip in one transaction.
// The tip CAS runs first so a lost race fails fast without touching
// audit_events; a duplicate event ID anywhere in the batch aborts the whole
// transaction.
func (s *LedgerStore) AppendBatch(ctx context.Context, chainID string, events []*ledger.Event, expectedTip ledger.Tip) error {
	if len(events) == 0 {
		return nil
	}

	last := events[len(events)-1]
	err := s.conn.Transaction(ctx, func(tx pgx.Tx) error {
		var (
			tag pgconn.CommandTag
			err error
		)
		if expectedTip.IsEmpty() {
			tag, err = tx.Exec(ctx, `
				INSERT INTO chain_tips (chain_id, last_sequence, last_hash, version)
				VALUES ($1, $2, $3, 1)
				ON CONFLICT (chain_id) DO NOTHING`,
				chainID, int64(last.SequenceID.Value()), last.CurrentEventHash.String())
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE chain_tips
				SET last_sequence = $2, last_hash = $3, version = version + 1
				WHERE chain_id = $1 AND version = $4 AND last_sequence = $5`,
				chainID, int64(last.SequenceID.Value()), last.CurrentEventHash.String(),
				expectedTip.Version, int64(expectedTip.Sequence.Value()))
		}
		if err != nil {
			return errors.NewInternalError("failed to advance chain tip").WithCause(err)
		}
		if tag.RowsAffected() == 0 {
			return errors.NewTipConflictError(
				fmt.Sprintf("tip of chain %s moved past version %d", chainID, expectedTip.Version))
		}

		batch := &pgx.Batch{}
		for _, event := range events {
			args, err := eventInsertArgs(event)
			if err != nil {
				return err
			}
			batch.Queue(insertEventQuery, args...)
		}

		results := tx.SendBatch(ctx, batch)
		for range events {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if isUniqueViolation(err) {
					return errors.NewDuplicateEventError(
						"batch contains an event already committed to the ledger")
				}
				return errors.NewInternalError("failed to insert audit event").WithCause(err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return err
	}

	s.logger.Debug("batch committed",
		zap.String("chain_id", chainID),
		zap.Int("events", len(events)),
		zap.String("tip_sequence", last.SequenceID.String()))
	return nil
}

// ReadRange returns events of a chain ordered by sequence, both boundaries
// inclusive
func (s *LedgerStore) ReadRange(ctx context.Context, chainID string, from, to values.SequenceNumber) ([]*ledger.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM audit_events
		WHERE chain_id = $1 AND sequence_id BETWEEN $2 AND $3
		ORDER BY sequence_id ASC`

	rows, err := s.conn.Pool().Query(ctx, query, chainID,
		int64(from.Value()), int64(to.Value()))
	if err != nil {
		return nil, errors.NewInternalError("failed to read event range").WithCause(err)
	}
	defer rows.Close()

	var events []*ledger.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate event range").WithCause(err)
	}
	return events, nil
}

// ReadEvent looks up a single event by ID
func (s *LedgerStore) ReadEvent(ctx context.Context, eventID uuid.UUID) (*ledger.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM audit_events
		WHERE event_id = $1`

	rows, err := s.conn.Pool().Query(ctx, query, eventID)
	if err != nil {
		return nil, errors.NewInternalError("failed to read event").WithCause(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.NewInternalError("failed to read event").WithCause(err)
		}
		return nil, errors.ErrEventNotFound
	}
	return scanEvent(rows)
}

// ContainsAny reports which of the given event IDs already exist in the
// ledger. Used by the offline reconciler for idempotent merges.
func (s *LedgerStore) ContainsAny(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	found := make(map[uuid.UUID]bool, len(eventIDs))
	if len(eventIDs) == 0 {
		return found, nil
	}

	rows, err := s.conn.Pool().Query(ctx,
		`SELECT event_id FROM audit_events WHERE event_id = ANY($1)`, eventIDs)
	if err != nil {
		return nil, errors.NewInternalError("failed to check event existence").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternalError("failed to scan event id").WithCause(err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate event ids").WithCause(err)
	}
	return found, nil
}

// LatestCommittedBefore returns the highest sequence whose timestamp is at
// or before cutoff. A zero sequence means the chain has no such event.
func (s *LedgerStore) LatestCommittedBefore(ctx context.Context, chainID string, cutoff time.Time) (values.SequenceNumber, error) {
	var max *int64
	err := s.conn.Pool().QueryRow(ctx, `
		SELECT MAX(sequence_id)
		FROM audit_events
		WHERE chain_id = $1 AND timestamp <= $2`,
		chainID, cutoff).Scan(&max)
	if err != nil {
		return values.SequenceNumber{}, errors.NewInternalError("failed to find latest committed sequence").WithCause(err)
	}
	if max == nil || *max == 0 {
		return values.SequenceNumber{}, nil
	}
	return values.NewSequenceNumber(uint64(*max))
}

// MarkVerified advances integrity status for a verified range. BROKEN rows
// are never touched; that status is terminal.
func (s *LedgerStore) MarkVerified(ctx context.Context, chainID string, rng values.SequenceRange, verifiedAt time.Time) error {
	_, err := s.conn.Pool().Exec(ctx, `
		UPDATE audit_events
		SET integrity_status = 'VERIFIED', last_verified_at = $4
		WHERE chain_id = $1
		  AND sequence_id BETWEEN $2 AND $3
		  AND integrity_status <> 'BROKEN'`,
		chainID, int64(rng.Start.Value()), int64(rng.End.Value()), verifiedAt)
	if err != nil {
		return errors.NewInternalError("failed to mark events verified").WithCause(err)
	}
	return nil
}

// MarkBroken flags a single event as BROKEN
func (s *LedgerStore) MarkBroken(ctx context.Context, eventID uuid.UUID) error {
	tag, err := s.conn.Pool().Exec(ctx, `
		UPDATE audit_events
		SET integrity_status = 'BROKEN'
		WHERE event_id = $1`, eventID)
	if err != nil {
		return errors.NewInternalError("failed to mark event broken").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrEventNotFound
	}
	return nil
}

// LastVerifiedSequence returns the resume point for incremental verification
func (s *LedgerStore) LastVerifiedSequence(ctx context.Context, chainID string) (values.SequenceNumber, error) {
	var max *int64
	err := s.conn.Pool().QueryRow(ctx, `
		SELECT MAX(sequence_id)
		FROM audit_events
		WHERE chain_id = $1 AND integrity_status = 'VERIFIED'`,
		chainID).Scan(&max)
	if err != nil {
		return values.SequenceNumber{}, errors.NewInternalError("failed to find last verified sequence").WithCause(err)
	}
	if max == nil || *max == 0 {
		return values.SequenceNumber{}, nil
	}
	return values.NewSequenceNumber(uint64(*max))
}

// ListChains returns every chain that has committed at least one event
func (s *LedgerStore) ListChains(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Pool().Query(ctx,
		`SELECT chain_id FROM chain_tips ORDER BY chain_id`)
	if err != nil {
		return nil, errors.NewInternalError("failed to list chains").WithCause(err)
	}
	defer rows.Close()

	var chains []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternalError("failed to scan chain id").WithCause(err)
		}
		chains = append(chains, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate chains").WithCause(err)
	}
	return chains, nil
}

func eventInsertArgs(event *ledger.Event) ([]interface{}, error) {
	if !event.IsSealed() {
		return nil, errors.NewBusinessError("UNSEALED_EVENT",
			"only sealed events may be persisted")
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	seq, err := event.SequenceID.DatabaseValue()
	if err != nil {
		return nil, err
	}

	// Genesis rows store NULL instead of the sentinel so the column-level
	// foreign reference to a real predecessor digest stays honest
	var previousHash interface{}
	if !event.IsGenesisEvent {
		previousHash = event.PreviousEventHash.String()
	}

	var mergeID interface{}
	if event.OfflineMergeID != uuid.Nil {
		mergeID = event.OfflineMergeID
	}

	originalHash, err := event.OriginalHash.Value()
	if err != nil {
		return nil, err
	}

	return []interface{}{
		event.EventID, event.ChainID, seq,
		event.Timestamp, event.Actor, event.Action,
		event.EntityType, nullString(event.EntityID), nullString(event.CorrelationID),
		nullString(event.IPAddress), nullString(event.UserAgent), event.EventData,
		previousHash, event.CurrentEventHash.String(), event.IsGenesisEvent,
		string(event.IntegrityStatus), event.LastVerifiedAt,
		event.IsOfflineEvent, nullString(event.OfflineDeviceID), nullString(event.OfflineSessionID),
		mergeID, originalHash,
	}, nil
}

func scanEvent(rows pgx.Rows) (*ledger.Event, error) {
	var (
		event         ledger.Event
		entityID      *string
		correlationID *string
		ipAddress     *string
		userAgent     *string
		deviceID      *string
		sessionID     *string
		mergeID       *uuid.UUID
		status        string
	)

	err := rows.Scan(
		&event.EventID, &event.ChainID, &event.SequenceID,
		&event.Timestamp, &event.Actor, &event.Action,
		&event.EntityType, &entityID, &correlationID,
		&ipAddress, &userAgent, &event.EventData,
		&event.PreviousEventHash, &event.CurrentEventHash, &event.IsGenesisEvent,
		&status, &event.LastVerifiedAt,
		&event.IsOfflineEvent, &deviceID, &sessionID,
		&mergeID, &event.OriginalHash,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to scan audit event").WithCause(err)
	}

	event.EntityID = deref(entityID)
	event.CorrelationID = deref(correlationID)
	event.IPAddress = deref(ipAddress)
	event.UserAgent = deref(userAgent)
	event.OfflineDeviceID = deref(deviceID)
	event.OfflineSessionID = deref(sessionID)
	if mergeID != nil {
		event.OfflineMergeID = *mergeID
	}
	event.IntegrityStatus = ledger.IntegrityStatus(status)

	// The NULL stored for genesis rows maps back to the sentinel
	if event.IsGenesisEvent && event.PreviousEventHash.IsEmpty() {
		event.PreviousEventHash = values.ZeroHash()
	}

	event.MarkSealed()
	return &event, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
