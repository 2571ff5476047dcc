package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
)

// MergeStatus is the outcome of one offline reconciliation attempt
type MergeStatus string

const (
	MergeSuccess MergeStatus = "SUCCESS"
	MergePartial MergeStatus = "PARTIAL"
	MergeFailed  MergeStatus = "FAILED"
)

// IsValid reports whether the status is one of the closed set
func (s MergeStatus) IsValid() bool {
	switch s {
	case MergeSuccess, MergePartial, MergeFailed:
		return true
	}
	return false
}

// ConflictReason explains why an offline event was excluded from auto-merge
type ConflictReason string

const (
	ConflictPayloadMismatch    ConflictReason = "PAYLOAD_MISMATCH"
	ConflictCausalityViolation ConflictReason = "CAUSALITY_VIOLATION"
)

// MergeConflict is one offline event held back for manual review
type MergeConflict struct {
	EventID uuid.UUID      `json:"event_id"`
	Reason  ConflictReason `json:"reason"`
	Detail  string         `json:"detail"`
}

// MergeRecord is the append-only record of one reconciliation attempt for a
// disconnected device's batch. Counts follow the batch through dedup,
// conflict detection and rehash.
type MergeRecord struct {
	MergeID          uuid.UUID       `json:"merge_id"`
	ChainID          string          `json:"chain_id"`
	MergeTimestamp   time.Time       `json:"merge_timestamp"`
	UserID           string          `json:"user_id"`
	DeviceID         string          `json:"device_id"`
	OfflineSessionID string          `json:"offline_session_id"`
	EventsReceived   int             `json:"events_received"`
	EventsMerged     int             `json:"events_merged"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	ConflictsDetected int            `json:"conflicts_detected"`
	EventsReHashed   int             `json:"events_rehashed"`
	Conflicts        []MergeConflict `json:"conflicts,omitempty"`
	MergeDurationMs  int64           `json:"merge_duration_ms"`
	Status           MergeStatus     `json:"status"`
	ErrorDetails     string          `json:"error_details,omitempty"`
}

// NewMergeRecord starts the record for an incoming offline batch
func NewMergeRecord(chainID, userID, deviceID, sessionID string, received int) *MergeRecord {
	return &MergeRecord{
		MergeID:          uuid.New(),
		ChainID:          chainID,
		MergeTimestamp:   time.Now().UTC(),
		UserID:           userID,
		DeviceID:         deviceID,
		OfflineSessionID: sessionID,
		EventsReceived:   received,
	}
}

// Finish stamps the final status from the collected counts
func (m *MergeRecord) Finish(started time.Time) {
	m.MergeDurationMs = time.Since(started).Milliseconds()
	if m.ConflictsDetected > 0 {
		m.Status = MergePartial
		return
	}
	m.Status = MergeSuccess
}

// Fail stamps the record for a merge that committed nothing
func (m *MergeRecord) Fail(started time.Time, cause error) {
	m.MergeDurationMs = time.Since(started).Milliseconds()
	m.Status = MergeFailed
	if cause != nil {
		m.ErrorDetails = cause.Error()
	}
	m.EventsMerged = 0
	m.EventsReHashed = 0
}

// Validate checks structural consistency of the record
func (m *MergeRecord) Validate() error {
	if m.MergeID == uuid.Nil {
		return errors.NewValidationError("MISSING_MERGE_ID", "merge ID is required")
	}
	if m.DeviceID == "" {
		return errors.NewValidationError("MISSING_DEVICE_ID", "device ID is required")
	}
	if m.OfflineSessionID == "" {
		return errors.NewValidationError("MISSING_SESSION_ID", "offline session ID is required")
	}
	if !m.Status.IsValid() {
		return errors.NewValidationError("INVALID_MERGE_STATUS",
			"merge status must be SUCCESS, PARTIAL or FAILED")
	}
	if m.EventsReceived < m.EventsMerged+m.DuplicatesSkipped {
		return errors.NewValidationError("INCONSISTENT_COUNTS",
			"merged plus skipped cannot exceed received")
	}
	return nil
}
