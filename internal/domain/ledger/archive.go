package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// ReplicationStatus tracks external durability of a sealed archive
type ReplicationStatus string

const (
	ReplicationPending    ReplicationStatus = "PENDING"
	ReplicationReplicated ReplicationStatus = "REPLICATED"
	ReplicationFailed     ReplicationStatus = "FAILED"
)

// IsValid reports whether the status is one of the closed set
func (s ReplicationStatus) IsValid() bool {
	switch s {
	case ReplicationPending, ReplicationReplicated, ReplicationFailed:
		return true
	}
	return false
}

// ArchiveMetadata describes one sealed, exported range of the ledger.
// ChainStartHash is the first event's predecessor digest (the zero sentinel
// for the range beginning at genesis) and ChainEndHash the last event's own
// digest, so historical integrity can be re-derived across archives after
// the live rows are purged.
type ArchiveMetadata struct {
	ArchiveID               uuid.UUID             `json:"archive_id"`
	ChainID                 string                `json:"chain_id"`
	FileName                string                `json:"file_name"`
	ObjectKey               string                `json:"object_key"`
	ExportDate              time.Time             `json:"export_date"`
	EventDateStart          time.Time             `json:"event_date_start"`
	EventDateEnd            time.Time             `json:"event_date_end"`
	SequenceStart           values.SequenceNumber `json:"sequence_start"`
	SequenceEnd             values.SequenceNumber `json:"sequence_end"`
	EventCount              int                   `json:"event_count"`
	FileSize                int64                 `json:"file_size"`
	CompressionRatio        float64               `json:"compression_ratio"`
	ChainStartHash          values.Hash           `json:"chain_start_hash"`
	ChainEndHash            values.Hash           `json:"chain_end_hash"`
	PreviousDayEndHash      values.Hash           `json:"previous_day_end_hash"`
	RetentionExpiry         time.Time             `json:"retention_expiry_date"`
	StorageLocation         string                `json:"storage_location"`
	ReplicationStatus       ReplicationStatus     `json:"replication_status"`
	LastReplicationCheckUTC *time.Time            `json:"last_replication_check_utc,omitempty"`
	LastAccessedAtUTC       *time.Time            `json:"last_accessed_at_utc,omitempty"`
	LastAccessedBy          string                `json:"last_accessed_by,omitempty"`
}

// Validate checks structural consistency of the archive metadata
func (a *ArchiveMetadata) Validate() error {
	if a.ArchiveID == uuid.Nil {
		return errors.NewValidationError("MISSING_ARCHIVE_ID", "archive ID is required")
	}
	if a.ChainID == "" {
		return errors.NewValidationError("MISSING_CHAIN_ID", "chain ID is required")
	}
	if a.ObjectKey == "" {
		return errors.NewValidationError("MISSING_OBJECT_KEY", "object key is required")
	}
	if a.EventCount <= 0 {
		return errors.NewValidationError("EMPTY_ARCHIVE", "archive must cover at least one event")
	}
	if a.ChainStartHash.IsEmpty() || a.ChainEndHash.IsEmpty() {
		return errors.NewValidationError("MISSING_BOUNDARY_HASH",
			"archive must record chain start and end hashes")
	}
	if !a.ReplicationStatus.IsValid() {
		return errors.NewValidationError("INVALID_REPLICATION_STATUS",
			"replication status must be PENDING, REPLICATED or FAILED")
	}
	if a.EventDateEnd.Before(a.EventDateStart) {
		return errors.NewValidationError("INVALID_DATE_RANGE",
			"event date end cannot precede start")
	}
	return nil
}

// CheckContinuity verifies that this archive attaches to its predecessor.
// previous is nil for the first archive of a chain, in which case the range
// must begin at the zero sentinel.
func (a *ArchiveMetadata) CheckContinuity(previous *ArchiveMetadata) error {
	if previous == nil {
		if !a.ChainStartHash.IsZero() {
			return errors.NewContinuityViolationError(fmt.Sprintf(
				"first archive of chain %s must start at the zero sentinel, got %s",
				a.ChainID, a.ChainStartHash.Truncate()))
		}
		return nil
	}

	if !a.PreviousDayEndHash.Equal(previous.ChainEndHash) {
		return errors.NewContinuityViolationError(fmt.Sprintf(
			"archive %s claims predecessor end hash %s but archive %s ended at %s",
			a.ArchiveID, a.PreviousDayEndHash.Truncate(),
			previous.ArchiveID, previous.ChainEndHash.Truncate()))
	}
	if !a.ChainStartHash.Equal(previous.ChainEndHash) {
		return errors.NewContinuityViolationError(fmt.Sprintf(
			"archive %s starts at %s, leaving a gap after archive %s ending at %s",
			a.ArchiveID, a.ChainStartHash.Truncate(),
			previous.ArchiveID, previous.ChainEndHash.Truncate()))
	}
	return nil
}

// PurgeEligible reports whether the covered live rows may be deleted:
// durability confirmed and a grace window elapsed since confirmation.
func (a *ArchiveMetadata) PurgeEligible(grace time.Duration, now time.Time) bool {
	if a.ReplicationStatus != ReplicationReplicated {
		return false
	}
	if a.LastReplicationCheckUTC == nil {
		return false
	}
	return now.Sub(*a.LastReplicationCheckUTC) >= grace
}

// MarkReplicated records a successful durability confirmation
func (a *ArchiveMetadata) MarkReplicated(checkedAt time.Time) {
	a.ReplicationStatus = ReplicationReplicated
	t := checkedAt.UTC()
	a.LastReplicationCheckUTC = &t
}

// MarkReplicationFailed records a failed durability confirmation
func (a *ArchiveMetadata) MarkReplicationFailed(checkedAt time.Time) {
	a.ReplicationStatus = ReplicationFailed
	t := checkedAt.UTC()
	a.LastReplicationCheckUTC = &t
}

// Touch records an access for the retention audit trail
func (a *ArchiveMetadata) Touch(accessedBy string, at time.Time) {
	t := at.UTC()
	a.LastAccessedAtUTC = &t
	a.LastAccessedBy = accessedBy
}
