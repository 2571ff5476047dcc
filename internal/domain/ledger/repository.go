package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// Store is the durable, append-only home of audit events plus the single
// mutable chain tip per logical chain.
//
// AppendBatch is atomic: either every event in the batch is written with
// its chained hashes and the tip advances to the batch's last event, or
// nothing is written. expectedTip is the optimistic-concurrency token; if
// the stored tip has moved since the caller read it, AppendBatch fails with
// a TIP_CONFLICT error and the caller re-reads and re-chains. No path other
// than AppendBatch mutates chain fields; committed events are immutable
// except for their integrity fields.
type Store interface {
	// GetTip returns the current tip of a chain. A chain with no events
	// yields the empty tip (zero sentinel hash, version zero).
	GetTip(ctx context.Context, chainID string) (Tip, error)

	// AppendBatch commits sealed events as a contiguous chain extension
	AppendBatch(ctx context.Context, chainID string, events []*Event, expectedTip Tip) error

	// ReadRange returns events ordered by sequence, boundaries inclusive
	ReadRange(ctx context.Context, chainID string, from, to values.SequenceNumber) ([]*Event, error)

	// ReadEvent looks up a single event by its ID
	ReadEvent(ctx context.Context, eventID uuid.UUID) (*Event, error)

	// ContainsAny reports which of the given event IDs already exist
	ContainsAny(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]bool, error)

	// LatestCommittedBefore returns the highest sequence whose event
	// timestamp is at or before cutoff, for causality checks and range
	// selection. Zero sequence means no such event.
	LatestCommittedBefore(ctx context.Context, chainID string, cutoff time.Time) (values.SequenceNumber, error)

	// MarkVerified advances integrity status to VERIFIED for a range.
	// Reserved for the chain verifier.
	MarkVerified(ctx context.Context, chainID string, rng values.SequenceRange, verifiedAt time.Time) error

	// MarkBroken flags a single event as BROKEN. Reserved for the chain
	// verifier; terminal for the event.
	MarkBroken(ctx context.Context, eventID uuid.UUID) error

	// LastVerifiedSequence returns the highest sequence marked VERIFIED,
	// the resume point for incremental verification. Zero means none.
	LastVerifiedSequence(ctx context.Context, chainID string) (values.SequenceNumber, error)

	// ListChains returns the IDs of all chains with at least one event
	ListChains(ctx context.Context) ([]string, error)
}

// VerificationRepository persists verification runs. Append-only.
type VerificationRepository interface {
	SaveRun(ctx context.Context, run *VerificationRun) error
	LatestRun(ctx context.Context, chainID string) (*VerificationRun, error)
	ListRuns(ctx context.Context, chainID string, limit int) ([]*VerificationRun, error)
}

// IncidentRepository persists security incidents. The ledger creates;
// resolution updates arrive from an external workflow.
type IncidentRepository interface {
	SaveIncident(ctx context.Context, incident *Incident) error
	GetIncident(ctx context.Context, incidentID uuid.UUID) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]*Incident, error)
}

// IncidentFilter narrows incident listings
type IncidentFilter struct {
	Type         IncidentType
	Severity     IncidentSeverity
	OnlyOpen     bool
	DetectedFrom time.Time
	DetectedTo   time.Time
	Limit        int
}

// MergeRepository persists offline merge records. Append-only.
type MergeRepository interface {
	SaveMergeRecord(ctx context.Context, record *MergeRecord) error
	GetMergeRecord(ctx context.Context, mergeID uuid.UUID) (*MergeRecord, error)
	ListMergeRecords(ctx context.Context, deviceID string, limit int) ([]*MergeRecord, error)
}

// ArchiveRepository persists archive metadata and answers the continuity
// and purge-eligibility questions the sealer needs.
type ArchiveRepository interface {
	SaveArchive(ctx context.Context, meta *ArchiveMetadata) error
	GetArchive(ctx context.Context, archiveID uuid.UUID) (*ArchiveMetadata, error)
	// LatestSealed returns the most recent archive of a chain, nil when the
	// chain has never been sealed
	LatestSealed(ctx context.Context, chainID string) (*ArchiveMetadata, error)
	ListArchives(ctx context.Context, chainID string, from, to time.Time) ([]*ArchiveMetadata, error)
	UpdateReplication(ctx context.Context, meta *ArchiveMetadata) error
	RecordAccess(ctx context.Context, archiveID uuid.UUID, accessedBy string, at time.Time) error
	ListPendingReplication(ctx context.Context, limit int) ([]*ArchiveMetadata, error)
}
