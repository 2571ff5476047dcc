package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
)

// ChainStatus is the outcome of a verification run
type ChainStatus string

const (
	ChainIntact ChainStatus = "INTACT"
	ChainBroken ChainStatus = "BROKEN"
)

// IsValid reports whether the status is one of the closed set
func (s ChainStatus) IsValid() bool {
	return s == ChainIntact || s == ChainBroken
}

// VerificationRun is the immutable record of one verification pass over a
// chain range. Created only by the chain verifier, win or lose, and never
// mutated afterwards.
type VerificationRun struct {
	VerificationID       uuid.UUID   `json:"verification_id"`
	ChainID              string      `json:"chain_id"`
	StartTime            time.Time   `json:"start_time"`
	EndTime              time.Time   `json:"end_time"`
	EventsVerified       int         `json:"events_verified"`
	ChainStatus          ChainStatus `json:"chain_status"`
	BrokenEventID        *uuid.UUID  `json:"broken_event_id,omitempty"`
	BrokenEventTimestamp *time.Time  `json:"broken_event_timestamp,omitempty"`
	InitiatedBy          string      `json:"initiated_by"`
	DurationMs           int64       `json:"duration_ms"`
}

// NewIntactRun records a verification pass that found no breaks
func NewIntactRun(chainID, initiatedBy string, start, end time.Time, verified int) *VerificationRun {
	return &VerificationRun{
		VerificationID: uuid.New(),
		ChainID:        chainID,
		StartTime:      start,
		EndTime:        end,
		EventsVerified: verified,
		ChainStatus:    ChainIntact,
		InitiatedBy:    initiatedBy,
		DurationMs:     end.Sub(start).Milliseconds(),
	}
}

// NewBrokenRun records a verification pass that stopped at the first
// mismatching event. broken is nil when the break is a sequence gap with
// no row to point at.
func NewBrokenRun(chainID, initiatedBy string, start, end time.Time, verified int, broken *Event) *VerificationRun {
	run := &VerificationRun{
		VerificationID: uuid.New(),
		ChainID:        chainID,
		StartTime:      start,
		EndTime:        end,
		EventsVerified: verified,
		ChainStatus:    ChainBroken,
		InitiatedBy:    initiatedBy,
		DurationMs:     end.Sub(start).Milliseconds(),
	}
	if broken != nil {
		id := broken.EventID
		ts := broken.Timestamp
		run.BrokenEventID = &id
		run.BrokenEventTimestamp = &ts
	}
	return run
}

// Validate checks structural consistency of the run record
func (r *VerificationRun) Validate() error {
	if r.VerificationID == uuid.Nil {
		return errors.NewValidationError("MISSING_VERIFICATION_ID", "verification ID is required")
	}
	if r.ChainID == "" {
		return errors.NewValidationError("MISSING_CHAIN_ID", "chain ID is required")
	}
	if !r.ChainStatus.IsValid() {
		return errors.NewValidationError("INVALID_CHAIN_STATUS",
			"chain status must be INTACT or BROKEN")
	}
	if r.ChainStatus == ChainIntact && r.BrokenEventID != nil {
		return errors.NewValidationError("UNEXPECTED_BROKEN_EVENT",
			"intact run must not reference a broken event")
	}
	return nil
}
