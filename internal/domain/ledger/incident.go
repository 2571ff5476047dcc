package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// IncidentType classifies what triggered a security incident
type IncidentType string

const (
	IncidentChainBreak          IncidentType = "CHAIN_BREAK"
	IncidentContinuityViolation IncidentType = "ARCHIVE_CONTINUITY_VIOLATION"
	IncidentReconcileAnomaly    IncidentType = "RECONCILIATION_ANOMALY"
)

// IncidentSeverity ranks incidents for alert routing
type IncidentSeverity string

const (
	SeverityMedium   IncidentSeverity = "MEDIUM"
	SeverityHigh     IncidentSeverity = "HIGH"
	SeverityCritical IncidentSeverity = "CRITICAL"
)

// ResolutionStatus tracks the incident workflow state
type ResolutionStatus string

const (
	ResolutionOpen          ResolutionStatus = "OPEN"
	ResolutionInvestigating ResolutionStatus = "INVESTIGATING"
	ResolutionResolved      ResolutionStatus = "RESOLVED"
)

// Incident is raised automatically on chain breakage and other anomalies.
// The ledger only ever creates incidents; resolution happens through an
// external workflow that updates the resolution fields.
type Incident struct {
	IncidentID         uuid.UUID        `json:"incident_id"`
	IncidentType       IncidentType     `json:"incident_type"`
	Severity           IncidentSeverity `json:"severity"`
	DetectedAt         time.Time        `json:"detected_at"`
	Description        string           `json:"description"`
	AffectedEntityType string           `json:"affected_entity_type,omitempty"`
	AffectedEntityID   string           `json:"affected_entity_id,omitempty"`
	ResolutionStatus   ResolutionStatus `json:"resolution_status"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy         string           `json:"resolved_by,omitempty"`
	ResolutionNotes    string           `json:"resolution_notes,omitempty"`
}

// NewChainBreakIncident raises a high-severity incident for a hash mismatch
// found during verification
func NewChainBreakIncident(chainID string, broken *Event) *Incident {
	return &Incident{
		IncidentID:   uuid.New(),
		IncidentType: IncidentChainBreak,
		Severity:     SeverityHigh,
		DetectedAt:   time.Now().UTC(),
		Description: fmt.Sprintf(
			"hash chain break in chain %s at sequence %s: stored digest of event %s does not match recomputation",
			chainID, broken.SequenceID, broken.EventID),
		AffectedEntityType: "audit_event",
		AffectedEntityID:   broken.EventID.String(),
		ResolutionStatus:   ResolutionOpen,
	}
}

// NewChainGapIncident raises a high-severity incident when committed rows
// are missing from the middle of a chain. There is no event row to point
// at, so the affected entity is the chain itself.
func NewChainGapIncident(chainID string, missing values.SequenceNumber) *Incident {
	return &Incident{
		IncidentID:   uuid.New(),
		IncidentType: IncidentChainBreak,
		Severity:     SeverityHigh,
		DetectedAt:   time.Now().UTC(),
		Description: fmt.Sprintf(
			"sequence gap in chain %s: no committed event at sequence %s",
			chainID, missing),
		AffectedEntityType: "chain",
		AffectedEntityID:   chainID,
		ResolutionStatus:   ResolutionOpen,
	}
}

// NewContinuityViolationIncident raises a critical incident when an
// archive's start hash does not line up with its predecessor's end hash
func NewContinuityViolationIncident(chainID string, archiveID uuid.UUID, detail string) *Incident {
	return &Incident{
		IncidentID:   uuid.New(),
		IncidentType: IncidentContinuityViolation,
		Severity:     SeverityCritical,
		DetectedAt:   time.Now().UTC(),
		Description: fmt.Sprintf(
			"archive continuity violation in chain %s: %s", chainID, detail),
		AffectedEntityType: "archive",
		AffectedEntityID:   archiveID.String(),
		ResolutionStatus:   ResolutionOpen,
	}
}

// Validate checks structural consistency of the incident
func (i *Incident) Validate() error {
	if i.IncidentID == uuid.Nil {
		return errors.NewValidationError("MISSING_INCIDENT_ID", "incident ID is required")
	}
	if i.IncidentType == "" {
		return errors.NewValidationError("MISSING_INCIDENT_TYPE", "incident type is required")
	}
	if i.Description == "" {
		return errors.NewValidationError("MISSING_DESCRIPTION", "description is required")
	}
	switch i.Severity {
	case SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return errors.NewValidationError("INVALID_SEVERITY",
			fmt.Sprintf("unknown severity: %s", i.Severity))
	}
	switch i.ResolutionStatus {
	case ResolutionOpen, ResolutionInvestigating, ResolutionResolved:
	default:
		return errors.NewValidationError("INVALID_RESOLUTION_STATUS",
			fmt.Sprintf("unknown resolution status: %s", i.ResolutionStatus))
	}
	return nil
}

// IsOpen reports whether the incident still needs attention
func (i *Incident) IsOpen() bool {
	return i.ResolutionStatus != ResolutionResolved
}
