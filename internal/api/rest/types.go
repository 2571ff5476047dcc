package rest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// eventPayload is one producer-supplied audit event. The server assigns the
// event ID when the producer does not.
type eventPayload struct {
	EventID       string          `json:"event_id" validate:"omitempty,uuid"`
	Actor         string          `json:"actor" validate:"required,max=255"`
	Action        string          `json:"action" validate:"required,max=100"`
	EntityType    string          `json:"entity_type" validate:"required,max=100"`
	EntityID      string          `json:"entity_id" validate:"max=255"`
	CorrelationID string          `json:"correlation_id" validate:"max=255"`
	IPAddress     string          `json:"ip_address" validate:"omitempty,ip"`
	UserAgent     string          `json:"user_agent" validate:"max=512"`
	Timestamp     *time.Time      `json:"timestamp"`
	EventData     json.RawMessage `json:"event_data"`
}

func (p *eventPayload) toEvent(chainID string) (*ledger.Event, error) {
	event, err := ledger.NewEvent(chainID, p.Actor, p.Action, p.EntityType)
	if err != nil {
		return nil, err
	}
	if p.EventID != "" {
		id, err := uuid.Parse(p.EventID)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_EVENT_ID", err.Error())
		}
		event.EventID = id
	}
	if p.Timestamp != nil {
		event.Timestamp = p.Timestamp.UTC()
	}
	event.EntityID = p.EntityID
	event.CorrelationID = p.CorrelationID
	event.IPAddress = p.IPAddress
	event.UserAgent = p.UserAgent
	event.EventData = p.EventData
	return event, nil
}

// batchRequest is the online ingestion payload
type batchRequest struct {
	ChainID string         `json:"chain_id" validate:"max=100"`
	Events  []eventPayload `json:"events" validate:"required,min=1,dive"`
}

// offlineEventPayload carries the device-local digest alongside the event.
// Event IDs are assigned by the device so retried merges deduplicate.
type offlineEventPayload struct {
	eventPayload
	EventID      string `json:"event_id" validate:"required,uuid"`
	OriginalHash string `json:"original_hash" validate:"omitempty,len=64,hexadecimal"`
}

// offlineRequest is one disconnected device's merge submission
type offlineRequest struct {
	ChainID   string                `json:"chain_id" validate:"max=100"`
	UserID    string                `json:"user_id" validate:"required,max=255"`
	DeviceID  string                `json:"device_id" validate:"required,max=255"`
	SessionID string                `json:"session_id" validate:"required,max=255"`
	Events    []offlineEventPayload `json:"events" validate:"dive"`
}

func (p *offlineEventPayload) toEvent(chainID string) (*ledger.Event, error) {
	p.eventPayload.EventID = p.EventID
	event, err := p.eventPayload.toEvent(chainID)
	if err != nil {
		return nil, err
	}
	if p.OriginalHash != "" {
		hash, err := values.NewHash(p.OriginalHash)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_ORIGINAL_HASH", err.Error())
		}
		event.OriginalHash = hash
	}
	return event, nil
}

// verifyRequest triggers an on-demand verification pass
type verifyRequest struct {
	ChainID string `json:"chain_id" validate:"max=100"`
	// Full rescans from genesis instead of resuming from the last
	// verified event
	Full bool `json:"full"`
}

// sealRequest triggers one sealing pass
type sealRequest struct {
	ChainID string `json:"chain_id" validate:"max=100"`
}

// chainStatusResponse summarizes a chain for compliance tooling
type chainStatusResponse struct {
	ChainID         string                  `json:"chain_id"`
	TipSequence     uint64                  `json:"tip_sequence"`
	TipHash         string                  `json:"tip_hash,omitempty"`
	VerifiedThrough uint64                  `json:"verified_through"`
	LastRun         *ledger.VerificationRun `json:"last_verification_run,omitempty"`
	OpenIncidents   int                     `json:"open_incidents"`
}

// sealResponse reports the outcome of a sealing pass
type sealResponse struct {
	Sealed  bool                    `json:"sealed"`
	Archive *ledger.ArchiveMetadata `json:"archive,omitempty"`
}
