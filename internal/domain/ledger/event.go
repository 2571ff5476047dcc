package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// IntegrityStatus tracks the verification state of a committed event.
// BROKEN is terminal for the affected event; recovery goes through the
// incident workflow, never through an automatic status transition.
type IntegrityStatus string

const (
	IntegrityUnverified IntegrityStatus = "UNVERIFIED"
	IntegrityVerified   IntegrityStatus = "VERIFIED"
	IntegrityBroken     IntegrityStatus = "BROKEN"
)

// IsValid reports whether the status is one of the closed set
func (s IntegrityStatus) IsValid() bool {
	switch s {
	case IntegrityUnverified, IntegrityVerified, IntegrityBroken:
		return true
	}
	return false
}

// Event is the ledger's atomic unit: one security-relevant action, chained
// to its predecessor by hash. Events are immutable once sealed; only
// IntegrityStatus and LastVerifiedAt may change afterwards, and only the
// chain verifier may change them.
type Event struct {
	// Identity
	EventID    uuid.UUID             `json:"event_id"`
	ChainID    string                `json:"chain_id"`
	SequenceID values.SequenceNumber `json:"sequence_id"`

	// Payload
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	EventData     json.RawMessage `json:"event_data,omitempty"`

	// Chain fields
	PreviousEventHash values.Hash `json:"previous_event_hash"`
	CurrentEventHash  values.Hash `json:"current_event_hash"`
	IsGenesisEvent    bool        `json:"is_genesis_event"`

	// Integrity fields, mutated only by the chain verifier
	IntegrityStatus IntegrityStatus `json:"integrity_status"`
	LastVerifiedAt  *time.Time      `json:"last_verified_at,omitempty"`

	// Offline provenance. OriginalHash is the digest the disconnected
	// device computed in its local chain. It is forensic metadata only and
	// takes no part in canonical chain verification.
	IsOfflineEvent   bool        `json:"is_offline_event"`
	OfflineDeviceID  string      `json:"offline_device_id,omitempty"`
	OfflineSessionID string      `json:"offline_session_id,omitempty"`
	OfflineMergeID   uuid.UUID   `json:"offline_merge_id,omitempty"`
	OriginalHash     values.Hash `json:"original_hash,omitempty"`

	// Set once chain fields are computed; sealed events reject re-chaining
	sealed bool
}

// NewEvent creates an unchained audit event with validation. Chain fields
// are assigned later by the ingestion path via Chain.
func NewEvent(chainID, actor, action, entityType string) (*Event, error) {
	if chainID == "" {
		return nil, errors.NewValidationError("MISSING_CHAIN_ID", "chain ID is required")
	}
	if actor == "" {
		return nil, errors.NewValidationError("MISSING_ACTOR", "actor is required")
	}
	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if entityType == "" {
		return nil, errors.NewValidationError("MISSING_ENTITY_TYPE", "entity type is required")
	}

	return &Event{
		EventID:         uuid.New(),
		ChainID:         chainID,
		Timestamp:       time.Now().UTC(),
		Actor:           actor,
		Action:          action,
		EntityType:      entityType,
		IntegrityStatus: IntegrityUnverified,
	}, nil
}

// Chain links the event to its predecessor: assigns the sequence position,
// records the predecessor digest, computes the event's own digest, and
// seals the event. previous must be the zero sentinel exactly when seq is
// the first position.
func (e *Event) Chain(codec *Codec, seq values.SequenceNumber, previous values.Hash) error {
	if e.sealed {
		return errors.NewBusinessError("EVENT_SEALED",
			"cannot re-chain a sealed event")
	}
	if seq.IsZero() {
		return errors.NewValidationError("ZERO_SEQUENCE",
			"sequence must be assigned before chaining")
	}
	if previous.IsEmpty() {
		return errors.NewValidationError("EMPTY_PREVIOUS_HASH",
			"previous hash must be set; use the zero sentinel for genesis")
	}

	e.SequenceID = seq
	e.PreviousEventHash = previous
	e.IsGenesisEvent = seq.IsFirst()

	if e.IsGenesisEvent != previous.IsZero() {
		return errors.NewValidationError("GENESIS_MISMATCH",
			"zero sentinel predecessor is legal only at the first sequence position")
	}

	hash, err := codec.Digest(previous, e)
	if err != nil {
		return err
	}

	e.CurrentEventHash = hash
	e.sealed = true
	return nil
}

// IsSealed reports whether chain fields have been computed
func (e *Event) IsSealed() bool {
	return e.sealed
}

// MarkSealed marks an event loaded from storage as sealed without
// recomputing its digest. Reserved for the persistence layer.
func (e *Event) MarkSealed() {
	e.sealed = true
}

// Validate performs structural validation of the event
func (e *Event) Validate() error {
	if e.EventID == uuid.Nil {
		return errors.NewValidationError("MISSING_EVENT_ID", "event ID is required")
	}
	if e.ChainID == "" {
		return errors.NewValidationError("MISSING_CHAIN_ID", "chain ID is required")
	}
	if e.Actor == "" {
		return errors.NewValidationError("MISSING_ACTOR", "actor is required")
	}
	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if e.EntityType == "" {
		return errors.NewValidationError("MISSING_ENTITY_TYPE", "entity type is required")
	}
	if !e.IntegrityStatus.IsValid() {
		return errors.NewValidationError("INVALID_INTEGRITY_STATUS",
			"integrity status must be UNVERIFIED, VERIFIED or BROKEN")
	}
	if e.sealed {
		if e.CurrentEventHash.IsEmpty() {
			return errors.NewValidationError("MISSING_HASH",
				"sealed event must carry its digest")
		}
		if e.IsGenesisEvent != e.PreviousEventHash.IsZero() {
			return errors.NewValidationError("GENESIS_MISMATCH",
				"genesis flag must match the zero sentinel predecessor")
		}
	}
	return nil
}

// Clone returns a deep copy. The copy is unsealed so chain fields can be
// recomputed, which is what the offline merge path needs.
func (e *Event) Clone() *Event {
	clone := *e
	clone.sealed = false
	if e.EventData != nil {
		clone.EventData = make(json.RawMessage, len(e.EventData))
		copy(clone.EventData, e.EventData)
	}
	if e.LastVerifiedAt != nil {
		t := *e.LastVerifiedAt
		clone.LastVerifiedAt = &t
	}
	return &clone
}

// TagOffline records offline provenance ahead of rehashing. The device's
// local chain fields are preserved in OriginalHash and then discarded.
func (e *Event) TagOffline(deviceID, sessionID string, mergeID uuid.UUID) {
	if !e.CurrentEventHash.IsEmpty() {
		e.OriginalHash = e.CurrentEventHash
	}
	e.IsOfflineEvent = true
	e.OfflineDeviceID = deviceID
	e.OfflineSessionID = sessionID
	e.OfflineMergeID = mergeID
	e.PreviousEventHash = values.Hash{}
	e.CurrentEventHash = values.Hash{}
	e.SequenceID = values.SequenceNumber{}
	e.IsGenesisEvent = false
	e.sealed = false
}

// PayloadEqual compares the producer-supplied payload of two events,
// ignoring chain, integrity and provenance fields. Used for conflict
// detection during offline reconciliation.
func (e *Event) PayloadEqual(other *Event) bool {
	if e.ChainID != other.ChainID ||
		!e.Timestamp.Equal(other.Timestamp) ||
		e.Actor != other.Actor ||
		e.Action != other.Action ||
		e.EntityType != other.EntityType ||
		e.EntityID != other.EntityID ||
		e.CorrelationID != other.CorrelationID ||
		e.IPAddress != other.IPAddress ||
		e.UserAgent != other.UserAgent {
		return false
	}
	return string(e.EventData) == string(other.EventData)
}
