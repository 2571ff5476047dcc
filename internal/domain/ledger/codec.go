package ledger

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// Codec computes the chained digest of an event. It is pure: no I/O, no
// clock, no randomness. Independent recomputation of the same event against
// the same predecessor digest reproduces the stored digest byte for byte.
type Codec struct{}

// NewCodec creates a hash chain codec
func NewCodec() *Codec {
	return &Codec{}
}

// canonicalEvent is the fixed-order encoding fed to the digest. It carries
// everything a producer asserted about the event and the provenance tags,
// and deliberately excludes the hash fields themselves, the mutable
// integrity fields, and the device-local OriginalHash.
type canonicalEvent struct {
	EventID          string          `json:"event_id"`
	ChainID          string          `json:"chain_id"`
	SequenceID       uint64          `json:"sequence_id"`
	TimestampNano    int64           `json:"timestamp_nano"`
	Actor            string          `json:"actor"`
	Action           string          `json:"action"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	CorrelationID    string          `json:"correlation_id"`
	IPAddress        string          `json:"ip_address"`
	UserAgent        string          `json:"user_agent"`
	EventData        json.RawMessage `json:"event_data"`
	IsOfflineEvent   bool            `json:"is_offline_event"`
	OfflineDeviceID  string          `json:"offline_device_id"`
	OfflineSessionID string          `json:"offline_session_id"`
	OfflineMergeID   string          `json:"offline_merge_id"`
}

// Canonicalize returns the deterministic byte representation of the event
// used for hashing
func (c *Codec) Canonicalize(event *Event) ([]byte, error) {
	if event == nil {
		return nil, errors.NewValidationError("NIL_EVENT", "event cannot be nil")
	}

	data := event.EventData
	if data == nil {
		data = json.RawMessage("null")
	}

	mergeID := ""
	if event.OfflineMergeID != uuid.Nil {
		mergeID = event.OfflineMergeID.String()
	}

	canonical := canonicalEvent{
		EventID:          event.EventID.String(),
		ChainID:          event.ChainID,
		SequenceID:       event.SequenceID.Value(),
		TimestampNano:    event.Timestamp.UnixNano(),
		Actor:            event.Actor,
		Action:           event.Action,
		EntityType:       event.EntityType,
		EntityID:         event.EntityID,
		CorrelationID:    event.CorrelationID,
		IPAddress:        event.IPAddress,
		UserAgent:        event.UserAgent,
		EventData:        data,
		IsOfflineEvent:   event.IsOfflineEvent,
		OfflineDeviceID:  event.OfflineDeviceID,
		OfflineSessionID: event.OfflineSessionID,
		OfflineMergeID:   mergeID,
	}

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return nil, errors.NewInternalError("failed to canonicalize event").WithCause(err)
	}
	return encoded, nil
}

// Digest computes SHA-256 over the predecessor digest concatenated with the
// canonical event encoding. previous must be the zero sentinel for the
// genesis event and the predecessor's digest everywhere else.
func (c *Codec) Digest(previous values.Hash, event *Event) (values.Hash, error) {
	if previous.IsEmpty() {
		return values.Hash{}, errors.NewValidationError("EMPTY_PREVIOUS_HASH",
			"previous hash must be set; use the zero sentinel for genesis")
	}

	canonical, err := c.Canonicalize(event)
	if err != nil {
		return values.Hash{}, err
	}

	prevBytes, err := previous.Bytes()
	if err != nil {
		return values.Hash{}, errors.NewInternalError("failed to decode previous hash").WithCause(err)
	}

	h := sha256.New()
	h.Write(prevBytes)
	h.Write(canonical)

	return values.NewHashFromBytes(h.Sum(nil))
}

// Recompute recomputes the digest of a stored event against an expected
// predecessor and reports whether it matches the stored digest. Read-only:
// the stored event is never modified.
func (c *Codec) Recompute(event *Event, expectedPrevious values.Hash) (bool, error) {
	if event == nil {
		return false, errors.NewValidationError("NIL_EVENT", "event cannot be nil")
	}
	if event.CurrentEventHash.IsEmpty() {
		return false, errors.NewValidationError("EVENT_NOT_HASHED",
			"event carries no digest to verify")
	}

	if !event.PreviousEventHash.Equal(expectedPrevious) {
		return false, nil
	}

	computed, err := c.Digest(expectedPrevious, event)
	if err != nil {
		return false, err
	}
	return computed.Equal(event.CurrentEventHash), nil
}
