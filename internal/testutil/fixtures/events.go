package fixtures

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// EventBuilder builds test audit events
type EventBuilder struct {
	t          *testing.T
	chainID    string
	actor      string
	action     string
	entityType string
	entityID   string
	timestamp  time.Time
	eventData  json.RawMessage
	deviceID   string
	sessionID  string
}

// NewEventBuilder creates a new EventBuilder with defaults
func NewEventBuilder(t *testing.T) *EventBuilder {
	t.Helper()
	return &EventBuilder{
		t:          t,
		chainID:    "chain-test",
		actor:      "user:test",
		action:     "entity.update",
		entityType: "entity",
		timestamp:  time.Now().UTC(),
	}
}

// WithChain sets the chain ID
func (b *EventBuilder) WithChain(chainID string) *EventBuilder {
	b.chainID = chainID
	return b
}

// WithActor sets the actor
func (b *EventBuilder) WithActor(actor string) *EventBuilder {
	b.actor = actor
	return b
}

// WithAction sets the action and entity type
func (b *EventBuilder) WithAction(action, entityType string) *EventBuilder {
	b.action = action
	b.entityType = entityType
	return b
}

// WithEntityID sets the entity ID
func (b *EventBuilder) WithEntityID(entityID string) *EventBuilder {
	b.entityID = entityID
	return b
}

// WithTimestamp sets the event timestamp
func (b *EventBuilder) WithTimestamp(ts time.Time) *EventBuilder {
	b.timestamp = ts
	return b
}

// WithData sets the event payload
func (b *EventBuilder) WithData(data string) *EventBuilder {
	b.eventData = json.RawMessage(data)
	return b
}

// WithOfflineOrigin marks the event as produced by a disconnected device
func (b *EventBuilder) WithOfflineOrigin(deviceID, sessionID string) *EventBuilder {
	b.deviceID = deviceID
	b.sessionID = sessionID
	return b
}

// Build creates an unchained event
func (b *EventBuilder) Build() *ledger.Event {
	b.t.Helper()
	event, err := ledger.NewEvent(b.chainID, b.actor, b.action, b.entityType)
	require.NoError(b.t, err)
	event.Timestamp = b.timestamp
	event.EntityID = b.entityID
	event.EventData = b.eventData
	if b.deviceID != "" {
		event.IsOfflineEvent = true
		event.OfflineDeviceID = b.deviceID
		event.OfflineSessionID = b.sessionID
	}
	return event
}

// BuildChain creates n events chained in order starting from the zero
// sentinel, returning the sealed events
func (b *EventBuilder) BuildChain(n int) []*ledger.Event {
	b.t.Helper()
	codec := ledger.NewCodec()

	events := make([]*ledger.Event, 0, n)
	previous := values.ZeroHash()
	for i := 0; i < n; i++ {
		event := b.Build()
		event.Timestamp = b.timestamp.Add(time.Duration(i) * time.Second)
		seq := values.MustNewSequenceNumber(uint64(i + 1))
		require.NoError(b.t, event.Chain(codec, seq, previous))
		previous = event.CurrentEventHash
		events = append(events, event)
	}
	return events
}

// ExtendChain creates n events chained contiguously onto an existing tip
func (b *EventBuilder) ExtendChain(tip ledger.Tip, n int) []*ledger.Event {
	b.t.Helper()
	codec := ledger.NewCodec()

	seq, err := tip.NextSequence()
	require.NoError(b.t, err)
	previous := tip.Hash

	events := make([]*ledger.Event, 0, n)
	for i := 0; i < n; i++ {
		event := b.Build()
		event.Timestamp = b.timestamp.Add(time.Duration(i) * time.Second)
		require.NoError(b.t, event.Chain(codec, seq, previous))
		previous = event.CurrentEventHash
		events = append(events, event)
		if i < n-1 {
			seq, err = seq.Next()
			require.NoError(b.t, err)
		}
	}
	return events
}

// ChainOnto seals the built event onto an existing tip
func (b *EventBuilder) ChainOnto(tip ledger.Tip) *ledger.Event {
	b.t.Helper()
	codec := ledger.NewCodec()
	event := b.Build()
	seq, err := tip.NextSequence()
	require.NoError(b.t, err)
	require.NoError(b.t, event.Chain(codec, seq, tip.Hash))
	return event
}

// GenerateUUID returns a random UUID, failing the test on error
func GenerateUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	require.NoError(t, err)
	return id
}
