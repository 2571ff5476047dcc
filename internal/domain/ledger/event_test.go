package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// TestNewEvent tests event construction and required-field validation
func TestNewEvent(t *testing.T) {
	t.Run("valid event", func(t *testing.T) {
		event, err := NewEvent("chain-main", "user:bob", "role.assign", "role")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.EventID)
		assert.Equal(t, IntegrityUnverified, event.IntegrityStatus)
		assert.False(t, event.IsSealed())
		assert.False(t, event.Timestamp.IsZero())
	})

	t.Run("missing actor", func(t *testing.T) {
		_, err := NewEvent("chain-main", "", "role.assign", "role")
		require.Error(t, err)
		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "MISSING_ACTOR", appErr.Code)
	})

	t.Run("missing chain", func(t *testing.T) {
		_, err := NewEvent("", "user:bob", "role.assign", "role")
		assert.Error(t, err)
	})
}

// TestEventChainSealing tests that chaining seals the event exactly once
func TestEventChainSealing(t *testing.T) {
	codec := NewCodec()

	event, err := NewEvent("chain-main", "user:bob", "role.assign", "role")
	require.NoError(t, err)

	require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))
	assert.True(t, event.IsSealed())
	assert.False(t, event.CurrentEventHash.IsEmpty())

	err = event.Chain(codec, values.MustNewSequenceNumber(2), event.CurrentEventHash)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "EVENT_SEALED"))
}

// TestEventGenesisMismatch tests the genesis/sentinel coupling
func TestEventGenesisMismatch(t *testing.T) {
	codec := NewCodec()

	t.Run("non-first sequence with sentinel", func(t *testing.T) {
		event, err := NewEvent("chain-main", "user:bob", "role.assign", "role")
		require.NoError(t, err)

		err = event.Chain(codec, values.MustNewSequenceNumber(5), values.ZeroHash())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "GENESIS_MISMATCH"))
	})

	t.Run("first sequence with non-sentinel", func(t *testing.T) {
		event, err := NewEvent("chain-main", "user:bob", "role.assign", "role")
		require.NoError(t, err)

		err = event.Chain(codec, values.MustNewSequenceNumber(1), values.ComputeHash([]byte("x")))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "GENESIS_MISMATCH"))
	})
}

// TestEventTagOffline tests that offline tagging preserves the device
// digest and strips local chain fields for rehashing
func TestEventTagOffline(t *testing.T) {
	codec := NewCodec()
	mergeID := uuid.New()

	event, err := NewEvent("chain-main", "user:carol", "document.sign", "document")
	require.NoError(t, err)
	require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))
	deviceHash := event.CurrentEventHash

	event.TagOffline("device-7", "session-42", mergeID)

	assert.True(t, event.IsOfflineEvent)
	assert.Equal(t, "device-7", event.OfflineDeviceID)
	assert.Equal(t, "session-42", event.OfflineSessionID)
	assert.Equal(t, mergeID, event.OfflineMergeID)
	assert.True(t, event.OriginalHash.Equal(deviceHash))
	assert.True(t, event.CurrentEventHash.IsEmpty())
	assert.True(t, event.PreviousEventHash.IsEmpty())
	assert.True(t, event.SequenceID.IsZero())
	assert.False(t, event.IsSealed())

	// Rehash into the canonical chain at a different position
	canonicalPrev := values.ComputeHash([]byte("canonical-tip"))
	require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(9), canonicalPrev))
	assert.False(t, event.CurrentEventHash.Equal(deviceHash))
	assert.True(t, event.OriginalHash.Equal(deviceHash))
}

// TestEventPayloadEqual tests conflict-detection comparison semantics
func TestEventPayloadEqual(t *testing.T) {
	base, err := NewEvent("chain-main", "user:carol", "document.sign", "document")
	require.NoError(t, err)
	base.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base.EventData = json.RawMessage(`{"doc":"a"}`)

	same := base.Clone()
	assert.True(t, base.PayloadEqual(same))

	// Chain fields do not participate
	same.CurrentEventHash = values.ComputeHash([]byte("x"))
	assert.True(t, base.PayloadEqual(same))

	diff := base.Clone()
	diff.EventData = json.RawMessage(`{"doc":"b"}`)
	assert.False(t, base.PayloadEqual(diff))

	diffActor := base.Clone()
	diffActor.Actor = "user:mallory"
	assert.False(t, base.PayloadEqual(diffActor))
}

// TestEventValidate tests structural validation of sealed events
func TestEventValidate(t *testing.T) {
	codec := NewCodec()

	event, err := NewEvent("chain-main", "user:bob", "role.assign", "role")
	require.NoError(t, err)
	require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))
	require.NoError(t, event.Validate())

	event.IntegrityStatus = IntegrityStatus("MAYBE")
	err = event.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "INVALID_INTEGRITY_STATUS"))
}
