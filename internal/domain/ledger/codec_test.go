package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

func newTestEvent(t *testing.T) *Event {
	t.Helper()
	event, err := NewEvent("chain-main", "user:alice", "user.login", "session")
	require.NoError(t, err)
	event.IPAddress = "10.0.0.1"
	event.UserAgent = "test-agent/1.0"
	event.EventData = json.RawMessage(`{"mfa":true}`)
	return event
}

// TestCodecDeterminism verifies independent recomputation reproduces the
// digest byte for byte
func TestCodecDeterminism(t *testing.T) {
	codec := NewCodec()
	event := newTestEvent(t)
	event.SequenceID = values.MustNewSequenceNumber(1)

	first, err := codec.Digest(values.ZeroHash(), event)
	require.NoError(t, err)
	second, err := codec.Digest(values.ZeroHash(), event)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Len(t, first.String(), 64)
}

// TestCodecExcludesHashFields verifies that mutating hash and integrity
// fields does not change the canonical encoding
func TestCodecExcludesHashFields(t *testing.T) {
	codec := NewCodec()
	event := newTestEvent(t)
	event.SequenceID = values.MustNewSequenceNumber(1)

	before, err := codec.Canonicalize(event)
	require.NoError(t, err)

	event.CurrentEventHash = values.ComputeHash([]byte("anything"))
	event.PreviousEventHash = values.ComputeHash([]byte("else"))
	event.OriginalHash = values.ComputeHash([]byte("device"))
	event.IntegrityStatus = IntegrityBroken

	after, err := codec.Canonicalize(event)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestCodecPreviousHashChangesDigest verifies the chaining input matters
func TestCodecPreviousHashChangesDigest(t *testing.T) {
	codec := NewCodec()
	event := newTestEvent(t)
	event.SequenceID = values.MustNewSequenceNumber(2)

	a, err := codec.Digest(values.ComputeHash([]byte("prev-a")), event)
	require.NoError(t, err)
	b, err := codec.Digest(values.ComputeHash([]byte("prev-b")), event)
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
}

// TestCodecRejectsEmptyPrevious verifies genesis must use the sentinel, not
// an absent hash
func TestCodecRejectsEmptyPrevious(t *testing.T) {
	codec := NewCodec()
	event := newTestEvent(t)

	_, err := codec.Digest(values.Hash{}, event)
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "EMPTY_PREVIOUS_HASH", appErr.Code)
}

// TestCodecRecompute covers the verification-side recomputation path
func TestCodecRecompute(t *testing.T) {
	codec := NewCodec()

	t.Run("matching digest", func(t *testing.T) {
		event := newTestEvent(t)
		require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))

		ok, err := codec.Recompute(event, values.ZeroHash())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("corrupted digest", func(t *testing.T) {
		event := newTestEvent(t)
		require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))
		event.CurrentEventHash = values.ComputeHash([]byte("tampered"))

		ok, err := codec.Recompute(event, values.ZeroHash())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong predecessor", func(t *testing.T) {
		event := newTestEvent(t)
		require.NoError(t, event.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))

		ok, err := codec.Recompute(event, values.ComputeHash([]byte("elsewhere")))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestChainTwoEvents walks a two-event chain: genesis hashes against the
// sentinel, the successor against the genesis digest
func TestChainTwoEvents(t *testing.T) {
	codec := NewCodec()

	genesis := newTestEvent(t)
	require.NoError(t, genesis.Chain(codec, values.MustNewSequenceNumber(1), values.ZeroHash()))
	assert.True(t, genesis.IsGenesisEvent)
	assert.True(t, genesis.PreviousEventHash.IsZero())

	next := newTestEvent(t)
	require.NoError(t, next.Chain(codec, values.MustNewSequenceNumber(2), genesis.CurrentEventHash))
	assert.False(t, next.IsGenesisEvent)
	assert.True(t, next.PreviousEventHash.Equal(genesis.CurrentEventHash))

	ok, err := codec.Recompute(next, genesis.CurrentEventHash)
	require.NoError(t, err)
	assert.True(t, ok)
}
