package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/fixtures"
)

// TestArchiveCodecRoundTrip tests that an exported range decodes back with
// chain fields and digests intact
func TestArchiveCodecRoundTrip(t *testing.T) {
	events := fixtures.NewEventBuilder(t).
		WithChain("chain-main").
		WithData(`{"amount":42}`).
		WithTimestamp(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)).
		BuildChain(5)

	compressed, rawSize, err := EncodeArchive(events)
	require.NoError(t, err)
	assert.Greater(t, rawSize, 0)
	assert.NotEmpty(t, compressed)
	assert.Less(t, len(compressed), rawSize+64, "gzip output should not blow up")

	decoded, err := DecodeArchive(compressed)
	require.NoError(t, err)
	require.Len(t, decoded, 5)

	codec := ledger.NewCodec()
	for i, event := range decoded {
		assert.Equal(t, events[i].EventID, event.EventID)
		assert.True(t, event.IsSealed())
		assert.True(t, event.CurrentEventHash.Equal(events[i].CurrentEventHash))

		// Decoded events still verify against their recorded predecessors
		ok, err := codec.Recompute(event, event.PreviousEventHash)
		require.NoError(t, err)
		assert.True(t, ok, "event %d failed recomputation after round trip", i)
	}
}

// TestDecodeArchiveRejectsGarbage tests the failure paths
func TestDecodeArchiveRejectsGarbage(t *testing.T) {
	_, err := DecodeArchive([]byte("not gzip at all"))
	require.Error(t, err)
}

// TestEncodeArchiveEmpty tests encoding an empty range
func TestEncodeArchiveEmpty(t *testing.T) {
	compressed, rawSize, err := EncodeArchive(nil)
	require.NoError(t, err)
	assert.Zero(t, rawSize)

	decoded, err := DecodeArchive(compressed)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
