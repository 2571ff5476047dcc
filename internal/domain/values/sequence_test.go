package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewSequenceNumber tests sequence construction bounds
func TestNewSequenceNumber(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		seq, err := NewSequenceNumber(42)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), seq.Value())
	})

	t.Run("zero is rejected", func(t *testing.T) {
		_, err := NewSequenceNumber(0)
		assert.Error(t, err)
	})

	t.Run("above signed bigint range is rejected", func(t *testing.T) {
		_, err := NewSequenceNumber(MaxSequenceNumber + 1)
		assert.Error(t, err)
	})
}

// TestSequenceOrdering tests comparison helpers
func TestSequenceOrdering(t *testing.T) {
	first := FirstSequenceNumber()
	second := MustNewSequenceNumber(2)

	assert.True(t, first.IsFirst())
	assert.True(t, first.LessThan(second))
	assert.True(t, second.GreaterThan(first))
	assert.True(t, first.Equal(MustNewSequenceNumber(1)))
	assert.False(t, first.Equal(second))
}

// TestSequenceNext tests increment and overflow behavior
func TestSequenceNext(t *testing.T) {
	seq := FirstSequenceNumber()
	next, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Value())

	top := MustNewSequenceNumber(MaxSequenceNumber)
	_, err = top.Next()
	assert.Error(t, err)
}

// TestSequenceJSON tests JSON round-tripping
func TestSequenceJSON(t *testing.T) {
	original := MustNewSequenceNumber(77)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, "77", string(encoded))

	var decoded SequenceNumber
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.True(t, original.Equal(decoded))

	assert.Error(t, json.Unmarshal([]byte("0"), &decoded))
}

// TestSequenceScan tests sql.Scanner behavior including NULL tips
func TestSequenceScan(t *testing.T) {
	var seq SequenceNumber
	require.NoError(t, seq.Scan(int64(9)))
	assert.Equal(t, uint64(9), seq.Value())

	require.NoError(t, seq.Scan(nil))
	assert.True(t, seq.IsZero())

	assert.Error(t, seq.Scan(int64(-1)))
	assert.Error(t, seq.Scan("9"))
}

// TestSequenceRange tests inclusive range semantics
func TestSequenceRange(t *testing.T) {
	r, err := NewSequenceRange(MustNewSequenceNumber(5), MustNewSequenceNumber(9))
	require.NoError(t, err)

	assert.Equal(t, uint64(5), r.Size())
	assert.True(t, r.Contains(MustNewSequenceNumber(5)))
	assert.True(t, r.Contains(MustNewSequenceNumber(9)))
	assert.False(t, r.Contains(MustNewSequenceNumber(10)))
	assert.Equal(t, "[5-9]", r.String())

	_, err = NewSequenceRange(MustNewSequenceNumber(9), MustNewSequenceNumber(5))
	assert.Error(t, err)

	_, err = NewSequenceRange(SequenceNumber{}, MustNewSequenceNumber(5))
	assert.Error(t, err)
}
