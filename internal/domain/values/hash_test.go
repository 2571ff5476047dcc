package values

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewHash tests hash construction and normalization
func TestNewHash(t *testing.T) {
	t.Run("valid lowercase hex", func(t *testing.T) {
		h, err := NewHash(strings.Repeat("ab", 32))
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("ab", 32), h.String())
	})

	t.Run("uppercase is normalized", func(t *testing.T) {
		h, err := NewHash(strings.Repeat("AB", 32))
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("ab", 32), h.String())
	})

	t.Run("empty is rejected", func(t *testing.T) {
		_, err := NewHash("")
		assert.Error(t, err)
	})

	t.Run("wrong length is rejected", func(t *testing.T) {
		_, err := NewHash("abcdef")
		assert.Error(t, err)
	})

	t.Run("non-hex is rejected", func(t *testing.T) {
		_, err := NewHash(strings.Repeat("zz", 32))
		assert.Error(t, err)
	})
}

// TestComputeHash tests that digests are deterministic and collision-free
// for differing inputs
func TestComputeHash(t *testing.T) {
	first := ComputeHash([]byte("payload"))
	second := ComputeHash([]byte("payload"))
	different := ComputeHash([]byte("payload2"))

	assert.True(t, first.Equal(second))
	assert.False(t, first.Equal(different))
	assert.Len(t, first.String(), 64)
}

// TestZeroHash tests the genesis sentinel
func TestZeroHash(t *testing.T) {
	zero := ZeroHash()
	assert.True(t, zero.IsZero())
	assert.False(t, zero.IsEmpty())
	assert.Equal(t, strings.Repeat("0", 64), zero.String())

	computed := ComputeHash([]byte{})
	assert.False(t, computed.IsZero())
}

// TestHashBytesRoundTrip tests raw digest conversion
func TestHashBytesRoundTrip(t *testing.T) {
	original := ComputeHash([]byte("round trip"))

	raw, err := original.Bytes()
	require.NoError(t, err)
	require.Len(t, raw, 32)

	restored, err := NewHashFromBytes(raw)
	require.NoError(t, err)
	assert.True(t, original.Equal(restored))

	_, err = NewHashFromBytes([]byte{0x01, 0x02})
	assert.Error(t, err)
}

// TestHashJSON tests JSON round-tripping including the unset value
func TestHashJSON(t *testing.T) {
	original := ComputeHash([]byte("json"))

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Hash
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.True(t, original.Equal(decoded))

	var empty Hash
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsEmpty())
}

// TestHashScan tests sql.Scanner behavior
func TestHashScan(t *testing.T) {
	var h Hash
	require.NoError(t, h.Scan(strings.Repeat("cd", 32)))
	assert.Equal(t, strings.Repeat("cd", 32), h.String())

	require.NoError(t, h.Scan(nil))
	assert.True(t, h.IsEmpty())

	assert.Error(t, h.Scan(42))
}

// TestHashTruncate tests the display helpers
func TestHashTruncate(t *testing.T) {
	h := MustNewHash(strings.Repeat("ef", 32))
	assert.Equal(t, strings.Repeat("ef", 6), h.Truncate())
	assert.Equal(t, "hash:"+strings.Repeat("ef", 6), h.Format())
	assert.Equal(t, "<empty>", Hash{}.Format())
}
