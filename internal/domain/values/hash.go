package values

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
)

// Hash represents a SHA-256 digest used to link ledger events.
// Stored and transported as a 64-character lowercase hex string.
type Hash struct {
	hex string
}

var sha256HexRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

const zeroHex = "0000000000000000000000000000000000000000000000000000000000000000"

// NewHash creates a Hash value object with validation
func NewHash(value string) (Hash, error) {
	if value == "" {
		return Hash{}, errors.NewValidationError("EMPTY_HASH",
			"hash value cannot be empty")
	}

	normalized := strings.ToLower(strings.TrimSpace(value))
	if !sha256HexRegex.MatchString(normalized) {
		return Hash{}, errors.NewValidationError("INVALID_HASH_FORMAT",
			"hash must be a 64-character hexadecimal string (SHA-256)")
	}

	return Hash{hex: normalized}, nil
}

// NewHashFromBytes creates a Hash from a raw 32-byte digest
func NewHashFromBytes(b []byte) (Hash, error) {
	if len(b) != sha256.Size {
		return Hash{}, errors.NewValidationError("INVALID_HASH_LENGTH",
			"hash must be 32 bytes (SHA-256)")
	}
	return Hash{hex: hex.EncodeToString(b)}, nil
}

// ComputeHash computes the SHA-256 digest of data
func ComputeHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash{hex: hex.EncodeToString(sum[:])}
}

// MustNewHash creates a Hash and panics on error (for constants/tests)
func MustNewHash(value string) Hash {
	h, err := NewHash(value)
	if err != nil {
		panic(err)
	}
	return h
}

// ZeroHash returns the all-zero sentinel digest. It is the only legal
// predecessor of a genesis event.
func ZeroHash() Hash {
	return Hash{hex: zeroHex}
}

// String returns the hex-encoded hash
func (h Hash) String() string {
	return h.hex
}

// Bytes returns the raw digest bytes
func (h Hash) Bytes() ([]byte, error) {
	return hex.DecodeString(h.hex)
}

// IsEmpty checks if the hash is unset
func (h Hash) IsEmpty() bool {
	return h.hex == ""
}

// IsZero checks if the hash is the genesis sentinel
func (h Hash) IsZero() bool {
	return h.hex == zeroHex
}

// Equal checks if two hashes are equal
func (h Hash) Equal(other Hash) bool {
	return h.hex == other.hex
}

// Truncate returns a short prefix for display purposes
func (h Hash) Truncate() string {
	if len(h.hex) <= 12 {
		return h.hex
	}
	return h.hex[:12]
}

// Format returns a formatted string for logging
func (h Hash) Format() string {
	if h.IsEmpty() {
		return "<empty>"
	}
	return fmt.Sprintf("hash:%s", h.Truncate())
}

// MarshalJSON implements JSON marshaling
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.hex)
}

// UnmarshalJSON implements JSON unmarshaling
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	parsed, err := NewHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Value implements driver.Valuer for database storage
func (h Hash) Value() (driver.Value, error) {
	if h.hex == "" {
		return nil, nil
	}
	return h.hex, nil
}

// Scan implements sql.Scanner for database retrieval
func (h *Hash) Scan(value interface{}) error {
	if value == nil {
		*h = Hash{}
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Hash", value)
	}

	if s == "" {
		*h = Hash{}
		return nil
	}

	parsed, err := NewHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
