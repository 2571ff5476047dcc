package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
)

// SequenceNumber is the server-assigned, monotonic position of an event in
// its chain. It defines the total order of the canonical ledger and is
// never reused.
type SequenceNumber struct {
	value uint64
}

const (
	// Capped at 2^63-1 so values survive a signed BIGINT column
	MaxSequenceNumber = uint64(9223372036854775807)
	MinSequenceNumber = uint64(1)
)

// NewSequenceNumber creates a SequenceNumber with validation
func NewSequenceNumber(value uint64) (SequenceNumber, error) {
	if value == 0 {
		return SequenceNumber{}, errors.NewValidationError("ZERO_SEQUENCE",
			"sequence number cannot be zero")
	}
	if value > MaxSequenceNumber {
		return SequenceNumber{}, errors.NewValidationError("SEQUENCE_TOO_LARGE",
			fmt.Sprintf("sequence number %d exceeds maximum %d", value, MaxSequenceNumber))
	}
	return SequenceNumber{value: value}, nil
}

// MustNewSequenceNumber creates a SequenceNumber and panics on error
func MustNewSequenceNumber(value uint64) SequenceNumber {
	seq, err := NewSequenceNumber(value)
	if err != nil {
		panic(err)
	}
	return seq
}

// FirstSequenceNumber returns the sequence assigned to a genesis event
func FirstSequenceNumber() SequenceNumber {
	return SequenceNumber{value: MinSequenceNumber}
}

// Value returns the numeric value
func (s SequenceNumber) Value() uint64 {
	return s.value
}

// String returns the decimal representation
func (s SequenceNumber) String() string {
	return strconv.FormatUint(s.value, 10)
}

// IsZero checks if the sequence number is unset
func (s SequenceNumber) IsZero() bool {
	return s.value == 0
}

// IsFirst checks if this is the genesis position
func (s SequenceNumber) IsFirst() bool {
	return s.value == MinSequenceNumber
}

// Equal checks if two sequence numbers are equal
func (s SequenceNumber) Equal(other SequenceNumber) bool {
	return s.value == other.value
}

// LessThan checks strict ordering against other
func (s SequenceNumber) LessThan(other SequenceNumber) bool {
	return s.value < other.value
}

// GreaterThan checks strict ordering against other
func (s SequenceNumber) GreaterThan(other SequenceNumber) bool {
	return s.value > other.value
}

// Next returns the immediately following sequence number
func (s SequenceNumber) Next() (SequenceNumber, error) {
	if s.value >= MaxSequenceNumber {
		return SequenceNumber{}, errors.NewValidationError("SEQUENCE_OVERFLOW",
			"sequence number would overflow maximum value")
	}
	return SequenceNumber{value: s.value + 1}, nil
}

// MarshalJSON implements JSON marshaling
func (s SequenceNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

// UnmarshalJSON implements JSON unmarshaling
func (s *SequenceNumber) UnmarshalJSON(data []byte) error {
	var value uint64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	seq, err := NewSequenceNumber(value)
	if err != nil {
		return err
	}
	*s = seq
	return nil
}

// DatabaseValue implements driver.Valuer semantics for storage
func (s SequenceNumber) DatabaseValue() (driver.Value, error) {
	if s.value == 0 {
		return nil, nil
	}
	return int64(s.value), nil
}

// Scan implements sql.Scanner for database retrieval
func (s *SequenceNumber) Scan(value interface{}) error {
	if value == nil {
		*s = SequenceNumber{}
		return nil
	}

	var val uint64
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("sequence number cannot be negative: %d", v)
		}
		val = uint64(v)
	case uint64:
		val = v
	default:
		return fmt.Errorf("cannot scan %T into SequenceNumber", value)
	}

	if val == 0 {
		*s = SequenceNumber{}
		return nil
	}

	seq, err := NewSequenceNumber(val)
	if err != nil {
		return err
	}
	*s = seq
	return nil
}

// SequenceRange is an inclusive range of sequence numbers
type SequenceRange struct {
	Start SequenceNumber
	End   SequenceNumber
}

// NewSequenceRange creates a range with validation
func NewSequenceRange(start, end SequenceNumber) (SequenceRange, error) {
	if start.IsZero() || end.IsZero() {
		return SequenceRange{}, errors.NewValidationError("INVALID_RANGE",
			"range boundaries cannot be zero")
	}
	if start.GreaterThan(end) {
		return SequenceRange{}, errors.NewValidationError("INVALID_RANGE",
			"start sequence must be less than or equal to end sequence")
	}
	return SequenceRange{Start: start, End: end}, nil
}

// Contains checks if the range contains seq
func (sr SequenceRange) Contains(seq SequenceNumber) bool {
	return seq.value >= sr.Start.value && seq.value <= sr.End.value
}

// Size returns the number of positions in the range
func (sr SequenceRange) Size() uint64 {
	return sr.End.value - sr.Start.value + 1
}

// String returns a string representation of the range
func (sr SequenceRange) String() string {
	return fmt.Sprintf("[%s-%s]", sr.Start, sr.End)
}
