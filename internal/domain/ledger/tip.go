package ledger

import (
	"fmt"

	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// Tip is the only piece of mutable shared state in the ledger: the most
// recently committed event's position and digest, plus a version counter
// used as the optimistic-concurrency token. Two writers racing for the same
// tip are serialized by compare-and-swap on Version; the loser re-reads and
// re-chains.
type Tip struct {
	ChainID  string                `json:"chain_id"`
	Sequence values.SequenceNumber `json:"sequence"`
	Hash     values.Hash           `json:"hash"`
	Version  int64                 `json:"version"`
}

// EmptyTip returns the tip of a chain with no committed events. The next
// append attaches at the first sequence position against the zero sentinel.
func EmptyTip(chainID string) Tip {
	return Tip{
		ChainID: chainID,
		Hash:    values.ZeroHash(),
	}
}

// IsEmpty reports whether the chain has no committed events
func (t Tip) IsEmpty() bool {
	return t.Sequence.IsZero()
}

// NextSequence returns the position the next appended event must take
func (t Tip) NextSequence() (values.SequenceNumber, error) {
	if t.IsEmpty() {
		return values.FirstSequenceNumber(), nil
	}
	return t.Sequence.Next()
}

// String returns a compact representation for logging
func (t Tip) String() string {
	if t.IsEmpty() {
		return fmt.Sprintf("%s@empty", t.ChainID)
	}
	return fmt.Sprintf("%s@%s/%s v%d", t.ChainID, t.Sequence, t.Hash.Truncate(), t.Version)
}
