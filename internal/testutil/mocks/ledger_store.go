// Package mocks provides in-memory doubles for the ledger persistence
// interfaces, with the same atomicity and conflict semantics as the real
// Postgres implementations.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
)

// LedgerStore is a thread-safe in-memory ledger.Store
type LedgerStore struct {
	mu     sync.Mutex
	events map[string][]*ledger.Event // per chain, ordered by sequence
	byID   map[uuid.UUID]*ledger.Event
	tips   map[string]ledger.Tip

	// FailAppends makes the next n AppendBatch calls fail with an internal
	// error, for retry-path tests
	FailAppends int
}

// NewLedgerStore creates an empty in-memory store
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		events: make(map[string][]*ledger.Event),
		byID:   make(map[uuid.UUID]*ledger.Event),
		tips:   make(map[string]ledger.Tip),
	}
}

// GetTip returns the current tip of a chain
func (s *LedgerStore) GetTip(_ context.Context, chainID string) (ledger.Tip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tip, ok := s.tips[chainID]; ok {
		return tip, nil
	}
	return ledger.EmptyTip(chainID), nil
}

// AppendBatch mirrors the CAS semantics of the Postgres store
func (s *LedgerStore) AppendBatch(_ context.Context, chainID string, events []*ledger.Event, expectedTip ledger.Tip) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppends > 0 {
		s.FailAppends--
		return errors.NewInternalError("simulated append failure")
	}

	current, exists := s.tips[chainID]
	if exists {
		if current.Version != expectedTip.Version || !current.Sequence.Equal(expectedTip.Sequence) {
			return errors.NewTipConflictError(
				fmt.Sprintf("tip of chain %s moved past version %d", chainID, expectedTip.Version))
		}
	} else if !expectedTip.IsEmpty() {
		return errors.NewTipConflictError(
			fmt.Sprintf("chain %s has no tip at version %d", chainID, expectedTip.Version))
	}

	for _, event := range events {
		if _, dup := s.byID[event.EventID]; dup {
			return errors.NewDuplicateEventError(
				"batch contains an event already committed to the ledger")
		}
	}

	for _, event := range events {
		s.events[chainID] = append(s.events[chainID], event)
		s.byID[event.EventID] = event
	}

	last := events[len(events)-1]
	s.tips[chainID] = ledger.Tip{
		ChainID:  chainID,
		Sequence: last.SequenceID,
		Hash:     last.CurrentEventHash,
		Version:  current.Version + 1,
	}
	return nil
}

// ReadRange returns events ordered by sequence, boundaries inclusive
func (s *LedgerStore) ReadRange(_ context.Context, chainID string, from, to values.SequenceNumber) ([]*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Event
	for _, event := range s.events[chainID] {
		if !event.SequenceID.LessThan(from) && !event.SequenceID.GreaterThan(to) {
			out = append(out, event)
		}
	}
	return out, nil
}

// ReadEvent looks up a single event by ID
func (s *LedgerStore) ReadEvent(_ context.Context, eventID uuid.UUID) (*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.byID[eventID]; ok {
		return event, nil
	}
	return nil, errors.ErrEventNotFound
}

// ContainsAny reports which of the given IDs exist
func (s *LedgerStore) ContainsAny(_ context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[uuid.UUID]bool)
	for _, id := range eventIDs {
		if _, ok := s.byID[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// LatestCommittedBefore returns the highest sequence at or before cutoff
func (s *LedgerStore) LatestCommittedBefore(_ context.Context, chainID string, cutoff time.Time) (values.SequenceNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest values.SequenceNumber
	for _, event := range s.events[chainID] {
		if !event.Timestamp.After(cutoff) && event.SequenceID.GreaterThan(latest) {
			latest = event.SequenceID
		}
	}
	return latest, nil
}

// MarkVerified advances integrity status for a range, skipping BROKEN rows
func (s *LedgerStore) MarkVerified(_ context.Context, chainID string, rng values.SequenceRange, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events[chainID] {
		if rng.Contains(event.SequenceID) && event.IntegrityStatus != ledger.IntegrityBroken {
			event.IntegrityStatus = ledger.IntegrityVerified
			t := verifiedAt
			event.LastVerifiedAt = &t
		}
	}
	return nil
}

// MarkBroken flags a single event as BROKEN
func (s *LedgerStore) MarkBroken(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[eventID]
	if !ok {
		return errors.ErrEventNotFound
	}
	event.IntegrityStatus = ledger.IntegrityBroken
	return nil
}

// LastVerifiedSequence returns the highest VERIFIED sequence
func (s *LedgerStore) LastVerifiedSequence(_ context.Context, chainID string) (values.SequenceNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest values.SequenceNumber
	for _, event := range s.events[chainID] {
		if event.IntegrityStatus == ledger.IntegrityVerified && event.SequenceID.GreaterThan(latest) {
			latest = event.SequenceID
		}
	}
	return latest, nil
}

// ListChains returns every chain with at least one event
func (s *LedgerStore) ListChains(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chains := make([]string, 0, len(s.tips))
	for chainID := range s.tips {
		chains = append(chains, chainID)
	}
	sort.Strings(chains)
	return chains, nil
}

// EventCount returns the number of committed events in a chain
func (s *LedgerStore) EventCount(chainID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[chainID])
}

// Corrupt rewrites the stored actor of an event without touching its
// digest, simulating tampering for verification tests
func (s *LedgerStore) Corrupt(eventID uuid.UUID, actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.byID[eventID]; ok {
		event.Actor = actor
	}
}

// Remove deletes a committed row without touching the tip, simulating
// out-of-band row loss for gap-detection tests
func (s *LedgerStore) Remove(eventID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[eventID]
	if !ok {
		return
	}
	delete(s.byID, eventID)

	chain := s.events[event.ChainID]
	for i, stored := range chain {
		if stored.EventID == eventID {
			s.events[event.ChainID] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
}
