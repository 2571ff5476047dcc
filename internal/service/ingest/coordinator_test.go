package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/fixtures"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/mocks"
)

func newCoordinator(t *testing.T, store ledger.Store) *Coordinator {
	t.Helper()
	cfg := Config{MaxBatchSize: 100, AppendRetries: 5, RetryBackoff: time.Millisecond}
	return NewCoordinator(store, nil, cfg, metrics.NewRegistry(), zaptest.NewLogger(t))
}

func buildBatch(t *testing.T, n int) []*ledger.Event {
	t.Helper()
	events := make([]*ledger.Event, n)
	for i := range events {
		events[i] = fixtures.NewEventBuilder(t).WithChain("chain-main").Build()
	}
	return events
}

// TestIngestBatch tests that a batch extends the chain contiguously from
// the genesis sentinel
func TestIngestBatch(t *testing.T) {
	store := mocks.NewLedgerStore()
	coordinator := newCoordinator(t, store)
	ctx := context.Background()

	result, err := coordinator.IngestBatch(ctx, "chain-main", buildBatch(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, result.EventsWritten)
	assert.Equal(t, uint64(1), result.FirstSequence)
	assert.Equal(t, uint64(3), result.LastSequence)

	// A second batch attaches where the first ended
	result, err = coordinator.IngestBatch(ctx, "chain-main", buildBatch(t, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), result.FirstSequence)
	assert.Equal(t, uint64(5), result.LastSequence)

	// Every committed event links to its predecessor
	tip, err := store.GetTip(ctx, "chain-main")
	require.NoError(t, err)
	events, err := store.ReadRange(ctx, "chain-main",
		mustSeq(t, 1), tip.Sequence)
	require.NoError(t, err)
	require.Len(t, events, 5)

	codec := ledger.NewCodec()
	for i, event := range events {
		expectedPrev := event.PreviousEventHash
		if i > 0 {
			expectedPrev = events[i-1].CurrentEventHash
		}
		ok, err := codec.Recompute(event, expectedPrev)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.True(t, events[0].IsGenesisEvent)
}

// TestIngestEmptyBatch tests the no-op path
func TestIngestEmptyBatch(t *testing.T) {
	store := mocks.NewLedgerStore()
	coordinator := newCoordinator(t, store)

	result, err := coordinator.IngestBatch(context.Background(), "chain-main", nil)
	require.NoError(t, err)
	assert.Zero(t, result.EventsWritten)
	assert.Zero(t, store.EventCount("chain-main"))
}

// TestIngestValidation tests batch-level input rejection
func TestIngestValidation(t *testing.T) {
	store := mocks.NewLedgerStore()
	ctx := context.Background()

	t.Run("oversized batch", func(t *testing.T) {
		coordinator := NewCoordinator(store, nil,
			Config{MaxBatchSize: 2, AppendRetries: 1, RetryBackoff: time.Millisecond},
			metrics.NewRegistry(), zaptest.NewLogger(t))
		_, err := coordinator.IngestBatch(ctx, "chain-main", buildBatch(t, 3))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "BATCH_TOO_LARGE"))
	})

	t.Run("wrong chain", func(t *testing.T) {
		coordinator := newCoordinator(t, store)
		batch := buildBatch(t, 1)
		_, err := coordinator.IngestBatch(ctx, "chain-other", batch)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "CHAIN_MISMATCH"))
	})

	t.Run("pre-sealed event", func(t *testing.T) {
		coordinator := newCoordinator(t, store)
		sealed := fixtures.NewEventBuilder(t).WithChain("chain-main").BuildChain(1)
		_, err := coordinator.IngestBatch(ctx, "chain-main", sealed)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "EVENT_SEALED"))
	})
}

// TestIngestDuplicateRejection tests wholesale rejection when any event ID
// is already committed
func TestIngestDuplicateRejection(t *testing.T) {
	store := mocks.NewLedgerStore()
	coordinator := newCoordinator(t, store)
	ctx := context.Background()

	first := buildBatch(t, 2)
	_, err := coordinator.IngestBatch(ctx, "chain-main", first)
	require.NoError(t, err)

	// Replay one committed ID inside an otherwise fresh batch
	replay := buildBatch(t, 2)
	replay[1].EventID = first[0].EventID

	_, err = coordinator.IngestBatch(ctx, "chain-main", replay)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "DUPLICATE_EVENT"))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, 2, store.EventCount("chain-main"))
}

// TestIngestConcurrentWriters tests that racing coordinators serialize via
// tip retries and every batch lands exactly once
func TestIngestConcurrentWriters(t *testing.T) {
	store := mocks.NewLedgerStore()
	ctx := context.Background()

	const writers = 8
	const perBatch = 3

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			coordinator := newCoordinator(t, store)
			_, errs[n] = coordinator.IngestBatch(ctx, "chain-main", buildBatch(t, perBatch))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d failed", i)
	}
	assert.Equal(t, writers*perBatch, store.EventCount("chain-main"))

	// The final chain is contiguous and verifies end to end
	tip, err := store.GetTip(ctx, "chain-main")
	require.NoError(t, err)
	assert.Equal(t, uint64(writers*perBatch), tip.Sequence.Value())

	events, err := store.ReadRange(ctx, "chain-main", mustSeq(t, 1), tip.Sequence)
	require.NoError(t, err)
	codec := ledger.NewCodec()
	previous := events[0].PreviousEventHash
	for _, event := range events {
		ok, err := codec.Recompute(event, previous)
		require.NoError(t, err)
		require.True(t, ok)
		previous = event.CurrentEventHash
	}
}

// TestIngestExhaustion tests the terminal failure after the retry budget
func TestIngestExhaustion(t *testing.T) {
	store := &alwaysConflict{}
	coordinator := NewCoordinator(store, nil,
		Config{MaxBatchSize: 10, AppendRetries: 3, RetryBackoff: time.Millisecond},
		metrics.NewRegistry(), zaptest.NewLogger(t))

	_, err := coordinator.IngestBatch(context.Background(), "chain-main", buildBatch(t, 1))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "INGESTION_FAILED"))
	assert.Equal(t, 3, store.attempts)
}

// TestIngestDedupFastPath tests that a cache hit short-circuits before the
// store is touched
func TestIngestDedupFastPath(t *testing.T) {
	store := mocks.NewLedgerStore()
	batch := buildBatch(t, 2)
	dedup := &staticDedup{seen: batch[0].EventID.String()}

	coordinator := NewCoordinator(store, dedup,
		Config{MaxBatchSize: 10, AppendRetries: 3, RetryBackoff: time.Millisecond},
		metrics.NewRegistry(), zaptest.NewLogger(t))

	_, err := coordinator.IngestBatch(context.Background(), "chain-main", batch)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "DUPLICATE_EVENT"))
	assert.Zero(t, store.EventCount("chain-main"))
}

func mustSeq(t *testing.T, v uint64) values.SequenceNumber {
	t.Helper()
	return values.MustNewSequenceNumber(v)
}

// alwaysConflict loses every tip race
type alwaysConflict struct {
	mocks.LedgerStore
	attempts int
}

func (s *alwaysConflict) AppendBatch(_ context.Context, chainID string, _ []*ledger.Event, _ ledger.Tip) error {
	s.attempts++
	return errors.NewTipConflictError("tip of chain " + chainID + " moved")
}

// staticDedup reports one fixed ID as seen
type staticDedup struct {
	seen string
}

func (d *staticDedup) Seen(_ context.Context, eventIDs []uuid.UUID) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, id := range eventIDs {
		if id.String() == d.seen {
			out[id] = true
		}
	}
	return out
}

func (d *staticDedup) MarkCommitted(context.Context, []uuid.UUID) {}
