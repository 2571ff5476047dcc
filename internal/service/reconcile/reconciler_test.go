package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/service/ingest"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/fixtures"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/mocks"
)

type reconcilerFixture struct {
	store      *mocks.LedgerStore
	merges     *mocks.MergeRepository
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store:  mocks.NewLedgerStore(),
		merges: mocks.NewMergeRepository(),
	}
	reg := metrics.NewRegistry()
	logger := zaptest.NewLogger(t)
	coordinator := ingest.NewCoordinator(f.store, nil,
		ingest.Config{RetryBackoff: time.Millisecond}, reg, logger)
	f.reconciler = NewReconciler(coordinator, f.store, f.merges, reg, logger)
	return f
}

// commitCopies commits unchained clones of the given device-local events,
// simulating an earlier merge that landed them in the canonical chain
func (f *reconcilerFixture) commitCopies(t *testing.T, chainID string, events []*ledger.Event) {
	t.Helper()
	copies := make([]*ledger.Event, len(events))
	for i, event := range events {
		copies[i] = event.Clone()
	}
	coordinator := ingest.NewCoordinator(f.store, nil, ingest.Config{},
		metrics.NewRegistry(), zaptest.NewLogger(t))
	_, err := coordinator.IngestBatch(context.Background(), chainID, copies)
	require.NoError(t, err)
}

func offlineBatch(events []*ledger.Event) OfflineBatch {
	return OfflineBatch{
		ChainID:   "chain-main",
		UserID:    "user:field-agent",
		DeviceID:  "device-7f3a",
		SessionID: "session-0015",
		Events:    events,
	}
}

// TestMergeSkipsDuplicates tests a retried merge where a prefix of the batch
// already landed: 10 received, 3 duplicates, 7 merged and rehashed
func TestMergeSkipsDuplicates(t *testing.T) {
	f := newReconcilerFixture(t)
	device := fixtures.NewEventBuilder(t).WithChain("chain-main").BuildChain(10)
	f.commitCopies(t, "chain-main", device[:3])

	record, err := f.reconciler.Merge(context.Background(), offlineBatch(device))
	require.NoError(t, err)

	assert.Equal(t, ledger.MergeSuccess, record.Status)
	assert.Equal(t, 10, record.EventsReceived)
	assert.Equal(t, 3, record.DuplicatesSkipped)
	assert.Equal(t, 7, record.EventsMerged)
	assert.Equal(t, 7, record.EventsReHashed)
	assert.Zero(t, record.ConflictsDetected)
	assert.Equal(t, 10, f.store.EventCount("chain-main"))

	require.Len(t, f.merges.Records(), 1)
}

// TestMergeRehashesOntoCanonicalTip tests that merged events are re-linked
// into the canonical chain with their device-local hashes preserved as
// forensic metadata only
func TestMergeRehashesOntoCanonicalTip(t *testing.T) {
	f := newReconcilerFixture(t)
	device := fixtures.NewEventBuilder(t).WithChain("chain-main").BuildChain(3)
	localHash := device[1].CurrentEventHash

	record, err := f.reconciler.Merge(context.Background(), offlineBatch(device))
	require.NoError(t, err)
	assert.Equal(t, ledger.MergeSuccess, record.Status)

	committed, err := f.store.ReadEvent(context.Background(), device[1].EventID)
	require.NoError(t, err)
	assert.True(t, committed.IsOfflineEvent)
	assert.Equal(t, "device-7f3a", committed.OfflineDeviceID)
	assert.Equal(t, "session-0015", committed.OfflineSessionID)
	assert.Equal(t, record.MergeID, committed.OfflineMergeID)

	// The local digest survives in OriginalHash; the chain digest is new
	assert.True(t, committed.OriginalHash.Equal(localHash))
	assert.False(t, committed.CurrentEventHash.Equal(localHash))

	// The merged events form a valid canonical chain
	codec := ledger.NewCodec()
	match, err := codec.Recompute(committed, committed.PreviousEventHash)
	require.NoError(t, err)
	assert.True(t, match)
}

// TestMergePayloadMismatchConflict tests that a reused event ID with altered
// content is held back for review without failing the batch
func TestMergePayloadMismatchConflict(t *testing.T) {
	f := newReconcilerFixture(t)
	device := fixtures.NewEventBuilder(t).WithChain("chain-main").BuildChain(3)
	f.commitCopies(t, "chain-main", device[:1])

	// The resubmitted copy of the committed event claims a different actor
	device[0].Actor = "user:mallory"

	record, err := f.reconciler.Merge(context.Background(), offlineBatch(device))
	require.NoError(t, err)

	assert.Equal(t, ledger.MergePartial, record.Status)
	assert.Equal(t, 1, record.ConflictsDetected)
	assert.Zero(t, record.DuplicatesSkipped)
	assert.Equal(t, 2, record.EventsMerged)
	require.Len(t, record.Conflicts, 1)
	assert.Equal(t, device[0].EventID, record.Conflicts[0].EventID)
	assert.Equal(t, ledger.ConflictPayloadMismatch, record.Conflicts[0].Reason)
}

// TestMergeCausalityConflict tests that an offline event claiming to predate
// already-committed history is held back for review
func TestMergeCausalityConflict(t *testing.T) {
	f := newReconcilerFixture(t)
	base := time.Now().UTC()

	online := fixtures.NewEventBuilder(t).
		WithChain("chain-main").
		WithTimestamp(base).
		BuildChain(3)
	f.commitCopies(t, "chain-main", online)

	// The device claims a capture from before the committed history
	device := fixtures.NewEventBuilder(t).
		WithChain("chain-main").
		WithTimestamp(base.Add(-time.Hour)).
		BuildChain(1)

	record, err := f.reconciler.Merge(context.Background(), offlineBatch(device))
	require.NoError(t, err)

	assert.Equal(t, ledger.MergePartial, record.Status)
	assert.Equal(t, 1, record.ConflictsDetected)
	assert.Zero(t, record.EventsMerged)
	require.Len(t, record.Conflicts, 1)
	assert.Equal(t, ledger.ConflictCausalityViolation, record.Conflicts[0].Reason)
	assert.Equal(t, 3, f.store.EventCount("chain-main"))
}

// TestMergeFailureCommitsNothing tests that a store failure yields a FAILED
// record with zeroed merge counts and no committed events
func TestMergeFailureCommitsNothing(t *testing.T) {
	f := newReconcilerFixture(t)
	device := fixtures.NewEventBuilder(t).WithChain("chain-main").BuildChain(4)
	f.store.FailAppends = 1

	record, err := f.reconciler.Merge(context.Background(), offlineBatch(device))
	require.Error(t, err)
	require.NotNil(t, record)

	assert.Equal(t, ledger.MergeFailed, record.Status)
	assert.Zero(t, record.EventsMerged)
	assert.Zero(t, record.EventsReHashed)
	assert.NotEmpty(t, record.ErrorDetails)
	assert.Zero(t, f.store.EventCount("chain-main"))

	// The failed attempt is still recorded
	require.Len(t, f.merges.Records(), 1)
}

// TestMergeEmptyBatch tests that an empty offline batch is a recorded no-op
func TestMergeEmptyBatch(t *testing.T) {
	f := newReconcilerFixture(t)

	record, err := f.reconciler.Merge(context.Background(), offlineBatch(nil))
	require.NoError(t, err)
	assert.Equal(t, ledger.MergeSuccess, record.Status)
	assert.Zero(t, record.EventsReceived)
	require.Len(t, f.merges.Records(), 1)
}

// TestMergeValidation tests batch-level validation failures
func TestMergeValidation(t *testing.T) {
	f := newReconcilerFixture(t)

	t.Run("missing device", func(t *testing.T) {
		batch := offlineBatch(nil)
		batch.DeviceID = ""
		_, err := f.reconciler.Merge(context.Background(), batch)
		require.Error(t, err)
	})

	t.Run("missing session", func(t *testing.T) {
		batch := offlineBatch(nil)
		batch.SessionID = ""
		_, err := f.reconciler.Merge(context.Background(), batch)
		require.Error(t, err)
	})

	t.Run("chain mismatch", func(t *testing.T) {
		stray := fixtures.NewEventBuilder(t).WithChain("chain-other").BuildChain(1)
		_, err := f.reconciler.Merge(context.Background(), offlineBatch(stray))
		require.Error(t, err)
	})
}
