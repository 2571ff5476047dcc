package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/fixtures"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/mocks"
)

type verifierFixture struct {
	store     *mocks.LedgerStore
	runs      *mocks.VerificationRepository
	incidents *mocks.IncidentRepository
	verifier  *Verifier
}

func newVerifierFixture(t *testing.T, batchSize int) *verifierFixture {
	t.Helper()
	f := &verifierFixture{
		store:     mocks.NewLedgerStore(),
		runs:      mocks.NewVerificationRepository(),
		incidents: mocks.NewIncidentRepository(),
	}
	f.verifier = NewVerifier(f.store, f.runs, f.incidents,
		Config{BatchSize: batchSize}, metrics.NewRegistry(), zaptest.NewLogger(t))
	return f
}

func (f *verifierFixture) commit(t *testing.T, n int) []*ledger.Event {
	t.Helper()
	tip, err := f.store.GetTip(context.Background(), "chain-main")
	require.NoError(t, err)
	events := fixtures.NewEventBuilder(t).WithChain("chain-main").ExtendChain(tip, n)
	require.NoError(t, f.store.AppendBatch(context.Background(), "chain-main", events, tip))
	return events
}

// TestVerifyIntactChain tests a clean sweep over an untampered chain
func TestVerifyIntactChain(t *testing.T) {
	f := newVerifierFixture(t, 1000)
	f.commit(t, 10)
	ctx := context.Background()

	run, err := f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainIntact, run.ChainStatus)
	assert.Equal(t, 10, run.EventsVerified)
	assert.Nil(t, run.BrokenEventID)
	assert.Empty(t, f.incidents.Incidents())

	// The run is persisted and verification status advanced
	require.Len(t, f.runs.Runs(), 1)
	last, err := f.store.LastVerifiedSequence(ctx, "chain-main")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last.Value())
}

// TestVerifyResumesFromLastVerified tests incremental verification
func TestVerifyResumesFromLastVerified(t *testing.T) {
	f := newVerifierFixture(t, 1000)
	f.commit(t, 5)
	ctx := context.Background()

	run, err := f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, 5, run.EventsVerified)

	// Nothing new: the pass is a no-op
	run, err = f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainIntact, run.ChainStatus)
	assert.Zero(t, run.EventsVerified)

	// New events extend the chain; only they are scanned
	f.commit(t, 3)
	run, err = f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, 3, run.EventsVerified)
}

// TestVerifyDetectsTampering tests that an altered payload stops the scan
// at the tampered event and raises exactly one incident
func TestVerifyDetectsTampering(t *testing.T) {
	f := newVerifierFixture(t, 1000)
	events := f.commit(t, 5)
	ctx := context.Background()

	// Tamper with the second event's payload after commit
	f.store.Corrupt(events[1].EventID, "user:mallory")

	run, err := f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainBroken, run.ChainStatus)
	require.NotNil(t, run.BrokenEventID)
	assert.Equal(t, events[1].EventID, *run.BrokenEventID)
	assert.Equal(t, 1, run.EventsVerified)

	// The tampered event is terminal BROKEN
	broken, err := f.store.ReadEvent(ctx, events[1].EventID)
	require.NoError(t, err)
	assert.Equal(t, ledger.IntegrityBroken, broken.IntegrityStatus)

	// Exactly one incident, pointing at the tampered event
	incidents := f.incidents.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, ledger.IncidentChainBreak, incidents[0].IncidentType)
	assert.Equal(t, ledger.SeverityHigh, incidents[0].Severity)
	assert.Equal(t, events[1].EventID.String(), incidents[0].AffectedEntityID)

	// The clean prefix stays verified, nothing after the break does
	last, err := f.store.LastVerifiedSequence(ctx, "chain-main")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Value())
}

// TestVerifyDetectsSequenceGap tests that a missing committed row breaks
// the chain and raises an incident against the chain itself
func TestVerifyDetectsSequenceGap(t *testing.T) {
	f := newVerifierFixture(t, 1000)
	events := f.commit(t, 5)
	ctx := context.Background()

	// Drop the tip row out from under the chain; the tip still says 5
	f.store.Remove(events[4].EventID)

	run, err := f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainBroken, run.ChainStatus)
	assert.Equal(t, 4, run.EventsVerified)

	// A gap has no event row to point at
	assert.Nil(t, run.BrokenEventID)

	incidents := f.incidents.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, ledger.IncidentChainBreak, incidents[0].IncidentType)
	assert.Equal(t, "chain", incidents[0].AffectedEntityType)
	assert.Equal(t, "chain-main", incidents[0].AffectedEntityID)
	assert.Contains(t, incidents[0].Description, "sequence 5")

	// The contiguous prefix stays verified
	last, err := f.store.LastVerifiedSequence(ctx, "chain-main")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last.Value())
}

// TestVerifyRepeatedSweepsRaiseOneIncident tests that sweeping a chain
// with a standing break records a run each time but only one incident
func TestVerifyRepeatedSweepsRaiseOneIncident(t *testing.T) {
	f := newVerifierFixture(t, 1000)
	events := f.commit(t, 3)
	ctx := context.Background()

	f.store.Corrupt(events[1].EventID, "user:mallory")

	for i := 0; i < 3; i++ {
		run, err := f.verifier.VerifyChain(ctx, "chain-main", "scheduler")
		require.NoError(t, err)
		assert.Equal(t, ledger.ChainBroken, run.ChainStatus)
	}

	assert.Len(t, f.runs.Runs(), 3)
	require.Len(t, f.incidents.Incidents(), 1)
	assert.Equal(t, events[1].EventID.String(), f.incidents.Incidents()[0].AffectedEntityID)
}

// TestVerifyFullAudit tests that a full audit rescans from genesis even
// when incremental verification is already caught up
func TestVerifyFullAudit(t *testing.T) {
	f := newVerifierFixture(t, 1000)
	f.commit(t, 6)
	ctx := context.Background()

	run, err := f.verifier.VerifyChain(ctx, "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, 6, run.EventsVerified)

	run, err = f.verifier.VerifyChainFull(ctx, "chain-main", "auditor")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainIntact, run.ChainStatus)
	assert.Equal(t, 6, run.EventsVerified)
}

// TestVerifyBatchedScan tests that multi-batch scans stitch digests across
// batch boundaries
func TestVerifyBatchedScan(t *testing.T) {
	f := newVerifierFixture(t, 4)
	f.commit(t, 10)

	run, err := f.verifier.VerifyChain(context.Background(), "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainIntact, run.ChainStatus)
	assert.Equal(t, 10, run.EventsVerified)
}

// TestVerifyEmptyChain tests the empty-chain no-op
func TestVerifyEmptyChain(t *testing.T) {
	f := newVerifierFixture(t, 1000)

	run, err := f.verifier.VerifyChain(context.Background(), "chain-main", "test")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainIntact, run.ChainStatus)
	assert.Zero(t, run.EventsVerified)
	assert.Len(t, f.runs.Runs(), 1)
}
