package seal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/archive"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/fixtures"
	"github.com/meridianid/audit-ledger-backend/internal/testutil/mocks"
)

// fakeExporter records uploads in memory and confirms any object it holds
type fakeExporter struct {
	mu            sync.Mutex
	exports       map[string][]*ledger.Event
	unconfirmable map[string]bool
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{
		exports:       make(map[string][]*ledger.Event),
		unconfirmable: make(map[string]bool),
	}
}

func (f *fakeExporter) Export(_ context.Context, chainID string, day time.Time, events []*ledger.Event) (*archive.ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fileName := fmt.Sprintf("%s-%s.jsonl.gz", chainID, day.Format("20060102"))
	objectKey := fmt.Sprintf("audit/%s/%s/%s", chainID, day.Format("2006/01"), fileName)
	f.exports[objectKey] = events
	return &archive.ExportResult{
		ObjectKey:        objectKey,
		FileName:         fileName,
		FileSize:         int64(128 * len(events)),
		CompressionRatio: 3.2,
		StorageLocation:  "s3://ledger-test",
	}, nil
}

func (f *fakeExporter) Confirm(_ context.Context, objectKey string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, held := f.exports[objectKey]
	return held && !f.unconfirmable[objectKey], nil
}

func (f *fakeExporter) Fetch(_ context.Context, objectKey string) ([]*ledger.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events, held := f.exports[objectKey]
	if !held {
		return nil, errors.ErrArchiveNotFound
	}
	return events, nil
}

func (f *fakeExporter) exportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exports)
}

type sealerFixture struct {
	store     *mocks.LedgerStore
	archives  *mocks.ArchiveRepository
	incidents *mocks.IncidentRepository
	exporter  *fakeExporter
	sealer    *Sealer
}

func newSealerFixture(t *testing.T) *sealerFixture {
	t.Helper()
	f := &sealerFixture{
		store:     mocks.NewLedgerStore(),
		archives:  mocks.NewArchiveRepository(),
		incidents: mocks.NewIncidentRepository(),
		exporter:  newFakeExporter(),
	}
	cfg := Config{RetentionYears: 7, PurgeGrace: 72 * time.Hour, MinRangeAge: time.Minute}
	f.sealer = NewSealer(f.store, f.archives, f.incidents, f.exporter,
		cfg, metrics.NewRegistry(), zaptest.NewLogger(t))
	return f
}

// commitDay appends n events timestamped within the given day, chained onto
// the current tip
func (f *sealerFixture) commitDay(t *testing.T, day time.Time, n int) []*ledger.Event {
	t.Helper()
	ctx := context.Background()
	tip, err := f.store.GetTip(ctx, "chain-main")
	require.NoError(t, err)
	events := fixtures.NewEventBuilder(t).
		WithChain("chain-main").
		WithTimestamp(day.Add(time.Hour)).
		ExtendChain(tip, n)
	require.NoError(t, f.store.AppendBatch(ctx, "chain-main", events, tip))
	return events
}

func (f *sealerFixture) verifyAll(t *testing.T, through uint64) {
	t.Helper()
	rng, err := values.NewSequenceRange(
		values.MustNewSequenceNumber(1), values.MustNewSequenceNumber(through))
	require.NoError(t, err)
	require.NoError(t, f.store.MarkVerified(context.Background(), "chain-main", rng, time.Now().UTC()))
}

func day(offset int) time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, offset)
}

// TestSealNextSealsOldestDayFirst tests that consecutive passes drain the
// backlog one day at a time with boundary hashes stitched across archives
func TestSealNextSealsOldestDayFirst(t *testing.T) {
	f := newSealerFixture(t)
	ctx := context.Background()
	older := f.commitDay(t, day(-3), 3)
	newer := f.commitDay(t, day(-2), 2)
	f.verifyAll(t, 5)

	first, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, uint64(1), first.SequenceStart.Value())
	assert.Equal(t, uint64(3), first.SequenceEnd.Value())
	assert.Equal(t, 3, first.EventCount)
	assert.True(t, first.ChainStartHash.IsZero())
	assert.True(t, first.ChainEndHash.Equal(older[2].CurrentEventHash))
	assert.Equal(t, ledger.ReplicationPending, first.ReplicationStatus)
	assert.Equal(t, day(-3).AddDate(7, 0, 0), first.RetentionExpiry)

	second, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, uint64(4), second.SequenceStart.Value())
	assert.Equal(t, uint64(5), second.SequenceEnd.Value())
	assert.True(t, second.PreviousDayEndHash.Equal(first.ChainEndHash))
	assert.True(t, second.ChainStartHash.Equal(first.ChainEndHash))
	assert.True(t, second.ChainEndHash.Equal(newer[1].CurrentEventHash))

	// Backlog drained
	third, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	assert.Nil(t, third)
	assert.Len(t, f.archives.Archives(), 2)
	assert.Equal(t, 2, f.exporter.exportCount())
}

// TestSealNextSkipsUnverifiedRange tests that sealing waits for the
// verifier before exporting anything
func TestSealNextSkipsUnverifiedRange(t *testing.T) {
	f := newSealerFixture(t)
	f.commitDay(t, day(-3), 4)

	meta, err := f.sealer.SealNext(context.Background(), "chain-main")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, f.archives.Archives())
	assert.Zero(t, f.exporter.exportCount())
}

// TestSealNextRespectsAgeWindow tests that the actively appended tail of
// the chain is never selected
func TestSealNextRespectsAgeWindow(t *testing.T) {
	f := newSealerFixture(t)
	f.commitDay(t, day(0), 2)
	f.verifyAll(t, 2)

	meta, err := f.sealer.SealNext(context.Background(), "chain-main")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, f.archives.Archives())
}

// TestSealContinuityViolation tests that a mismatched predecessor digest
// halts sealing with a critical incident and no metadata row
func TestSealContinuityViolation(t *testing.T) {
	f := newSealerFixture(t)
	ctx := context.Background()
	f.commitDay(t, day(-3), 3)
	f.commitDay(t, day(-2), 2)
	f.verifyAll(t, 5)

	// A prior archive whose recorded end digest does not match the chain
	seed := &ledger.ArchiveMetadata{
		ArchiveID:         fixtures.GenerateUUID(t),
		ChainID:           "chain-main",
		FileName:          "chain-main-seed.jsonl.gz",
		ObjectKey:         "audit/chain-main/seed.jsonl.gz",
		ExportDate:        day(-2),
		EventDateStart:    day(-3),
		EventDateEnd:      day(-3).Add(2 * time.Hour),
		SequenceStart:     values.MustNewSequenceNumber(1),
		SequenceEnd:       values.MustNewSequenceNumber(3),
		EventCount:        3,
		FileSize:          256,
		ChainStartHash:    values.ZeroHash(),
		ChainEndHash:      values.ComputeHash([]byte("not the real end hash")),
		RetentionExpiry:   day(-3).AddDate(7, 0, 0),
		StorageLocation:   "s3://ledger-test",
		ReplicationStatus: ledger.ReplicationReplicated,
	}
	require.NoError(t, f.archives.SaveArchive(ctx, seed))

	meta, err := f.sealer.SealNext(ctx, "chain-main")
	require.Error(t, err)
	assert.Nil(t, meta)
	assert.True(t, errors.IsCode(err, "ARCHIVE_CONTINUITY_VIOLATION"))

	// No export, no new metadata, one critical incident
	assert.Zero(t, f.exporter.exportCount())
	assert.Len(t, f.archives.Archives(), 1)
	incidents := f.incidents.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, ledger.IncidentContinuityViolation, incidents[0].IncidentType)
	assert.Equal(t, ledger.SeverityCritical, incidents[0].Severity)
}

// TestConfirmReplication tests that durability confirmation flips archive
// status both ways
func TestConfirmReplication(t *testing.T) {
	f := newSealerFixture(t)
	ctx := context.Background()
	f.commitDay(t, day(-4), 3)
	f.commitDay(t, day(-3), 2)
	f.verifyAll(t, 5)

	first, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	second, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	f.exporter.unconfirmable[second.ObjectKey] = true

	confirmed, err := f.sealer.ConfirmReplication(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)

	stored, err := f.archives.GetArchive(ctx, first.ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReplicationReplicated, stored.ReplicationStatus)
	require.NotNil(t, stored.LastReplicationCheckUTC)

	failed, err := f.archives.GetArchive(ctx, second.ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReplicationFailed, failed.ReplicationStatus)
}

// TestPurgeEligible tests the purge gate: replication confirmed and past
// the grace window
func TestPurgeEligible(t *testing.T) {
	f := newSealerFixture(t)
	ctx := context.Background()
	f.commitDay(t, day(-10), 2)
	f.commitDay(t, day(-9), 2)
	f.verifyAll(t, 4)

	first, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	second, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)

	// First confirmed long enough ago, second confirmed just now
	first.MarkReplicated(time.Now().UTC().Add(-100 * time.Hour))
	require.NoError(t, f.archives.UpdateReplication(ctx, first))
	second.MarkReplicated(time.Now().UTC())
	require.NoError(t, f.archives.UpdateReplication(ctx, second))

	eligible, err := f.sealer.PurgeEligible(ctx, "chain-main", day(-30), day(0))
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, first.ArchiveID, eligible[0].ArchiveID)
}

// TestFetchRecordsAccess tests that archive retrieval leaves a retention
// audit trail entry
func TestFetchRecordsAccess(t *testing.T) {
	f := newSealerFixture(t)
	ctx := context.Background()
	committed := f.commitDay(t, day(-3), 3)
	f.verifyAll(t, 3)

	meta, err := f.sealer.SealNext(ctx, "chain-main")
	require.NoError(t, err)
	require.NotNil(t, meta)

	events, err := f.sealer.Fetch(ctx, meta.ArchiveID, "auditor:compliance")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, committed[0].EventID, events[0].EventID)

	stored, err := f.archives.GetArchive(ctx, meta.ArchiveID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastAccessedAtUTC)
	assert.Equal(t, "auditor:compliance", stored.LastAccessedBy)
}
