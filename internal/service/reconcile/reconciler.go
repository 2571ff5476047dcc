// Package reconcile merges event batches captured by disconnected devices
// into the canonical chain. A device runs its own local chain while offline;
// on reconnect its events are deduplicated, screened for conflicts, stripped
// of their local chain fields and rehashed onto the canonical tip.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/service/ingest"
)

// OfflineBatch is one device's self-consistent offline capture, in the
// device's local chain order
type OfflineBatch struct {
	ChainID   string
	UserID    string
	DeviceID  string
	SessionID string
	Events    []*ledger.Event
}

// Reconciler merges offline batches through the regular ingestion path. Each
// merge attempt produces exactly one append-only merge record, win or lose.
type Reconciler struct {
	coordinator *ingest.Coordinator
	store       ledger.Store
	merges      ledger.MergeRepository
	reg         *metrics.Registry
	logger      *zap.Logger
}

// NewReconciler creates an offline reconciler
func NewReconciler(coordinator *ingest.Coordinator, store ledger.Store, merges ledger.MergeRepository, reg *metrics.Registry, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		coordinator: coordinator,
		store:       store,
		merges:      merges,
		reg:         reg,
		logger:      logger,
	}
}

// Merge reconciles one offline batch. Duplicates are skipped, conflicted
// events are held back for review, and the survivors are rehashed onto the
// canonical tip in their relative order as a single atomic append. The merge
// is safe to retry: a resubmission after partial failure finds its committed
// events as duplicates and only merges the remainder.
func (r *Reconciler) Merge(ctx context.Context, batch OfflineBatch) (*ledger.MergeRecord, error) {
	if batch.DeviceID == "" {
		return nil, errors.NewValidationError("MISSING_DEVICE_ID", "device ID is required")
	}
	if batch.SessionID == "" {
		return nil, errors.NewValidationError("MISSING_SESSION_ID", "offline session ID is required")
	}
	for _, event := range batch.Events {
		if event.ChainID != batch.ChainID {
			return nil, errors.NewValidationError("CHAIN_MISMATCH",
				"all events in an offline batch must target the same chain")
		}
	}

	started := time.Now()
	record := ledger.NewMergeRecord(batch.ChainID, batch.UserID, batch.DeviceID,
		batch.SessionID, len(batch.Events))

	mergeable, err := r.screen(ctx, batch, record)
	if err != nil {
		record.Fail(started, err)
		return r.finish(ctx, record, err)
	}

	if len(mergeable) > 0 {
		for _, event := range mergeable {
			event.TagOffline(batch.DeviceID, batch.SessionID, record.MergeID)
		}
		if _, err := r.coordinator.IngestBatch(ctx, batch.ChainID, mergeable); err != nil {
			record.Fail(started, err)
			return r.finish(ctx, record, err)
		}
		record.EventsMerged = len(mergeable)
		record.EventsReHashed = len(mergeable)
		r.reg.EventsRehashed.WithLabelValues(batch.ChainID).Add(float64(len(mergeable)))
	}

	record.Finish(started)
	r.logger.Info("offline batch merged",
		zap.String("chain_id", batch.ChainID),
		zap.String("device_id", batch.DeviceID),
		zap.String("merge_id", record.MergeID.String()),
		zap.Int("received", record.EventsReceived),
		zap.Int("merged", record.EventsMerged),
		zap.Int("duplicates", record.DuplicatesSkipped),
		zap.Int("conflicts", record.ConflictsDetected),
		zap.String("status", string(record.Status)))
	return r.finish(ctx, record, nil)
}

// screen runs dedup and conflict detection, filling the record's counts and
// conflict list, and returns the events eligible for rehashing
func (r *Reconciler) screen(ctx context.Context, batch OfflineBatch, record *ledger.MergeRecord) ([]*ledger.Event, error) {
	if len(batch.Events) == 0 {
		return nil, nil
	}

	eventIDs := make([]uuid.UUID, len(batch.Events))
	for i, event := range batch.Events {
		eventIDs[i] = event.EventID
	}
	committed, err := r.store.ContainsAny(ctx, eventIDs)
	if err != nil {
		return nil, err
	}

	tip, err := r.store.GetTip(ctx, batch.ChainID)
	if err != nil {
		return nil, err
	}

	mergeable := make([]*ledger.Event, 0, len(batch.Events))
	for _, event := range batch.Events {
		if committed[event.EventID] {
			existing, err := r.store.ReadEvent(ctx, event.EventID)
			if err != nil {
				return nil, err
			}
			if existing.PayloadEqual(event) {
				record.DuplicatesSkipped++
				continue
			}
			r.conflict(record, event, ledger.ConflictPayloadMismatch,
				"committed event with the same ID carries a different payload")
			continue
		}

		ok, err := r.causallyOrdered(ctx, batch.ChainID, tip, event)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.conflict(record, event, ledger.ConflictCausalityViolation,
				fmt.Sprintf("claimed timestamp %s predates events already committed to the chain",
					event.Timestamp.UTC().Format(time.RFC3339)))
			continue
		}

		mergeable = append(mergeable, event)
	}
	return mergeable, nil
}

// causallyOrdered reports whether the offline event's claimed timestamp is
// consistent with the committed history: no committed event with a later
// sequence position may carry a later timestamp than this event claims to
// precede
func (r *Reconciler) causallyOrdered(ctx context.Context, chainID string, tip ledger.Tip, event *ledger.Event) (bool, error) {
	if tip.IsEmpty() {
		return true, nil
	}
	atOrBefore, err := r.store.LatestCommittedBefore(ctx, chainID, event.Timestamp)
	if err != nil {
		return false, err
	}
	return !tip.Sequence.GreaterThan(atOrBefore), nil
}

func (r *Reconciler) conflict(record *ledger.MergeRecord, event *ledger.Event, reason ledger.ConflictReason, detail string) {
	record.ConflictsDetected++
	record.Conflicts = append(record.Conflicts, ledger.MergeConflict{
		EventID: event.EventID,
		Reason:  reason,
		Detail:  detail,
	})
	r.reg.OfflineConflicts.WithLabelValues(record.ChainID, string(reason)).Inc()
	r.logger.Warn("offline event held back for review",
		zap.String("chain_id", record.ChainID),
		zap.String("event_id", event.EventID.String()),
		zap.String("reason", string(reason)))
}

// finish persists the merge record and reports the merge outcome metric.
// When the merge itself failed, the original cause wins over any record
// persistence error.
func (r *Reconciler) finish(ctx context.Context, record *ledger.MergeRecord, cause error) (*ledger.MergeRecord, error) {
	status := metrics.StatusSuccess
	if record.Status == ledger.MergeFailed {
		status = metrics.StatusFailure
	}
	r.reg.OfflineMerges.WithLabelValues(record.ChainID, status).Inc()

	if err := r.merges.SaveMergeRecord(ctx, record); err != nil {
		r.logger.Error("failed to persist merge record",
			zap.String("merge_id", record.MergeID.String()), zap.Error(err))
		if cause == nil {
			return record, err
		}
	}
	return record, cause
}
