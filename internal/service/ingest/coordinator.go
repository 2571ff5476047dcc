// Package ingest coordinates batch appends to the ledger: chaining incoming
// events onto the current tip and retrying lost optimistic-concurrency
// races.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
)

// DedupChecker is the advisory fast path in front of the database
// existence check
type DedupChecker interface {
	Seen(ctx context.Context, eventIDs []uuid.UUID) map[uuid.UUID]bool
	MarkCommitted(ctx context.Context, eventIDs []uuid.UUID)
}

// Config bounds the coordinator's batch size and retry behavior
type Config struct {
	MaxBatchSize  int
	AppendRetries int
	RetryBackoff  time.Duration
}

// DefaultConfig returns production-leaning coordinator settings
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  500,
		AppendRetries: 5,
		RetryBackoff:  25 * time.Millisecond,
	}
}

// BatchResult reports a committed batch's position in the chain
type BatchResult struct {
	ChainID       string      `json:"chain_id"`
	EventsWritten int         `json:"events_written"`
	FirstSequence uint64      `json:"first_sequence"`
	LastSequence  uint64      `json:"last_sequence"`
	TipHash       string      `json:"tip_hash"`
	EventIDs      []uuid.UUID `json:"event_ids"`
}

// Coordinator serializes writers onto the chain tip. Any number of
// coordinators may run concurrently, in one process or many; the store's
// compare-and-swap decides the winner and losers re-chain and retry here.
type Coordinator struct {
	store  ledger.Store
	dedup  DedupChecker
	codec  *ledger.Codec
	cfg    Config
	reg    *metrics.Registry
	logger *zap.Logger
}

// NewCoordinator creates an ingestion coordinator
func NewCoordinator(store ledger.Store, dedup DedupChecker, cfg Config, reg *metrics.Registry, logger *zap.Logger) *Coordinator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = DefaultConfig().AppendRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &Coordinator{
		store:  store,
		dedup:  dedup,
		codec:  ledger.NewCodec(),
		cfg:    cfg,
		reg:    reg,
		logger: logger,
	}
}

// IngestBatch commits unchained events as one atomic chain extension in
// input order. The whole batch is rejected if any event ID is already in
// the ledger; partial application never happens.
func (c *Coordinator) IngestBatch(ctx context.Context, chainID string, events []*ledger.Event) (*BatchResult, error) {
	if len(events) == 0 {
		return &BatchResult{ChainID: chainID}, nil
	}
	if len(events) > c.cfg.MaxBatchSize {
		return nil, errors.NewValidationError("BATCH_TOO_LARGE",
			fmt.Sprintf("batch of %d exceeds maximum %d", len(events), c.cfg.MaxBatchSize))
	}

	eventIDs := make([]uuid.UUID, len(events))
	for i, event := range events {
		if event.ChainID != chainID {
			return nil, errors.NewValidationError("CHAIN_MISMATCH",
				"all events in a batch must target the same chain")
		}
		if event.IsSealed() {
			return nil, errors.NewValidationError("EVENT_SEALED",
				"events must arrive unchained; the coordinator assigns chain fields")
		}
		if err := event.Validate(); err != nil {
			return nil, err
		}
		eventIDs[i] = event.EventID
	}

	if c.dedup != nil {
		if seen := c.dedup.Seen(ctx, eventIDs); len(seen) > 0 {
			c.reg.Batches.WithLabelValues(chainID, metrics.StatusFailure).Inc()
			return nil, errors.NewDuplicateEventError(
				"batch contains an event already committed to the ledger")
		}
	}

	started := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.cfg.AppendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternalError("ingestion canceled").WithCause(err)
		}

		tip, err := c.store.GetTip(ctx, chainID)
		if err != nil {
			return nil, err
		}

		chained, err := c.chain(tip, events)
		if err != nil {
			return nil, err
		}

		err = c.store.AppendBatch(ctx, chainID, chained, tip)
		if err == nil {
			if c.dedup != nil {
				c.dedup.MarkCommitted(ctx, eventIDs)
			}
			last := chained[len(chained)-1]
			c.reg.Batches.WithLabelValues(chainID, metrics.StatusSuccess).Inc()
			c.reg.EventsIngested.WithLabelValues(chainID).Add(float64(len(chained)))
			c.reg.AppendDuration.WithLabelValues(chainID).Observe(time.Since(started).Seconds())

			c.logger.Debug("batch ingested",
				zap.String("chain_id", chainID),
				zap.Int("events", len(chained)),
				zap.String("tip", last.SequenceID.String()),
				zap.Int("attempt", attempt+1))

			return &BatchResult{
				ChainID:       chainID,
				EventsWritten: len(chained),
				FirstSequence: chained[0].SequenceID.Value(),
				LastSequence:  last.SequenceID.Value(),
				TipHash:       last.CurrentEventHash.String(),
				EventIDs:      eventIDs,
			}, nil
		}

		if errors.IsCode(err, "TIP_CONFLICT") {
			lastErr = err
			c.reg.TipConflicts.WithLabelValues(chainID).Inc()
			c.logger.Debug("tip conflict, re-chaining batch",
				zap.String("chain_id", chainID),
				zap.Int("attempt", attempt+1))
			if !c.backoff(ctx, attempt) {
				return nil, errors.NewInternalError("ingestion canceled").WithCause(ctx.Err())
			}
			continue
		}

		c.reg.Batches.WithLabelValues(chainID, metrics.StatusFailure).Inc()
		return nil, err
	}

	c.reg.Batches.WithLabelValues(chainID, metrics.StatusFailure).Inc()
	return nil, errors.NewIngestionFailedError(
		fmt.Sprintf("batch lost the tip race %d times on chain %s",
			c.cfg.AppendRetries, chainID)).WithCause(lastErr)
}

// chain seals clones of the incoming events onto the given tip, leaving the
// originals unchained so a lost race can be replayed
func (c *Coordinator) chain(tip ledger.Tip, events []*ledger.Event) ([]*ledger.Event, error) {
	seq, err := tip.NextSequence()
	if err != nil {
		return nil, err
	}
	previous := tip.Hash

	chained := make([]*ledger.Event, len(events))
	for i, event := range events {
		clone := event.Clone()
		if err := clone.Chain(c.codec, seq, previous); err != nil {
			return nil, err
		}
		chained[i] = clone
		previous = clone.CurrentEventHash
		if i < len(events)-1 {
			if seq, err = seq.Next(); err != nil {
				return nil, err
			}
		}
	}
	return chained, nil
}

func (c *Coordinator) backoff(ctx context.Context, attempt int) bool {
	delay := c.cfg.RetryBackoff * time.Duration(attempt+1)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
