// Package verify recomputes ledger digests to prove that committed history
// has not been altered.
package verify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
)

// Config bounds how many events one verification pass scans per read
type Config struct {
	BatchSize int
}

// Verifier walks a chain from its last verified point toward the tip,
// recomputing every digest. A single mismatch stops the walk: the event is
// marked BROKEN, a security incident is raised, and no later event is
// verified until the incident is resolved and the chain re-anchored.
type Verifier struct {
	store     ledger.Store
	runs      ledger.VerificationRepository
	incidents ledger.IncidentRepository
	codec     *ledger.Codec
	cfg       Config
	reg       *metrics.Registry
	logger    *zap.Logger
}

// NewVerifier creates a chain verifier
func NewVerifier(store ledger.Store, runs ledger.VerificationRepository, incidents ledger.IncidentRepository, cfg Config, reg *metrics.Registry, logger *zap.Logger) *Verifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Verifier{
		store:     store,
		runs:      runs,
		incidents: incidents,
		codec:     ledger.NewCodec(),
		cfg:       cfg,
		reg:       reg,
		logger:    logger,
	}
}

// VerifyChain scans from the resume point to the current tip. The returned
// run is also persisted, win or lose; its ChainStatus carries the verdict.
func (v *Verifier) VerifyChain(ctx context.Context, chainID, initiatedBy string) (*ledger.VerificationRun, error) {
	return v.scan(ctx, chainID, initiatedBy, false)
}

// VerifyChainFull audits the whole chain from genesis, ignoring the
// incremental resume point
func (v *Verifier) VerifyChainFull(ctx context.Context, chainID, initiatedBy string) (*ledger.VerificationRun, error) {
	return v.scan(ctx, chainID, initiatedBy, true)
}

func (v *Verifier) scan(ctx context.Context, chainID, initiatedBy string, full bool) (*ledger.VerificationRun, error) {
	started := time.Now().UTC()

	tip, err := v.store.GetTip(ctx, chainID)
	if err != nil {
		return nil, err
	}

	expectedPrevious := values.ZeroHash()
	next := values.FirstSequenceNumber()
	caughtUp := tip.IsEmpty()

	if !full && !caughtUp {
		lastVerified, err := v.store.LastVerifiedSequence(ctx, chainID)
		if err != nil {
			return nil, err
		}
		caughtUp = lastVerified.Equal(tip.Sequence)
		if !caughtUp {
			if expectedPrevious, next, err = v.resumePoint(ctx, chainID, lastVerified); err != nil {
				return nil, err
			}
		}
	}

	if caughtUp {
		run := ledger.NewIntactRun(chainID, initiatedBy, started, time.Now().UTC(), 0)
		if err := v.runs.SaveRun(ctx, run); err != nil {
			return nil, err
		}
		v.reg.VerificationRuns.WithLabelValues(chainID, string(ledger.ChainIntact)).Inc()
		return run, nil
	}

	firstScanned := next
	verified := 0

	for !next.GreaterThan(tip.Sequence) {
		batchEnd := next
		for i := 1; i < v.cfg.BatchSize && batchEnd.LessThan(tip.Sequence); i++ {
			if batchEnd, err = batchEnd.Next(); err != nil {
				return nil, err
			}
		}

		events, err := v.store.ReadRange(ctx, chainID, next, batchEnd)
		if err != nil {
			return nil, err
		}

		expected := next
		for _, event := range events {
			// A sequence gap is as much a break as a digest mismatch
			if !event.SequenceID.Equal(expected) {
				return v.finishBroken(ctx, chainID, initiatedBy, started,
					firstScanned, verified, event)
			}

			ok, err := v.codec.Recompute(event, expectedPrevious)
			if err != nil {
				return nil, err
			}
			if !ok {
				return v.finishBroken(ctx, chainID, initiatedBy, started,
					firstScanned, verified, event)
			}

			expectedPrevious = event.CurrentEventHash
			verified++
			if expected, err = expected.Next(); err != nil {
				return nil, err
			}
		}

		if len(events) < v.expectedCount(next, batchEnd) {
			// Rows missing from the middle of the chain
			return v.finishBroken(ctx, chainID, initiatedBy, started,
				firstScanned, verified, nil)
		}

		if batchEnd.Equal(tip.Sequence) {
			break
		}
		if next, err = batchEnd.Next(); err != nil {
			return nil, err
		}
	}

	if verified > 0 {
		rng, err := values.NewSequenceRange(firstScanned, tip.Sequence)
		if err != nil {
			return nil, err
		}
		if err := v.store.MarkVerified(ctx, chainID, rng, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	run := ledger.NewIntactRun(chainID, initiatedBy, started, time.Now().UTC(), verified)
	if err := v.runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	v.reg.VerificationRuns.WithLabelValues(chainID, string(ledger.ChainIntact)).Inc()
	v.reg.EventsVerified.WithLabelValues(chainID).Add(float64(verified))

	v.logger.Info("chain verified",
		zap.String("chain_id", chainID),
		zap.Int("events", verified),
		zap.String("through", tip.Sequence.String()))
	return run, nil
}

// resumePoint returns the digest to verify against and the first sequence
// to scan
func (v *Verifier) resumePoint(ctx context.Context, chainID string, lastVerified values.SequenceNumber) (values.Hash, values.SequenceNumber, error) {
	if lastVerified.IsZero() {
		return values.ZeroHash(), values.FirstSequenceNumber(), nil
	}

	anchor, err := v.store.ReadRange(ctx, chainID, lastVerified, lastVerified)
	if err != nil {
		return values.Hash{}, values.SequenceNumber{}, err
	}
	if len(anchor) == 0 {
		// The anchor was purged; restart from genesis
		return values.ZeroHash(), values.FirstSequenceNumber(), nil
	}

	next, err := lastVerified.Next()
	if err != nil {
		return values.Hash{}, values.SequenceNumber{}, err
	}
	return anchor[0].CurrentEventHash, next, nil
}

func (v *Verifier) finishBroken(ctx context.Context, chainID, initiatedBy string, started time.Time, firstScanned values.SequenceNumber, verified int, broken *ledger.Event) (*ledger.VerificationRun, error) {
	var incident *ledger.Incident
	if broken != nil {
		if err := v.store.MarkBroken(ctx, broken.EventID); err != nil {
			v.logger.Error("failed to mark broken event",
				zap.String("event_id", broken.EventID.String()), zap.Error(err))
		}

		incident = ledger.NewChainBreakIncident(chainID, broken)
		v.logger.Error("hash chain break detected",
			zap.String("chain_id", chainID),
			zap.String("event_id", broken.EventID.String()),
			zap.String("sequence", broken.SequenceID.String()))
	} else {
		missing, err := v.firstMissing(firstScanned, verified)
		if err != nil {
			return nil, err
		}
		incident = ledger.NewChainGapIncident(chainID, missing)
		v.logger.Error("hash chain gap detected",
			zap.String("chain_id", chainID),
			zap.String("missing_sequence", missing.String()))
	}

	// One standing break is one incident; repeated sweeps over the same
	// break must not pile up duplicates
	reported, err := v.alreadyReported(ctx, incident.AffectedEntityID)
	if err != nil {
		v.logger.Error("failed to check for an open incident",
			zap.String("chain_id", chainID), zap.Error(err))
	} else if !reported {
		if err := v.incidents.SaveIncident(ctx, incident); err != nil {
			v.logger.Error("failed to raise chain-break incident",
				zap.String("chain_id", chainID), zap.Error(err))
		}
	}

	// Events that verified cleanly ahead of the break stay verified
	if verified > 0 {
		end := firstScanned
		for i := 1; i < verified; i++ {
			var err error
			if end, err = end.Next(); err != nil {
				return nil, err
			}
		}
		if rng, err := values.NewSequenceRange(firstScanned, end); err == nil {
			if err := v.store.MarkVerified(ctx, chainID, rng, time.Now().UTC()); err != nil {
				v.logger.Error("failed to persist verified prefix", zap.Error(err))
			}
		}
	}

	run := ledger.NewBrokenRun(chainID, initiatedBy, started, time.Now().UTC(), verified, broken)
	if err := v.runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	v.reg.VerificationRuns.WithLabelValues(chainID, string(ledger.ChainBroken)).Inc()
	v.reg.ChainBreaks.WithLabelValues(chainID).Inc()
	return run, nil
}

// firstMissing returns the first sequence the scan found no row for
func (v *Verifier) firstMissing(firstScanned values.SequenceNumber, verified int) (values.SequenceNumber, error) {
	missing := firstScanned
	for i := 0; i < verified; i++ {
		var err error
		if missing, err = missing.Next(); err != nil {
			return values.SequenceNumber{}, err
		}
	}
	return missing, nil
}

// alreadyReported checks for an open chain-break incident covering the
// same entity
func (v *Verifier) alreadyReported(ctx context.Context, affectedEntityID string) (bool, error) {
	open, err := v.incidents.ListIncidents(ctx, ledger.IncidentFilter{
		Type:     ledger.IncidentChainBreak,
		OnlyOpen: true,
	})
	if err != nil {
		return false, err
	}
	for _, incident := range open {
		if incident.AffectedEntityID == affectedEntityID {
			return true, nil
		}
	}
	return false, nil
}

func (v *Verifier) expectedCount(from, to values.SequenceNumber) int {
	return int(to.Value() - from.Value() + 1)
}
