package seal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

const confirmBatchLimit = 50

// Scheduler drives periodic sealing and replication confirmation across all
// known chains
type Scheduler struct {
	sealer          *Sealer
	store           ledger.Store
	sealInterval    time.Duration
	confirmInterval time.Duration
	logger          *zap.Logger
}

// NewScheduler creates a sealing scheduler
func NewScheduler(sealer *Sealer, store ledger.Store, sealInterval, confirmInterval time.Duration, logger *zap.Logger) *Scheduler {
	if sealInterval <= 0 {
		sealInterval = time.Hour
	}
	if confirmInterval <= 0 {
		confirmInterval = 15 * time.Minute
	}
	return &Scheduler{
		sealer:          sealer,
		store:           store,
		sealInterval:    sealInterval,
		confirmInterval: confirmInterval,
		logger:          logger,
	}
}

// Run blocks until ctx is canceled. A continuity violation on one chain
// halts that chain's sealing but the sweep continues over the others.
func (s *Scheduler) Run(ctx context.Context) error {
	sealTicker := time.NewTicker(s.sealInterval)
	defer sealTicker.Stop()
	confirmTicker := time.NewTicker(s.confirmInterval)
	defer confirmTicker.Stop()

	s.sweepSeal(ctx)
	s.sweepConfirm(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sealTicker.C:
			s.sweepSeal(ctx)
		case <-confirmTicker.C:
			s.sweepConfirm(ctx)
		}
	}
}

// sweepSeal seals ready day ranges on every chain, draining each chain's
// backlog one day at a time
func (s *Scheduler) sweepSeal(ctx context.Context) {
	chains, err := s.store.ListChains(ctx)
	if err != nil {
		s.logger.Error("failed to list chains for sealing", zap.Error(err))
		return
	}

	for _, chainID := range chains {
		for {
			if ctx.Err() != nil {
				return
			}
			meta, err := s.sealer.SealNext(ctx, chainID)
			if err != nil {
				s.logger.Error("sealing pass failed",
					zap.String("chain_id", chainID), zap.Error(err))
				break
			}
			if meta == nil {
				break
			}
		}
	}
}

func (s *Scheduler) sweepConfirm(ctx context.Context) {
	confirmed, err := s.sealer.ConfirmReplication(ctx, confirmBatchLimit)
	if err != nil {
		s.logger.Error("replication confirmation failed", zap.Error(err))
		return
	}
	if confirmed > 0 {
		s.logger.Info("archives confirmed durable", zap.Int("archives", confirmed))
	}
}
