package verify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

// Scheduler runs periodic verification over every known chain
type Scheduler struct {
	verifier *Verifier
	store    ledger.Store
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a verification scheduler
func NewScheduler(verifier *Verifier, store ledger.Store, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		verifier: verifier,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, verifying all chains once per interval.
// A broken chain does not stop the sweep; later chains are still scanned.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	chains, err := s.store.ListChains(ctx)
	if err != nil {
		s.logger.Error("failed to list chains for verification", zap.Error(err))
		return
	}

	for _, chainID := range chains {
		run, err := s.verifier.VerifyChain(ctx, chainID, "scheduler")
		if err != nil {
			s.logger.Error("verification pass failed",
				zap.String("chain_id", chainID), zap.Error(err))
			continue
		}
		if run.ChainStatus == ledger.ChainBroken {
			s.logger.Error("verification found a broken chain",
				zap.String("chain_id", chainID),
				zap.String("verification_id", run.VerificationID.String()))
		}
	}
}
