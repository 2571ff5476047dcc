// The verifier binary recomputes ledger digests: continuously in watch
// mode, or as a one-shot full audit from genesis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/database"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/telemetry"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/service/verify"
)

var (
	configPath = flag.String("config", "", "path to configuration file")
	mode       = flag.String("mode", "watch", "operation mode: watch, once, full")
	chainID    = flag.String("chain", "", "chain to verify (once/full modes, empty = all chains)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupZapLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewConnectionPool(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := database.NewLedgerStore(pool, logger)
	runs := database.NewVerificationRepository(pool)
	incidents := database.NewIncidentRepository(pool)

	verifier := verify.NewVerifier(store, runs, incidents,
		verify.Config{BatchSize: cfg.Verifier.BatchSize},
		metrics.NewRegistry(), logger)

	switch *mode {
	case "watch":
		scheduler := verify.NewScheduler(verifier, store, cfg.Verifier.Interval, logger)
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("scheduler error: %v", err)
		}
	case "once", "full":
		if err := verifyOnce(ctx, verifier, store, *chainID, *mode == "full", logger); err != nil {
			log.Fatalf("verification failed: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", *mode)
		os.Exit(1)
	}
}

// verifyOnce runs a single pass over the targeted chains and exits nonzero
// if any chain is broken
func verifyOnce(ctx context.Context, verifier *verify.Verifier, store ledger.Store, chainID string, full bool, logger *zap.Logger) error {
	chains := []string{chainID}
	if chainID == "" {
		var err error
		if chains, err = store.ListChains(ctx); err != nil {
			return err
		}
	}

	broken := 0
	for _, chain := range chains {
		var run *ledger.VerificationRun
		var err error
		if full {
			run, err = verifier.VerifyChainFull(ctx, chain, "cli")
		} else {
			run, err = verifier.VerifyChain(ctx, chain, "cli")
		}
		if err != nil {
			return err
		}

		fmt.Printf("chain %s: %s, %d events verified in %dms\n",
			chain, run.ChainStatus, run.EventsVerified, run.DurationMs)
		if run.ChainStatus == ledger.ChainBroken {
			broken++
			logger.Error("chain is broken",
				zap.String("chain_id", chain),
				zap.String("verification_id", run.VerificationID.String()))
		}
	}

	if broken > 0 {
		return fmt.Errorf("%d of %d chains are broken", broken, len(chains))
	}
	return nil
}
