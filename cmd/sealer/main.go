// The sealer binary closes daily ledger ranges into immutable archives,
// confirms their replication, and reports archive inventory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/archive"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/database"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/telemetry"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/service/seal"
)

var (
	configPath = flag.String("config", "", "path to configuration file")
	mode       = flag.String("mode", "watch", "operation mode: watch, seal, confirm, stats")
	chainID    = flag.String("chain", "", "chain to seal (seal mode, empty = all chains)")
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
	incidents := database.NewIncidentRepository(pool)
	archives := database.NewArchiveRepository(pool)

	exporter, err := archive.NewExporter(ctx, cfg.Archive, logger)
	if err != nil {
		log.Fatalf("failed to initialize archive storage: %v", err)
	}

	sealer := seal.NewSealer(store, archives, incidents, exporter, seal.Config{
		RetentionYears: cfg.Archive.RetentionYears,
		PurgeGrace:     cfg.Archive.PurgeGrace,
		MinRangeAge:    cfg.Archive.MinRangeAge,
	}, metrics.NewRegistry(), logger)

	switch *mode {
	case "watch":
		scheduler := seal.NewScheduler(sealer, store,
			cfg.Archive.SealInterval, cfg.Archive.ConfirmInterval, logger)
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("scheduler error: %v", err)
		}
	case "seal":
		err = sealOnce(ctx, sealer, store, *chainID, logger)
	case "confirm":
		var checked int
		checked, err = sealer.ConfirmReplication(ctx, 100)
		if err == nil {
			fmt.Printf("replication checked for %d archives\n", checked)
		}
	case "stats":
		err = printStats(ctx, archives, cfg.Ledger.DefaultChainID, *chainID)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", *mode)
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", *mode, err)
	}
}

// sealOnce drains every sealable day on the targeted chains, then exits
func sealOnce(ctx context.Context, sealer *seal.Sealer, store ledger.Store, chainID string, logger *zap.Logger) error {
	chains := []string{chainID}
	if chainID == "" {
		var err error
		if chains, err = store.ListChains(ctx); err != nil {
			return err
		}
	}

	for _, chain := range chains {
		for {
			meta, err := sealer.SealNext(ctx, chain)
			if err != nil {
				return err
			}
			if meta == nil {
				break
			}
			logger.Info("sealed archive",
				zap.String("chain_id", chain),
				zap.String("archive_id", meta.ArchiveID.String()),
				zap.Uint64("sequence_start", meta.SequenceStart.Value()),
				zap.Uint64("sequence_end", meta.SequenceEnd.Value()))
		}
	}
	return nil
}

func printStats(ctx context.Context, archives *database.ArchiveRepository, defaultChain, chainID string) error {
	if chainID == "" {
		chainID = defaultChain
	}

	listed, err := archives.ListArchives(ctx, chainID, time.Time{}, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Printf("archives for chain %s: %d\n", chainID, len(listed))
	for _, meta := range listed {
		fmt.Printf("  %s  %s  seq %d-%d  %d events  %s  replication=%s\n",
			meta.ArchiveID,
			meta.EventDateStart.Format("2006-01-02"),
			meta.SequenceStart.Value(),
			meta.SequenceEnd.Value(),
			meta.EventCount,
			meta.StorageLocation,
			meta.ReplicationStatus)
	}
	return nil
}
