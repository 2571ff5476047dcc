// The api binary serves the audit ledger HTTP API: batch ingestion, offline
// reconciliation, integrity queries and the websocket activity feed.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/api/rest"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/archive"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/cache"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/database"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/telemetry"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
	"github.com/meridianid/audit-ledger-backend/internal/service/ingest"
	"github.com/meridianid/audit-ledger-backend/internal/service/reconcile"
	"github.com/meridianid/audit-ledger-backend/internal/service/seal"
	"github.com/meridianid/audit-ledger-backend/internal/service/verify"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	zapLogger, err := telemetry.SetupZapLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "ledger-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			zapLogger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewConnectionPool(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, zapLogger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := database.NewLedgerStore(pool, zapLogger)
	runs := database.NewVerificationRepository(pool)
	incidents := database.NewIncidentRepository(pool)
	merges := database.NewMergeRepository(pool)
	archives := database.NewArchiveRepository(pool)

	// Redis is advisory: without it dedup falls back to the database
	// uniqueness check and rate limiting to a per-process bucket
	var dedup ingest.DedupChecker
	var limiter *cache.RateLimiter
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(&cfg.Redis, zapLogger)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		dedup = cache.NewDedupCache(client, zapLogger, cfg.Ledger.DedupCacheTTL)
		limiter = cache.NewRateLimiter(client, zapLogger)
	} else {
		zapLogger.Warn("redis not configured, running without shared dedup cache")
	}

	reg := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := reg.Register(promReg); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	coordinator := ingest.NewCoordinator(store, dedup, ingest.Config{
		MaxBatchSize:  cfg.Ledger.MaxBatchSize,
		AppendRetries: cfg.Ledger.AppendRetries,
		RetryBackoff:  cfg.Ledger.RetryBackoff,
	}, reg, zapLogger)
	reconciler := reconcile.NewReconciler(coordinator, store, merges, reg, zapLogger)
	verifier := verify.NewVerifier(store, runs, incidents,
		verify.Config{BatchSize: cfg.Verifier.BatchSize}, reg, zapLogger)

	var sealer *seal.Sealer
	if cfg.Archive.Bucket != "" {
		exporter, err := archive.NewExporter(ctx, cfg.Archive, zapLogger)
		if err != nil {
			log.Fatalf("failed to initialize archive storage: %v", err)
		}
		sealer = seal.NewSealer(store, archives, incidents, exporter, seal.Config{
			RetentionYears: cfg.Archive.RetentionYears,
			PurgeGrace:     cfg.Archive.PurgeGrace,
			MinRangeAge:    cfg.Archive.MinRangeAge,
		}, reg, zapLogger)
	} else {
		zapLogger.Warn("archive bucket not configured, sealing endpoints disabled")
	}

	handler := rest.NewHandler(rest.HandlerDeps{
		Coordinator:  coordinator,
		Reconciler:   reconciler,
		Verifier:     verifier,
		Sealer:       sealer,
		Store:        store,
		Runs:         runs,
		Incidents:    incidents,
		Merges:       merges,
		Archives:     archives,
		DefaultChain: cfg.Ledger.DefaultChainID,
		Logger:       logger,
	})

	router := rest.NewRouter(handler, rest.RouterDeps{
		Security: cfg.Security,
		Limiter:  limiter,
		Registry: reg,
		Gatherer: promReg,
	})

	server := rest.NewServer(cfg.Server, router, logger)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
