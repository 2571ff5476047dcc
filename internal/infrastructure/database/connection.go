package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig controls the Postgres connection pool
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	HealthInterval  time.Duration
}

// DefaultPoolConfig returns production-leaning pool settings
func DefaultPoolConfig(url string) PoolConfig {
	return PoolConfig{
		URL:             url,
		MaxConns:        25,
		MinConns:        5,
		ConnMaxLifetime: 5 * time.Minute,
		HealthInterval:  30 * time.Second,
	}
}

// ConnectionPool wraps pgxpool with health checking and structured logging.
// All repositories in this package share one pool per process.
type ConnectionPool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewConnectionPool establishes a pool and verifies connectivity before
// returning. A background health check pings at cfg.HealthInterval.
func NewConnectionPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*ConnectionPool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "audit-ledger"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	cp := &ConnectionPool{
		pool:   pool,
		logger: logger,
		cancel: healthCancel,
	}

	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go cp.healthLoop(healthCtx, interval)

	logger.Info("database pool established",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns))

	return cp, nil
}

// Pool exposes the underlying pgx pool for repositories
func (cp *ConnectionPool) Pool() *pgxpool.Pool {
	return cp.pool
}

// Close stops the health loop and closes the pool
func (cp *ConnectionPool) Close() {
	cp.cancel()
	cp.pool.Close()
}

// Transaction runs fn inside a transaction, committing on nil error and
// rolling back otherwise
func (cp *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := cp.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (cp *ConnectionPool) healthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := cp.pool.Ping(pingCtx); err != nil {
				cp.logger.Warn("database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}
