// Package infrastructure wires up the shared Postgres connection pool behind
// both the Ent client the pipeline stores run against (including the
// row-locked job claim, which goes through Ent's own ForUpdate/SkipLocked
// query builder) and an optional River client for background jobs.
package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"docgen.io/pipeline/ent"
	entmigrate "docgen.io/pipeline/ent/migrate"
	"docgen.io/pipeline/internal/config"
	"docgen.io/pipeline/internal/pkg/logger"
)

// DatabaseClients holds every database-facing client the pipeline needs,
// all backed by one pgxpool so a stage's Ent writes and the job scheduler's
// River enqueue share the same pool rather than each opening its own.
type DatabaseClients struct {
	// Pool is the shared connection pool (Ent + River).
	Pool *pgxpool.Pool

	// DB is the *sql.DB wrapper around Pool for Ent ORM.
	// Created via stdlib.OpenDBFromPool to reuse pgxpool connections.
	DB *sql.DB

	// EntClient is the Ent ORM client backed by the shared pool.
	EntClient *ent.Client

	// RiverClient is the River job queue client backed by the shared pool.
	RiverClient *river.Client[pgx.Tx]

	// WorkerPool is optional: separate pool for PgBouncer scenarios.
	// nil means reuse Pool.
	WorkerPool *pgxpool.Pool
}

// NewDatabaseClients opens the shared pool and builds the Ent client on top
// of it via stdlib.OpenDBFromPool, so pipeline stores and the job scheduler
// never each open their own pool against the same database.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	dsn := cfg.DSN()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// timestamps recorded across the pipeline (TimeMixin, audit_log) are UTC.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	entDriver := entsql.OpenDB(dialect.Postgres, db)
	entClient := ent.NewClient(ent.Driver(entDriver))

	logger.Info("database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)

	// WorkerPool is only set when the job worker process points at a
	// PgBouncer host separate from the API server's direct connection.
	var workerPool *pgxpool.Pool
	if cfg.WorkerHost != "" {
		workerDSN := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.WorkerHost, cfg.WorkerPort, cfg.Database, cfg.SSLMode)
		workerPool, err = pgxpool.New(ctx, workerDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
	}

	return &DatabaseClients{
		Pool:       pool,
		DB:         db,
		EntClient:  entClient,
		WorkerPool: workerPool,
	}, nil
}

// AutoMigrate creates every pipeline table defined under ent/schema plus
// River's own queue tables. Development convenience only — a real
// deployment should run migrations ahead of time rather than on boot.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	logger.Info("running ent auto-migration")
	if err := c.EntClient.Schema.Create(ctx,
		entmigrate.WithDropIndex(true),
		entmigrate.WithDropColumn(true),
		entmigrate.WithForeignKeys(true),
	); err != nil {
		return fmt.Errorf("ent auto-migrate: %w", err)
	}
	logger.Info("ent auto-migration completed")

	logger.Info("running river migration")
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("river migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("river migration: already up-to-date")
	}

	return nil
}

// InitRiverClient builds a River client on the shared pool, registering
// whatever workers the caller passes in.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, cfg config.RiverConfig) error {
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:                     workers,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("river client initialized", zap.Int("max_workers", cfg.MaxWorkers))
	return nil
}

// GetWorkerPool returns the worker connection pool.
// Returns WorkerPool if configured, otherwise returns shared Pool.
func (c *DatabaseClients) GetWorkerPool() *pgxpool.Pool {
	if c.WorkerPool != nil {
		return c.WorkerPool
	}
	return c.Pool
}

// Close closes all connection pools gracefully.
func (c *DatabaseClients) Close() {
	if c.EntClient != nil {
		c.EntClient.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.WorkerPool != nil {
		c.WorkerPool.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
