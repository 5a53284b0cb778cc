// Package app is the composition root: it wires every pipeline component
// built from config into a single Application, following the teacher's
// bootstrap.go/lifecycle.go/router.go split without the KubeVirt- and
// JWT-specific module registry this module has no use for (there is one
// fixed set of components, not pluggable domain modules).
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap"

	"docgen.io/pipeline/ent"
	"docgen.io/pipeline/ent/job"
	"docgen.io/pipeline/internal/api/handlers"
	"docgen.io/pipeline/internal/config"
	"docgen.io/pipeline/internal/docxcodec"
	"docgen.io/pipeline/internal/governance/audit"
	"docgen.io/pipeline/internal/modelclient"
	"docgen.io/pipeline/internal/objectstore"
	"docgen.io/pipeline/internal/pipeline/assembler"
	"docgen.io/pipeline/internal/pipeline/batch"
	"docgen.io/pipeline/internal/pipeline/coordinator"
	"docgen.io/pipeline/internal/pipeline/generator"
	"docgen.io/pipeline/internal/pipeline/ingest"
	"docgen.io/pipeline/internal/pipeline/regen"
	"docgen.io/pipeline/internal/pipeline/renderer"
	"docgen.io/pipeline/internal/pipeline/scheduler"
	"docgen.io/pipeline/internal/pipeline/seed"
	"docgen.io/pipeline/internal/pipeline/store"
	"docgen.io/pipeline/internal/pipeline/validator"
	"docgen.io/pipeline/internal/pkg/logger"
	"docgen.io/pipeline/internal/pkg/telemetry"
	"docgen.io/pipeline/internal/pkg/worker"
)

// Application holds every top-level dependency the server and worker
// entrypoints need, alive for the process lifetime.
type Application struct {
	Config *config.Config
	Router *gin.Engine

	Pool        *pgxpool.Pool
	DB          *sql.DB
	EntClient   *ent.Client
	RiverClient *river.Client[pgx.Tx]
	Pools       *worker.Pools
	Tracer      telemetry.TracerProvider

	Store     *store.Store
	Audit     *audit.Logger
	Scheduler *scheduler.Scheduler
	Server    *handlers.Server

	schedCancel context.CancelFunc
}

// Bootstrap wires the full dependency graph from cfg: database, object
// store, model client, pipeline components, the job scheduler, and the
// HTTP server, mirroring the teacher's NewInfrastructure -> NewServerDeps
// composition order.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	pool, db, entClient, err := newDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	objects, err := newObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		entClient.Close()
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	model, err := newModelClient(cfg.Model)
	if err != nil {
		entClient.Close()
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("init model client: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		ModelPoolSize:   cfg.Worker.ModelPoolSize,
	})
	if err != nil {
		entClient.Close()
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Enabled)
	if err != nil {
		pools.Shutdown()
		entClient.Close()
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}

	s := store.New(entClient)
	auditLogger := audit.NewLogger(entClient)
	parser := docxcodec.NewLineFormatParser()
	renderCodec := docxcodec.NewLineFormatRenderer()

	constraints := validator.Constraints{
		MinLength:  cfg.Pipeline.MinContentLength,
		MaxLength:  cfg.Pipeline.MaxContentLength,
		Structural: validator.DefaultStructuralConfig(),
		Quality:    overrideQualityConfig(cfg.Pipeline),
	}

	gen := generator.New(s, model, constraints, generator.Config{
		MaxRetries:  cfg.Pipeline.MaxGenerationAttempts,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}, generator.RealSleeper{})

	exec := batch.New(s, gen, pools.General)
	asm := assembler.New(s, objects, parser)
	rend := renderer.New(s, objects, renderCodec, nil)
	coord := coordinator.New(s, auditLogger, objects, parser, asm, exec, rend)
	planner := regen.New(s, auditLogger)
	ingestor := ingest.New(s, objects, parser)
	seeder := seed.New(s, objects, parser)

	sched := scheduler.New(s, auditLogger, workerID(), time.Second)
	registerJobHandlers(sched, s, ingestor, coord)

	riverClient, err := newRiverClient(pool, cfg.River, s)
	if err != nil {
		pools.Shutdown()
		entClient.Close()
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("init river client: %w", err)
	}
	riverClient.PeriodicJobs().Add(
		river.NewPeriodicJob(
			river.PeriodicInterval(15*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return scheduler.RequeueStuckJobsArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	)

	srv := handlers.NewServer(handlers.ServerDeps{
		Store:       s,
		Planner:     planner,
		Coordinator: coord,
		Renderer:    rend,
		Seeder:      seeder,
		Audit:       auditLogger,
	})

	return &Application{
		Config:      cfg,
		Router:      newRouter(cfg, srv),
		Pool:        pool,
		DB:          db,
		EntClient:   entClient,
		RiverClient: riverClient,
		Pools:       pools,
		Tracer:      tp,
		Store:       s,
		Audit:       auditLogger,
		Scheduler:   sched,
		Server:      srv,
	}, nil
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func newDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, *sql.DB, *ent.Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolCfg.HealthCheckPeriod = time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	entDriver := entsql.OpenDB(dialect.Postgres, db)
	entClient := ent.NewClient(ent.Driver(entDriver))

	logger.Info("database connection pool created",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
	)
	return pool, db, entClient, nil
}

func newObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return objectstore.NewGCSStore(client, cfg.GCSBucket), nil
	case "memory":
		return objectstore.NewMemoryStore(), nil
	case "local", "":
		path := cfg.LocalPath
		if path == "" {
			path = "./data/objects"
		}
		return objectstore.NewLocalStore(path)
	default:
		return nil, fmt.Errorf("unknown object_store.backend %q", cfg.Backend)
	}
}

func newModelClient(cfg config.ModelConfig) (modelclient.ModelClient, error) {
	switch cfg.Provider {
	case "anthropic":
		return modelclient.NewAnthropicClient(modelclient.AnthropicConfig{
			APIKey:             cfg.APIKey,
			BaseURL:            cfg.Endpoint,
			Model:              cfg.Model,
			Timeout:            cfg.Timeout,
			BreakerMaxFailures: cfg.BreakerMaxFail,
			BreakerOpenTimeout: cfg.BreakerTimeout,
		}), nil
	case "deterministic", "":
		return modelclient.NewDeterministicClient(), nil
	default:
		return nil, fmt.Errorf("unknown model.provider %q", cfg.Provider)
	}
}

func overrideQualityConfig(cfg config.PipelineConfig) validator.QualityConfig {
	q := validator.DefaultQualityConfig()
	if cfg.RepetitionRatioMax > 0 {
		q.MaxRepetitionRatio = cfg.RepetitionRatioMax
	}
	if cfg.MinUniqueWordCount > 0 {
		q.MinUniqueWords = cfg.MinUniqueWordCount
	}
	if cfg.NearEmptyThreshold > 0 {
		q.MinMeaningfulLength = cfg.NearEmptyThreshold
	}
	return q
}

// registerJobHandlers binds the scheduler's three job types to the
// ingestion and coordinator operations that actually perform the work
// (§3: parse and classify drive the TemplateVersion/Section lifecycle,
// generate drives the Pipeline Coordinator).
func registerJobHandlers(sched *scheduler.Scheduler, s *store.Store, ingestor *ingest.Ingestor, coord *coordinator.Coordinator) {
	sched.RegisterHandler(job.JobTypeParse, func(ctx context.Context, j *ent.Job) (map[string]interface{}, error) {
		tvID, _ := j.Payload["template_version_id"].(string)
		tv, err := ingestor.ParseTemplateVersion(ctx, tvID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"template_version_id": tv.ID, "parsing_status": string(tv.ParsingStatus)}, nil
	})

	sched.RegisterHandler(job.JobTypeClassify, func(ctx context.Context, j *ent.Job) (map[string]interface{}, error) {
		tvID, _ := j.Payload["template_version_id"].(string)
		sections, err := ingestor.ClassifySections(ctx, tvID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"template_version_id": tvID, "section_count": len(sections)}, nil
	})

	sched.RegisterHandler(job.JobTypeGenerate, func(ctx context.Context, j *ent.Job) (map[string]interface{}, error) {
		docID, _ := j.Payload["document_id"].(string)
		tvID, _ := j.Payload["template_version_id"].(string)
		clientData, _ := j.Payload["client_data"].(map[string]interface{})
		correlationID, _ := j.Payload["correlation_id"].(string)
		forceRegenerate, _ := j.Payload["force_regenerate"].(bool)
		if correlationID == "" {
			correlationID = j.ID
		}

		doc, err := s.GetDocument(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("get document %s: %w", docID, err)
		}
		versionIntent := doc.CurrentVersion + 1

		outcome, err := coord.GenerateVersion(ctx, docID, tvID, versionIntent, clientData, nil, forceRegenerate, correlationID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"document_id":         docID,
			"document_version_id": outcome.DocumentVersion.ID,
			"version":             versionIntent,
		}, nil
	})
}

func newRiverClient(pool *pgxpool.Pool, cfg config.RiverConfig, s *store.Store) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	staleAfter := cfg.CompletedJobRetentionPeriod
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	river.AddWorker(workers, scheduler.NewRequeueStuckJobsWorker(s, staleAfter))

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:                     workers,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}
