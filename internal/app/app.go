// Package app performs the explicit startup sequence shared by the binaries:
// directories, schema, bucket and the pipeline wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/database"
	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/metrics"
	"github.com/dharsanguruparan/xmlgate/internal/notify"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
	"github.com/dharsanguruparan/xmlgate/internal/repository"
	"github.com/dharsanguruparan/xmlgate/internal/rules"
	"github.com/dharsanguruparan/xmlgate/internal/s3storage"
)

// App holds the initialised dependencies.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	DB       *pgxpool.Pool
	Rules    *repository.RuleRepository
	Messages *repository.MessageRepository
	Jobs     *repository.JobRepository
	Archive  *s3storage.Storage
	Outputs  *notify.Writer
	Pipeline *ingest.Pipeline
}

// New runs the startup sequence. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if err := EnsureDirs(cfg); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	archive, err := s3storage.New(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := archive.EnsureBuckets(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure buckets: %w", err)
	}
	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		Metrics:  m,
		DB:       pool,
		Rules:    repository.NewRuleRepository(pool),
		Messages: repository.NewMessageRepository(pool),
		Jobs:     repository.NewJobRepository(pool),
		Archive:  archive,
		Outputs:  notify.NewWriter(cfg.OutputDir),
	}
	a.Pipeline = ingest.NewPipeline(ingest.Deps{
		Resolver: rules.NewResolver(a.Rules),
		Store:    a.Messages,
		Ledger:   a.Jobs,
		Archive:  a.Archive,
		Notifier: a.Outputs,
		Metrics:  m,
		Logger:   log,
	}, ingest.Options{InputDir: cfg.InputDir, RemoveProcessed: cfg.RemoveProcessed})
	log.Info("startup complete", "input_dir", cfg.InputDir, "output_dir", cfg.OutputDir, "bucket", cfg.ArchiveBucket)
	return a, nil
}

// Scanner returns a scanner feeding enqueuer.
func (a *App) Scanner(enqueuer queue.Enqueuer) *ingest.Scanner {
	return ingest.NewScanner(a.Config.InputDir, a.Jobs, enqueuer, a.Metrics, a.Log)
}

// Close releases the database pool.
func (a *App) Close() {
	a.DB.Close()
}

// EnsureDirs creates the input and output directories.
func EnsureDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.InputDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
