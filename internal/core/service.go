package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/carvalue/internal/config"
	"github.com/JonMunkholm/carvalue/internal/logging"
)

var (
	// ErrNoSource is returned when an import is started without a feed.
	ErrNoSource = errors.New("no feed source provided")

	// ErrStoreUnavailable is returned by Ping when the record store cannot
	// be reached.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// ServiceConfig carries the values the service needs from configuration.
type ServiceConfig struct {
	BatchSize            int
	MaxConcurrentImports int
	ImportWait           time.Duration
	Policy               Policy
}

// NewServiceConfig maps application configuration onto the service.
func NewServiceConfig(cfg *config.Config) ServiceConfig {
	v := cfg.Valuation
	return ServiceConfig{
		BatchSize:            cfg.Import.BatchSize,
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		ImportWait:           cfg.Import.AcquireTimeout,
		Policy: Policy{
			Filter:             FilterPolicy(v.Filter),
			Estimator:          EstimatorKind(v.Estimator),
			Ranking:            RankingPolicy(v.Ranking),
			TrimFraction:       decimal.NewFromFloat(v.TrimFraction),
			StdDevMultiple:     decimal.NewFromFloat(v.StdDevMultiple),
			DepreciationPer10k: decimal.NewFromInt(int64(v.DepreciationPer10k)),
			Statuses:           v.Statuses,
		},
	}
}

// ImportOptions describes one import run.
type ImportOptions struct {
	// Source is the file path, URL or upload name, recorded with the run.
	Source string
	// SourceLabel is a short display name for the source.
	SourceLabel string
	// Size is the feed size in bytes if known. It lets ActiveImports report
	// a percentage.
	Size int64
	// Limit caps the data rows read; zero means all.
	Limit  int
	DryRun bool
	// BatchSize overrides the configured batch size when positive.
	BatchSize int
}

// Service ties the record store to the import pipeline and the valuation
// engine. It is shared by the HTTP server and the import CLI.
type Service struct {
	store     Store
	engine    *Engine
	limiter   *ImportLimiter
	batchSize int
	now       func() time.Time
}

// NewService creates a Service over store.
func NewService(store Store, cfg ServiceConfig) (*Service, error) {
	engine, err := NewEngine(store, cfg.Policy)
	if err != nil {
		return nil, err
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{
		store:     store,
		engine:    engine,
		limiter:   NewImportLimiter(cfg.MaxConcurrentImports, cfg.ImportWait),
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

// Estimate values one vehicle.
func (s *Service) Estimate(ctx context.Context, q EstimateQuery) (*ValuationResult, error) {
	return s.engine.Estimate(ctx, q)
}

// Policy returns the valuation policy in effect.
func (s *Service) Policy() Policy { return s.engine.Policy() }

// RunImport reads a feed (header first) from r and imports it. Non-dry runs
// hold an import slot for their whole duration and are recorded in the run
// history. The returned run is non-nil whenever the import started, even if
// it failed part way; err then describes the failure.
func (s *Service) RunImport(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportRun, error) {
	if r == nil {
		return nil, ErrNoSource
	}

	batchSize := s.batchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}

	run := &ImportRun{
		ID:          uuid.New(),
		Source:      opts.Source,
		SourceLabel: opts.SourceLabel,
		RequestedBy: RequesterFromContext(ctx),
		DryRun:      opts.DryRun,
		BatchSize:   batchSize,
		StartedAt:   s.now().UTC(),
	}
	ctx = logging.WithImportRun(ctx, run.ID.String())
	logger := logging.FromContext(ctx)

	feed := NewFeedReader(r, opts.Size, ReadOptions{SkipHeader: true, Limit: opts.Limit})

	if !opts.DryRun {
		release, err := s.limiter.Acquire(ctx, ActiveImport{ID: run.ID, Source: opts.Source, StartedAt: run.StartedAt, feed: feed})
		if err != nil {
			return nil, err
		}
		defer release()
	}

	logger.Info("import started",
		"source", opts.Source,
		"label", opts.SourceLabel,
		"dry_run", opts.DryRun,
		"batch_size", batchSize,
		"limit", opts.Limit,
	)

	stats, err := NewImporter(s.store, batchSize).Import(ctx, feed.Lines(), opts.DryRun)
	if err == nil && feed.Err() != nil {
		err = fmt.Errorf("read feed after %d bytes: %w", feed.BytesRead(), feed.Err())
	}

	run.Stats = stats
	run.FinishedAt = s.now().UTC()
	run.Status = RunCompleted
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		logger.Error("import failed", "error", err, "rows", stats.TotalRows)
	}

	if !opts.DryRun {
		// The run outcome is recorded even when the caller has gone away.
		if recErr := s.store.RecordImportRun(context.WithoutCancel(ctx), *run); recErr != nil {
			logger.Warn("failed to record import run", "error", recErr)
		}
	}

	return run, err
}

// ImportRuns lists the most recent recorded runs, newest first.
func (s *Service) ImportRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.store.ListImportRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return runs, nil
}

// ActiveImports returns the runs currently in progress.
func (s *Service) ActiveImports() []ActiveImport {
	return s.limiter.Active()
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Drain waits for in-flight imports to finish.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
