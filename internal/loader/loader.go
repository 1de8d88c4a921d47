// Package loader drains extracted registry records into the store in
// bounded, individually committed batches.
package loader

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/msklv/inn-smsp-registry/internal/batch"
	"github.com/msklv/inn-smsp-registry/internal/logging"
	"github.com/msklv/inn-smsp-registry/internal/metrics"
	"github.com/msklv/inn-smsp-registry/internal/registry"
)

// Upserter is the store side of a load pass.
type Upserter interface {
	EnsureSchema(ctx context.Context) error
	UpsertBatch(ctx context.Context, records []registry.Record) (int, error)
}

// Summary is reported at the end of a successful pass.
type Summary struct {
	Files          int
	SkippedFiles   int
	Records        int
	SkippedRecords int
	Loaded         int
	Batches        int
	Elapsed        time.Duration
}

// Loader batches records into the store. Each batch is one transaction, so
// an interrupted pass loses at most the batch in flight; re-running the pass
// converges because every write is an upsert.
type Loader struct {
	store     Upserter
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the progress logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records committed batches in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New returns a Loader committing every batchSize records.
func New(store Upserter, batchSize int, opts ...Option) (*Loader, error) {
	if store == nil {
		return nil, fmt.Errorf("loader: nil store")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("loader: batch size must be positive, got %d", batchSize)
	}
	l := &Loader{
		store:     store,
		batchSize: batchSize,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run extracts every record under dir and loads it. Listing problems are
// returned before the schema is touched; store errors abort the pass.
func (l *Loader) Run(ctx context.Context, ex *registry.Extractor, dir string) (*Summary, error) {
	start := time.Now()

	records, err := ex.Records(ctx, dir)
	if err != nil {
		return nil, err
	}

	if err := l.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	loaded, batches, err := l.Load(ctx, records)

	stats := ex.Stats()
	summary := &Summary{
		Files:          stats.Files,
		SkippedFiles:   stats.SkippedFiles,
		Records:        stats.Records,
		SkippedRecords: stats.SkippedRecords,
		Loaded:         loaded,
		Batches:        batches,
		Elapsed:        time.Since(start),
	}
	return summary, err
}

// Load drains records into the store and returns how many records and
// batches were committed. The partial last batch is flushed at the end of
// the sequence; nothing is flushed after ctx is cancelled.
func (l *Loader) Load(ctx context.Context, records iter.Seq[registry.Record]) (loaded, batches int, err error) {
	acc, err := batch.New[registry.Record](l.batchSize, batch.SinkFunc[registry.Record](l.flush))
	if err != nil {
		return 0, 0, err
	}

	for rec := range records {
		if !acc.Add(rec) {
			continue
		}
		if _, err := acc.Flush(ctx); err != nil {
			return acc.Total(), acc.Batches(), err
		}
		l.logger.Info("loaded", "total", acc.Total(), "batches", acc.Batches())
	}

	if err := ctx.Err(); err != nil {
		return acc.Total(), acc.Batches(), fmt.Errorf("load interrupted with %d records pending: %w", acc.Len(), err)
	}
	if _, err := acc.Flush(ctx); err != nil {
		return acc.Total(), acc.Batches(), err
	}
	return acc.Total(), acc.Batches(), nil
}

func (l *Loader) flush(ctx context.Context, records []registry.Record) (int, error) {
	start := time.Now()
	n, err := l.store.UpsertBatch(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("load batch of %d records (first %s from %s): %w",
			len(records), records[0].Identifier, records[0].SourceFile, err)
	}
	took := time.Since(start)
	l.metrics.ObserveUpsert(n, took)
	l.logger.Debug("batch committed", "rows", n, "last_source_file", records[len(records)-1].SourceFile,
		"took", took.Round(time.Millisecond))
	return n, nil
}
