// Package writer drains the result channel into the record store. It is the
// only goroutine that touches the store during a run, so the store itself
// never needs to coordinate concurrent writers.
package writer

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/progress"
	"github.com/savagescraper/savage/internal/scrape"
	"github.com/savagescraper/savage/internal/store"
)

// Config controls write retry behavior.
type Config struct {
	// Attempts is the total number of tries per row, first try included.
	Attempts uint
	// RetryDelay is the fixed pause between tries.
	RetryDelay time.Duration
}

// Stats summarizes a finished drain.
type Stats struct {
	RowsWritten int
	RowsDropped int
}

// Writer consumes results until the channel is closed and drained. Rows that
// exhaust their retries are logged and counted but never stop the drain; a
// single bad row must not sink the rest of the run.
type Writer struct {
	store   store.RecordStore
	cfg     Config
	metrics *progress.Metrics
	logger  *zap.Logger
}

// New constructs a Writer. metrics may be nil.
func New(st store.RecordStore, cfg Config, metrics *progress.Metrics, logger *zap.Logger) *Writer {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: st, cfg: cfg, metrics: metrics, logger: logger}
}

// Drain consumes the channel to exhaustion. It returns only after the channel
// is closed and every buffered result has been handled, so closing the
// channel is the orchestrator's end-of-run signal. ctx bounds individual
// write retries, not the drain itself: even under cancellation the writer
// keeps accepting rows so no worker blocks on a full channel.
func (w *Writer) Drain(ctx context.Context, results <-chan scrape.Result) Stats {
	var stats Stats
	for res := range results {
		if err := w.write(ctx, res); err != nil {
			stats.RowsDropped++
			if w.metrics != nil {
				w.metrics.WriteFailed()
			}
			w.logger.Error("dropping row after exhausting write retries",
				zap.Error(err),
				zap.Any("row", res))
			continue
		}
		stats.RowsWritten++
		if w.metrics != nil {
			w.metrics.RowWritten()
		}
	}
	w.logger.Info("writer drained",
		zap.Int("rows_written", stats.RowsWritten),
		zap.Int("rows_dropped", stats.RowsDropped))
	return stats
}

// write appends one row, retrying with a fixed delay. Before the first retry
// it snapshots the store to a backup so a corrupting failure mode cannot eat
// previously persisted rows.
func (w *Writer) write(ctx context.Context, res scrape.Result) error {
	backedUp := false
	return retry.Do(
		func() error {
			return w.store.Append(ctx, res)
		},
		retry.Attempts(w.cfg.Attempts),
		retry.Delay(w.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("write attempt failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err))
			if backedUp {
				return
			}
			backedUp = true
			path, berr := w.store.Backup(ctx)
			if berr != nil {
				w.logger.Warn("output backup failed", zap.Error(berr))
				return
			}
			if path != "" {
				w.logger.Info("backed up output before retrying", zap.String("path", path))
			}
		}),
	)
}
