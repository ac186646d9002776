// Package runner wires the pipeline together: resume filtering, batch
// planning, worker fan-out, the single writer, progress reporting, and the
// optional status server.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/api"
	"github.com/savagescraper/savage/internal/batch"
	"github.com/savagescraper/savage/internal/config"
	"github.com/savagescraper/savage/internal/progress"
	"github.com/savagescraper/savage/internal/resume"
	"github.com/savagescraper/savage/internal/scrape"
	"github.com/savagescraper/savage/internal/snapshot"
	"github.com/savagescraper/savage/internal/store"
	"github.com/savagescraper/savage/internal/worker"
	"github.com/savagescraper/savage/internal/writer"
)

// Params are the dependencies for one run. Behavior, Items, Sessions, and
// Store are required; everything else has a usable zero value.
type Params struct {
	Behavior scrape.Behavior
	Items    []scrape.Item
	Workers  int
	Config   config.Config
	Sessions scrape.SessionFactory
	Store    store.RecordStore
	// Snapshots receives raw page markup for unrecovered error pages. Nil
	// disables snapshotting.
	Snapshots *snapshot.Sink
	// Registry hosts the run metrics. Nil disables metrics and /metrics.
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Summary is the outcome of a finished run.
type Summary struct {
	RunID        string
	ItemsPlanned int
	ItemsSkipped int
	Completed    int
	Failed       int
	RowsWritten  int
	RowsDropped  int
	Elapsed      time.Duration
}

// Runner executes one run.
type Runner struct {
	p       Params
	logger  *zap.Logger
	metrics *progress.Metrics
}

// New validates params and builds a Runner. Configuration faults are fatal
// here, before any session starts.
func New(p Params) (*Runner, error) {
	if p.Behavior == nil {
		return nil, fmt.Errorf("behavior is required")
	}
	if p.Sessions == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if err := p.Config.RequireSelectorGroups(p.Behavior.RequiredSelectorGroups()); err != nil {
		return nil, fmt.Errorf("configuration for %s: %w", p.Behavior.Name(), err)
	}

	var metrics *progress.Metrics
	if p.Registry != nil {
		m, err := progress.NewMetrics(p.Registry)
		if err != nil {
			return nil, err
		}
		metrics = m
	}
	return &Runner{p: p, logger: p.Logger, metrics: metrics}, nil
}

// Run drives the whole pipeline and blocks until every worker has exited and
// the writer has drained. Cancelling ctx requests a cooperative stop: workers
// finish their in-flight item, emit it, and exit; nothing already sent to the
// writer is dropped.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := r.logger.With(
		zap.String("run_id", summary.RunID),
		zap.String("scraper", r.p.Behavior.Name()))

	logger.Info("starting run",
		zap.Int("items", len(r.p.Items)),
		zap.Int("workers", r.p.Workers))

	eng := resume.New(r.p.Store, logger)
	items, skipped, err := eng.Filter(ctx, r.p.Items,
		r.p.Behavior.ResumeKeyField(), r.p.Behavior.TrackingKey())
	if err != nil {
		return summary, fmt.Errorf("resume filter: %w", err)
	}
	summary.ItemsSkipped = skipped
	summary.ItemsPlanned = len(items)

	if len(items) == 0 {
		logger.Info("nothing to do, all items already processed")
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	batches := batch.Split(items, r.p.Workers)
	logger.Info("planned batches", zap.Ints("sizes", batch.Sizes(batches)))

	tracker := progress.NewTracker(len(items), r.metrics)

	var status *api.Server
	if addr := r.p.Config.Run.StatusAddr; addr != "" {
		var gatherer prometheus.Gatherer
		if r.p.Registry != nil {
			gatherer = r.p.Registry
		}
		status = api.New(addr, tracker, gatherer, logger)
		status.Start()
	}

	results := make(chan scrape.Result, r.p.Config.Run.ChannelBuffer)

	w := writer.New(r.p.Store, writer.Config{
		Attempts:   uint(r.p.Config.Run.WriteAttempts),
		RetryDelay: r.p.Config.Run.WriteRetryDelay,
	}, r.metrics, logger)
	writerDone := make(chan writer.Stats, 1)
	// The writer outlives cancellation: rows already emitted by workers must
	// still be persisted during a cooperative stop.
	writeCtx := context.WithoutCancel(ctx)
	go func() {
		writerDone <- w.Drain(writeCtx, results)
	}()

	workerStats := make([]worker.Stats, len(batches))
	var wg sync.WaitGroup
	for i, b := range batches {
		if len(b) == 0 {
			continue
		}
		wg.Add(1)
		go func(id int, items scrape.Batch) {
			defer wg.Done()
			workerStats[id] = r.runWorker(ctx, id, items, tracker, results, logger)
		}(i, b)
	}

	reportDone := make(chan struct{})
	go r.report(tracker, logger, reportDone)

	wg.Wait()
	close(results)
	wstats := <-writerDone
	close(reportDone)

	if status != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := status.Shutdown(shutCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
		cancel()
	}

	for _, ws := range workerStats {
		summary.Completed += ws.Completed
		summary.Failed += ws.Failed
	}
	summary.RowsWritten = wstats.RowsWritten
	summary.RowsDropped = wstats.RowsDropped
	summary.Elapsed = time.Since(start)

	logger.Info("run finished",
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.ItemsSkipped),
		zap.Int("rows_written", summary.RowsWritten),
		zap.Int("rows_dropped", summary.RowsDropped),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// runWorker owns one worker's full lifecycle: session creation, batch
// processing, session teardown, and crash containment. A panicking worker is
// logged; items it already finished keep their recorded outcome and only the
// unaccounted remainder of its batch is counted failed. Other workers and the
// writer are unaffected.
func (r *Runner) runWorker(
	ctx context.Context,
	id int,
	items scrape.Batch,
	tracker *progress.Tracker,
	results chan<- scrape.Result,
	logger *zap.Logger,
) (stats worker.Stats) {
	var wk *worker.Worker
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker crashed",
				zap.Int("worker", id),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			// wk.Run never returned, so pick up the counts it accumulated
			// before the crash and fail only the items it never finished.
			if wk != nil {
				stats = wk.Stats()
			}
			for n := stats.Completed + stats.Failed; n < len(items); n++ {
				tracker.ItemFailed()
				stats.Failed++
			}
		}
	}()

	session, err := r.p.Sessions(ctx, id)
	if err != nil {
		logger.Error("session creation failed, failing batch",
			zap.Int("worker", id),
			zap.Int("items", len(items)),
			zap.Error(err))
		for range items {
			tracker.ItemFailed()
		}
		return worker.Stats{Failed: len(items)}
	}
	defer func() {
		if cerr := session.Close(context.Background()); cerr != nil {
			logger.Warn("session close failed", zap.Int("worker", id), zap.Error(cerr))
		}
	}()

	wk = worker.New(worker.Config{
		ID:           id,
		NavTimeout:   r.p.Config.Run.NavTimeout,
		ReadyTimeout: r.p.Config.Run.ReadyTimeout,
		PollInterval: r.p.Config.Run.PollInterval,
	}, r.p.Behavior, session, r.p.Config.Selectors, r.p.Snapshots, tracker, results, logger)
	stats = wk.Run(ctx, items)
	return stats
}

// report logs a progress line on a fixed cadence until the run ends.
func (r *Runner) report(tracker *progress.Tracker, logger *zap.Logger, done <-chan struct{}) {
	interval := r.p.Config.Run.ReportInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s := tracker.Snapshot()
			fields := []zap.Field{
				zap.Int64("completed", s.Completed),
				zap.Int64("failed", s.Failed),
				zap.Int64("total", s.Total),
				zap.String("percent", fmt.Sprintf("%.1f%%", s.Percent())),
				zap.Duration("elapsed", s.Elapsed.Round(time.Second)),
			}
			if s.ETAKnown {
				fields = append(fields,
					zap.Float64("items_per_sec", s.Rate),
					zap.Duration("eta", s.ETA.Round(time.Second)))
			}
			logger.Info("progress", fields...)
		}
	}
}
