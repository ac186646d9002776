// Package worker implements the per-item extraction state machine.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/progress"
	"github.com/savagescraper/savage/internal/scrape"
	"github.com/savagescraper/savage/internal/snapshot"
)

// State is a step of the per-item state machine.
type State string

// Worker states.
const (
	StateIdle          State = "IDLE"
	StateNavigating    State = "NAVIGATING"
	StateAwaitingReady State = "AWAITING_READY"
	StateErrorCheck    State = "ERROR_CHECK"
	StateExtracting    State = "EXTRACTING"
	StateEmitting      State = "EMITTING"
	StateDone          State = "DONE"
)

// Selector groups with pipeline-level meaning. Behaviors reference their own
// groups; these two are shared by every behavior that wants error-page
// recovery.
const (
	GroupErrorIndicator = "error_page_indicator"
	GroupErrorHandler   = "error_page_handler"
)

// Config controls Worker timing.
type Config struct {
	ID           int
	NavTimeout   time.Duration
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// Stats are one worker's item counts. Completed+Failed equals the batch size
// once the worker finishes a full batch.
type Stats struct {
	Completed int
	Failed    int
}

// Worker drives one batch through the extraction state machine, emitting
// every produced Result onto the shared output channel. Workers never
// communicate with each other; the session, batch, and stats are private.
type Worker struct {
	cfg       Config
	behavior  scrape.Behavior
	session   scrape.Session
	selectors map[string][]string
	snapshots *snapshot.Sink
	tracker   *progress.Tracker
	results   chan<- scrape.Result
	logger    *zap.Logger

	state State
	stats Stats
}

// New constructs a Worker.
func New(
	cfg Config,
	behavior scrape.Behavior,
	session scrape.Session,
	selectors map[string][]string,
	snapshots *snapshot.Sink,
	tracker *progress.Tracker,
	results chan<- scrape.Result,
	logger *zap.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:       cfg,
		behavior:  behavior,
		session:   session,
		selectors: selectors,
		snapshots: snapshots,
		tracker:   tracker,
		results:   results,
		logger:    logger.With(zap.Int("worker", cfg.ID)),
		state:     StateIdle,
	}
}

// State returns the worker's current state machine step.
func (w *Worker) State() State {
	return w.state
}

// Stats returns the counts accumulated so far. The orchestrator reads this
// after a crash to tell items the worker genuinely finished from the
// unaccounted remainder of its batch.
func (w *Worker) Stats() Stats {
	return w.stats
}

// Run processes the batch strictly in order. Cancellation is cooperative: the
// stop signal is polled between items, so the in-flight item always completes
// and is fully emitted before the worker exits. Item-level faults never abort
// the batch.
func (w *Worker) Run(ctx context.Context, batch scrape.Batch) Stats {
	defer func() { w.state = StateDone }()

	for i, item := range batch {
		if ctx.Err() != nil {
			w.logger.Info("stop requested, leaving remaining items for a future run",
				zap.Int("remaining", len(batch)-i))
			break
		}
		w.state = StateIdle
		w.logger.Info("processing item",
			zap.Int("index", i+1),
			zap.Int("batch_size", len(batch)),
			zap.String("target", item.Field(w.behavior.TrackingKey())))

		start := time.Now()
		ok := w.processItem(ctx, item)
		w.tracker.ObserveItem(time.Since(start))

		if ok {
			w.stats.Completed++
			w.tracker.ItemCompleted()
		} else {
			w.stats.Failed++
			w.tracker.ItemFailed()
		}
	}
	return w.stats
}

// processItem runs one item through NAVIGATING → AWAITING_READY →
// ERROR_CHECK → EXTRACTING → EMITTING and reports success. Every failure path
// still emits the empty-result placeholder so the item stays accounted for in
// output.
func (w *Worker) processItem(ctx context.Context, item scrape.Item) bool {
	target := item.Field(w.behavior.TrackingKey())
	if target == "" {
		w.logger.Warn("item is missing tracking key, marking failed",
			zap.String("tracking_key", w.behavior.TrackingKey()))
		return false
	}

	w.state = StateNavigating
	navCtx, cancel := context.WithTimeout(ctx, w.cfg.NavTimeout)
	err := w.session.Navigate(navCtx, target)
	cancel()
	if err != nil {
		w.logger.Warn("navigation failed", zap.String("target", target), zap.Error(err))
		w.emitEmpty(item)
		return false
	}

	w.state = StateAwaitingReady
	if !w.awaitReady(ctx) {
		w.logger.Warn("page not ready before timeout", zap.String("target", target))
		w.emitEmpty(item)
		return false
	}

	w.state = StateErrorCheck
	if !w.clearErrorPage(ctx, target) {
		w.emitEmpty(item)
		return false
	}

	w.state = StateExtracting
	results := w.extract(ctx, item)

	w.state = StateEmitting
	w.emit(results)
	return true
}

// awaitReady polls the ready selector group until it matches or the ready
// timeout elapses.
func (w *Worker) awaitReady(ctx context.Context) bool {
	selectors := w.selectors[w.behavior.ReadySelectorGroup()]
	deadline := time.Now().Add(w.cfg.ReadyTimeout)
	for {
		els, err := w.session.FindElements(ctx, selectors)
		if err != nil {
			w.logger.Debug("ready poll failed", zap.Error(err))
		}
		if len(els) > 0 {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// clearErrorPage evaluates the error-indicator group. A tripped indicator
// gets one handler attempt and one re-check; if still tripped the raw page is
// snapshotted and the item fails. Behaviors without the indicator group skip
// the check entirely.
func (w *Worker) clearErrorPage(ctx context.Context, target string) bool {
	indicator := w.selectors[GroupErrorIndicator]
	if len(indicator) == 0 {
		return true
	}
	els, err := w.session.FindElements(ctx, indicator)
	if err != nil || len(els) == 0 {
		return true
	}
	w.logger.Warn("error page detected", zap.String("target", target))

	if handler := w.selectors[GroupErrorHandler]; len(handler) > 0 {
		if err := w.session.Click(ctx, handler); err != nil {
			w.logger.Warn("error page handler failed", zap.Error(err))
		}
	}
	els, err = w.session.FindElements(ctx, indicator)
	if err != nil || len(els) == 0 {
		w.logger.Info("error page handled", zap.String("target", target))
		return true
	}

	w.saveSnapshot(ctx, target)
	return false
}

func (w *Worker) saveSnapshot(ctx context.Context, target string) {
	if w.snapshots == nil {
		return
	}
	html, err := w.session.PageSource(ctx)
	if err != nil {
		w.logger.Warn("could not capture page source for snapshot", zap.Error(err))
		return
	}
	if _, err := w.snapshots.Save(ctx, target, html); err != nil {
		w.logger.Warn("snapshot save failed", zap.Error(err))
	}
}

// extract locates the category elements and turns each into a Result. When
// nothing usable comes out, exactly one empty-result placeholder is produced
// instead, preserving the 1:≥1 item-to-row mapping.
func (w *Worker) extract(ctx context.Context, item scrape.Item) []scrape.Result {
	selectors := w.selectors[w.behavior.CategorySelectorGroup()]
	els, err := w.session.FindElements(ctx, selectors)
	if err != nil {
		w.logger.Warn("locating category elements failed", zap.Error(err))
	}

	results := make([]scrape.Result, 0, len(els))
	for _, el := range els {
		res, err := w.behavior.ProcessElement(ctx, el, item)
		if err != nil {
			w.logger.Warn("processing element failed", zap.Error(err))
			continue
		}
		if res != nil {
			results = append(results, res)
		}
	}
	if len(results) == 0 {
		w.logger.Info("no extractable content, emitting placeholder")
		results = append(results, w.behavior.EmptyResult(item))
	} else {
		w.logger.Info("extracted results", zap.Int("count", len(results)))
	}
	return results
}

func (w *Worker) emitEmpty(item scrape.Item) {
	w.emit([]scrape.Result{w.behavior.EmptyResult(item)})
}

// emit pushes results onto the shared channel. The send blocks without a
// cancellation escape on purpose: the writer keeps draining until the
// orchestrator closes the channel, which only happens after all workers exit,
// so the in-flight item's rows are never dropped during shutdown.
func (w *Worker) emit(results []scrape.Result) {
	for _, res := range results {
		w.results <- res
	}
}
