// Package progress aggregates per-item completion counters across workers and
// derives throughput and ETA for reporting.
package progress

import (
	"sync/atomic"
	"time"
)

// Tracker holds the run's shared counters. Workers increment it as items
// finish (one increment per item, regardless of how many rows the item
// produced); the orchestrator reads snapshots. All methods are safe for
// concurrent use.
type Tracker struct {
	total     int64
	completed atomic.Int64
	failed    atomic.Int64
	start     time.Time
	metrics   *Metrics
}

// NewTracker fixes the item total and the start time. metrics may be nil.
func NewTracker(total int, metrics *Metrics) *Tracker {
	t := &Tracker{
		total:   int64(total),
		start:   time.Now(),
		metrics: metrics,
	}
	if metrics != nil {
		metrics.SetTotal(total)
	}
	return t
}

// ItemCompleted records one successfully processed item.
func (t *Tracker) ItemCompleted() {
	t.completed.Add(1)
	if t.metrics != nil {
		t.metrics.IncCompleted()
	}
}

// ItemFailed records one failed item.
func (t *Tracker) ItemFailed() {
	t.failed.Add(1)
	if t.metrics != nil {
		t.metrics.IncFailed()
	}
}

// ObserveItem records the wall time spent on one item.
func (t *Tracker) ObserveItem(d time.Duration) {
	if t.metrics != nil {
		t.metrics.ObserveItem(d.Seconds())
	}
}

// Snapshot is a point-in-time view of run progress.
type Snapshot struct {
	Total     int64         `json:"total"`
	Completed int64         `json:"completed"`
	Failed    int64         `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
	// Rate is completed items per second; zero until the first completion.
	Rate float64 `json:"rate"`
	// ETA extrapolates the remaining runtime linearly from Rate. Valid only
	// when ETAKnown is true.
	ETA      time.Duration `json:"eta"`
	ETAKnown bool          `json:"eta_known"`
}

// Done reports whether every item is accounted for.
func (s Snapshot) Done() bool {
	return s.Completed+s.Failed >= s.Total
}

// Percent is the share of items accounted for, 0..100.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Completed+s.Failed) / float64(s.Total) * 100
}

// Snapshot computes the current progress view. Completed and Failed are
// monotonically non-decreasing across successive snapshots.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		Total:     t.total,
		Completed: t.completed.Load(),
		Failed:    t.failed.Load(),
		Elapsed:   time.Since(t.start),
	}
	if s.Completed > 0 && s.Elapsed > 0 {
		s.Rate = float64(s.Completed) / s.Elapsed.Seconds()
		remaining := s.Total - s.Completed
		if remaining < 0 {
			remaining = 0
		}
		s.ETA = time.Duration(float64(remaining) / s.Rate * float64(time.Second))
		s.ETAKnown = true
	}
	return s
}
