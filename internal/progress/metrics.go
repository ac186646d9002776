package progress

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports run progress via Prometheus. It owns all collectors for the
// item counters, written rows, and per-item latency.
type Metrics struct {
	itemsTotal     prometheus.Gauge
	itemsCompleted prometheus.Counter
	itemsFailed    prometheus.Counter
	rowsWritten    prometheus.Counter
	writeFailures  prometheus.Counter
	itemDuration   prometheus.Histogram
}

// NewMetrics registers the collectors against the provided registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		itemsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "savage_items_total",
			Help: "Items scheduled for this run after resume filtering.",
		}),
		// Counters, not gauges: workers increment concurrently, and a counter
		// can never step backwards the way racing Sets could.
		itemsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savage_items_completed_total",
			Help: "Items processed successfully so far.",
		}),
		itemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savage_items_failed_total",
			Help: "Items failed so far.",
		}),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savage_rows_written_total",
			Help: "Result rows durably appended to the output store.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savage_write_failures_total",
			Help: "Result rows that exhausted write retries.",
		}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "savage_item_duration_seconds",
			Help:    "Wall time per processed item.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}),
	}
	for _, collector := range []prometheus.Collector{
		m.itemsTotal,
		m.itemsCompleted,
		m.itemsFailed,
		m.rowsWritten,
		m.writeFailures,
		m.itemDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return m, nil
}

// SetTotal publishes the fixed item total.
func (m *Metrics) SetTotal(n int) {
	m.itemsTotal.Set(float64(n))
}

// IncCompleted counts one successfully processed item.
func (m *Metrics) IncCompleted() {
	m.itemsCompleted.Inc()
}

// IncFailed counts one failed item.
func (m *Metrics) IncFailed() {
	m.itemsFailed.Inc()
}

// RowWritten counts one durably appended row.
func (m *Metrics) RowWritten() {
	m.rowsWritten.Inc()
}

// WriteFailed counts one row that exhausted its write retries.
func (m *Metrics) WriteFailed() {
	m.writeFailures.Inc()
}

// ObserveItem records the wall time spent on one item.
func (m *Metrics) ObserveItem(seconds float64) {
	m.itemDuration.Observe(seconds)
}
