package progress

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountersTrackConcurrentIncrements(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	tr := NewTracker(12, m)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.ItemCompleted()
			tr.ItemCompleted()
			tr.ItemFailed()
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(12), testutil.ToFloat64(m.itemsTotal))
	assert.Equal(t, float64(8), testutil.ToFloat64(m.itemsCompleted))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.itemsFailed))
}

func TestMetricsRowCounters(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RowWritten()
	m.RowWritten()
	m.WriteFailed()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.rowsWritten))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.writeFailures))
}

func TestMetricsRegisterTwiceFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	require.Error(t, err)
}
