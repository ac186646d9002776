package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savagescraper/savage/internal/scrape"
	"github.com/savagescraper/savage/internal/store"
)

// flakyStore fails the first failures appends of each row, then succeeds.
type flakyStore struct {
	mu         sync.Mutex
	failures   int
	attempts   int
	appended   []scrape.Result
	backups    int
	alwaysFail bool
}

func (f *flakyStore) ExistingKeys(context.Context, string) (store.Keys, int, error) {
	return store.Keys{}, 0, nil
}

func (f *flakyStore) Append(_ context.Context, rec scrape.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.alwaysFail {
		return errors.New("disk full")
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("transient write error")
	}
	f.appended = append(f.appended, rec)
	return nil
}

func (f *flakyStore) Backup(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups++
	return "/tmp/backup.csv", nil
}

func (f *flakyStore) Close(context.Context) error { return nil }

func testWriterConfig() Config {
	return Config{Attempts: 3, RetryDelay: 5 * time.Millisecond}
}

func drainOf(t *testing.T, w *Writer, rows ...scrape.Result) Stats {
	t.Helper()
	results := make(chan scrape.Result, len(rows))
	for _, r := range rows {
		results <- r
	}
	close(results)
	return w.Drain(context.Background(), results)
}

func TestDrainWritesEveryRow(t *testing.T) {
	t.Parallel()

	st := &flakyStore{}
	w := New(st, testWriterConfig(), nil, nil)

	stats := drainOf(t, w,
		scrape.Result{"url": "a"},
		scrape.Result{"url": "b"},
		scrape.Result{"url": "c"},
	)

	assert.Equal(t, Stats{RowsWritten: 3}, stats)
	assert.Len(t, st.appended, 3)
	assert.Zero(t, st.backups)
}

func TestDrainRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	st := &flakyStore{failures: 2}
	w := New(st, testWriterConfig(), nil, nil)

	stats := drainOf(t, w, scrape.Result{"url": "a"})

	assert.Equal(t, Stats{RowsWritten: 1}, stats)
	assert.Equal(t, 3, st.attempts)
	// The backup runs once, before the first retry.
	assert.Equal(t, 1, st.backups)
}

func TestDrainDropsRowAfterExhaustingRetries(t *testing.T) {
	t.Parallel()

	st := &flakyStore{alwaysFail: true}
	w := New(st, testWriterConfig(), nil, nil)

	stats := drainOf(t, w, scrape.Result{"url": "a"}, scrape.Result{"url": "b"})

	assert.Equal(t, Stats{RowsDropped: 2}, stats)
	assert.Equal(t, 6, st.attempts)
}

func TestDrainContinuesPastBadRow(t *testing.T) {
	t.Parallel()

	st := &flakyStore{failures: 3}
	w := New(st, testWriterConfig(), nil, nil)

	stats := drainOf(t, w, scrape.Result{"url": "a"}, scrape.Result{"url": "b"})

	// The first row burns its three attempts; the second succeeds immediately.
	assert.Equal(t, Stats{RowsWritten: 1, RowsDropped: 1}, stats)
	require.Len(t, st.appended, 1)
	assert.Equal(t, "b", st.appended[0]["url"])
}

func TestDrainReturnsOnlyAfterChannelClosed(t *testing.T) {
	t.Parallel()

	st := &flakyStore{}
	w := New(st, testWriterConfig(), nil, nil)

	results := make(chan scrape.Result)
	done := make(chan Stats, 1)
	go func() {
		done <- w.Drain(context.Background(), results)
	}()

	results <- scrape.Result{"url": "a"}
	select {
	case <-done:
		t.Fatal("drain returned before channel close")
	case <-time.After(50 * time.Millisecond):
	}

	close(results)
	select {
	case stats := <-done:
		assert.Equal(t, Stats{RowsWritten: 1}, stats)
	case <-time.After(time.Second):
		t.Fatal("drain did not return after channel close")
	}
}
