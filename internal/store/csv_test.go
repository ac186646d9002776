package store

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savagescraper/savage/internal/scrape"
)

func newTestCSVStore(t *testing.T) *CSVStore {
	t.Helper()
	s, err := NewCSVStore(filepath.Join(t.TempDir(), "out", "results.csv"), 2*time.Second, nil)
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, scrape.Result{"url": "a", "name": "one"}))
	require.NoError(t, s.Append(ctx, scrape.Result{"url": "b", "name": "two"}))

	records := readAll(t, s.Path())
	require.Len(t, records, 3)
	assert.Equal(t, []string{"name", "url"}, records[0])
	assert.Equal(t, []string{"one", "a"}, records[1])
	assert.Equal(t, []string{"two", "b"}, records[2])
}

func TestAppendHonorsPersistedHeader(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, scrape.Result{"url": "a", "name": "one"}))

	// A fresh store against the same file must follow the existing column
	// order, not re-derive it.
	s2, err := NewCSVStore(s.Path(), 2*time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, s2.Append(ctx, scrape.Result{"name": "two", "url": "b"}))

	records := readAll(t, s.Path())
	require.Len(t, records, 3)
	assert.Equal(t, []string{"two", "b"}, records[2])
}

func TestAppendDropsUnknownFields(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, scrape.Result{"url": "a"}))
	require.NoError(t, s.Append(ctx, scrape.Result{"url": "b", "surprise": "x"}))

	records := readAll(t, s.Path())
	require.Len(t, records, 3)
	assert.Equal(t, []string{"url"}, records[0])
	assert.Equal(t, []string{"b"}, records[2])
}

func TestConcurrentAppendsStayParseable(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	const rows = 40

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// Each goroutine gets its own store handle, as separate processes
			// would.
			own, err := NewCSVStore(s.Path(), 5*time.Second, nil)
			assert.NoError(t, err)
			for j := 0; j < rows/4; j++ {
				assert.NoError(t, own.Append(context.Background(), scrape.Result{
					"url": "https://example.com", "worker": "w",
				}))
			}
		}(i)
	}
	wg.Wait()

	records := readAll(t, s.Path())
	assert.Len(t, records, rows+1)
}

func TestExistingKeysMissingFile(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	keys, malformed, err := s.ExistingKeys(context.Background(), "url")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Zero(t, malformed)
}

func TestExistingKeysSkipsEmptyAndCountsMalformed(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	raw := "name,url\none,https://a\ntwo,\nbad\nthree,https://b\n"
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o640))

	keys, malformed, err := s.ExistingKeys(context.Background(), "url")
	require.NoError(t, err)
	assert.Equal(t, 1, malformed)
	assert.True(t, keys.Has("https://a"))
	assert.True(t, keys.Has("https://b"))
	assert.Len(t, keys, 2)
}

func TestExistingKeysMissingColumn(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("name\none\n"), 0o640))

	keys, _, err := s.ExistingKeys(context.Background(), "url")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBackupCopiesCurrentContents(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	require.NoError(t, s.Append(context.Background(), scrape.Result{"url": "a"}))

	backup, err := s.Backup(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	original, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	copied, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, original, copied)
}

func TestBackupWithoutFileIsNoop(t *testing.T) {
	t.Parallel()

	s := newTestCSVStore(t)
	backup, err := s.Backup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backup)
}

func TestLockTimesOutWhenHeld(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "results.csv.lock")
	// Simulate another holder with a fresh lock file.
	require.NoError(t, os.WriteFile(lockPath, []byte(`{"pid":1}`), 0o640))

	_, err := acquireLock(context.Background(), lockPath, 300*time.Millisecond)
	require.Error(t, err)
}

func TestLockTakesOverStaleLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "results.csv.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte(`{"pid":1}`), 0o640))
	old := time.Now().Add(-2 * lockStaleTTL)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	release, err := acquireLock(context.Background(), lockPath, 2*time.Second)
	require.NoError(t, err)
	release()
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
