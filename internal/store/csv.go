package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/scrape"
)

// CSVStore appends results to a header-first UTF-8 CSV file. Every append
// runs under an exclusive lock file scoped to the target, held for a single
// row only. The column set is fixed by the first row ever written (keys
// sorted for determinism); afterwards the persisted header is authoritative.
type CSVStore struct {
	path        string
	lockTimeout time.Duration
	logger      *zap.Logger

	header     []string
	warnedCols map[string]struct{}
}

// NewCSVStore creates the parent directory and returns a store for path.
func NewCSVStore(path string, lockTimeout time.Duration, logger *zap.Logger) (*CSVStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir for %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVStore{
		path:        path,
		lockTimeout: lockTimeout,
		logger:      logger,
		warnedCols:  map[string]struct{}{},
	}, nil
}

// Path returns the target file location.
func (s *CSVStore) Path() string {
	return s.path
}

// ExistingKeys scans the target file once and collects every non-empty value
// of the named column. A missing file yields an empty set. Malformed rows are
// skipped and counted, never fatal.
func (s *CSVStore) ExistingKeys(_ context.Context, field string) (Keys, int, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return Keys{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return Keys{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read header of %s: %w", s.path, err)
	}
	idx := -1
	for i, col := range header {
		if col == field {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.logger.Warn("resume key column not present in existing output",
			zap.String("field", field), zap.String("path", s.path))
		return Keys{}, 0, nil
	}

	keys := Keys{}
	malformed := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			malformed++
			continue
		}
		if len(rec) <= idx {
			malformed++
			continue
		}
		if v := rec[idx]; v != "" {
			keys[v] = struct{}{}
		}
	}
	return keys, malformed, nil
}

// Append writes one row, emitting the header first when the file is new or
// empty. The lock is acquired per row and released before returning on every
// path.
func (s *CSVStore) Append(ctx context.Context, rec scrape.Result) error {
	release, err := acquireLock(ctx, s.path+".lock", s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := s.ensureHeader(rec); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", s.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if fi.Size() == 0 {
		if err := w.Write(s.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(s.row(rec)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	return nil
}

// Backup copies the current target file to a timestamped sibling so a
// corrupting retry cannot lose already-persisted rows.
func (s *CSVStore) Backup(_ context.Context) (string, error) {
	src, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s for backup: %w", s.path, err)
	}
	defer src.Close()

	backup := fmt.Sprintf("%s.backup_%d.csv", s.path, time.Now().Unix())
	dst, err := os.Create(backup)
	if err != nil {
		return "", fmt.Errorf("create backup %s: %w", backup, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy to backup %s: %w", backup, err)
	}
	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("sync backup %s: %w", backup, err)
	}
	return backup, nil
}

// Close implements RecordStore; the CSV store holds no open handles between
// appends.
func (s *CSVStore) Close(context.Context) error {
	return nil
}

func (s *CSVStore) ensureHeader(rec scrape.Result) error {
	if s.header != nil {
		return nil
	}
	fi, err := os.Stat(s.path)
	if err == nil && fi.Size() > 0 {
		header, rerr := s.readHeader()
		if rerr != nil {
			return rerr
		}
		s.header = header
		return nil
	}
	cols := make([]string, 0, len(rec))
	for k := range rec {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	s.header = cols
	return nil
}

func (s *CSVStore) readHeader() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", s.path, err)
	}
	return header, nil
}

func (s *CSVStore) row(rec scrape.Result) []string {
	row := make([]string, len(s.header))
	known := make(map[string]struct{}, len(s.header))
	for i, col := range s.header {
		row[i] = rec[col]
		known[col] = struct{}{}
	}
	for k := range rec {
		if _, ok := known[k]; ok {
			continue
		}
		if _, warned := s.warnedCols[k]; !warned {
			s.warnedCols[k] = struct{}{}
			s.logger.Warn("result field not in output header, dropping",
				zap.String("field", k), zap.String("path", s.path))
		}
	}
	return row
}
