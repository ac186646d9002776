// Package input loads the item lists a run processes.
package input

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/scrape"
)

// LoadCSV reads items from a headered CSV file, typically the output of a
// previous pipeline stage. Rows missing a value in requiredField are dropped:
// they cannot be navigated to. Short or ragged rows are skipped, not fatal.
func LoadCSV(path, requiredField string, logger *zap.Logger) ([]scrape.Item, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("input %s has no header row", path)
	}

	header := records[0]
	required := -1
	for i, col := range header {
		if col == requiredField {
			required = i
			break
		}
	}
	if required < 0 {
		return nil, fmt.Errorf("input %s is missing required column %q", path, requiredField)
	}

	items := make([]scrape.Item, 0, len(records)-1)
	dropped := 0
	for _, rec := range records[1:] {
		if required >= len(rec) || strings.TrimSpace(rec[required]) == "" {
			dropped++
			continue
		}
		item := make(scrape.Item, len(header))
		for i, col := range header {
			if i < len(rec) {
				item[col] = strings.TrimSpace(rec[i])
			}
		}
		items = append(items, item)
	}
	if dropped > 0 {
		logger.Warn("dropped input rows with empty required column",
			zap.String("column", requiredField),
			zap.Int("rows", dropped))
	}
	logger.Info("loaded input items", zap.String("path", path), zap.Int("items", len(items)))
	return items, nil
}

// Single wraps one field value as a one-item list, used by behaviors that
// process a single seed page.
func Single(field, value string) []scrape.Item {
	return []scrape.Item{{field: value}}
}
