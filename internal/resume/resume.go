// Package resume filters the input item list against work already persisted,
// making interrupted runs restartable without duplicate output rows.
package resume

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/scrape"
	"github.com/savagescraper/savage/internal/store"
)

// Engine answers "which items are already done" by scanning the record store.
type Engine struct {
	store  store.RecordStore
	logger *zap.Logger
}

// New builds an Engine over the given store.
func New(st store.RecordStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, logger: logger}
}

// Filter returns the items whose predicted resume-key value is not yet
// persisted, plus the number skipped. An item predicts its resume-key value
// from its own resume-key field when present, falling back to the tracking
// key value (the behavior contract keeps the two derivable from each other).
// Items predicting an empty value are always kept: empty keys never match.
func (e *Engine) Filter(
	ctx context.Context,
	items []scrape.Item,
	resumeField string,
	trackingKey string,
) ([]scrape.Item, int, error) {
	existing, malformed, err := e.store.ExistingKeys(ctx, resumeField)
	if err != nil {
		return nil, 0, fmt.Errorf("load existing results: %w", err)
	}
	if malformed > 0 {
		e.logger.Warn("skipped malformed rows while scanning existing output",
			zap.Int("rows", malformed))
	}
	if len(existing) == 0 {
		return items, 0, nil
	}
	e.logger.Info("found existing entries in output",
		zap.Int("entries", len(existing)))

	filtered := make([]scrape.Item, 0, len(items))
	for _, item := range items {
		key := item.Field(resumeField)
		if key == "" {
			key = item.Field(trackingKey)
		}
		if key != "" && existing.Has(key) {
			continue
		}
		filtered = append(filtered, item)
	}
	skipped := len(items) - len(filtered)
	if skipped > 0 {
		e.logger.Info("resume: skipping already processed items",
			zap.Int("skipped", skipped))
	}
	return filtered, skipped, nil
}
