// Package store provides the persistence backends for extraction results.
// Exactly one component (the writer) appends records for the lifetime of a
// run; resume reads happen before any worker starts.
package store

import (
	"context"

	"github.com/savagescraper/savage/internal/scrape"
)

// Keys is the set of resume-key values already persisted.
type Keys map[string]struct{}

// Has reports whether a value is present.
func (k Keys) Has(v string) bool {
	_, ok := k[v]
	return ok
}

// RecordStore persists one row per Result and answers resume scans.
type RecordStore interface {
	// ExistingKeys returns every non-empty value of the named field already
	// persisted, plus the number of malformed rows skipped. A store with no
	// data yet returns an empty set, not an error.
	ExistingKeys(ctx context.Context, field string) (Keys, int, error)
	// Append durably records one row.
	Append(ctx context.Context, rec scrape.Result) error
	// Backup preserves the current store contents before a retry, returning
	// the backup location ("" when the backend needs none).
	Backup(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}
