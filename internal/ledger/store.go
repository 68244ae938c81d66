// Package ledger stores the append-only pallet ledgers and the shared
// leak-rate ledger.
//
// Every pallet (batch) owns one CSV file under
// <pallets-dir>/<CPALID##>/<CPAL####>.csv; each line is an immutable record.
// The leak-rate results of every straw live in a single CSV file. Records are
// only ever appended: readers replay the file to derive state.
package ledger

import (
	"context"

	"github.com/strawtrace/strawtrace/internal/types"
)

// Store is the ledger contract consumed by the resolver, the quality gate
// and the consolidation workflow. *FileStore implements it.
type Store interface {
	// Find returns every well-formed record of the batch in append order.
	Find(ctx context.Context, batch string) ([]types.Record, error)

	// AppendEvent atomically appends one record to the batch ledger.
	AppendEvent(ctx context.Context, batch, step string, pairs []types.Pair, actors []string) error

	// LatestMembership returns the units occupying the batch according to
	// its most recent record.
	LatestMembership(ctx context.Context, batch string) ([]types.Slot, error)

	// FindQualityEntries returns every parseable leak-rate row for the unit.
	FindQualityEntries(ctx context.Context, unit string) ([]types.QualityMeasurement, error)

	// AppendQualityEntry atomically appends one row to the leak-rate ledger.
	AppendQualityEntry(ctx context.Context, m types.QualityMeasurement) error
}

// BatchRef locates a batch ledger within its group.
type BatchRef struct {
	Group string `json:"group"`
	Batch string `json:"batch"`
	Path  string `json:"path"`
}
