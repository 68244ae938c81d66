// Package teststore provides file-backed ledger helpers for tests.
//
// Every Env owns an isolated ledger layout (pallets directory plus leak-rate
// ledger) under t.TempDir(). All helper methods go through the ledger.Store
// interface or the FileStore extras, so tests exercise the real CSV format.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    env.CreateBatch("CPAL0001")
//	    env.Record("CPAL0001", types.StepPrep, env.Pass("ST00001"))
//	}
package teststore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/types"
)

// DefaultGroup is the batch group new test batches are created in.
const DefaultGroup = "CPALID01"

// New creates an isolated FileStore for a single test. Lock retries are kept
// short so contention tests fail fast.
func New(t testing.TB) *ledger.FileStore {
	t.Helper()
	store, err := ledger.Init(ledger.Options{
		Root:            t.TempDir(),
		RetryMaxElapsed: 250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("teststore: failed to init ledger layout: %v", err)
	}
	return store
}

// Env provides a test environment with common setup and helpers.
type Env struct {
	t     testing.TB
	Store *ledger.FileStore
	Ctx   context.Context
}

// NewEnv creates a new test environment backed by an isolated ledger layout.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	return &Env{
		t:     t,
		Store: New(t),
		Ctx:   context.Background(),
	}
}

// ---------------------------------------------------------------------------
// Batch helpers
// ---------------------------------------------------------------------------

// CreateBatch creates an empty ledger for batch in DefaultGroup and returns its path.
func (e *Env) CreateBatch(batch string) string {
	e.t.Helper()
	path, err := e.Store.CreateBatch(e.Ctx, DefaultGroup, batch, "")
	if err != nil {
		e.t.Fatalf("CreateBatch(%s) failed: %v", batch, err)
	}
	return path
}

// Record appends a station record to batch.
func (e *Env) Record(batch, step string, pairs []types.Pair, actors ...string) {
	e.t.Helper()
	if len(actors) == 0 {
		actors = []string{"wk-test"}
	}
	if err := e.Store.AppendEvent(e.Ctx, batch, step, pairs, actors); err != nil {
		e.t.Fatalf("AppendEvent(%s, %s) failed: %v", batch, step, err)
	}
}

// Adds appends an adds record redirecting each prior unit to its target.
// Arguments alternate prior, target.
func (e *Env) Adds(batch string, priorTarget ...string) {
	e.t.Helper()
	if len(priorTarget)%2 != 0 {
		e.t.Fatalf("Adds(%s): odd number of arguments", batch)
	}
	pairs := make([]types.Pair, 0, len(priorTarget)/2)
	for i := 0; i < len(priorTarget); i += 2 {
		pairs = append(pairs, types.Pair{Unit: priorTarget[i], Value: priorTarget[i+1]})
	}
	e.Record(batch, types.StepAdds, pairs)
}

// Pass builds pairs marking every unit as passed.
func (e *Env) Pass(units ...string) []types.Pair {
	pairs := make([]types.Pair, len(units))
	for i, u := range units {
		pairs[i] = types.Pair{Unit: u, Value: string(types.StatusPass)}
	}
	return pairs
}

// Fail builds pairs listing every unit with an empty status.
func (e *Env) Fail(units ...string) []types.Pair {
	pairs := make([]types.Pair, len(units))
	for i, u := range units {
		pairs[i] = types.Pair{Unit: u}
	}
	return pairs
}

// Units returns n sequential unit IDs starting at ST<start>.
func Units(start, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ST%05d", start+i)
	}
	return out
}

// ---------------------------------------------------------------------------
// Leak-rate helpers
// ---------------------------------------------------------------------------

// Leak appends a leak-rate row for unit.
func (e *Env) Leak(unit string, at time.Time, rate, lerr float64) {
	e.t.Helper()
	err := e.Store.AppendQualityEntry(e.Ctx, types.QualityMeasurement{
		Unit:      unit,
		Timestamp: at,
		Source:    "leak",
		Worker:    "wk-test",
		Chamber:   "chamber1",
		Rate:      rate,
		Error:     lerr,
	})
	if err != nil {
		e.t.Fatalf("AppendQualityEntry(%s) failed: %v", unit, err)
	}
}

// ---------------------------------------------------------------------------
// Assertions
// ---------------------------------------------------------------------------

// Records returns every record of batch.
func (e *Env) Records(batch string) []types.Record {
	e.t.Helper()
	records, err := e.Store.Find(e.Ctx, batch)
	if err != nil {
		e.t.Fatalf("Find(%s) failed: %v", batch, err)
	}
	return records
}

// Steps returns the step key of every record of batch in append order.
func (e *Env) Steps(batch string) []string {
	e.t.Helper()
	records := e.Records(batch)
	steps := make([]string, len(records))
	for i, r := range records {
		steps[i] = r.Step
	}
	return steps
}
