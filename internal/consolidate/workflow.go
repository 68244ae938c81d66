// Package consolidate implements the pallet consolidation workflow: an
// operator scans 24 straws onto a pallet, each validated against the leak
// test, reviews and replaces slots, and finally commits laser-cut and length
// records for the whole pallet.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/types"
)

// FinalizeSteps are the records appended, in order, when a session is finalized.
var FinalizeSteps = []string{types.StepLaserCut, types.StepLength}

// Header is written as the first line of a pallet ledger created for consolidation.
const Header = "Time Stamp, Task, 24 Straw Names/Statuses, Workers, ***24 straws initially on retest pallet***"

// Options configures a Workflow.
type Options struct {
	Logger *slog.Logger
	// Validator overrides the default LeakValidator.
	Validator Validator
	Now       func() time.Time
}

// Workflow creates and tracks consolidation sessions.
type Workflow struct {
	store     ledger.Store
	gate      *quality.Gate
	validator Validator
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// New returns a workflow appending to store. gate records manually entered
// measurements; gate and resolver back the default validator.
func New(store ledger.Store, gate *quality.Gate, resolver *genealogy.Resolver, opts Options) *Workflow {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Validator == nil {
		opts.Validator = &LeakValidator{Gate: gate, Resolver: resolver, Logger: opts.Logger}
	}
	return &Workflow{
		store:     store,
		gate:      gate,
		validator: opts.Validator,
		log:       opts.Logger,
		now:       opts.Now,
		sessions:  make(map[string]*Session),
	}
}

// Start opens a session for batch. The batch ledger must already exist and at
// least one operator is required.
func (w *Workflow) Start(ctx context.Context, batch string, operators []string) (*Session, error) {
	batch = types.NormalizeID(batch)
	var ops []string
	for _, o := range operators {
		if o = strings.TrimSpace(o); o != "" {
			ops = append(ops, o)
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("at least one operator is required")
	}
	if _, err := w.store.Find(ctx, batch); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		ID:        id,
		Batch:     batch,
		Operators: ops,
		StartedAt: w.now(),
		wf:        w,
		log:       w.log.With("session", id, "batch", batch),
		committed: make(map[string]bool),
	}
	w.mu.Lock()
	w.sessions[s.ID] = s
	w.mu.Unlock()
	s.log.Info("consolidation started", "operators", ops)
	return s, nil
}

// Session returns the open session with the given handle.
func (w *Workflow) Session(id string) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Sessions lists the handles of every open session, sorted.
func (w *Workflow) Sessions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *Workflow) close(id string) {
	w.mu.Lock()
	delete(w.sessions, id)
	w.mu.Unlock()
}
