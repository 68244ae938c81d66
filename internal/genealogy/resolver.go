// Package genealogy answers pass/fail questions about straws by replaying
// pallet ledgers.
//
// A straw's history can span several pallets: adds records move a straw to
// another pallet or substitute it with a different straw ID, and the resolver
// follows those redirections recursively. Any path that shows a pass counts;
// a later record never revokes an earlier pass.
package genealogy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/types"
)

// Options configures a Resolver.
type Options struct {
	Logger *slog.Logger
}

// Resolver resolves traceability queries against a ledger.Store. It holds no
// state between calls.
type Resolver struct {
	store ledger.Store
	log   *slog.Logger
}

// NewResolver returns a resolver reading from store.
func NewResolver(store ledger.Store, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, log: opts.Logger}
}

// Resolve reports whether unit passed step in batch, following adds
// redirections. A redirection chain that returns to a query already being
// resolved yields a *CycleError.
func (r *Resolver) Resolve(ctx context.Context, batch, unit, step string) (bool, error) {
	return r.newWalk(ctx).resolve(Triple{
		Batch: types.NormalizeID(batch),
		Unit:  types.NormalizeID(unit),
		Step:  strings.TrimSpace(step),
	})
}

// walk is the state of one top-level call: fetched ledgers, the triples on
// the current recursion path and the results of completed triples.
type walk struct {
	ctx     context.Context
	r       *Resolver
	ledgers map[string][]types.Record
	onPath  map[Triple]bool
	path    []Triple
	done    map[Triple]bool
}

func (r *Resolver) newWalk(ctx context.Context) *walk {
	return &walk{
		ctx:     ctx,
		r:       r,
		ledgers: make(map[string][]types.Record),
		onPath:  make(map[Triple]bool),
		done:    make(map[Triple]bool),
	}
}

func (w *walk) records(batch string) ([]types.Record, error) {
	if recs, ok := w.ledgers[batch]; ok {
		return recs, nil
	}
	recs, err := w.r.store.Find(w.ctx, batch)
	if err != nil {
		return nil, err
	}
	w.ledgers[batch] = recs
	return recs, nil
}

func (w *walk) resolve(t Triple) (bool, error) {
	if v, ok := w.done[t]; ok {
		return v, nil
	}
	if w.onPath[t] {
		path := make([]Triple, len(w.path), len(w.path)+1)
		copy(path, w.path)
		return false, &CycleError{Path: append(path, t)}
	}
	if err := w.ctx.Err(); err != nil {
		return false, err
	}

	records, err := w.records(t.Batch)
	if err != nil {
		return false, err
	}

	w.onPath[t] = true
	w.path = append(w.path, t)
	defer func() {
		delete(w.onPath, t)
		w.path = w.path[:len(w.path)-1]
	}()

	// Every path is walked even after a pass so a cycle is always reported.
	passed := false
	for _, rec := range records {
		switch {
		case rec.Step == t.Step:
			for _, p := range rec.Pairs {
				if types.NormalizeID(p.Unit) == t.Unit && p.Status().Passed() {
					passed = true
				}
			}
		case rec.IsAdds():
			for _, p := range rec.Pairs {
				if types.NormalizeID(p.Unit) != t.Unit {
					continue
				}
				ok, err := w.follow(t, types.NormalizeID(p.Value))
				if err != nil {
					return false, err
				}
				passed = passed || ok
			}
		}
	}

	w.done[t] = passed
	return passed, nil
}

// follow resolves the query redirected by one adds pair.
func (w *walk) follow(from Triple, target string) (bool, error) {
	switch {
	case types.IsBatchID(target):
		ok, err := w.resolve(Triple{Batch: target, Unit: from.Unit, Step: from.Step})
		if errors.Is(err, ledger.ErrNotFound) {
			w.r.log.Warn("adds record points to unknown batch", "from", from.String(), "target", target)
			return false, nil
		}
		return ok, err
	case types.IsUnitID(target):
		return w.resolve(Triple{Batch: from.Batch, Unit: target, Step: from.Step})
	default:
		if target != "" {
			w.r.log.Warn("ignoring adds target that is neither batch nor unit", "from", from.String(), "target", target)
		}
		return false, nil
	}
}

// CheckAll requires every required unit of batch to pass every step. With an
// empty unit the required units are the batch's latest membership; a batch
// with no members fails every step. Failures are reported as a
// *TraceabilityError listing the failing steps in the order given.
func (r *Resolver) CheckAll(ctx context.Context, batch string, steps []string, unit string) error {
	if len(steps) == 0 {
		return fmt.Errorf("no steps to check")
	}
	if err := types.ValidateSteps(steps); err != nil {
		return err
	}
	batch = types.NormalizeID(batch)

	var units []string
	if strings.TrimSpace(unit) != "" {
		units = []string{types.NormalizeID(unit)}
	} else {
		slots, err := r.store.LatestMembership(ctx, batch)
		if err != nil {
			return err
		}
		for _, s := range slots {
			units = append(units, types.NormalizeID(s.Unit))
		}
	}
	if len(units) == 0 {
		r.log.Warn("batch has no members, failing every step", "batch", batch)
	}

	w := r.newWalk(ctx)
	var failing []string
	for _, step := range steps {
		ok := len(units) > 0
		for _, u := range units {
			passed, err := w.resolve(Triple{Batch: batch, Unit: u, Step: step})
			if err != nil {
				return err
			}
			if !passed {
				r.log.Debug("unit did not pass step", "batch", batch, "unit", u, "step", step)
				ok = false
				break
			}
		}
		if !ok {
			failing = append(failing, step)
		}
	}
	if len(failing) == 0 {
		return nil
	}
	names := make([]string, len(failing))
	for i, k := range failing {
		names[i] = types.DisplayName(k)
	}
	return &TraceabilityError{BatchID: batch, FailingSteps: names, FailingKeys: failing}
}

// UnitPassedAll reports whether unit passed every step of types.FullSequence.
func (r *Resolver) UnitPassedAll(ctx context.Context, batch, unit string) (bool, error) {
	return passedOrFailed(r.CheckAll(ctx, batch, types.FullSequence, unit))
}

// BatchPassed reports whether every current member of batch passed step.
func (r *Resolver) BatchPassed(ctx context.Context, batch, step string) (bool, error) {
	return passedOrFailed(r.CheckAll(ctx, batch, []string{step}, ""))
}

// BatchPassedAll reports whether every current member of batch passed every
// step of types.FullSequence.
func (r *Resolver) BatchPassedAll(ctx context.Context, batch string) (bool, error) {
	return passedOrFailed(r.CheckAll(ctx, batch, types.FullSequence, ""))
}

func passedOrFailed(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTraceability) {
		return false, nil
	}
	return false, err
}
