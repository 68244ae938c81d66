package genealogy

import (
	"context"
	"errors"

	"github.com/strawtrace/strawtrace/internal/types"
)

// Matrix is the pass table of a batch: one row per current member, one column
// per step.
type Matrix struct {
	Batch string       `json:"batch"`
	Steps []types.Step `json:"steps"`
	Rows  []MatrixRow  `json:"rows"`
}

// MatrixRow holds the results of one unit. Cycle is set when resolving one of
// its cells ran into a genealogy cycle; that cell reads as not passed.
type MatrixRow struct {
	Slot   int    `json:"slot"`
	Unit   string `json:"unit"`
	Passed []bool `json:"passed"`
	Cycle  string `json:"cycle,omitempty"`
}

// StepPassed reports whether every row passed column i. An empty matrix
// passes nothing.
func (m *Matrix) StepPassed(i int) bool {
	if len(m.Rows) == 0 {
		return false
	}
	for _, row := range m.Rows {
		if !row.Passed[i] {
			return false
		}
	}
	return true
}

// AllPassed reports whether every cell passed.
func (m *Matrix) AllPassed() bool {
	for i := range m.Steps {
		if !m.StepPassed(i) {
			return false
		}
	}
	return len(m.Steps) > 0
}

// Matrix resolves every current member of batch against steps. A nil steps
// means types.FullSequence.
func (r *Resolver) Matrix(ctx context.Context, batch string, steps []string) (*Matrix, error) {
	if steps == nil {
		steps = types.FullSequence
	}
	if err := types.ValidateSteps(steps); err != nil {
		return nil, err
	}
	batch = types.NormalizeID(batch)
	slots, err := r.store.LatestMembership(ctx, batch)
	if err != nil {
		return nil, err
	}

	m := &Matrix{Batch: batch, Steps: make([]types.Step, len(steps))}
	for i, k := range steps {
		m.Steps[i], _ = types.LookupStep(k)
	}

	w := r.newWalk(ctx)
	for _, s := range slots {
		unit := types.NormalizeID(s.Unit)
		row := MatrixRow{Slot: s.Index, Unit: unit, Passed: make([]bool, len(steps))}
		for i, step := range steps {
			ok, err := w.resolve(Triple{Batch: batch, Unit: unit, Step: step})
			var cerr *CycleError
			switch {
			case errors.As(err, &cerr):
				row.Cycle = cerr.Error()
			case err != nil:
				return nil, err
			}
			row.Passed[i] = ok
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}
