package genealogy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is matched by every CycleError.
	ErrCycle = errors.New("genealogy cycle")

	// ErrTraceability is matched by every TraceabilityError.
	ErrTraceability = errors.New("traceability check failed")
)

// Triple identifies one resolution query.
type Triple struct {
	Batch string `json:"batch"`
	Unit  string `json:"unit"`
	Step  string `json:"step"`
}

func (t Triple) String() string {
	return t.Batch + "/" + t.Unit + "/" + t.Step
}

// CycleError reports an adds chain that leads back to a query already on the
// current resolution path. Path ends with the revisited triple.
type CycleError struct {
	Path []Triple
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, t := range e.Path {
		parts[i] = t.String()
	}
	return "genealogy cycle: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// TraceabilityError lists every requested step that at least one required
// unit of the batch did not pass.
type TraceabilityError struct {
	BatchID      string   `json:"batch"`
	FailingSteps []string `json:"failing_steps"` // display names
	FailingKeys  []string `json:"failing_keys"`
}

func (e *TraceabilityError) Error() string {
	return fmt.Sprintf("%s failed step(s): %s", e.BatchID, strings.Join(e.FailingSteps, ", "))
}

func (e *TraceabilityError) Is(target error) bool { return target == ErrTraceability }
