package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/types"
)

// State is the lifecycle state of a Session.
type State int

const (
	Collecting State = iota
	Reviewing
	Replacing
	Finalized
	Aborted
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Reviewing:
		return "reviewing"
	case Replacing:
		return "replacing"
	case Finalized:
		return "finalized"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one consolidation pass over a batch. Methods are safe for
// concurrent use.
type Session struct {
	ID        string
	Batch     string
	Operators []string
	StartedAt time.Time

	wf  *Workflow
	log *slog.Logger

	mu        sync.Mutex
	state     State
	units     []string
	committed map[string]bool
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Slots returns a copy of the accepted units in slot order.
func (s *Session) Slots() []types.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Slot, len(s.units))
	for i, u := range s.units {
		out[i] = types.Slot{Index: i, Unit: u}
	}
	return out
}

// Remaining returns how many slots are still to be filled.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.BatchCapacity - len(s.units)
}

// Accept validates unit and places it in the next free slot. After the last
// slot is filled the session moves to Reviewing.
func (s *Session) Accept(ctx context.Context, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Collecting {
		return &StateError{Op: "accept into", State: s.state}
	}
	unit, err := s.candidate(unit, -1)
	if err != nil {
		return err
	}
	if err := s.validate(ctx, unit); err != nil {
		return err
	}
	s.place(unit)
	return nil
}

// AcceptMeasured records an operator-entered leak measurement for the unit
// through the quality gate and accepts the unit if the gate accepted it.
// Out-of-limit values are only recorded with override.
func (s *Session) AcceptMeasured(ctx context.Context, sub quality.Submission, override bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Collecting {
		return &StateError{Op: "accept into", State: s.state}
	}
	unit, err := s.candidate(sub.Unit, -1)
	if err != nil {
		return err
	}
	if s.wf.gate == nil {
		return fmt.Errorf("no quality gate configured")
	}
	sub.Unit = unit
	ok, err := s.wf.gate.RecordAndGate(ctx, sub, override)
	if err != nil {
		return err
	}
	if !ok {
		return &RejectedError{Unit: unit, Reason: quality.Evaluate(sub.Rate, sub.Error).Reason}
	}
	s.place(unit)
	return nil
}

// Replace validates unit and puts it in slot (0-based). It is only allowed
// while reviewing a full session; the session returns to Reviewing whether or
// not the replacement was accepted.
func (s *Session) Replace(ctx context.Context, slot int, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Reviewing {
		return &StateError{Op: "replace in", State: s.state}
	}
	if len(s.committed) > 0 {
		return fmt.Errorf("cannot replace units after a partial finalize: %w", ErrInvalidState)
	}
	if slot < 0 || slot >= len(s.units) {
		return fmt.Errorf("slot %d out of range 0-%d", slot, len(s.units)-1)
	}

	s.state = Replacing
	defer func() { s.state = Reviewing }()

	unit, err := s.candidate(unit, slot)
	if err != nil {
		return err
	}
	if err := s.validate(ctx, unit); err != nil {
		return err
	}
	s.log.Info("slot replaced", "slot", slot, "old", s.units[slot], "new", unit)
	s.units[slot] = unit
	return nil
}

// Finalize appends a laser-cut record and then a length record marking every
// unit as passed. Each append is atomic on its own; when the second fails the
// first stays committed and a retried Finalize appends only what is missing.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Reviewing {
		return &StateError{Op: "finalize", State: s.state}
	}

	pairs := make([]types.Pair, len(s.units))
	for i, u := range s.units {
		pairs[i] = types.Pair{Unit: u, Value: string(types.StatusPass)}
	}
	for _, step := range FinalizeSteps {
		if s.committed[step] {
			continue
		}
		if err := s.wf.store.AppendEvent(ctx, s.Batch, step, pairs, s.Operators); err != nil {
			return fmt.Errorf("finalizing %s: appending %s record: %w", s.Batch, step, err)
		}
		s.committed[step] = true
	}

	s.state = Finalized
	s.wf.close(s.ID)
	s.log.Info("consolidation finalized", "units", len(s.units))
	return nil
}

// Abort discards the session without writing to the ledger.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Finalized:
		return &StateError{Op: "abort", State: s.state}
	case Aborted:
		return nil
	}
	if len(s.committed) > 0 {
		s.log.Warn("aborting a partially finalized session", "committed", len(s.committed))
	}
	s.state = Aborted
	s.wf.close(s.ID)
	s.log.Info("consolidation aborted")
	return nil
}

// candidate normalizes unit and rejects malformed and duplicate IDs. skip is
// the slot being replaced, or -1.
func (s *Session) candidate(unit string, skip int) (string, error) {
	unit = types.NormalizeID(unit)
	if !types.IsUnitID(unit) {
		return "", &RejectedError{Unit: unit, Reason: "not a straw ID"}
	}
	for i, u := range s.units {
		if i != skip && u == unit {
			return "", fmt.Errorf("%s in slot %d: %w", unit, i+1, ErrDuplicateUnit)
		}
	}
	return unit, nil
}

func (s *Session) validate(ctx context.Context, unit string) error {
	reason, err := s.wf.validator.Validate(ctx, s.Batch, unit)
	if err != nil {
		return fmt.Errorf("validating %s: %w", unit, err)
	}
	if reason != "" {
		s.log.Info("candidate rejected", "unit", unit, "reason", reason)
		return &RejectedError{Unit: unit, Reason: reason}
	}
	return nil
}

func (s *Session) place(unit string) {
	s.units = append(s.units, unit)
	s.log.Debug("unit accepted", "slot", len(s.units), "unit", unit)
	if len(s.units) == types.BatchCapacity {
		s.state = Reviewing
		s.log.Info("all slots filled, reviewing")
	}
}
