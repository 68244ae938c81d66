// Package quality implements the leak-rate acceptance gate.
//
// A straw passes the leak test when its most recent measurement in the shared
// leak-rate ledger is within limits. The gate never accepts an out-of-limit
// measurement on its own: recording one requires an explicit operator
// override.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/types"
)

// Acceptance limits, inclusive upper bounds.
const (
	MaxRate  = 9.65e-5
	MaxError = 9.65e-6
)

// SourceConsolidation tags rows written from the consolidation station.
const SourceConsolidation = "con"

const (
	locationPrefix = "DataLocation:"
	kindLeakData   = "leak data for unit"
)

// IsAcceptable reports whether a leak rate and its error are within limits.
// Zero, negative and NaN values are never acceptable.
func IsAcceptable(rate, lerr float64) bool {
	return rate > 0 && rate <= MaxRate && lerr > 0 && lerr <= MaxError
}

// Verdict is the outcome of evaluating one measurement.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Evaluate explains IsAcceptable.
func Evaluate(rate, lerr float64) Verdict {
	var reasons []string
	switch {
	case !(rate > 0):
		reasons = append(reasons, fmt.Sprintf("rate %s is not positive", ledger.FormatRate(rate)))
	case rate > MaxRate:
		reasons = append(reasons, fmt.Sprintf("rate %s exceeds %s", ledger.FormatRate(rate), ledger.FormatRate(MaxRate)))
	}
	switch {
	case !(lerr > 0):
		reasons = append(reasons, fmt.Sprintf("error %s is not positive", ledger.FormatRate(lerr)))
	case lerr > MaxError:
		reasons = append(reasons, fmt.Sprintf("error %s exceeds %s", ledger.FormatRate(lerr), ledger.FormatRate(MaxError)))
	}
	if len(reasons) == 0 {
		return Verdict{Accepted: true}
	}
	return Verdict{Reason: strings.Join(reasons, "; ")}
}

// Options configures a Gate.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Gate reads and writes leak-rate measurements through a ledger.Store.
type Gate struct {
	store ledger.Store
	log   *slog.Logger
	now   func() time.Time
}

// New returns a gate over store.
func New(store ledger.Store, opts Options) *Gate {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{store: store, log: opts.Logger, now: opts.Now}
}

// LookupLatest returns the unit's measurement with the greatest timestamp.
// When two rows share the greatest timestamp the later one in the ledger wins.
func (g *Gate) LookupLatest(ctx context.Context, unit string) (types.QualityMeasurement, error) {
	entries, err := g.store.FindQualityEntries(ctx, unit)
	if err != nil {
		return types.QualityMeasurement{}, err
	}
	if len(entries) == 0 {
		return types.QualityMeasurement{}, &ledger.NotFoundError{Kind: kindLeakData, ID: types.NormalizeID(unit)}
	}
	latest := entries[0]
	for _, m := range entries[1:] {
		if !m.Timestamp.Before(latest.Timestamp) {
			latest = m
		}
	}
	return latest, nil
}

// History returns the unit's measurements at or after since, oldest first.
// A zero since returns every row.
func (g *Gate) History(ctx context.Context, unit string, since time.Time) ([]types.QualityMeasurement, error) {
	entries, err := g.store.FindQualityEntries(ctx, unit)
	if err != nil {
		return nil, err
	}
	out := make([]types.QualityMeasurement, 0, len(entries))
	for _, m := range entries {
		if since.IsZero() || !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Check returns the latest measurement of unit together with its verdict.
func (g *Gate) Check(ctx context.Context, unit string) (types.QualityMeasurement, Verdict, error) {
	m, err := g.LookupLatest(ctx, unit)
	if err != nil {
		return types.QualityMeasurement{}, Verdict{}, err
	}
	return m, Evaluate(m.Rate, m.Error), nil
}

// PassedLeakTest reports whether the unit's latest measurement is acceptable.
// A unit with no measurement has not passed; that is not an error.
func (g *Gate) PassedLeakTest(ctx context.Context, unit string) (bool, error) {
	m, v, err := g.Check(ctx, unit)
	if err != nil {
		if IsNoData(err) {
			g.log.Info("no leak data found", "unit", unit)
			return false, nil
		}
		return false, err
	}
	if !v.Accepted {
		g.log.Info("latest leak measurement is not passing",
			"unit", unit, "at", m.Timestamp, "reason", v.Reason)
	}
	return v.Accepted, nil
}

// UnknownChamber is recorded when the operator does not know the test chamber.
const UnknownChamber = "??"

var chamberPattern = regexp.MustCompile(`^chamber(\d+|\?\?)$`)

// ChamberLabel renders a chamber as written in the leak-rate ledger
// (chamber3, chamber??). An empty chamber is unknown.
func ChamberLabel(chamber string) string {
	c := strings.TrimSpace(chamber)
	c = strings.TrimPrefix(strings.ToLower(c), "chamber")
	if c == "" {
		c = UnknownChamber
	}
	return "chamber" + c
}

// Submission is a leak measurement entered by an operator.
type Submission struct {
	Unit     string
	Worker   string
	Chamber  string // chamber number, or UnknownChamber
	Rate     float64
	Error    float64
	Location string // where the raw data lives
	Source   string // defaults to SourceConsolidation
}

func (s Submission) validate() error {
	if !types.IsUnitID(s.Unit) {
		return fmt.Errorf("invalid unit %q", s.Unit)
	}
	if strings.TrimSpace(s.Worker) == "" {
		return fmt.Errorf("worker is required")
	}
	if c := ChamberLabel(s.Chamber); !chamberPattern.MatchString(c) {
		return fmt.Errorf("invalid chamber %q", s.Chamber)
	}
	return nil
}

// RecordAndGate appends the submission to the leak-rate ledger if it is
// acceptable or override is set, and reports whether it was accepted. An
// unacceptable submission without override writes nothing.
func (g *Gate) RecordAndGate(ctx context.Context, sub Submission, override bool) (bool, error) {
	if err := sub.validate(); err != nil {
		return false, err
	}
	v := Evaluate(sub.Rate, sub.Error)
	if !v.Accepted && !override {
		g.log.Info("leak measurement rejected", "unit", sub.Unit, "reason", v.Reason)
		return false, nil
	}
	if !v.Accepted {
		g.log.Warn("leak measurement accepted by operator override",
			"unit", sub.Unit, "worker", sub.Worker, "reason", v.Reason)
	}

	source := sub.Source
	if source == "" {
		source = SourceConsolidation
	}
	m := types.QualityMeasurement{
		Unit:      types.NormalizeID(sub.Unit),
		Timestamp: g.now().Truncate(time.Second),
		Source:    source,
		Worker:    strings.TrimSpace(sub.Worker),
		Chamber:   ChamberLabel(sub.Chamber),
		Rate:      sub.Rate,
		Error:     sub.Error,
		Comment:   locationPrefix + strings.TrimSpace(sub.Location),
	}
	if err := g.store.AppendQualityEntry(ctx, m); err != nil {
		return false, fmt.Errorf("recording leak rate for %s: %w", m.Unit, err)
	}
	return true, nil
}

// IsNoData distinguishes "unit never measured" from a missing ledger file.
func IsNoData(err error) bool {
	var nf *ledger.NotFoundError
	return errors.As(err, &nf) && nf.Kind == kindLeakData
}
