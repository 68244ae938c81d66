// Package types defines the core data structures for straw and pallet traceability.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BatchCapacity is the number of (unit, status) pairs carried by every ledger record.
const BatchCapacity = 24

// Identifier prefixes. Classification is case-insensitive.
const (
	BatchPrefix      = "CPAL"
	BatchGroupPrefix = "CPALID"
	UnitPrefix       = "ST"
)

// RecordTimeLayout is the timestamp layout stations write into pallet ledgers.
const RecordTimeLayout = "2006-01-02_15:04"

// Quality ledger timestamp layouts, in the order they are tried.
const (
	QualityTimeLayoutLegacy = "01/02/2006 15:04"
	QualityTimeLayout       = "2006-01-02 15:04:05"
)

// Status is the outcome written next to a unit in a ledger record.
type Status string

const (
	StatusPass  Status = "P"    // what every station writes
	StatusEmpty Status = ""     // slot not passed / unused
	statusAlias Status = "PASS" // accepted when reading
)

// Passed reports whether the status counts as a pass.
func (s Status) Passed() bool {
	v := Status(strings.ToUpper(strings.TrimSpace(string(s))))
	return v == StatusPass || v == statusAlias
}

// Pair is one (slot value, status) column pair of a record. For adds records
// Value is the redirect target (a BatchID or UnitID) stored in the status column.
type Pair struct {
	Unit  string `json:"unit"`
	Value string `json:"value"`
}

// Status returns the pair's second column interpreted as a pass/fail status.
func (p Pair) Status() Status { return Status(p.Value) }

// Record is a single immutable ledger line.
type Record struct {
	Timestamp string   `json:"timestamp"`
	Step      string   `json:"step"`
	Pairs     []Pair   `json:"pairs"`
	Actors    []string `json:"actors,omitempty"`
}

// IsAdds reports whether the record is an indirection record.
func (r Record) IsAdds() bool { return r.Step == StepAdds }

// Slot binds a slot position (0-based) to the unit occupying it.
type Slot struct {
	Index int    `json:"index"`
	Unit  string `json:"unit"`
}

// QualityMeasurement is one row of the shared leak-rate ledger.
type QualityMeasurement struct {
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Worker    string    `json:"worker"`
	Chamber   string    `json:"chamber"`
	Rate      float64   `json:"rate"`
	Error     float64   `json:"error"`
	Comment   string    `json:"comment,omitempty"`
}

// IsBatchID reports whether id names a pallet (CPAL####, not a CPALID group).
func IsBatchID(id string) bool {
	u := strings.ToUpper(strings.TrimSpace(id))
	return strings.HasPrefix(u, BatchPrefix) && !strings.HasPrefix(u, BatchGroupPrefix)
}

// IsBatchGroupID reports whether id names a pallet group directory (CPALID##).
func IsBatchGroupID(id string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(id)), BatchGroupPrefix)
}

// IsUnitID reports whether id names a straw.
func IsUnitID(id string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(id)), UnitPrefix)
}

// NormalizeID trims whitespace and upper-cases an identifier.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("parse error")

// ParseError describes a malformed ledger field. Readers log and skip the
// offending line instead of failing the whole query.
type ParseError struct {
	Source string // file or ledger name
	Line   int
	Field  string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s:%d: invalid %s %q", e.Source, e.Line, e.Field, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }
