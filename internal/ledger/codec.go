package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/strawtrace/strawtrace/internal/types"
)

// recordFieldCount is the number of CSV fields in a full pallet record before
// the actors: timestamp, step, then BatchCapacity (unit, status) pairs.
const recordFieldCount = 2 + 2*types.BatchCapacity

// qualityFieldCount is the minimum number of fields in a leak-rate row
// (the trailing comment is optional).
const qualityFieldCount = 7

// encodeRecord renders a pallet record as one CSV line including the newline.
// Pairs are padded with empty columns up to BatchCapacity.
func encodeRecord(rec types.Record) ([]byte, error) {
	if len(rec.Pairs) > types.BatchCapacity {
		return nil, fmt.Errorf("record has %d pairs, capacity is %d", len(rec.Pairs), types.BatchCapacity)
	}
	if strings.TrimSpace(rec.Step) == "" {
		return nil, fmt.Errorf("record step is required")
	}

	fields := make([]string, 0, recordFieldCount+len(rec.Actors))
	fields = append(fields, rec.Timestamp, rec.Step)
	for i := 0; i < types.BatchCapacity; i++ {
		if i < len(rec.Pairs) {
			fields = append(fields, rec.Pairs[i].Unit, rec.Pairs[i].Value)
		} else {
			fields = append(fields, "", "")
		}
	}
	for _, a := range rec.Actors {
		if a = strings.TrimSpace(a); a != "" {
			fields = append(fields, a)
		}
	}
	return encodeLine(fields)
}

// decodeRecord parses the fields of one pallet ledger line. Historical lines
// may stop before the last slot; missing pairs are padded with empty pairs
// and such a line carries no actors.
func decodeRecord(source string, line int, fields []string) (types.Record, error) {
	if len(fields) < 2 {
		return types.Record{}, &types.ParseError{
			Source: source, Line: line, Field: "record",
			Value: strings.Join(fields, ","),
			Err:   fmt.Errorf("want at least a timestamp and a step, got %d fields", len(fields)),
		}
	}
	step := strings.TrimSpace(fields[1])
	if step == "" {
		return types.Record{}, &types.ParseError{Source: source, Line: line, Field: "step", Value: fields[1]}
	}

	rec := types.Record{
		Timestamp: strings.TrimSpace(fields[0]),
		Step:      step,
		Pairs:     make([]types.Pair, types.BatchCapacity),
	}
	at := func(i int) string {
		if i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}
	for i := 0; i < types.BatchCapacity; i++ {
		rec.Pairs[i] = types.Pair{Unit: at(2 + 2*i), Value: at(3 + 2*i)}
	}
	if len(fields) > recordFieldCount {
		for _, a := range fields[recordFieldCount:] {
			if a = strings.TrimSpace(a); a != "" {
				rec.Actors = append(rec.Actors, a)
			}
		}
	}
	return rec, nil
}

// isHeaderLine reports whether fields are the free-text header some
// stations write as the first line of a new pallet file.
func isHeaderLine(fields []string) bool {
	return len(fields) > 0 && strings.HasPrefix(strings.ToLower(strings.TrimSpace(fields[0])), "time stamp")
}

// encodeQuality renders a leak-rate row as one CSV line including the newline.
func encodeQuality(m types.QualityMeasurement) ([]byte, error) {
	if strings.TrimSpace(m.Unit) == "" {
		return nil, fmt.Errorf("quality entry unit is required")
	}
	ts := m.Timestamp
	if ts.IsZero() {
		return nil, fmt.Errorf("quality entry timestamp is required")
	}
	return encodeLine([]string{
		m.Unit,
		ts.Format(types.QualityTimeLayout),
		m.Source,
		m.Worker,
		m.Chamber,
		FormatRate(m.Rate),
		FormatRate(m.Error),
		m.Comment,
	})
}

// decodeQuality parses the fields of one leak-rate ledger row.
func decodeQuality(source string, line int, fields []string) (types.QualityMeasurement, error) {
	if len(fields) < qualityFieldCount {
		return types.QualityMeasurement{}, &types.ParseError{
			Source: source, Line: line, Field: "row",
			Value: strings.Join(fields, ","),
			Err:   fmt.Errorf("want at least %d fields, got %d", qualityFieldCount, len(fields)),
		}
	}
	ts, err := ParseQualityTime(fields[1])
	if err != nil {
		return types.QualityMeasurement{}, &types.ParseError{Source: source, Line: line, Field: "timestamp", Value: fields[1], Err: err}
	}
	rate, err := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
	if err != nil {
		return types.QualityMeasurement{}, &types.ParseError{Source: source, Line: line, Field: "rate", Value: fields[5], Err: err}
	}
	lerr, err := strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)
	if err != nil {
		return types.QualityMeasurement{}, &types.ParseError{Source: source, Line: line, Field: "error", Value: fields[6], Err: err}
	}

	m := types.QualityMeasurement{
		Unit:      strings.TrimSpace(fields[0]),
		Timestamp: ts,
		Source:    strings.TrimSpace(fields[2]),
		Worker:    strings.TrimSpace(fields[3]),
		Chamber:   strings.TrimSpace(fields[4]),
		Rate:      rate,
		Error:     lerr,
	}
	if len(fields) > qualityFieldCount {
		// Older rows carry unquoted commas in the comment.
		m.Comment = strings.TrimSpace(strings.Join(fields[qualityFieldCount:], ","))
	}
	return m, nil
}

// ParseQualityTime parses a leak-rate timestamp in either historical layout.
func ParseQualityTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(types.QualityTimeLayoutLegacy, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(types.QualityTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q matches neither %q nor %q", s, types.QualityTimeLayoutLegacy, types.QualityTimeLayout)
	}
	return t, nil
}

// FormatRate renders a leak rate or error the way the leak station does (9.65E-05).
func FormatRate(v float64) string {
	return strconv.FormatFloat(v, 'E', 2, 64)
}

func encodeLine(fields []string) ([]byte, error) {
	for _, f := range fields {
		if strings.ContainsAny(f, "\r\n") {
			return nil, fmt.Errorf("field %q contains a line break", f)
		}
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newReader returns a csv.Reader tolerant of the ragged, hand-edited lines
// found in historical ledgers.
func newReader(data []byte) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r
}
