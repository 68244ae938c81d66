// Package export writes a pallet's ledger and pass table to an xlsx workbook.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/types"
)

// Sheet names.
const (
	SheetLedger = "Ledger"
	SheetMatrix = "Pass matrix"
	SheetLeak   = "Leak rates"
)

// Report is everything exported for one batch.
type Report struct {
	Batch   string
	Records []types.Record
	Matrix  *genealogy.Matrix
	// Leak holds the latest measurement per member; missing units have none.
	Leak map[string]types.QualityMeasurement
}

// Build renders r into a new workbook. The caller closes it.
func Build(r Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetLedger); err != nil {
		_ = f.Close()
		return nil, err
	}
	for _, build := range []func(*excelize.File, Report) error{writeLedger, writeMatrix, writeLeak} {
		if err := build(f, r); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeLedger(f *excelize.File, r Report) error {
	header := []interface{}{"Time Stamp", "Task"}
	for i := 1; i <= types.BatchCapacity; i++ {
		header = append(header, fmt.Sprintf("Straw %d", i), fmt.Sprintf("Status %d", i))
	}
	header = append(header, "Workers")
	if err := f.SetSheetRow(SheetLedger, "A1", &header); err != nil {
		return fmt.Errorf("ledger header: %w", err)
	}
	for i, rec := range r.Records {
		row := []interface{}{rec.Timestamp, types.DisplayName(rec.Step)}
		for _, p := range rec.Pairs {
			row = append(row, p.Unit, p.Value)
		}
		for _, a := range rec.Actors {
			row = append(row, a)
		}
		if err := setRow(f, SheetLedger, i+2, row); err != nil {
			return err
		}
	}
	return f.SetPanes(SheetLedger, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeMatrix(f *excelize.File, r Report) error {
	if r.Matrix == nil {
		return nil
	}
	if _, err := f.NewSheet(SheetMatrix); err != nil {
		return err
	}
	header := []interface{}{"Slot", "Straw"}
	for _, s := range r.Matrix.Steps {
		header = append(header, s.Name)
	}
	if err := f.SetSheetRow(SheetMatrix, "A1", &header); err != nil {
		return fmt.Errorf("matrix header: %w", err)
	}

	pass, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#C6EFCE"}}})
	if err != nil {
		return err
	}
	fail, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FFC7CE"}}})
	if err != nil {
		return err
	}

	for i, row := range r.Matrix.Rows {
		line := []interface{}{row.Slot + 1, row.Unit}
		for _, ok := range row.Passed {
			line = append(line, passText(ok))
		}
		if err := setRow(f, SheetMatrix, i+2, line); err != nil {
			return err
		}
		for j, ok := range row.Passed {
			cell, err := excelize.CoordinatesToCellName(j+3, i+2)
			if err != nil {
				return err
			}
			style := fail
			if ok {
				style = pass
			}
			if err := f.SetCellStyle(SheetMatrix, cell, cell, style); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeLeak(f *excelize.File, r Report) error {
	if r.Matrix == nil {
		return nil
	}
	if _, err := f.NewSheet(SheetLeak); err != nil {
		return err
	}
	header := []interface{}{"Straw", "Timestamp", "Source", "Worker", "Chamber", "Rate", "Error", "Comment"}
	if err := f.SetSheetRow(SheetLeak, "A1", &header); err != nil {
		return fmt.Errorf("leak header: %w", err)
	}
	for i, row := range r.Matrix.Rows {
		line := []interface{}{row.Unit}
		if m, ok := r.Leak[row.Unit]; ok {
			line = append(line,
				m.Timestamp.Format(types.QualityTimeLayout),
				m.Source, m.Worker, m.Chamber,
				ledger.FormatRate(m.Rate), ledger.FormatRate(m.Error),
				m.Comment)
		} else {
			line = append(line, "no data")
		}
		if err := setRow(f, SheetLeak, i+2, line); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("%s row %d: %w", sheet, row, err)
	}
	return nil
}

func passText(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// WriteFile writes the workbook to path atomically via a temp file in the
// same directory.
func WriteFile(f *excelize.File, path string) error {
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()    // Best effort: may already be closed before rename
		_ = os.Remove(tempPath) // Best effort: may already be renamed
	}()

	if err := f.Write(tempFile); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync workbook: %w", err)
	}
	// Close before rename (required on Windows)
	_ = tempFile.Close()

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to replace export file: %w", err)
	}
	return nil
}

// DefaultFileName returns the file name used when no output path is given.
func DefaultFileName(batch string, now time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", types.NormalizeID(batch), now.Format("20060102_150405"))
}
