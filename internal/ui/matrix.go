package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/strawtrace/strawtrace/internal/genealogy"
)

// RenderMatrix renders a batch pass table: one row per straw, one column per
// step, followed by a per-step summary line.
func RenderMatrix(m *genealogy.Matrix) string {
	headers := []string{"#", "Straw"}
	for _, s := range m.Steps {
		headers = append(headers, s.Name)
	}

	rows := make([][]string, 0, len(m.Rows))
	for _, r := range m.Rows {
		row := []string{fmt.Sprintf("%d", r.Slot+1), r.Unit}
		for _, ok := range r.Passed {
			if ok {
				row = append(row, IconPass)
			} else {
				row = append(row, IconFail)
			}
		}
		if r.Cycle != "" {
			row[1] += " " + IconWarn
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(MutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Inherit(CategoryStyle)
			}
			if col < 2 || row < 0 || row >= len(rows) {
				return base
			}
			if rows[row][col] == IconPass {
				return base.Inherit(PassStyle)
			}
			return base.Inherit(FailStyle)
		})

	var b strings.Builder
	b.WriteString(RenderCategory(m.Batch))
	b.WriteString("\n")
	if len(m.Rows) == 0 {
		b.WriteString(RenderWarnIcon() + " " + RenderWarn("no straws on this pallet") + "\n")
		return b.String()
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	for i, s := range m.Steps {
		b.WriteString(RenderVerdict(m.StepPassed(i), s.Name))
		b.WriteString("\n")
	}
	for _, r := range m.Rows {
		if r.Cycle != "" {
			b.WriteString(RenderWarnIcon() + " " + RenderWarn(r.Cycle) + "\n")
		}
	}
	return b.String()
}
