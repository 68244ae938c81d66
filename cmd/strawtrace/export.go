package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/export"
	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/types"
)

var exportCmd = &cobra.Command{
	Use:     "export <batch>",
	GroupID: GroupLedger,
	Short:   "Export a pallet's ledger, pass table and leak rates to an xlsx workbook",
	Example: `  strawtrace export CPAL0007 -o CPAL0007.xlsx`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch := types.NormalizeID(args[0])
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = export.DefaultFileName(batch, time.Now())
		}

		report, err := buildReport(rootCtx, store, newResolver(), newGate(), batch)
		if err != nil {
			return err
		}
		f, err := export.Build(report)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if err := export.WriteFile(f, out); err != nil {
			return err
		}
		debug.LogEvent("export", batch, actor, out)
		debug.PrintNormal("Exported %s to %s\n", batch, out)
		return nil
	},
}

// buildReport gathers the ledger, the full-sequence pass table and the
// latest leak measurement of every member.
func buildReport(ctx context.Context, s ledger.Store, r *genealogy.Resolver, g *quality.Gate, batch string) (export.Report, error) {
	records, err := s.Find(ctx, batch)
	if err != nil {
		return export.Report{}, err
	}
	m, err := r.Matrix(ctx, batch, nil)
	if err != nil {
		return export.Report{}, err
	}
	leak := make(map[string]types.QualityMeasurement, len(m.Rows))
	for _, row := range m.Rows {
		latest, err := g.LookupLatest(ctx, row.Unit)
		switch {
		case err == nil:
			leak[row.Unit] = latest
		case quality.IsNoData(err):
		default:
			return export.Report{}, err
		}
	}
	return export.Report{Batch: batch, Records: records, Matrix: m, Leak: leak}, nil
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: <batch>_<timestamp>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
