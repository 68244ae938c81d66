package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/types"
	"github.com/strawtrace/strawtrace/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status <batch>",
	GroupID: GroupLedger,
	Short:   "Show the pass table of a pallet",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetStringSlice("steps")
		m, err := buildMatrix(args[0], steps)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(m)
			return nil
		}
		fmt.Print(renderStatus(m))
		return nil
	},
}

func buildMatrix(batch string, steps []string) (*genealogy.Matrix, error) {
	if len(steps) == 0 {
		steps = nil
	}
	return newResolver().Matrix(rootCtx, types.NormalizeID(batch), steps)
}

func renderStatus(m *genealogy.Matrix) string {
	verdict := ui.RenderVerdict(m.AllPassed(), fmt.Sprintf("%s: all steps passed", m.Batch))
	if !m.AllPassed() {
		verdict = ui.RenderVerdict(false, fmt.Sprintf("%s: incomplete", m.Batch))
	}
	return ui.RenderMatrix(m) + "\n" + verdict + "\n"
}

func init() {
	statusCmd.Flags().StringSlice("steps", nil, "Comma-separated step keys to show (default: full sequence)")
	rootCmd.AddCommand(statusCmd)
}
