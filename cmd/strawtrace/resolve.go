package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/types"
	"github.com/strawtrace/strawtrace/internal/ui"
)

// ResolveResult is the JSON shape of resolve.
type ResolveResult struct {
	Batch  string `json:"batch"`
	Unit   string `json:"unit"`
	Step   string `json:"step"`
	Passed bool   `json:"passed"`
}

var resolveCmd = &cobra.Command{
	Use:     "resolve <batch> <straw> <step>",
	GroupID: GroupLedger,
	Short:   "Report whether a straw passed a step, following substitutions",
	Example: `  strawtrace resolve CPAL0007 ST01234 leak`,
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, unit, step := types.NormalizeID(args[0]), types.NormalizeID(args[1]), args[2]
		if err := types.ValidateSteps([]string{step}); err != nil {
			return err
		}
		r := newResolver()
		ok, err := r.Resolve(rootCtx, batch, unit, step)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(ResolveResult{Batch: batch, Unit: unit, Step: step, Passed: ok})
			return nil
		}
		word := "FAIL"
		if ok {
			word = "PASS"
		}
		fmt.Printf("%s %s %s: %s\n", batch, unit, types.DisplayName(step), ui.RenderVerdict(ok, word))
		return nil
	},
}

func newResolver() *genealogy.Resolver {
	return genealogy.NewResolver(store, genealogy.Options{Logger: logger.With("component", "genealogy")})
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
