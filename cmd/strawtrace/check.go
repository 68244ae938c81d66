package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/strawtrace/strawtrace/internal/config"
	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/types"
	"github.com/strawtrace/strawtrace/internal/ui"
)

// CheckResult is the outcome of checking one batch.
type CheckResult struct {
	Batch        string   `json:"batch"`
	Passed       bool     `json:"passed"`
	FailingSteps []string `json:"failing_steps,omitempty"`
	Error        string   `json:"error,omitempty"`

	err error
}

// checkBatches runs CheckAll for every batch with at most limit in flight.
// Results keep the order of batches. A traceability failure is a result,
// anything else is returned.
func checkBatches(ctx context.Context, r *genealogy.Resolver, batches, steps []string, unit string, limit int) ([]CheckResult, error) {
	results := make([]CheckResult, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, batch := range batches {
		g.Go(func() error {
			batch = types.NormalizeID(batch)
			res := CheckResult{Batch: batch}
			err := r.CheckAll(ctx, batch, steps, unit)
			var terr *genealogy.TraceabilityError
			switch {
			case err == nil:
				res.Passed = true
			case errors.As(err, &terr):
				res.FailingSteps = terr.FailingSteps
				res.Error = err.Error()
				res.err = err
			case errors.Is(err, genealogy.ErrCycle):
				// A cycle is a ledger defect in this batch only.
				res.Error = err.Error()
				res.err = err
			default:
				return fmt.Errorf("checking %s: %w", batch, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

var checkCmd = &cobra.Command{
	Use:     "check <batch>...",
	GroupID: GroupLedger,
	Short:   "Verify that every straw of one or more pallets passed the required steps",
	Long: `Checks every current member of each pallet against the listed steps
(default: the full sequence). Exits 1 when any pallet fails.`,
	Example: `  strawtrace check CPAL0001 CPAL0002
  strawtrace check CPAL0001 --steps prep,ohms
  strawtrace check CPAL0001 --unit ST01234`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stepsFlag, _ := cmd.Flags().GetStringSlice("steps")
		unit, _ := cmd.Flags().GetString("unit")
		steps := types.FullSequence
		if len(stepsFlag) > 0 {
			steps = stepsFlag
		}

		results, err := checkBatches(rootCtx, newResolver(), args, steps, types.NormalizeID(unit), config.GetInt(config.KeyCheckConcurrency))
		if err != nil {
			return err
		}

		failed := 0
		for _, res := range results {
			if !res.Passed {
				failed++
			}
		}
		if jsonOutput {
			outputJSON(results)
		} else {
			for _, res := range results {
				if res.Passed {
					debug.PrintNormal("%s %s\n", ui.RenderPassIcon(), res.Batch)
				} else {
					fmt.Printf("%s %s\n", ui.RenderFailIcon(), res.Error)
				}
			}
			if len(results) > 1 {
				debug.PrintNormal("\n%d of %d pallet(s) passed %s\n", len(results)-failed, len(results), strings.Join(steps, ", "))
			}
		}
		if failed > 0 {
			return errSilent
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringSlice("steps", nil, "Comma-separated step keys to check (default: full sequence)")
	checkCmd.Flags().String("unit", "", "Check only this straw instead of every member")
	rootCmd.AddCommand(checkCmd)
}
