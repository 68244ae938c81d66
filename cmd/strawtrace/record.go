package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/types"
)

// stationPairs marks every unit as passed except those in failed.
func stationPairs(units, failed []string) ([]types.Pair, error) {
	if len(units) > types.BatchCapacity {
		return nil, fmt.Errorf("%d straws listed, a pallet holds %d", len(units), types.BatchCapacity)
	}
	fail := make(map[string]bool, len(failed))
	for _, u := range failed {
		fail[types.NormalizeID(u)] = true
	}
	seen := make(map[string]bool, len(units))
	pairs := make([]types.Pair, 0, len(units))
	for _, u := range units {
		u = types.NormalizeID(u)
		if !types.IsUnitID(u) {
			return nil, fmt.Errorf("%q is not a straw ID", u)
		}
		if seen[u] {
			return nil, fmt.Errorf("%s listed twice", u)
		}
		seen[u] = true
		p := types.Pair{Unit: u}
		if !fail[u] {
			p.Value = string(types.StatusPass)
		}
		delete(fail, u)
		pairs = append(pairs, p)
	}
	if len(fail) > 0 {
		extra := make([]string, 0, len(fail))
		for u := range fail {
			extra = append(extra, u)
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("--fail names straws not listed: %s", strings.Join(extra, ", "))
	}
	return pairs, nil
}

// redirectPairs parses prior=target arguments of an adds record.
func redirectPairs(args []string) ([]types.Pair, error) {
	if len(args) > types.BatchCapacity {
		return nil, fmt.Errorf("%d substitutions listed, a pallet holds %d", len(args), types.BatchCapacity)
	}
	pairs := make([]types.Pair, 0, len(args))
	for _, arg := range args {
		prior, target, ok := strings.Cut(arg, "=")
		prior, target = types.NormalizeID(prior), types.NormalizeID(target)
		if !ok || prior == "" || target == "" {
			return nil, fmt.Errorf("invalid substitution %q (want STRAW=TARGET)", arg)
		}
		if !types.IsUnitID(prior) {
			return nil, fmt.Errorf("%q is not a straw ID", prior)
		}
		if !types.IsUnitID(target) && !types.IsBatchID(target) {
			return nil, fmt.Errorf("target %q is neither a straw nor a pallet", target)
		}
		pairs = append(pairs, types.Pair{Unit: prior, Value: target})
	}
	return pairs, nil
}

var recordCmd = &cobra.Command{
	Use:     "record <batch> <step> <straw>...",
	GroupID: GroupLedger,
	Short:   "Append a station record to a pallet ledger",
	Long: `Appends one record for step listing the given straws. Every straw is
marked passed unless named in --fail.`,
	Example: `  strawtrace record CPAL0001 ohms ST00001 ST00002 ST00003 --fail ST00002`,
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, step := types.NormalizeID(args[0]), args[1]
		if err := types.ValidateSteps([]string{step}); err != nil {
			return err
		}
		failed, _ := cmd.Flags().GetStringSlice("fail")
		pairs, err := stationPairs(args[2:], failed)
		if err != nil {
			return err
		}
		if err := store.AppendEvent(rootCtx, batch, step, pairs, []string{actor}); err != nil {
			return err
		}
		debug.LogEvent("record", batch, actor, fmt.Sprintf("%s %d straw(s), %d failed", step, len(pairs), len(failed)))
		debug.PrintNormal("Recorded %s for %d straw(s) on %s\n", types.DisplayName(step), len(pairs), batch)
		return nil
	},
}

var addsCmd = &cobra.Command{
	Use:     "adds <batch> <straw>=<target>...",
	GroupID: GroupLedger,
	Short:   "Record straws that came from another pallet or replaced another straw",
	Long: `Appends an adds record. Each target is either the pallet the straw came
from (CPAL####) or the straw it replaced (ST#####); history lookups follow it.`,
	Example: `  strawtrace adds CPAL0002 ST00007=CPAL0001 ST00031=ST00008`,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch := types.NormalizeID(args[0])
		pairs, err := redirectPairs(args[1:])
		if err != nil {
			return err
		}
		if err := store.AppendEvent(rootCtx, batch, types.StepAdds, pairs, []string{actor}); err != nil {
			return err
		}
		debug.LogEvent("adds", batch, actor, fmt.Sprintf("%d substitution(s)", len(pairs)))
		debug.PrintNormal("Recorded %d substitution(s) on %s\n", len(pairs), batch)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringSlice("fail", nil, "Straws that did not pass this step")
	rootCmd.AddCommand(recordCmd, addsCmd)
}
