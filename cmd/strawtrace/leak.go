package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/timeparsing"
	"github.com/strawtrace/strawtrace/internal/types"
	"github.com/strawtrace/strawtrace/internal/ui"
)

// LeakResult is the JSON shape of leak latest.
type LeakResult struct {
	types.QualityMeasurement
	quality.Verdict
}

var leakCmd = &cobra.Command{
	Use:     "leak",
	GroupID: GroupQuality,
	Short:   "Query and record leak-rate measurements",
}

var leakLatestCmd = &cobra.Command{
	Use:   "latest <straw>",
	Short: "Show the most recent leak measurement of a straw and whether it passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, v, err := newGate().Check(rootCtx, types.NormalizeID(args[0]))
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(LeakResult{m, v})
			return nil
		}
		fmt.Println(formatMeasurement(m))
		if v.Accepted {
			fmt.Println(ui.RenderVerdict(true, "within limits"))
		} else {
			fmt.Println(ui.RenderVerdict(false, v.Reason))
			return errSilent
		}
		return nil
	},
}

var leakHistoryCmd = &cobra.Command{
	Use:   "history <straw>",
	Short: "List leak measurements of a straw, oldest first",
	Example: `  strawtrace leak history ST01234
  strawtrace leak history ST01234 --since "last monday"
  strawtrace leak history ST01234 --since 2w`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			t, err := timeparsing.ParseSince(s, time.Now())
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			since = t
		}
		entries, err := newGate().History(rootCtx, types.NormalizeID(args[0]), since)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entries)
			return nil
		}
		if len(entries) == 0 {
			debug.PrintNormal("No measurements\n")
			return nil
		}
		for _, m := range entries {
			v := quality.Evaluate(m.Rate, m.Error)
			icon := ui.RenderPassIcon()
			if !v.Accepted {
				icon = ui.RenderFailIcon()
			}
			fmt.Printf("%s %s\n", icon, formatMeasurement(m))
		}
		return nil
	},
}

var leakRecordCmd = &cobra.Command{
	Use:   "record <straw>",
	Short: "Record a leak measurement entered by an operator",
	Long: `Appends a measurement to the leak-rate ledger when it is within limits.
Out-of-limit values are only recorded with --override, or after confirming
the prompt on an interactive terminal.`,
	Example: `  strawtrace leak record ST01234 --rate 4.1e-5 --error 2e-6 --chamber 3 --location /data/run17`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, _ := cmd.Flags().GetFloat64("rate")
		lerr, _ := cmd.Flags().GetFloat64("error")
		chamber, _ := cmd.Flags().GetString("chamber")
		location, _ := cmd.Flags().GetString("location")
		override, _ := cmd.Flags().GetBool("override")

		sub := quality.Submission{
			Unit:     types.NormalizeID(args[0]),
			Worker:   actor,
			Chamber:  chamber,
			Rate:     rate,
			Error:    lerr,
			Location: location,
		}
		ok, err := recordMeasurement(newGate(), sub, override)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(ui.RenderVerdict(false, fmt.Sprintf("%s not recorded: %s", sub.Unit, quality.Evaluate(rate, lerr).Reason)))
			return errSilent
		}
		debug.LogEvent("leak-record", "", actor, fmt.Sprintf("%s rate=%s error=%s", sub.Unit, ledger.FormatRate(rate), ledger.FormatRate(lerr)))
		debug.PrintNormal("Recorded leak rate %s for %s\n", ledger.FormatRate(rate), sub.Unit)
		return nil
	},
}

// recordMeasurement records sub, asking for an override on a terminal when
// the gate rejects it.
func recordMeasurement(g *quality.Gate, sub quality.Submission, override bool) (bool, error) {
	ok, err := g.RecordAndGate(rootCtx, sub, override)
	if err != nil || ok || override || !ui.IsInteractive() {
		return ok, err
	}
	confirmed, err := confirmOverride(sub.Unit, quality.Evaluate(sub.Rate, sub.Error).Reason)
	if err != nil || !confirmed {
		return false, err
	}
	return g.RecordAndGate(rootCtx, sub, true)
}

func confirmOverride(unit, reason string) (bool, error) {
	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s is out of limits", unit)).
				Description(reason + "\nRecord it anyway?").
				Affirmative("Record").
				Negative("Discard").
				Value(&confirmed),
		),
	).WithTheme(huh.ThemeDracula())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}

func newGate() *quality.Gate {
	return quality.New(store, quality.Options{Logger: logger.With("component", "quality")})
}

func formatMeasurement(m types.QualityMeasurement) string {
	s := fmt.Sprintf("%s  %s  rate %s  error %s  %s %s",
		m.Unit, m.Timestamp.Format(types.QualityTimeLayout),
		ledger.FormatRate(m.Rate), ledger.FormatRate(m.Error), m.Chamber, m.Worker)
	if m.Comment != "" {
		s += "  " + ui.RenderMuted(m.Comment)
	}
	return s
}

func init() {
	leakHistoryCmd.Flags().String("since", "", "Only measurements at or after this time (2d, yesterday, 2024-03-01)")

	leakRecordCmd.Flags().Float64("rate", 0, "Leak rate")
	leakRecordCmd.Flags().Float64("error", 0, "Leak rate error")
	leakRecordCmd.Flags().String("chamber", "", "Test chamber number (empty or ?? when unknown)")
	leakRecordCmd.Flags().String("location", "", "Where the raw measurement data is stored")
	leakRecordCmd.Flags().Bool("override", false, "Record even when out of limits")
	_ = leakRecordCmd.MarkFlagRequired("rate")
	_ = leakRecordCmd.MarkFlagRequired("error")

	leakCmd.AddCommand(leakLatestCmd, leakHistoryCmd, leakRecordCmd)
	rootCmd.AddCommand(leakCmd)
}
