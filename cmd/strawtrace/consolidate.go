package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/consolidate"
	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/types"
	"github.com/strawtrace/strawtrace/internal/ui"
)

var consolidateCmd = &cobra.Command{
	Use:     "consolidate <batch>",
	GroupID: GroupQuality,
	Short:   "Fill a pallet with 24 leak-tested straws and commit laser-cut and length records",
	Long: `Runs a consolidation session on a pallet. Every straw is checked against
the leak-rate ledger (or a passed leak step in its history) before it takes a
slot. Once all 24 slots are filled the session can be reviewed, slots
replaced, and the pallet finalized.

Without --units the session is interactive and needs a terminal.`,
	Example: `  strawtrace consolidate CPAL0042 --operator wk-a --operator wk-b
  strawtrace consolidate CPAL0042 --create-in CPALID05 --units ST00001,ST00002,...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch := types.NormalizeID(args[0])
		operators, _ := cmd.Flags().GetStringSlice("operator")
		units, _ := cmd.Flags().GetStringSlice("units")
		group, _ := cmd.Flags().GetString("create-in")
		if len(operators) == 0 {
			operators = []string{actor}
		}

		if group != "" {
			path, err := fileStore.CreateBatch(rootCtx, types.NormalizeID(group), batch, consolidate.Header)
			switch {
			case err == nil:
				debug.LogEvent("batch-create", batch, actor, path)
			case errors.Is(err, ledger.ErrExists):
			default:
				return err
			}
		}

		gate := newGate()
		wf := consolidate.New(store, gate, newResolver(), consolidate.Options{
			Logger: logger.With("component", "consolidate"),
		})
		sess, err := wf.Start(rootCtx, batch, operators)
		if err != nil {
			return err
		}

		if len(units) > 0 {
			err = consolidateUnits(rootCtx, sess, units)
		} else if ui.IsInteractive() {
			err = consolidateInteractive(rootCtx, sess)
		} else {
			_ = sess.Abort()
			return fmt.Errorf("consolidate needs a terminal or --units")
		}
		if err != nil {
			return err
		}
		if sess.State() == consolidate.Aborted {
			debug.PrintNormal("Consolidation of %s aborted, nothing written\n", batch)
			return nil
		}

		debug.LogEvent("consolidate", batch, strings.Join(sess.Operators, ","),
			fmt.Sprintf("%s for %d straws", strings.Join(consolidate.FinalizeSteps, "+"), len(sess.Slots())))
		if jsonOutput {
			outputJSON(map[string]interface{}{"session": sess.ID, "batch": batch, "slots": sess.Slots()})
			return nil
		}
		fmt.Println(ui.RenderVerdict(true, fmt.Sprintf("%s finalized with %d straws", batch, len(sess.Slots()))))
		return nil
	},
}

// consolidateUnits fills sess from units and finalizes it. Any rejection
// aborts the session without writing.
func consolidateUnits(ctx context.Context, sess *consolidate.Session, units []string) error {
	if len(units) != types.BatchCapacity {
		_ = sess.Abort()
		return fmt.Errorf("%d straws given, a pallet needs exactly %d", len(units), types.BatchCapacity)
	}
	for _, u := range units {
		if err := sess.Accept(ctx, u); err != nil {
			_ = sess.Abort()
			return err
		}
	}
	return sess.Finalize(ctx)
}

func consolidateInteractive(ctx context.Context, sess *consolidate.Session) error {
	for sess.State() == consolidate.Collecting {
		slot := types.BatchCapacity - sess.Remaining() + 1
		var unit string
		err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("%s slot %d of %d", sess.Batch, slot, types.BatchCapacity)).
				Description("Scan a straw, or leave empty to abort").
				Value(&unit),
		)).WithTheme(huh.ThemeDracula()).Run()
		if err != nil || strings.TrimSpace(unit) == "" {
			return abortOnPrompt(sess, err)
		}

		err = sess.Accept(ctx, unit)
		var rej *consolidate.RejectedError
		switch {
		case err == nil:
			continue
		case errors.As(err, &rej) && types.IsUnitID(rej.Unit):
			fmt.Println(ui.RenderVerdict(false, rej.Error()))
			if err := offerMeasurement(ctx, sess, rej.Unit); err != nil {
				return err
			}
		case errors.Is(err, consolidate.ErrRejected), errors.Is(err, consolidate.ErrDuplicateUnit):
			fmt.Println(ui.RenderVerdict(false, err.Error()))
		default:
			_ = sess.Abort()
			return err
		}
	}
	return reviewInteractive(ctx, sess)
}

// offerMeasurement lets the operator enter a fresh leak measurement for a
// rejected straw.
func offerMeasurement(ctx context.Context, sess *consolidate.Session, unit string) error {
	var (
		enter                        bool
		rate, lerr, chamber, location string
	)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title(fmt.Sprintf("Enter a leak measurement for %s?", unit)).Value(&enter),
		),
		huh.NewGroup(
			huh.NewInput().Title("Leak rate").Validate(validateFloat).Value(&rate),
			huh.NewInput().Title("Leak rate error").Validate(validateFloat).Value(&lerr),
			huh.NewInput().Title("Chamber").Description("?? if unknown").Validate(validateChamber).Value(&chamber),
			huh.NewInput().Title("Data location").Value(&location),
		).WithHideFunc(func() bool { return !enter }),
	).WithTheme(huh.ThemeDracula()).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	if !enter {
		return nil
	}

	sub := quality.Submission{Unit: unit, Worker: actor, Location: location}
	sub.Rate, _ = strconv.ParseFloat(strings.TrimSpace(rate), 64)
	sub.Error, _ = strconv.ParseFloat(strings.TrimSpace(lerr), 64)
	sub.Chamber = strings.TrimSpace(chamber)

	override := false
	if v := quality.Evaluate(sub.Rate, sub.Error); !v.Accepted {
		if override, err = confirmOverride(unit, v.Reason); err != nil || !override {
			return err
		}
	}
	if err := sess.AcceptMeasured(ctx, sub, override); err != nil {
		if errors.Is(err, consolidate.ErrRejected) {
			fmt.Println(ui.RenderVerdict(false, err.Error()))
			return nil
		}
		return err
	}
	debug.LogEvent("leak-record", sess.Batch, actor, fmt.Sprintf("%s rate=%s error=%s", unit, ledger.FormatRate(sub.Rate), ledger.FormatRate(sub.Error)))
	return nil
}

const (
	actionFinalize = "finalize"
	actionReplace  = "replace"
	actionAbort    = "abort"
)

func reviewInteractive(ctx context.Context, sess *consolidate.Session) error {
	for sess.State() == consolidate.Reviewing {
		fmt.Println(renderSlots(sess.Slots()))

		var action string
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s is full", sess.Batch)).
				Options(
					huh.NewOption("Finalize (write laser cut and length records)", actionFinalize),
					huh.NewOption("Replace a straw", actionReplace),
					huh.NewOption("Abort without writing", actionAbort),
				).
				Value(&action),
		)).WithTheme(huh.ThemeDracula()).Run()
		if err != nil {
			return abortOnPrompt(sess, err)
		}

		switch action {
		case actionFinalize:
			if err := sess.Finalize(ctx); err != nil {
				// Committed steps are remembered; choosing finalize again retries the rest.
				fmt.Println(ui.RenderVerdict(false, err.Error()))
				if errors.Is(err, ledger.ErrLocked) {
					continue
				}
				return err
			}
		case actionReplace:
			if err := replaceInteractive(ctx, sess); err != nil {
				fmt.Println(ui.RenderVerdict(false, err.Error()))
			}
		case actionAbort:
			return sess.Abort()
		}
	}
	return nil
}

func replaceInteractive(ctx context.Context, sess *consolidate.Session) error {
	var slot, unit string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title(fmt.Sprintf("Slot (1-%d)", types.BatchCapacity)).Validate(validateInt).Value(&slot),
		huh.NewInput().Title("Replacement straw").Value(&unit),
	)).WithTheme(huh.ThemeDracula()).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(slot))
	return sess.Replace(ctx, n-1, unit)
}

func abortOnPrompt(sess *consolidate.Session, err error) error {
	if abortErr := sess.Abort(); abortErr != nil {
		return abortErr
	}
	if err != nil && !errors.Is(err, huh.ErrUserAborted) {
		return err
	}
	return nil
}

func renderSlots(slots []types.Slot) string {
	var b strings.Builder
	for _, s := range slots {
		fmt.Fprintf(&b, "%s %s", ui.RenderMuted(fmt.Sprintf("%2d", s.Index+1)), s.Unit)
		if (s.Index+1)%6 == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString("   ")
		}
	}
	return b.String()
}

func validateFloat(s string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return fmt.Errorf("not a number")
	}
	return nil
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("not a whole number")
	}
	return nil
}

func validateChamber(s string) error {
	if s = strings.TrimSpace(s); s == "" || s == quality.UnknownChamber {
		return nil
	}
	return validateInt(s)
}

func init() {
	consolidateCmd.Flags().StringSlice("operator", nil, "Operator recorded on the finalize records (repeatable, default: --actor)")
	consolidateCmd.Flags().StringSlice("units", nil, "Comma-separated 24 straws for a non-interactive session")
	consolidateCmd.Flags().String("create-in", "", "Create the pallet ledger in this group if it does not exist")
	rootCmd.AddCommand(consolidateCmd)
}
