package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/config"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/telemetry"
)

var (
	// Version is the current version of strawtrace (overridden by ldflags at build time).
	Version = "0.3.0"
	// Build can be set via ldflags at compile time.
	Build = "dev"
)

var (
	rootFlag    string
	actor       string
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	logger    *slog.Logger
	paths     config.Paths
	fileStore *ledger.FileStore
	// store is fileStore behind the telemetry decorator; domain code reads
	// and writes through it.
	store ledger.Store
)

// Command group IDs for help organization.
const (
	GroupLedger  = "ledger"
	GroupQuality = "quality"
	GroupSetup   = "setup"
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupLedger, Title: "Traceability:"},
		&cobra.Group{ID: GroupQuality, Title: "Leak Test & Consolidation:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup & Configuration:"},
	)

	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Data directory holding pallets/ and leak/ (default: $STRAW_ROOT or config)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Worker recorded on new ledger lines (default: $STRAW_ACTOR, config, $USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	// Assigned here rather than in the rootCmd literal to avoid an
	// initialization cycle (isNoStoreCommand refers to rootCmd).
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()
		applyViperOverrides(cmd)
		setupLogging()
		setupTelemetry()

		if isNoStoreCommand(cmd) {
			return
		}
		openStore()
	}
}

var rootCmd = &cobra.Command{
	Use:   "strawtrace",
	Short: "strawtrace - straw genealogy and leak-test quality gate",
	Long: `Tracks straws through the manufacturing steps recorded in per-pallet CSV ledgers,
follows substitutions across pallets, and gates consolidation on leak-test results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("strawtrace version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help() // Help() always returns nil for cobra commands
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		telemetry.Shutdown(context.Background())
		os.Exit(exitCode(err))
	}
}
