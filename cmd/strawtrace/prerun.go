package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/config"
	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/telemetry"
	"github.com/strawtrace/strawtrace/internal/ui"
)

// noStoreCommands run without an open ledger.
var noStoreCommands = map[string]bool{
	"config":     true,
	"init":       true,
	"version":    true,
	"help":       true,
	"completion": true,
}

// isNoStoreCommand reports whether cmd or any parent is in noStoreCommands.
func isNoStoreCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil && c != rootCmd; c = c.Parent() {
		if noStoreCommands[c.Name()] {
			return true
		}
	}
	return cmd == rootCmd
}

// setupSignalContext creates a context cancelled on SIGINT/SIGTERM.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package
// so all subsequent output respects the user's preference.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

// applyViperOverrides merges config values (config file + env vars) into
// flags that weren't explicitly set on the command line.
// Priority: flags > viper (config file + env vars) > defaults.
func applyViperOverrides(cmd *cobra.Command) {
	if !cmd.Flags().Changed("json") {
		jsonOutput = config.GetBool(config.KeyJSON)
	}
	if cmd.Flags().Changed("root") {
		config.Set(config.KeyRoot, rootFlag)
	}
	if !cmd.Flags().Changed("actor") {
		actor = config.GetString(config.KeyActor)
	}
	if actor == "" {
		actor = os.Getenv("USER")
	}
	if actor == "" {
		actor = "unknown"
	}
	paths = config.ResolvePaths()
}

func setupLogging() {
	logger = debug.NewLogger(os.Stderr)
	debug.SetEventLog(paths.EventsLog)
	ui.InitColor()
}

func setupTelemetry() {
	if err := telemetry.Init(rootCtx, "strawtrace", Version); err != nil {
		WarnError("telemetry disabled: %v", err)
	}
}

// openStore opens the ledger layout and wraps it for telemetry.
func openStore() {
	s, err := ledger.Open(ledger.Options{
		Root:                 paths.Root,
		PalletsDir:           paths.PalletsDir,
		QualityFile:          paths.QualityFile,
		RetryInitialInterval: config.GetDuration(config.KeyLockRetryInitInterval),
		RetryMaxElapsed:      config.GetDuration(config.KeyLockRetryMaxElapsed),
		Logger:               logger.With("component", "ledger"),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrConfiguration) {
			FatalErrorWithHint(err.Error(), fmt.Sprintf("Run 'strawtrace init --root %s' to create the ledger layout", paths.Root))
		}
		FatalError("%v", err)
	}
	fileStore = s
	store = telemetry.WrapStore(s)
}
