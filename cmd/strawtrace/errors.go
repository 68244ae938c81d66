package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/strawtrace/strawtrace/internal/ledger"
)

// Exit codes. Failed quality checks are distinguishable from broken input.
const (
	exitFailed = 1 // check or gate did not pass, or generic error
	exitUsage  = 2 // unknown batch, bad ledger layout
	exitLocked = 3 // ledger busy after retries
)

// FatalError writes an error message to stderr and exits with code 1.
// Use this for fatal errors that prevent the command from completing.
//
// Example:
//
//	if err := store.AppendEvent(ctx, batch, step, pairs, actors); err != nil {
//	    FatalError("%v", err)
//	}
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(exitFailed)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
// Use this when you can provide an actionable suggestion to fix the error.
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(exitUsage)
}

// WarnError writes a warning message to stderr and returns.
// Use this for optional operations that enhance functionality but aren't required.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// errSilent marks a failure that was already reported to the user.
var errSilent = errors.New("")

// exitCode maps an error returned from a RunE to the process exit status and
// prints it unless it was already reported.
func exitCode(err error) int {
	if !errors.Is(err, errSilent) {
		if jsonOutput {
			outputJSONError(err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	switch {
	case errors.Is(err, ledger.ErrLocked):
		return exitLocked
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrConfiguration):
		return exitUsage
	default:
		return exitFailed
	}
}
