package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(exitFailed)
	}
}

// outputJSONError writes err as JSON to stderr.
func outputJSONError(err error) {
	errObj := map[string]string{"error": err.Error()}
	if code := errorCode(err); code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(os.Stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj) // Best effort: the exit code still reports the failure
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrLocked):
		return "locked"
	case errors.Is(err, ledger.ErrConfiguration):
		return "configuration"
	case errors.Is(err, genealogy.ErrCycle):
		return "cycle"
	case errors.Is(err, genealogy.ErrTraceability):
		return "traceability"
	default:
		return ""
	}
}
