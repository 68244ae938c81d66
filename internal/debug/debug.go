// Package debug holds the process-wide verbosity switches and the operator
// event log.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("STRAW_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	logMutex     sync.Mutex
	eventLogPath string
	now          = time.Now
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(errOut, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Fprintf(out, format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Fprintln(out, args...)
	}
}

// NewLogger returns the structured logger handed to the core packages:
// debug level when verbose, warnings only when quiet, info otherwise.
func NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case Enabled():
		level = slog.LevelDebug
	case quietMode:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetEventLog sets the file LogEvent appends to. Empty disables the log.
func SetEventLog(path string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	eventLogPath = path
}

// LogEvent appends one line to the event log.
// Format: TIMESTAMP|EVENT|BATCH|ACTOR|DETAILS
func LogEvent(event, batch, actor, details string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if eventLogPath == "" {
		return
	}

	if batch == "" {
		batch = "none"
	}
	if actor == "" {
		actor = os.Getenv("USER")
		if actor == "" {
			actor = "unknown"
		}
	}
	entry := strings.Join([]string{
		now().UTC().Format(time.RFC3339),
		field(event),
		field(batch),
		field(actor),
		field(details),
	}, "|") + "\n"

	_ = os.MkdirAll(filepath.Dir(eventLogPath), 0o755)
	// #nosec G304 - path from configuration
	file, err := os.OpenFile(eventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Don't interrupt operations if logging fails
		Logf("event log: %v\n", err)
		return
	}
	defer file.Close()
	_, _ = file.WriteString(entry)
}

// field keeps a value on one line and free of the separator.
func field(s string) string {
	return strings.NewReplacer("|", "/", "\n", " ", "\r", " ").Replace(s)
}
