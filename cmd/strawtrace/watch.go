package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/types"
)

const watchDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:     "watch <batch>",
	GroupID: GroupLedger,
	Short:   "Show the pass table of a pallet and refresh it when its ledger changes",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch := types.NormalizeID(args[0])
		steps, _ := cmd.Flags().GetStringSlice("steps")
		ledgerPath, err := fileStore.LedgerPath(rootCtx, batch)
		if err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer func() { _ = watcher.Close() }() // Best effort cleanup

		// Watch directories: stations append in place but editors replace files.
		watched := map[string]bool{ledgerPath: true, fileStore.QualityFile(): true}
		for _, dir := range []string{filepath.Dir(ledgerPath), filepath.Dir(fileStore.QualityFile())} {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
		}

		var mu sync.Mutex
		render := func() {
			mu.Lock()
			defer mu.Unlock()
			m, err := buildMatrix(batch, steps)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error refreshing %s: %v\n", batch, err)
				return
			}
			if jsonOutput {
				outputJSON(m)
			} else {
				fmt.Print("\033[H\033[2J")
				fmt.Print(renderStatus(m))
				fmt.Fprintf(os.Stderr, "\nWatching %s... (Press Ctrl+C to exit)\n", ledgerPath)
			}
		}
		render()

		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()
		for {
			select {
			case <-rootCtx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !watched[event.Name] || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				logger.Debug("ledger changed", "path", event.Name, "op", event.Op.String())
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(watchDebounce, render)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringSlice("steps", nil, "Comma-separated step keys to show (default: full sequence)")
	rootCmd.AddCommand(watchCmd)
}
