package main

import (
	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/ledger"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupSetup,
	Short:   "Create the ledger layout (pallets/ and the leak-rate ledger) under --root",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ledger.Init(ledger.Options{
			Root:        paths.Root,
			PalletsDir:  paths.PalletsDir,
			QualityFile: paths.QualityFile,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		debug.LogEvent("init", "", actor, s.PalletsDir())
		debug.PrintNormal("Pallets:   %s\nLeak data: %s\n", s.PalletsDir(), s.QualityFile())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
