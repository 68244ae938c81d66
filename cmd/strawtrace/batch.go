package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strawtrace/strawtrace/internal/debug"
	"github.com/strawtrace/strawtrace/internal/types"
	"github.com/strawtrace/strawtrace/internal/ui"
)

var batchCmd = &cobra.Command{
	Use:     "batch",
	GroupID: GroupLedger,
	Short:   "Create and list pallet ledgers",
}

var batchCreateCmd = &cobra.Command{
	Use:     "create <group> <batch>",
	Short:   "Create an empty pallet ledger",
	Example: `  strawtrace batch create CPALID01 CPAL0001`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, batch := types.NormalizeID(args[0]), types.NormalizeID(args[1])
		header, _ := cmd.Flags().GetString("header")
		path, err := fileStore.CreateBatch(rootCtx, group, batch, header)
		if err != nil {
			return err
		}
		debug.LogEvent("batch-create", batch, actor, path)
		if jsonOutput {
			outputJSON(map[string]string{"group": group, "batch": batch, "path": path})
			return nil
		}
		debug.PrintNormal("Created %s\n", path)
		return nil
	},
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every pallet ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := fileStore.ListBatches(rootCtx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(refs)
			return nil
		}
		if len(refs) == 0 {
			debug.PrintNormal("No pallets under %s\n", fileStore.PalletsDir())
			return nil
		}
		group := ""
		for _, ref := range refs {
			if ref.Group != group {
				group = ref.Group
				fmt.Println(ui.RenderCategory(group))
			}
			fmt.Printf("  %s %s\n", ref.Batch, ui.RenderMuted(ref.Path))
		}
		return nil
	},
}

func init() {
	batchCreateCmd.Flags().String("header", "", "Header line written as the first line of the ledger")
	batchCmd.AddCommand(batchCreateCmd, batchListCmd)
	rootCmd.AddCommand(batchCmd)
}
