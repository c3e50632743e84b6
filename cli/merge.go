package main

import (
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"quantbench/cli/ui"
	"quantbench/ledger"
	"quantbench/log"
	"quantbench/scheduler"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Rebuilds the canonical table from the shard ledgers",

	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := filepath.Abs(lo.Must(cmd.Flags().GetString("model")))
		if err != nil {
			return fmt.Errorf("failed to resolve model directory: %w", err)
		}
		devices, err := parseDevices(lo.Must(cmd.Flags().GetString("devices")))
		if err != nil {
			return err
		}

		table := lo.Must(lo.Coalesce(lo.Must(cmd.Flags().GetString("csv")), scheduler.DefaultTablePath(model)))
		shards := lo.Map(devices, func(device int, _ int) string {
			return scheduler.ShardPath(model, device)
		})

		spinner := ui.NewSpinner("Merging shard ledgers")
		if err := ledger.Merge(table, shards, log.With("component", "merge")); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success(fmt.Sprintf("Merged %d shards into %s", len(shards), table))
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringP("model", "m", "", "path to the BF16/base model directory")
	lo.Must0(mergeCmd.MarkFlagRequired("model"))
	mergeCmd.Flags().StringP("devices", "d", "0", "CUDA device list whose shards to merge (example: 0,1)")
	mergeCmd.Flags().String("csv", "", "override the merged table path")
}
