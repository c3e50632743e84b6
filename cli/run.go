package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"quantbench/log"
	"quantbench/quantize"
	"quantbench/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the full pipeline: quantize, then measure",
	Long: `Runs the quantization stage followed by the sharded measurement stage.
Converter and measurement arguments can be forwarded with
'--quant-args -- ...' and '--measure-args -- ...' blocks.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if !lo.Must(cmd.Flags().GetBool("no-quant")) {
			config, err := quantizeConfigFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := quantize.Run(config); err != nil {
				return err
			}
		}

		if !lo.Must(cmd.Flags().GetBool("no-measure")) {
			plan, err := measurePlanFromFlags(cmd)
			if err != nil {
				return err
			}
			if lo.Must(cmd.Flags().GetBool("dry-run")) {
				return nil
			}
			if err := runMeasureStage(cmd.Context(), plan); err != nil {
				return err
			}
		}

		if lo.Must(cmd.Flags().GetBool("cleanup")) && !lo.Must(cmd.Flags().GetBool("dry-run")) {
			return runCleanupStage(cmd)
		}
		return nil
	},
}

// runCleanupStage sweeps the intermediate artifacts once the merged table is
// in place: converter work directories, per-device shard ledgers and slot
// logs.
func runCleanupStage(cmd *cobra.Command) error {
	config, err := quantizeConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	plan, err := measurePlanFromFlags(cmd)
	if err != nil {
		return err
	}

	quantize.Cleanup(config)
	scheduler.CleanupArtifacts(plan.Model, plan.Devices, log.With("component", "cleanup"))
	return nil
}

func init() {
	addModelFlags(runCmd)
	runCmd.Flags().StringP("device-ratios", "r", "", "per-device weight ratios forwarded to the converter")
	runCmd.Flags().Int("rows", 100, "rows used for the perplexity run")
	runCmd.Flags().String("csv", "", "override the merged table path")
	runCmd.Flags().Bool("no-quant", false, "skip the quantization stage")
	runCmd.Flags().Bool("no-measure", false, "skip the measurement stage")
	runCmd.Flags().Bool("no-skip-done", false, "do not skip labels already present in a shard ledger")
	runCmd.Flags().Bool("no-logs", false, "stream worker output to stdout instead of per-device log files")
	runCmd.Flags().Bool("dry-run", false, "print what would run without executing")
	runCmd.Flags().Bool("continue-on-error", false, "keep converting remaining bpws after a failure")
	runCmd.Flags().Bool("cleanup", false, "after a successful run, remove work directories, shard ledgers and slot logs")
}
