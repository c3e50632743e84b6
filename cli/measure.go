package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"quantbench/cli/ui"
	"quantbench/flags"
	"quantbench/log"
	"quantbench/runner"
	"quantbench/scheduler"
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Measures quantization quality across devices",

	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := measurePlanFromFlags(cmd)
		if err != nil {
			return err
		}

		if lo.Must(cmd.Flags().GetBool("dry-run")) {
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(plan)
		}
		return runMeasureStage(cmd.Context(), plan)
	},
}

func init() {
	addModelFlags(measureCmd)
	measureCmd.Flags().Int("rows", 100, "rows used for the perplexity run")
	measureCmd.Flags().String("csv", "", "override the merged table path")
	measureCmd.Flags().Bool("no-skip-done", false, "do not skip labels already present in a shard ledger")
	measureCmd.Flags().Bool("no-logs", false, "stream worker output to stdout instead of per-device log files")
	measureCmd.Flags().Bool("dry-run", false, "print the resolved plan without measuring")
}

type measurePlan struct {
	Model     string   `yaml:"model"`
	Variants  []string `yaml:"variants"`
	Devices   []int    `yaml:"devices"`
	Rows      int      `yaml:"rows"`
	SkipDone  bool     `yaml:"skip-done"`
	WriteLogs bool     `yaml:"write-logs"`
	Table     string   `yaml:"table,omitempty"`
}

func measurePlanFromFlags(cmd *cobra.Command) (measurePlan, error) {
	model, err := filepath.Abs(lo.Must(cmd.Flags().GetString("model")))
	if err != nil {
		return measurePlan{}, fmt.Errorf("failed to resolve model directory: %w", err)
	}

	devices, err := parseDevices(lo.Must(cmd.Flags().GetString("devices")))
	if err != nil {
		return measurePlan{}, err
	}

	rows := lo.Must(cmd.Flags().GetInt("rows"))
	if rows, devices, err = applyMeasureArgs(measureArgs, rows, devices); err != nil {
		return measurePlan{}, err
	}

	return measurePlan{
		Model:     model,
		Variants:  splitList(lo.Must(cmd.Flags().GetStringArray("bpws"))),
		Devices:   devices,
		Rows:      rows,
		SkipDone:  !lo.Must(cmd.Flags().GetBool("no-skip-done")),
		WriteLogs: !lo.Must(cmd.Flags().GetBool("no-logs")),
		Table:     lo.Must(cmd.Flags().GetString("csv")),
	}, nil
}

func runMeasureStage(ctx context.Context, plan measurePlan) error {
	var spinner *ui.Spinner
	if !verbose {
		spinner = ui.NewSpinner("Preparing measurement run")
	}

	s, err := scheduler.New(scheduler.Config{
		BaseDir:   plan.Model,
		Variants:  plan.Variants,
		Devices:   plan.Devices,
		PplRows:   plan.Rows,
		SkipDone:  plan.SkipDone,
		WriteLogs: plan.WriteLogs,
		TablePath: plan.Table,
		Runner: &runner.ExecRunner{
			Python:          viper.GetString(flags.Python),
			ModelDiffScript: viper.GetString(flags.ModelDiffScript),
			PplModule:       viper.GetString(flags.PplModule),
			Log:             log.With("component", "runner"),
		},
		Logger: log.Base,
	})
	if err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success(fmt.Sprintf("Measuring %d labels on %d devices", len(plan.Variants)+1, len(plan.Devices)))

	return s.Run(ctx)
}
