package main

import (
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"quantbench/log"
	"quantbench/quantize"
)

var quantizeCmd = &cobra.Command{
	Use:   "quantize",
	Short: "Converts the base model to the requested bits-per-weight variants",

	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := quantizeConfigFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := quantize.Run(config); err != nil {
			return err
		}
		if lo.Must(cmd.Flags().GetBool("cleanup")) && !config.DryRun {
			quantize.Cleanup(config)
		}
		return nil
	},
}

func init() {
	addModelFlags(quantizeCmd)
	quantizeCmd.Flags().StringP("device-ratios", "r", "", "per-device weight ratios forwarded to the converter")
	quantizeCmd.Flags().Bool("dry-run", false, "print converter invocations without executing them")
	quantizeCmd.Flags().Bool("continue-on-error", false, "keep converting remaining bpws after a failure")
	quantizeCmd.Flags().Bool("cleanup", false, "remove work directories after a successful conversion")
}

func quantizeConfigFromFlags(cmd *cobra.Command) (quantize.Config, error) {
	model, err := filepath.Abs(lo.Must(cmd.Flags().GetString("model")))
	if err != nil {
		return quantize.Config{}, fmt.Errorf("failed to resolve model directory: %w", err)
	}

	devices, err := parseDevices(lo.Must(cmd.Flags().GetString("devices")))
	if err != nil {
		return quantize.Config{}, err
	}

	forwarded := quantize.InjectDevices(quantArgs, devices)
	forwarded = quantize.InjectDeviceRatios(forwarded, lo.Must(cmd.Flags().GetString("device-ratios")))

	return quantize.Config{
		ModelDir:        model,
		Bpws:            splitList(lo.Must(cmd.Flags().GetStringArray("bpws"))),
		Forwarded:       forwarded,
		DryRun:          lo.Must(cmd.Flags().GetBool("dry-run")),
		ContinueOnError: lo.Must(cmd.Flags().GetBool("continue-on-error")),
		Output:          cmd.OutOrStdout(),
		Logger:          log.With("component", "quantize"),
	}, nil
}
