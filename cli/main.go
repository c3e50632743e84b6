package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"quantbench/flags"
	"quantbench/log"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var verbose bool

// Passthrough blocks split off before cobra parses anything.
var quantArgs, measureArgs []string

var quantbenchCmd = &cobra.Command{
	Use:   "quantbench",
	Short: "Quantbench quantizes a model and measures quant quality across GPU slots.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init()
	},
}

func init() {
	quantbenchCmd.AddCommand(runCmd)
	quantbenchCmd.AddCommand(measureCmd)
	quantbenchCmd.AddCommand(quantizeCmd)
	quantbenchCmd.AddCommand(mergeCmd)
	quantbenchCmd.AddCommand(versionCmd)

	quantbenchCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.Install(quantbenchCmd.PersistentFlags())
}

// addModelFlags declares the flags shared by every stage command.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("model", "m", "", "path to the BF16/base model directory")
	lo.Must0(cmd.MarkFlagRequired("model"))
	cmd.Flags().StringArrayP("bpws", "b", nil, "target bits-per-weight values (space- or comma-separated)")
	lo.Must0(cmd.MarkFlagRequired("bpws"))
	cmd.Flags().StringP("devices", "d", "0", "CUDA device list (example: 0,1)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := splitPassthrough(os.Args[1:])
	if err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
	quantArgs, measureArgs = p.QuantArgs, p.MeasureArgs
	quantbenchCmd.SetArgs(p.Cleaned)

	quantbenchCmd.SetOut(os.Stdout)
	if err := quantbenchCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
