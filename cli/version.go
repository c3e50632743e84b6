package main

import (
	"math"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number of quantbench",

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("quantbench version %s (%s)\n", version, commit[:int(math.Min(float64(len(commit)), 7))])
		return nil
	},
}
