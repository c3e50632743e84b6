package scheduler

import (
	"log/slog"

	"quantbench/runner"
)

// Config describes one measurement run.
type Config struct {
	BaseDir   string   // base (bf16) model directory
	Variants  []string // quant labels to measure, usually bits-per-weight values
	Devices   []int    // one worker slot per device
	PplRows   int      // rows forwarded to the perplexity tool
	SkipDone  bool     // skip labels already recorded in the slot's ledger
	WriteLogs bool     // redirect each slot's output to logs/measure_gpu<d>.log
	TablePath string   // canonical table destination, defaults to DefaultTablePath

	Runner runner.Runner
	Logger *slog.Logger
}
