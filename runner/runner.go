package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/samber/lo"
)

// Runner abstracts the external measurement tooling so the scheduler can be
// exercised without GPUs.
type Runner interface {
	// MeasureKLDiv compares a variant model against the base model and
	// returns the KL divergence reported by the tool.
	MeasureKLDiv(ctx context.Context, baseDir, modelDir string, device, rows int, out io.Writer) (float64, error)
	// MeasurePerplexity returns the model's perplexity over rows test rows.
	MeasurePerplexity(ctx context.Context, modelDir string, device, rows int, out io.Writer) (float64, error)
}

// The tools print human-readable status; only these lines matter. Patterns
// are tolerant to spelling variants, scientific notation, nan and ±inf.
var (
	klDivPattern      = regexp.MustCompile(`(?i)(?:KL|K/L)\s+divergence(?:\s+\(A,\s+B\))?:\s+([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?|nan|inf|-inf)`)
	perplexityPattern = regexp.MustCompile(`(?i)Perplexity:\s+([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?|nan|inf|-inf)`)
)

// ExecRunner invokes the exllamav3 tooling as subprocesses, one at a time,
// pinned to a single device. Running the tool out of process bounds a crash
// or a device memory leak to the calling worker's slot.
type ExecRunner struct {
	Python          string // python interpreter, defaults to "python3"
	ModelDiffScript string // model diff tool, defaults to "model_diff.py"
	PplModule       string // perplexity module, defaults to "exllamav3.ppl_layer"
	Log             *slog.Logger
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) MeasureKLDiv(ctx context.Context, baseDir, modelDir string, device, rows int, out io.Writer) (float64, error) {
	output, err := r.run(ctx, out,
		lo.Must(lo.Coalesce(r.ModelDiffScript, "model_diff.py")),
		"-ma", baseDir,
		"-mb", modelDir,
		"-r", strconv.Itoa(rows),
		"-d", strconv.Itoa(device),
	)
	if err != nil {
		return 0, err
	}
	return parseMetric(klDivPattern, output, "KL divergence")
}

func (r *ExecRunner) MeasurePerplexity(ctx context.Context, modelDir string, device, rows int, out io.Writer) (float64, error) {
	output, err := r.run(ctx, out,
		"-m", lo.Must(lo.Coalesce(r.PplModule, "exllamav3.ppl_layer")),
		"-m", modelDir,
		"-r", strconv.Itoa(rows),
		"-d", strconv.Itoa(device),
	)
	if err != nil {
		return 0, err
	}
	return parseMetric(perplexityPattern, output, "Perplexity")
}

// run streams the tool's combined output live to out while capturing it for
// parsing.
func (r *ExecRunner) run(ctx context.Context, out io.Writer, args ...string) (string, error) {
	python := lo.Must(lo.Coalesce(r.Python, "python3"))
	if r.Log != nil {
		r.Log.Debug("Running measurement tool",
			"command", shellescape.QuoteCommand(append([]string{python}, args...)))
	}

	var captured strings.Builder
	var sink io.Writer = &captured
	if out != nil {
		sink = io.MultiWriter(&captured, out)
	}

	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("measurement tool failed: %w\n\nOutput:\n%s", err, captured.String())
	}
	return captured.String(), nil
}

func parseMetric(pattern *regexp.Regexp, output, name string) (float64, error) {
	match := pattern.FindStringSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("could not find '%s' in measurement output", name)
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse %s value '%s': %w", name, match[1], err)
	}
	return value, nil
}

// ModelSizeGiB sums the .safetensors files directly inside dir. Weights of a
// sharded model all sit at the top level, so the walk is non-recursive.
func ModelSizeGiB(dir string) float64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".safetensors") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return float64(total) / (1 << 30)
}
