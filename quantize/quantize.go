// Package quantize is the pass-through conversion stage: it drives the
// external converter once per requested bits-per-weight value. The stage owns
// no measurement state; completed outputs are detected by their config.json
// and interrupted jobs are resumed from their work directory marker.
package quantize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/fatih/color"
	"github.com/samber/lo"
)

const (
	DefaultOutTemplate  = "{model}/{bpw}"
	DefaultWorkTemplate = "{model}/w-{bpw}"
)

// Config describes one conversion stage run.
type Config struct {
	ModelDir        string
	Bpws            []string
	Forwarded       []string // arguments passed through to the converter untouched
	Converter       []string // converter command, defaults to python3 -m exllamav3.convert
	OutTemplate     string
	WorkTemplate    string
	DryRun          bool
	ContinueOnError bool

	Output io.Writer // converter output stream, defaults to os.Stdout
	Logger *slog.Logger
}

// Run converts every requested bpw in order. With ContinueOnError a failed
// conversion is logged and the stage moves on; otherwise it stops there.
func Run(config Config) error {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, bpw := range config.Bpws {
		if err := runOne(config, logger, bpw); err != nil {
			if config.ContinueOnError {
				logger.Warn("Conversion failed, continuing", "bpw", bpw, "error", err)
				continue
			}
			return fmt.Errorf("failed to convert bpw %s: %w", bpw, err)
		}
	}
	return nil
}

func runOne(config Config, logger *slog.Logger, bpw string) error {
	outDir := ExpandTemplate(lo.Must(lo.Coalesce(config.OutTemplate, DefaultOutTemplate)), config.ModelDir, bpw)
	workDir := ExpandTemplate(lo.Must(lo.Coalesce(config.WorkTemplate, DefaultWorkTemplate)), config.ModelDir, bpw)
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	// A finished output dir always wins over a resumable work dir.
	if isFile(filepath.Join(outDir, "config.json")) {
		logger.Info("Skipping conversion, output already exists", "bpw", bpw, "out", outDir)
		return nil
	}

	var argv []string
	if isFile(filepath.Join(workDir, "args.json")) {
		logger.Info("Resuming interrupted conversion", "bpw", bpw, "work", workDir)
		argv = append([]string{"-w", workDir, "-r"}, config.Forwarded...)
	} else {
		logger.Info("Starting conversion", "bpw", bpw, "out", outDir, "work", workDir)
		argv = append([]string{"-i", config.ModelDir, "-o", outDir, "-w", workDir, "-b", bpw}, config.Forwarded...)
	}

	converter := config.Converter
	if len(converter) == 0 {
		converter = []string{"python3", "-m", "exllamav3.convert"}
	}
	command := append(append([]string{}, converter...), argv...)

	fmt.Fprintf(output, "%s %s\n",
		color.HiBlueString("[quantize %s]", bpw),
		shellescape.QuoteCommand(command))

	if config.DryRun {
		fmt.Fprintln(output, color.HiYellowString("dry-run: not executing"))
		return nil
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("converter failed: %w", err)
	}
	return nil
}

// Cleanup removes the work directories left behind by finished conversions.
// Each failure is reported and the sweep moves on, so one stubborn directory
// does not strand the rest.
func Cleanup(config Config) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, bpw := range config.Bpws {
		workDir := ExpandTemplate(lo.Must(lo.Coalesce(config.WorkTemplate, DefaultWorkTemplate)), config.ModelDir, bpw)
		if _, err := os.Stat(workDir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		logger.Info("Removing work directory", "bpw", bpw, "work", workDir)
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("Failed to remove work directory", "work", workDir, "error", err)
		}
	}
}

// ExpandTemplate resolves an output or work directory template. Supported
// placeholders: {model}, {model_name}, {bpw}.
func ExpandTemplate(template, modelDir, bpw string) string {
	modelDir = strings.TrimRight(modelDir, "/")
	return strings.NewReplacer(
		"{model}", modelDir,
		"{model_name}", filepath.Base(modelDir),
		"{bpw}", bpw,
	).Replace(template)
}

// InjectDevices appends a -d device list unless the caller already forwarded
// one explicitly.
func InjectDevices(forwarded []string, devices []int) []string {
	if len(devices) == 0 || lo.Some(forwarded, []string{"-d", "--devices"}) {
		return forwarded
	}
	list := strings.Join(lo.Map(devices, func(d int, _ int) string { return fmt.Sprint(d) }), ",")
	return append(append([]string{}, forwarded...), "-d", list)
}

// InjectDeviceRatios appends a -dr ratio list unless already forwarded.
func InjectDeviceRatios(forwarded []string, ratios string) []string {
	if ratios == "" || lo.Some(forwarded, []string{"-dr", "--device-ratios"}) {
		return forwarded
	}
	return append(append([]string{}, forwarded...), "-dr", ratios)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
