package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"quantbench/ledger"
	"quantbench/runner"
)

// The diff tool compares logits over a short run; this matches what the
// measurement tooling uses by default.
const klDivRows = 10

// recordStore is the slice of ledger.Ledger a worker needs. Narrowed to an
// interface so storage faults can be injected in tests.
type recordStore interface {
	EnsureInitialized() error
	Exists(label string) bool
	Append(rec ledger.Record) error
}

// worker owns one device slot for the duration of a run. It is the only
// writer of its ledger, so appends need no locking.
type worker struct {
	device   int
	baseDir  string
	ledger   recordStore
	runner   runner.Runner
	skipDone bool
	pplRows  int
	output   io.Writer
	log      *slog.Logger
}

// run drains the shared queue until it sees a stop marker. Per task:
// skip when the ledger already has the label, otherwise run the measurement
// and durably record the outcome, success or failure alike, before emitting
// an event. The final EventWorkerDone is sent even when the loop aborts.
func (w *worker) run(ctx context.Context, tasks <-chan *Task, events chan<- Event) {
	var abort error
	defer func() { events <- EventWorkerDone{Device: w.device, Err: abort} }()

	if err := w.ledger.EnsureInitialized(); err != nil {
		w.log.Error("Failed to initialize ledger", "error", err)
		abort = err
		return
	}

	for {
		task, ok := <-tasks
		if !ok || task == nil {
			return
		}
		if ctx.Err() != nil {
			abort = ctx.Err()
			return
		}

		if w.skipDone && w.ledger.Exists(task.Label) {
			w.log.Debug("Skipping already recorded label", "label", task.Label)
			continue
		}

		w.log.Info("Measuring", "label", task.Label, "model", task.ModelDir)
		record, err := w.measure(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted, not a tool verdict. Leave the ledger clean so
				// the label is retried on the next run.
				abort = ctx.Err()
				return
			}
			w.log.Error("Measurement failed", "label", task.Label, "error", err)
			record = ledger.NewErrorRecord(task.Label, err)
		}

		// Nothing is written for an in-flight label until the tool returned,
		// so a kill at any earlier point leaves no partial record behind.
		if err := w.ledger.Append(record); err != nil {
			w.log.Error("Failed to append to ledger", "label", task.Label, "error", err)
			abort = err
			return
		}

		if record.Failed() {
			events <- EventTaskFailed{Device: w.device, Label: task.Label, Error: record.Err}
		} else {
			events <- EventTaskCompleted{Device: w.device, Record: record}
		}
	}
}

func (w *worker) measure(ctx context.Context, task *Task) (ledger.Record, error) {
	if !isDir(task.ModelDir) {
		return ledger.Record{}, fmt.Errorf("model directory not found: %s", task.ModelDir)
	}

	var klDiv float64
	if task.Label != ledger.BaselineLabel {
		var err error
		if klDiv, err = w.runner.MeasureKLDiv(ctx, w.baseDir, task.ModelDir, w.device, klDivRows, w.output); err != nil {
			return ledger.Record{}, err
		}
	}

	ppl, err := w.runner.MeasurePerplexity(ctx, task.ModelDir, w.device, w.pplRows, w.output)
	if err != nil {
		return ledger.Record{}, err
	}

	return ledger.NewRecord(task.Label, klDiv, ppl, runner.ModelSizeGiB(task.ModelDir)), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
