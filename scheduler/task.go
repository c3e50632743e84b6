package scheduler

import (
	"path/filepath"

	"quantbench/ledger"
)

// Task is one measurable unit of work pulled from the shared queue. A nil
// *Task on the queue is the stop marker; one is enqueued per slot.
type Task struct {
	Label    string // ledger label, ledger.BaselineLabel for the base model
	ModelDir string
}

// Tasks builds the run's full task list: the baseline first so its row lands
// early, then each requested variant in caller order. Labels are not
// deduplicated here; a resumed run relies on skip-done in the worker, which
// must consult the ledger anyway.
func Tasks(baseDir string, variants []string) []*Task {
	tasks := make([]*Task, 0, len(variants)+1)
	tasks = append(tasks, &Task{Label: ledger.BaselineLabel, ModelDir: baseDir})
	for _, variant := range variants {
		tasks = append(tasks, &Task{Label: variant, ModelDir: filepath.Join(baseDir, variant)})
	}
	return tasks
}
