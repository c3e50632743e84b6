package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"

	"quantbench/ledger"
)

func TestTasksBaselineFirst(t *testing.T) {
	tasks := Tasks("/models/llama", []string{"4", "2", "3"})

	labels := lo.Map(tasks, func(task *Task, _ int) string { return task.Label })
	assert.Equal(t, []string{ledger.BaselineLabel, "4", "2", "3"}, labels)

	assert.Equal(t, "/models/llama", tasks[0].ModelDir)
	assert.Equal(t, filepath.Join("/models/llama", "4"), tasks[1].ModelDir)
}

func TestTasksNoDeduplication(t *testing.T) {
	// Duplicates are resolved by skip-done at the ledger, not here.
	tasks := Tasks("/models/llama", []string{"2", "2"})
	assert.Len(t, tasks, 3)
}

func TestTasksBaselineOnly(t *testing.T) {
	tasks := Tasks("/models/llama", nil)
	assert.Len(t, tasks, 1)
	assert.Equal(t, ledger.BaselineLabel, tasks[0].Label)
}
