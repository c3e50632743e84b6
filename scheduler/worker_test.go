package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbench/ledger"
)

// faultStore injects an append failure, simulating a crash between the tool
// returning and the record reaching stable storage.
type faultStore struct {
	*ledger.Ledger
	failAppend bool
}

func (s *faultStore) Append(rec ledger.Record) error {
	if s.failAppend {
		return fmt.Errorf("injected storage fault")
	}
	return s.Ledger.Append(rec)
}

func newTestWorker(t *testing.T, config Config, r *fakeRunner, store recordStore) *worker {
	t.Helper()
	if store == nil {
		store = ledger.New(ShardPath(config.BaseDir, 0))
	}
	return &worker{
		device:   0,
		baseDir:  config.BaseDir,
		ledger:   store,
		runner:   r,
		skipDone: config.SkipDone,
		pplRows:  config.PplRows,
		output:   os.Stdout,
		log:      testLogger(),
	}
}

func runWorker(w *worker, tasks ...*Task) []Event {
	queue := make(chan *Task, len(tasks)+1)
	for _, task := range tasks {
		queue <- task
	}
	queue <- nil

	events := make(chan Event, len(tasks)+1)
	w.run(context.Background(), queue, events)
	close(events)

	var out []Event
	for event := range events {
		out = append(out, event)
	}
	return out
}

func TestWorkerSkipsRecordedLabels(t *testing.T) {
	config, r := newTestConfig(t, []string{"2"}, []int{0})
	shard := ledger.New(ShardPath(config.BaseDir, 0))
	require.NoError(t, shard.EnsureInitialized())
	require.NoError(t, shard.Append(ledger.NewRecord("2", 0.2, 9.2, 2.0)))

	w := newTestWorker(t, config, r, nil)
	events := runWorker(w, &Task{Label: "2", ModelDir: filepath.Join(config.BaseDir, "2")})

	// A skipped label produces no outcome event, only the final done marker.
	require.Len(t, events, 1)
	done, ok := events[0].(EventWorkerDone)
	require.True(t, ok)
	assert.NoError(t, done.Err)
	assert.Empty(t, r.measured())
}

func TestWorkerRecordsFailureAsDone(t *testing.T) {
	config, r := newTestConfig(t, []string{"3"}, []int{0})
	r.fail["3"] = fmt.Errorf("device out of memory")

	w := newTestWorker(t, config, r, nil)
	events := runWorker(w, &Task{Label: "3", ModelDir: filepath.Join(config.BaseDir, "3")})

	require.Len(t, events, 2)
	failure, ok := events[0].(EventTaskFailed)
	require.True(t, ok)
	assert.Equal(t, "3", failure.Label)
	assert.Contains(t, failure.Error, "out of memory")

	assert.True(t, ledger.New(ShardPath(config.BaseDir, 0)).Exists("3"))
}

func TestWorkerRecordsMissingModelDir(t *testing.T) {
	config, r := newTestConfig(t, nil, []int{0})

	w := newTestWorker(t, config, r, nil)
	events := runWorker(w, &Task{Label: "9", ModelDir: filepath.Join(config.BaseDir, "9")})

	require.Len(t, events, 2)
	failure, ok := events[0].(EventTaskFailed)
	require.True(t, ok)
	assert.Contains(t, failure.Error, "not found")
}

func TestWorkerCrashBeforeFlushLeavesNoRecord(t *testing.T) {
	config, r := newTestConfig(t, []string{"2"}, []int{0})
	shard := ledger.New(ShardPath(config.BaseDir, 0))
	store := &faultStore{Ledger: shard, failAppend: true}

	w := newTestWorker(t, config, r, store)
	events := runWorker(w, &Task{Label: "2", ModelDir: filepath.Join(config.BaseDir, "2")})

	// The measurement ran, but the outcome never committed: no record, no
	// outcome event, worker aborted.
	assert.Equal(t, []string{"2"}, r.measured())
	require.Len(t, events, 1)
	done, ok := events[0].(EventWorkerDone)
	require.True(t, ok)
	assert.Error(t, done.Err)
	assert.False(t, shard.Exists("2"))

	// A subsequent run reprocesses the label exactly once.
	rerun := newFakeRunner(config.BaseDir)
	rerun.fail = map[string]error{}
	w2 := newTestWorker(t, config, rerun, nil)
	events = runWorker(w2, &Task{Label: "2", ModelDir: filepath.Join(config.BaseDir, "2")})

	require.Len(t, events, 2)
	assert.Equal(t, []string{"2"}, rerun.measured())
	assert.True(t, shard.Exists("2"))
}

func TestWorkerAbortsOnStorageFault(t *testing.T) {
	config, r := newTestConfig(t, []string{"2"}, []int{0})
	blocker := filepath.Join(config.BaseDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	w := newTestWorker(t, config, r, ledger.New(filepath.Join(blocker, "ledger.csv")))
	events := runWorker(w, &Task{Label: "2", ModelDir: filepath.Join(config.BaseDir, "2")})

	require.Len(t, events, 1)
	done, ok := events[0].(EventWorkerDone)
	require.True(t, ok)
	assert.Error(t, done.Err)
	assert.Empty(t, r.measured())
}

func TestWorkerStopsOnCancel(t *testing.T) {
	config, r := newTestConfig(t, []string{"2", "3"}, []int{0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	queue := make(chan *Task, 3)
	queue <- &Task{Label: "2", ModelDir: filepath.Join(config.BaseDir, "2")}
	queue <- &Task{Label: "3", ModelDir: filepath.Join(config.BaseDir, "3")}
	queue <- nil

	events := make(chan Event, 3)
	w := newTestWorker(t, config, r, nil)
	w.run(ctx, queue, events)

	done, ok := (<-events).(EventWorkerDone)
	require.True(t, ok)
	assert.ErrorIs(t, done.Err, context.Canceled)
	assert.Empty(t, r.measured())
	assert.False(t, ledger.New(ShardPath(config.BaseDir, 0)).Exists("2"))
}
