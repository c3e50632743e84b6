package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"

	"quantbench/ledger"
	"quantbench/namegen"
)

// Scheduler distributes measurement tasks over a fixed set of device slots
// and keeps the canonical table up to date while outcomes come in. Workers
// write disjoint shard ledgers; the scheduler is the only merger.
type Scheduler struct {
	name   namegen.ID
	config Config
	log    *slog.Logger

	shards []string // per-slot ledger paths, in Devices order
	table  string
}

// New validates the run's structural preconditions; it spawns nothing yet.
func New(config Config) (*Scheduler, error) {
	if len(config.Devices) == 0 {
		return nil, fmt.Errorf("no devices to schedule on")
	}
	if len(lo.Uniq(config.Devices)) != len(config.Devices) {
		return nil, fmt.Errorf("duplicate device in %v", config.Devices)
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("no measurement runner configured")
	}
	if !isDir(config.BaseDir) {
		return nil, fmt.Errorf("base model directory not found: %s", config.BaseDir)
	}

	name := namegen.Get()
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		name:   name,
		config: config,
		log:    logger.With("run", name),
		shards: lo.Map(config.Devices, func(device int, _ int) string {
			return ShardPath(config.BaseDir, device)
		}),
		table: lo.Must(lo.Coalesce(config.TablePath, DefaultTablePath(config.BaseDir))),
	}, nil
}

// Run executes the whole measurement stage: enqueue every task plus one stop
// marker per slot, spawn the workers, merge incrementally on each outcome,
// and always merge once more after every worker joined. Individual label
// failures end up in the table's error column, not in the returned error.
func (s *Scheduler) Run(ctx context.Context) error {
	tasks := Tasks(s.config.BaseDir, s.config.Variants)
	s.log.Info("Measurement run starting",
		"tasks", len(tasks), "devices", s.config.Devices, "table", s.table)

	// Surface whatever a previous aborted run already recorded, before any
	// worker starts. A fully resumed run may emit no events at all.
	if err := ledger.Merge(s.table, s.shards, s.log); err != nil {
		return fmt.Errorf("failed to merge existing shards: %w", err)
	}

	queue := make(chan *Task, len(tasks)+len(s.config.Devices))
	for _, task := range tasks {
		queue <- task
	}
	for range s.config.Devices {
		queue <- nil
	}

	events := make(chan Event)
	var wg sync.WaitGroup
	var closers []io.Closer
	closeAll := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	// Set up every slot before spawning any worker: a failure here is
	// structural, and returning with workers already parked on the events
	// channel would leak them.
	workers := make([]*worker, 0, len(s.config.Devices))
	for _, device := range s.config.Devices {
		w := &worker{
			device:   device,
			baseDir:  s.config.BaseDir,
			ledger:   ledger.New(ShardPath(s.config.BaseDir, device)),
			runner:   s.config.Runner,
			skipDone: s.config.SkipDone,
			pplRows:  s.config.PplRows,
			output:   os.Stdout,
			log:      s.log.With("device", device),
		}

		if s.config.WriteLogs {
			logFile, err := openSlotLog(LogPath(s.config.BaseDir, device))
			if err != nil {
				closeAll()
				return fmt.Errorf("failed to open slot log: %w", err)
			}
			closers = append(closers, logFile)
			w.output = logFile
			w.log = slog.New(slog.NewTextHandler(logFile, nil)).With("run", s.name, "device", device)
		}

		workers = append(workers, w)
	}

	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx, queue, events)
		}()
	}

	active := len(s.config.Devices)
	failed := 0
	for active > 0 {
		switch event := (<-events).(type) {
		case EventTaskCompleted:
			s.log.Info("Measured", "label", event.Record.Label, "device", event.Device,
				"kl_div", event.Record.KLDiv, "ppl", event.Record.PPL, "gib", event.Record.GiB)
			s.mergeIncremental()

		case EventTaskFailed:
			failed++
			s.log.Warn("Measurement failed", "label", event.Label, "device", event.Device,
				"error", event.Error)
			s.mergeIncremental()

		case EventWorkerDone:
			active--
			if event.Err != nil {
				s.log.Error("Worker aborted", "device", event.Device, "error", event.Err)
			} else {
				s.log.Debug("Worker finished", "device", event.Device)
			}
		}
	}

	wg.Wait()
	closeAll()

	if err := ledger.Merge(s.table, s.shards, s.log); err != nil {
		return fmt.Errorf("failed to merge shards: %w", err)
	}

	if failed > 0 {
		s.log.Warn("Run finished with failures, inspect the table's error column",
			"failed", failed, "table", s.table)
	} else {
		s.log.Info("Run complete", "table", s.table)
	}
	return ctx.Err()
}

// Table is where the merged result lands.
func (s *Scheduler) Table() string {
	return s.table
}

func (s *Scheduler) mergeIncremental() {
	if err := ledger.Merge(s.table, s.shards, s.log); err != nil {
		s.log.Warn("Incremental merge failed", "error", err)
	}
}

// DefaultTablePath is where the canonical table goes for a model directory.
func DefaultTablePath(baseDir string) string {
	return filepath.Join(baseDir, modelName(baseDir)+"Measured.csv")
}

// ShardPath is the per-device ledger location for a model directory.
func ShardPath(baseDir string, device int) string {
	return filepath.Join(baseDir, fmt.Sprintf("%sMeasured.gpu%d.csv", modelName(baseDir), device))
}

// LogPath is the per-device output log location for a model directory.
func LogPath(baseDir string, device int) string {
	return filepath.Join(baseDir, "logs", fmt.Sprintf("measure_gpu%d.log", device))
}

// CleanupArtifacts removes the per-device shard ledgers and the slot log
// directory once the merged table has made them redundant. Each failure is
// reported and the sweep moves on.
func CleanupArtifacts(baseDir string, devices []int, logger *slog.Logger) {
	for _, device := range devices {
		shard := ShardPath(baseDir, device)
		if err := os.Remove(shard); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to remove shard ledger", "path", shard, "error", err)
		}
	}

	logs := filepath.Dir(LogPath(baseDir, 0))
	if err := os.RemoveAll(logs); err != nil {
		logger.Warn("Failed to remove slot logs", "path", logs, "error", err)
	}
}

func modelName(baseDir string) string {
	return filepath.Base(baseDir)
}

func openSlotLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}
