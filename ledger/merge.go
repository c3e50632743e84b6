package ledger

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Merge reconciles shard ledgers into one canonical table at out. Shards are
// read in the given order and the first row recorded for a label wins, whether
// the duplicate sits in another shard or later in the same one. That keeps the
// merge deterministic and idempotent even if two shards raced on the same
// label. The table is written to a temporary file and renamed into place so a
// concurrent reader never observes a partial write.
//
// Missing shard files are fine: a worker that never started simply
// contributes nothing.
func Merge(out string, shards []string, logger *slog.Logger) error {
	rows := make(map[string]Record)
	var labels []string

	for _, shard := range shards {
		records, err := New(shard).Records()
		if err != nil {
			return fmt.Errorf("failed to read shard: %w", err)
		}
		for _, rec := range records {
			if _, seen := rows[rec.Label]; seen {
				// Duplicates can live in a single shard too, e.g. a label
				// re-measured with skip-done disabled.
				logger.Warn("Duplicate label, keeping first recorded row",
					"label", rec.Label, "shard", shard)
				continue
			}
			rows[rec.Label] = rec
			labels = append(labels, rec.Label)
		}
	}

	sort.Slice(labels, func(i, j int) bool { return labelLess(labels[i], labels[j]) })

	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create table directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(out)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary table: %w", err)
	}

	w := csv.NewWriter(tmp)
	err = w.Write(Header)
	for _, label := range labels {
		if err == nil {
			err = w.Write(rows[label].row())
		}
	}
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), out)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write merged table '%s': %w", out, err)
	}

	logger.Debug("Merged shard ledgers", "shards", len(shards), "rows", len(labels), "table", out)
	return nil
}
