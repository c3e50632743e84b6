package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/lo"
)

// Ledger is the append-only record store for a single worker slot. Exactly
// one worker appends to it during a run; the merge step may read it at any
// time, including between appends.
type Ledger struct {
	path string
}

func New(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string {
	return l.path
}

// EnsureInitialized creates the backing file with its header if absent.
// Safe to call before every run.
func (l *Ledger) EnsureInitialized() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat ledger '%s': %w", l.path, err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create ledger '%s': %w", l.path, err)
	}

	return l.writeDurably(f, Header)
}

// Append durably writes one record. The row is flushed and fsynced before
// Append returns, so a crash after return can never lose it.
func (l *Ledger) Append(rec Record) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger '%s' for append: %w", l.path, err)
	}

	return l.writeDurably(f, rec.row())
}

// Exists reports whether a record for label is present on disk. The file is
// re-read on every call so that a restarted worker rediscovers progress made
// before it crashed. A missing or unreadable ledger counts as nothing done.
func (l *Ledger) Exists(label string) bool {
	records, err := l.Records()
	if err != nil {
		return false
	}
	return lo.ContainsBy(records, func(r Record) bool { return r.Label == label })
}

// Records reads every complete record currently in the ledger. Rows that are
// blank, truncated, or torn by a concurrent append are skipped rather than
// failing the read.
func (l *Ledger) Records() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger '%s': %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var records []Record
	header := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("failed to read ledger '%s': %w", l.path, err)
		}
		if header {
			header = false
			if len(row) > 0 && row[0] == Header[0] {
				continue
			}
		}
		if rec, ok := recordFromRow(row); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// writeDurably emits a single row in one buffered write, then syncs and
// closes f. Readers either see the whole row or none of it.
func (l *Ledger) writeDurably(f *os.File, row []string) error {
	w := csv.NewWriter(f)
	err := w.Write(row)
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write to ledger '%s': %w", l.path, err)
	}
	return nil
}
