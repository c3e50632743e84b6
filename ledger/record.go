package ledger

import (
	"math"
	"strconv"
	"strings"
)

// BaselineLabel identifies the unquantized reference model. It is measured
// first but sorts last in the merged table.
const BaselineLabel = "bf16"

// Header is the fixed column set shared by shard ledgers and the merged table.
var Header = []string{"weights", "KL Div", "PPL r-100", "GiB", "error"}

// Record is one measurement row. Metric cells are kept as formatted strings
// so that merging shards never reformats a value written by another worker.
type Record struct {
	Label string
	KLDiv string
	PPL   string
	GiB   string
	Err   string
}

// NewRecord builds a success record from raw metric values.
func NewRecord(label string, klDiv, ppl, gib float64) Record {
	return Record{
		Label: label,
		KLDiv: strconv.FormatFloat(klDiv, 'g', -1, 64),
		PPL:   strconv.FormatFloat(ppl, 'g', -1, 64),
		GiB:   strconv.FormatFloat(gib, 'f', 2, 64),
	}
}

// NewErrorRecord builds a row marking a label as attempted and failed. Such a
// row still counts as done: the label is not retried until an operator
// removes it from the ledger. The message is collapsed to a single line to
// keep the file strictly line-oriented for concurrent readers.
func NewErrorRecord(label string, err error) Record {
	return Record{Label: label, Err: strings.Join(strings.Fields(err.Error()), " ")}
}

func (r Record) Failed() bool { return r.Err != "" }

func (r Record) row() []string {
	return []string{r.Label, r.KLDiv, r.PPL, r.GiB, r.Err}
}

func recordFromRow(row []string) (Record, bool) {
	if len(row) < 4 || strings.TrimSpace(row[0]) == "" {
		return Record{}, false
	}
	rec := Record{Label: strings.TrimSpace(row[0]), KLDiv: row[1], PPL: row[2], GiB: row[3]}
	if len(row) > 4 {
		rec.Err = row[4]
	}
	return rec, true
}

// sortKey positions a label in the merged table: numeric labels ascending by
// value, other labels after the numeric range, the baseline always last.
func sortKey(label string) float64 {
	if label == BaselineLabel {
		return math.Inf(1)
	}
	if v, err := strconv.ParseFloat(label, 64); err == nil {
		return v
	}
	return 1e18
}

func labelLess(a, b string) bool {
	ka, kb := sortKey(a), sortKey(b)
	if ka != kb {
		return ka < kb
	}
	return a < b
}
