package app

import (
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"github.com/syncbench/syncbench/pkg/stencil"
)

// RunRecord is one synchronizer's measurement across all global loops.
type RunRecord struct {
	ID           string         `json:"id"`
	Synchronizer string         `json:"synchronizer"`
	Function     string         `json:"function"`
	Extras       stencil.Extras `json:"extras"`

	// Seconds holds one wall-clock total per global loop.
	Seconds []float64 `json:"seconds"`

	// Threads holds per-worker kernel time for the last loop, for every
	// synchronizer (all zero for sequential, which bypasses the worker
	// pool). Stats holds the promise debug counters when they were enabled.
	Threads []ThreadRecord         `json:"threads,omitempty"`
	Stats   *stencil.StatsSummary  `json:"stats,omitempty"`
}

// ThreadRecord is one worker's measurement within a run.
type ThreadRecord struct {
	Thread  int     `json:"thread"`
	Seconds float64 `json:"seconds"`
}

// IterationRecord is the per-iteration view of one run, written to the
// iterations output when configured.
type IterationRecord struct {
	ID           string      `json:"id"`
	Synchronizer string      `json:"synchronizer"`
	// Seconds[t][i] is worker t's wall-clock for iteration i.
	Seconds [][]float64 `json:"seconds"`
}

// writeJSON writes records to path, or stdout when path is empty.
func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "failed to create output file %s", path)
		}
		defer f.Close()
		w = f
	}

	enc := jsoniter.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode results")
}

// summaryTable renders a run overview for the log.
func summaryTable(records []RunRecord) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"synchronizer", "loops", "mean seconds"})
	for _, r := range records {
		var sum float64
		for _, s := range r.Seconds {
			sum += s
		}
		mean := 0.0
		if len(r.Seconds) > 0 {
			mean = sum / float64(len(r.Seconds))
		}
		t.AppendRow(table.Row{r.Synchronizer, len(r.Seconds), mean})
	}
	return t.Render()
}
