// Writer implementation printing samples to STDOUT
package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"manet-sim/internal/config"
	"manet-sim/internal/telemetry"

	"golang.org/x/term"
)

// StdoutWriter prints rows to STDOUT. On a terminal it prints a colorized
// line per row after a one-time configuration overview; otherwise each row
// is a JSON line.
type StdoutWriter struct {
	cfg      *config.ExperimentConfig
	out      io.Writer
	colorize bool
	once     sync.Once
	mu       sync.Mutex
}

// NewStdoutWriter creates a StdoutWriter that colorizes only when STDOUT is
// a terminal.
func NewStdoutWriter(cfg *config.ExperimentConfig) *StdoutWriter {
	return &StdoutWriter{
		cfg:      cfg,
		out:      os.Stdout,
		colorize: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Write outputs a single sample row.
func (w *StdoutWriter) Write(row telemetry.SampleRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.colorize {
		return w.json(row)
	}
	w.once.Do(w.printOverview)
	w.printSample(row)
	return nil
}

// WriteBatch outputs multiple sample rows.
func (w *StdoutWriter) WriteBatch(rows []telemetry.SampleRow) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteFlowStats prints the per-flow summary.
func (w *StdoutWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.colorize {
		for _, r := range rows {
			if err := w.json(r); err != nil {
				return err
			}
		}
		return nil
	}
	w.once.Do(w.printOverview)
	w.printFlowTable(rows)
	return nil
}

func (w *StdoutWriter) json(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}
