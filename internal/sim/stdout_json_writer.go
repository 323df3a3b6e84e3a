package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"manet-sim/internal/telemetry"
)

// JSONStdoutWriter prints samples, receipt notices and flow stats as JSON
// lines to STDOUT.
type JSONStdoutWriter struct {
	out io.Writer
	mu  sync.Mutex
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) line(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a sample row in JSON format.
func (w *JSONStdoutWriter) Write(row telemetry.SampleRow) error {
	return w.line(row)
}

// WriteBatch outputs multiple sample rows in JSON format.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.SampleRow) error {
	for _, r := range rows {
		if err := w.line(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteReceiveEvent outputs a receipt notice in JSON format.
func (w *JSONStdoutWriter) WriteReceiveEvent(row telemetry.ReceiveEventRow) error {
	return w.line(row)
}

// WriteFlowStats outputs one JSON line per flow.
func (w *JSONStdoutWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	for _, r := range rows {
		if err := w.line(r); err != nil {
			return err
		}
	}
	return nil
}
