package sim

import (
	"fmt"
	"os"
	"sync"

	"manet-sim/internal/config"
	"manet-sim/internal/telemetry"

	"github.com/gocarina/gocsv"
)

// CSVWriter writes the throughput report. The header is written when the
// writer is created. In append mode every sample adds a row; in overwrite
// mode the file is rewritten per sample and holds the header and the latest
// row only.
type CSVWriter struct {
	path string
	mode string
	mu   sync.Mutex
	f    *os.File
}

// NewCSVWriter truncates path and writes the report header.
func NewCSVWriter(path, mode string) (*CSVWriter, error) {
	if mode == "" {
		mode = config.CSVAppend
	}
	if mode != config.CSVAppend && mode != config.CSVOverwrite {
		return nil, fmt.Errorf("unknown csv mode %q", mode)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv report: %w", err)
	}
	if err := gocsv.MarshalFile(&[]telemetry.SampleRow{}, f); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	w := &CSVWriter{path: path, mode: mode}
	if mode == config.CSVAppend {
		w.f = f
		return w, nil
	}
	return w, f.Close()
}

// Path returns the report location.
func (w *CSVWriter) Path() string { return w.path }

// Write records one sample according to the write mode.
func (w *CSVWriter) Write(row telemetry.SampleRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows := []telemetry.SampleRow{row}
	if w.mode == config.CSVAppend {
		if w.f == nil {
			return os.ErrClosed
		}
		return gocsv.MarshalWithoutHeaders(&rows, w.f)
	}
	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close releases the report file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// ReadCSVReport loads a throughput report written by CSVWriter.
func ReadCSVReport(path string) ([]telemetry.SampleRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []telemetry.SampleRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("read csv report %s: %w", path, err)
	}
	return rows, nil
}
