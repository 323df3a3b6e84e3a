package sim

import (
	"errors"
	"io"

	"manet-sim/internal/telemetry"
)

// MultiWriter fans rows out to several writers. Optional interfaces are
// forwarded to every writer that implements them.
type MultiWriter struct {
	writers []SampleWriter
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...SampleWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Writers returns the wrapped writers.
func (mw *MultiWriter) Writers() []SampleWriter { return mw.writers }

// Write sends a sample row to all writers. A failing writer does not keep
// the row from the others; every error is returned joined.
func (mw *MultiWriter) Write(row telemetry.SampleRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Write(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteBatch sends multiple sample rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []telemetry.SampleRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := writeSamples(w, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteReceiveEvent forwards a receipt notice to writers that accept them.
func (mw *MultiWriter) WriteReceiveEvent(row telemetry.ReceiveEventRow) error {
	var errs []error
	for _, w := range mw.writers {
		if rw, ok := w.(ReceiveEventWriter); ok {
			if err := rw.WriteReceiveEvent(row); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WriteFlowStats forwards the flow summary to writers that accept it.
func (mw *MultiWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	var errs []error
	for _, w := range mw.writers {
		if fw, ok := w.(FlowStatsWriter); ok {
			if err := fw.WriteFlowStats(rows); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WriteRun forwards run metadata to writers that accept it.
func (mw *MultiWriter) WriteRun(row telemetry.RunRow) error {
	var errs []error
	for _, w := range mw.writers {
		if rw, ok := w.(RunWriter); ok {
			if err := rw.WriteRun(row); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SetAdminStatus forwards the admin UI state.
func (mw *MultiWriter) SetAdminStatus(listening bool) {
	for _, w := range mw.writers {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(listening)
		}
	}
}

// Close closes every writer implementing io.Closer and joins their errors.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// receiveEventsWanted reports whether any writer in w consumes receipt notices.
func receiveEventsWanted(w SampleWriter) bool {
	if mw, ok := w.(*MultiWriter); ok {
		for _, inner := range mw.writers {
			if receiveEventsWanted(inner) {
				return true
			}
		}
		return false
	}
	_, ok := w.(ReceiveEventWriter)
	return ok
}
