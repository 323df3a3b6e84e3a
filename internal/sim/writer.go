package sim

import "manet-sim/internal/telemetry"

// SampleWriter is an interface to support different output writers.
type SampleWriter interface {
	Write(telemetry.SampleRow) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.SampleRow) error
}

// writeSamples hands rows to w in one batch when w supports it and row by
// row otherwise.
func writeSamples(w SampleWriter, rows []telemetry.SampleRow) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveEventWriter handles per-datagram receipt notices.
type ReceiveEventWriter interface {
	WriteReceiveEvent(telemetry.ReceiveEventRow) error
}

// FlowStatsWriter handles the per-flow summary written at teardown.
type FlowStatsWriter interface {
	WriteFlowStats([]telemetry.FlowStatRow) error
}

// RunWriter records run metadata when a run starts and when it ends.
type RunWriter interface {
	WriteRun(telemetry.RunRow) error
}

// AdminStatusWriter allows writers to receive admin UI status updates.
type AdminStatusWriter interface {
	SetAdminStatus(listening bool)
}
