package telemetry

import "time"

// ReceiveEventRow records one datagram arriving at a sink.
type ReceiveEventRow struct {
	RunID      string    `json:"run_id"`
	SimSeconds float64   `json:"sim_seconds"`
	NodeID     int       `json:"node_id"`
	From       string    `json:"from,omitempty"`
	Bytes      int       `json:"bytes"`
	Timestamp  time.Time `json:"ts"`
}
