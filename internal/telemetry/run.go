package telemetry

import "time"

// Run states reported by RunRow.Status.
const (
	RunPending  = "pending"
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// RunRow captures the identity and outcome of one experiment run.
type RunRow struct {
	RunID          string    `json:"run_id"`
	Protocol       string    `json:"protocol"`
	Topology       string    `json:"topology"`
	Addressing     string    `json:"addressing"`
	Nodes          int       `json:"nodes"`
	Flows          int       `json:"flows"`
	Sinks          int       `json:"sinks"`
	EndTimeS       float64   `json:"end_time_s"`
	EventsExecuted int       `json:"events_executed"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
