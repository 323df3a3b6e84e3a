package telemetry

import "time"

// FlowStatRow summarises one flow at the end of a run.
type FlowStatRow struct {
	RunID           string    `json:"run_id"`
	FlowID          int       `json:"flow_id"`
	Source          string    `json:"source"`
	Destination     string    `json:"destination"`
	SourcePort      int       `json:"source_port"`
	DestinationPort int       `json:"destination_port"`
	TxPackets       uint64    `json:"tx_packets"`
	RxPackets       uint64    `json:"rx_packets"`
	LostPackets     uint64    `json:"lost_packets"`
	TxBytes         uint64    `json:"tx_bytes"`
	RxBytes         uint64    `json:"rx_bytes"`
	MeanDelayS      float64   `json:"mean_delay_s"`
	MeanJitterS     float64   `json:"mean_jitter_s"`
	ThroughputKbps  float64   `json:"throughput_kbps"`
	Timestamp       time.Time `json:"ts"`
}

// FlowTableName is overridable via GREPTIMEDB_FLOW_TABLE.
var FlowTableName = envOr("GREPTIMEDB_FLOW_TABLE", "manet_flows")

func (FlowStatRow) TableName() string {
	return FlowTableName
}

// DeliveryRatio is the share of transmitted packets that arrived.
func (r FlowStatRow) DeliveryRatio() float64 {
	if r.TxPackets == 0 {
		return 0
	}
	return float64(r.RxPackets) / float64(r.TxPackets)
}
