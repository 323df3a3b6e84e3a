// Experiment measurement rows with csv, json and greptime table names
package telemetry

import (
	"os"
	"time"
)

// CSVHeader is the column order of the throughput report.
var CSVHeader = []string{"SimulationSecond", "ReceiveRate", "PacketsReceived", "NumberOfSinks", "RoutingProtocol", "TransmissionPower"}

// SampleRow is one throughput sampler tick. ReceiveRate is in kbit/s where
// 1 kbit = 1024 bits; byte and packet counts cover only the last interval.
type SampleRow struct {
	RunID             string    `json:"run_id" csv:"-"`
	SimulationSecond  float64   `json:"sim_seconds" csv:"SimulationSecond"`
	ReceiveRate       float64   `json:"kbps" csv:"ReceiveRate"`
	PacketsReceived   int       `json:"packets" csv:"PacketsReceived"`
	BytesReceived     int64     `json:"bytes" csv:"-"`
	NumberOfSinks     int       `json:"sinks" csv:"NumberOfSinks"`
	RoutingProtocol   string    `json:"protocol" csv:"RoutingProtocol"`
	TransmissionPower float64   `json:"tx_power_dbm" csv:"TransmissionPower"`
	Timestamp         time.Time `json:"ts" csv:"-"`
}

// SampleTableName holds the table name used when writing samples to
// GreptimeDB. It defaults to "manet_throughput" but can be overridden via the
// GREPTIMEDB_SAMPLE_TABLE environment variable.
var SampleTableName = envOr("GREPTIMEDB_SAMPLE_TABLE", "manet_throughput")

func (SampleRow) TableName() string {
	return SampleTableName
}

func envOr(key, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	return def
}
