// YAML experiment config loader with CUE validation integration
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CSV write policies.
const (
	CSVAppend    = "append"
	CSVOverwrite = "overwrite"
)

// Campaign holds the traffic batch timings.
type Campaign struct {
	StartTimeS float64 `yaml:"start_time_s"`
	ShiftS     float64 `yaml:"shift_s"`
	JitterS    float64 `yaml:"jitter_s"`
	Port       int     `yaml:"port"`
}

// Traffic configures each on/off sender.
type Traffic struct {
	PacketSize  int     `yaml:"packet_size"`
	DataRateBps float64 `yaml:"data_rate_bps"`
	OnTimeS     float64 `yaml:"on_time_s"`
	OffTimeS    float64 `yaml:"off_time_s"`
}

// Radio configures both wireless channels.
type Radio struct {
	Standard   string  `yaml:"standard"`
	PhyMode    string  `yaml:"phy_mode"`
	TxPowerDbm float64 `yaml:"tx_power_dbm"`
	RangeM     float64 `yaml:"range_m"`
}

// ExperimentConfig is resolved once at startup and never mutated afterwards.
type ExperimentConfig struct {
	Protocol        int      `yaml:"protocol"`
	CSVFile         string   `yaml:"csv_file"`
	CSVMode         string   `yaml:"csv_mode"`
	TraceMobility   bool     `yaml:"trace_mobility"`
	TraceFile       string   `yaml:"trace_file"`
	Topology        string   `yaml:"topology"`
	BuiltinTopology string   `yaml:"builtin_topology"`
	Addressing      string   `yaml:"addressing"`
	Seed            int64    `yaml:"seed"`
	GridScale       float64  `yaml:"grid_scale"`
	Subnet          string   `yaml:"subnet"`
	SampleIntervalS float64  `yaml:"sample_interval_s"`
	Campaign        Campaign `yaml:"campaign"`
	Traffic         Traffic  `yaml:"traffic"`
	Radio           Radio    `yaml:"radio"`
}

// Default returns the reference experiment settings.
func Default() ExperimentConfig {
	return ExperimentConfig{
		Protocol:        3,
		CSVFile:         "manet.output.csv",
		CSVMode:         CSVAppend,
		TraceFile:       "manet",
		Topology:        "nodes.txt",
		Addressing:      "per-pair",
		Seed:            1,
		GridScale:       100,
		Subnet:          "10.1.1.0/24",
		SampleIntervalS: 1,
		Campaign:        Campaign{StartTimeS: 25.0, ShiftS: 0.7, JitterS: 0.03, Port: 9},
		Traffic:         Traffic{PacketSize: 64, DataRateBps: 2048, OnTimeS: 1, OffTimeS: 0},
		Radio:           Radio{Standard: "802.11b", PhyMode: "DsssRate11Mbps", TxPowerDbm: 4.6875, RangeM: 250},
	}
}

// Load reads a YAML config on top of Default and validates it against a CUE
// schema. An empty schema path selects the embedded schema.
func Load(configPath, cueSchemaPath string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read YAML config: %w", err)
	}
	schema, err := readSchema(cueSchemaPath)
	if err != nil {
		return nil, err
	}
	if err := ValidateBytes(configPath, data, schema); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints that span several fields.
func (c *ExperimentConfig) Validate() error {
	var problems []string
	if c.Protocol < 1 || c.Protocol > 4 {
		problems = append(problems, fmt.Sprintf("protocol must be 1..4, got %d", c.Protocol))
	}
	if c.CSVMode != CSVAppend && c.CSVMode != CSVOverwrite {
		problems = append(problems, fmt.Sprintf("csv_mode must be %q or %q, got %q", CSVAppend, CSVOverwrite, c.CSVMode))
	}
	if c.Topology == "" && c.BuiltinTopology == "" {
		problems = append(problems, "either topology or builtin_topology is required")
	}
	if c.GridScale <= 0 {
		problems = append(problems, "grid_scale must be positive")
	}
	if _, err := netip.ParsePrefix(c.Subnet); err != nil {
		problems = append(problems, fmt.Sprintf("subnet: %v", err))
	}
	if c.SampleIntervalS <= 0 {
		problems = append(problems, "sample_interval_s must be positive")
	}
	if c.Campaign.ShiftS <= 0 {
		problems = append(problems, "campaign.shift_s must be positive")
	}
	if c.Campaign.JitterS < 0 || c.Campaign.JitterS >= c.Campaign.ShiftS {
		problems = append(problems, "campaign.jitter_s must be in [0, shift_s)")
	}
	if c.Campaign.Port <= 0 || c.Campaign.Port > 65535 {
		problems = append(problems, "campaign.port must be 1..65535")
	}
	if c.Traffic.PacketSize <= 0 || c.Traffic.DataRateBps <= 0 || c.Traffic.OnTimeS <= 0 || c.Traffic.OffTimeS < 0 {
		problems = append(problems, "traffic needs positive packet_size, data_rate_bps and on_time_s")
	}
	if c.Radio.RangeM <= 0 {
		problems = append(problems, "radio.range_m must be positive")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// FlowMonitorPath is where the flow statistics document is written.
func (c *ExperimentConfig) FlowMonitorPath() string { return c.TraceFile + ".flowmon" }

// TopologySource names where nodes come from: a built-in preset wins over
// the topology file.
func (c *ExperimentConfig) TopologySource() string {
	if c.BuiltinTopology != "" {
		return "builtin:" + c.BuiltinTopology
	}
	return c.Topology
}

// MobilityPath is where node positions are traced.
func (c *ExperimentConfig) MobilityPath() string { return c.TraceFile + ".mob" }

// ValidationError lists every violated constraint.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid experiment config: " + strings.Join(e.Problems, "; ")
}
