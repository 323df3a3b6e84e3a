package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"manet-sim/internal/telemetry"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	ts := time.Unix(0, 0).UTC()
	sRow := telemetry.SampleRow{RunID: "r1", SimulationSecond: 26, ReceiveRate: 1.5, PacketsReceived: 3, RoutingProtocol: "DSDV", Timestamp: ts}
	eRow := telemetry.ReceiveEventRow{RunID: "r1", SimSeconds: 25.25, NodeID: 2, From: "10.1.1.1", Bytes: 64, Timestamp: ts}
	fRow := telemetry.FlowStatRow{RunID: "r1", FlowID: 1, TxPackets: 4, RxPackets: 3, Timestamp: ts}
	rRow := telemetry.RunRow{RunID: "r1", Protocol: "DSDV", Status: telemetry.RunFinished, StartedAt: ts}

	cases := []struct {
		name   string
		write  func(*FileWriter) error
		decode func([]byte)
	}{
		{
			name:  "samples",
			write: func(fw *FileWriter) error { return fw.Write(sRow) },
			decode: func(b []byte) {
				var got telemetry.SampleRow
				if err := json.Unmarshal(b, &got); err != nil {
					t.Fatalf("decode sample: %v", err)
				}
				if got != sRow {
					t.Fatalf("unexpected sample: %#v", got)
				}
			},
		},
		{
			name:  "events",
			write: func(fw *FileWriter) error { return fw.WriteReceiveEvent(eRow) },
			decode: func(b []byte) {
				var got telemetry.ReceiveEventRow
				if err := json.Unmarshal(b, &got); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				if got != eRow {
					t.Fatalf("unexpected event: %#v", got)
				}
			},
		},
		{
			name:  "flows",
			write: func(fw *FileWriter) error { return fw.WriteFlowStats([]telemetry.FlowStatRow{fRow}) },
			decode: func(b []byte) {
				var got telemetry.FlowStatRow
				if err := json.Unmarshal(b, &got); err != nil {
					t.Fatalf("decode flow: %v", err)
				}
				if got.FlowID != 1 || got.DeliveryRatio() != 0.75 {
					t.Fatalf("unexpected flow: %#v", got)
				}
			},
		},
		{
			name:  "runs",
			write: func(fw *FileWriter) error { return fw.WriteRun(rRow) },
			decode: func(b []byte) {
				var got telemetry.RunRow
				if err := json.Unmarshal(b, &got); err != nil {
					t.Fatalf("decode run: %v", err)
				}
				if got.Status != telemetry.RunFinished || got.Protocol != "DSDV" {
					t.Fatalf("unexpected run: %#v", got)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := filepath.Join(dir, tc.name+".jsonl")
			samples := filepath.Join(dir, tc.name+"_samples.jsonl")
			var events, flows, runs string
			switch tc.name {
			case "samples":
				samples = target
			case "events":
				events = target
			case "flows":
				flows = target
			case "runs":
				runs = target
			}
			fw, err := NewFileWriter(samples, events, flows, runs)
			if err != nil {
				t.Fatalf("NewFileWriter: %v", err)
			}
			if err := tc.write(fw); err != nil {
				t.Fatalf("write: %v", err)
			}
			fw.Close()
			data, err := os.ReadFile(target)
			if err != nil {
				t.Fatalf("read file: %v", err)
			}
			tc.decode(data)
		})
	}
}

func TestFileWriterSkipsDisabledLogs(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(filepath.Join(dir, "s.jsonl"), "", "", "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()
	if err := fw.WriteReceiveEvent(telemetry.ReceiveEventRow{}); err != nil {
		t.Fatalf("disabled event log should be a no-op: %v", err)
	}
	if err := fw.WriteFlowStats([]telemetry.FlowStatRow{{}}); err != nil {
		t.Fatalf("disabled flow log should be a no-op: %v", err)
	}
}

func TestFileWriterBadPath(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileWriter(filepath.Join(dir, "s.jsonl"), filepath.Join(dir, "missing", "e.jsonl"), "", "")
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected create error, got %v", err)
	}
}
