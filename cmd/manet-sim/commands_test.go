package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"manet-sim/internal/config"
	"manet-sim/internal/sim"
	"manet-sim/internal/store"
	"manet-sim/internal/telemetry"
	"manet-sim/internal/topology"
)

func TestLoadTopologyNotice(t *testing.T) {
	cfg := config.Default()
	cfg.Topology = filepath.Join(t.TempDir(), "missing.txt")
	var console bytes.Buffer
	_, _, err := loadTopology(&console, &cfg)
	if !errors.Is(err, topology.ErrTopologyFormat) {
		t.Fatalf("expected topology error, got %v", err)
	}
	if !strings.Contains(console.String(), "Could not open topology file") {
		t.Fatalf("expected console notice, got %q", console.String())
	}

	bad := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(bad, []byte("2 0\n0 0"), 0o644); err != nil {
		t.Fatal(err)
	}
	console.Reset()
	cfg.Topology = bad
	if _, _, err := loadTopology(&console, &cfg); err == nil {
		t.Fatalf("expected format error")
	}
	if console.Len() != 0 {
		t.Fatalf("format errors should not print the open notice: %q", console.String())
	}

	cfg.BuiltinTopology = "duel"
	topo, name, err := loadTopology(&console, &cfg)
	if err != nil || name != "builtin:duel" || topo.NodeCount() != 5 {
		t.Fatalf("builtin lookup failed: %v %q %d", err, name, topo.NodeCount())
	}
}

func TestPrintRoster(t *testing.T) {
	p, err := topology.Lookup("duel")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := printRoster(&out, p.Topology); err != nil {
		t.Fatalf("printRoster: %v", err)
	}
	for _, want := range []string{"Nodes:", "Team A:", "Relays:", "4(1.5,0.5)"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("roster missing %q:\n%s", want, out.String())
		}
	}
}

func TestSummarize(t *testing.T) {
	rows := []telemetry.SampleRow{
		{SimulationSecond: 25, ReceiveRate: 0, RoutingProtocol: "OLSR", NumberOfSinks: 5},
		{SimulationSecond: 26, ReceiveRate: 2, PacketsReceived: 4, RoutingProtocol: "OLSR", NumberOfSinks: 5},
		{SimulationSecond: 0, ReceiveRate: 1, PacketsReceived: 2, RoutingProtocol: "AODV", NumberOfSinks: 1},
	}
	sums := summarize(rows)
	if len(sums) != 2 || sums[0].Protocol != "AODV" {
		t.Fatalf("unexpected grouping: %+v", sums)
	}
	olsr := sums[1]
	if olsr.Rows != 2 || olsr.Packets != 4 || olsr.MeanKbps != 1 || olsr.PeakAtS != 26 || olsr.FirstS != 25 || olsr.LastS != 26 {
		t.Fatalf("unexpected OLSR summary: %+v", olsr)
	}
	var out bytes.Buffer
	if err := printSummary(&out, nil); err != nil || !strings.Contains(out.String(), "no rows") {
		t.Fatalf("empty summary: %v %q", err, out.String())
	}
}

func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "report.csv")
	dbPath := filepath.Join(dir, "results.db")
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"run", "--builtin", "duel",
		"--csv-file", csvPath,
		"--trace-file", filepath.Join(dir, "manet"),
		"--db", dbPath,
		"--print-only",
		"--log-level", "error",
		"--unknown-option",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetErr(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("run failed: %v (%s)", err, stderr.String())
	}

	rows, err := sim.ReadCSVReport(csvPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if len(rows) != 30 {
		t.Fatalf("expected 30 report rows, got %d", len(rows))
	}
	// The last tick fires at 29 s and the run ends at 29.2 s, so the three
	// packets that land in between are counted by the flows but by no row.
	reported := 0
	for _, r := range rows {
		reported += r.PacketsReceived
	}
	if reported != 33 {
		t.Fatalf("expected 33 packets in report, got %d", reported)
	}
	if _, err := os.Stat(filepath.Join(dir, "manet.flowmon")); err != nil {
		t.Fatalf("flowmon not written: %v", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	runs, err := st.Runs("DSDV", 0)
	if err != nil || len(runs) != 1 || runs[0].Status != telemetry.RunFinished {
		t.Fatalf("expected one finished run, got %+v (%v)", runs, err)
	}
	flows, err := st.Flows(runs[0].RunID)
	if err != nil || len(flows) != 18 {
		t.Fatalf("expected 18 stored flows, got %d (%v)", len(flows), err)
	}
	var received uint64
	for _, f := range flows {
		received += f.RxPackets
	}
	if received != 36 || int(received)-reported != 3 {
		t.Fatalf("expected 36 delivered packets with a 3 packet tail, got %d (report %d)", received, reported)
	}
	samples, err := st.Samples(runs[0].RunID)
	if err != nil || len(samples) != len(rows) {
		t.Fatalf("expected %d stored samples, got %d (%v)", len(rows), len(samples), err)
	}
}

func TestReplayCommandLoadsSinks(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "samples.jsonl")
	f, err := os.Create(input)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	enc := json.NewEncoder(f)
	for i := 0; i < 3; i++ {
		_ = enc.Encode(telemetry.SampleRow{RunID: "replayed", SimulationSecond: float64(25 + i), PacketsReceived: i, RoutingProtocol: "AODV"})
	}
	f.Close()

	dbPath := filepath.Join(dir, "results.db")
	logPath := filepath.Join(dir, "copy.jsonl")
	csvPath := filepath.Join(dir, "copy.csv")
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"replay", "--input", input, "--speed", "0",
		"--db", dbPath, "--log-file", logPath, "--csv-file", csvPath,
		"--print-only", "--log-level", "error",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetErr(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("replay failed: %v (%s)", err, stderr.String())
	}

	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	samples, err := st.Samples("replayed")
	if err != nil || len(samples) != 3 || samples[2].PacketsReceived != 2 {
		t.Fatalf("expected 3 stored samples, got %+v (%v)", samples, err)
	}
	b, err := os.ReadFile(logPath)
	if err != nil || strings.Count(string(b), "\n") != 3 {
		t.Fatalf("expected 3 logged rows, got %q (%v)", b, err)
	}
	rows, err := sim.ReadCSVReport(csvPath)
	if err != nil || len(rows) != 3 {
		t.Fatalf("expected 3 csv rows, got %d (%v)", len(rows), err)
	}
}
