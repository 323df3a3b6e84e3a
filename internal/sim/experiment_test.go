package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"manet-sim/internal/campaign"
	"manet-sim/internal/config"
	"manet-sim/internal/engine"
	"manet-sim/internal/fabric"
	"manet-sim/internal/telemetry"
	"manet-sim/internal/topology"
)

func testConfig(t *testing.T) *config.ExperimentConfig {
	t.Helper()
	cfg := config.Default()
	cfg.TraceFile = filepath.Join(t.TempDir(), "manet")
	return &cfg
}

func duel(t *testing.T) topology.Topology {
	t.Helper()
	p, err := topology.Lookup("duel")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return p.Topology
}

func TestExperimentDuelEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.TraceMobility = true
	rec := &recordingWriter{}
	exp, err := NewExperiment(Options{
		Config:       cfg,
		Topology:     duel(t),
		TopologyName: "duel",
		RunID:        "run-1",
		Writer:       rec,
		Now:          func() time.Time { return time.Unix(0, 0) },
	})
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	if err := exp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(exp.Flows()) != 18 {
		t.Fatalf("expected 18 flows, got %d", len(exp.Flows()))
	}
	if math.Abs(exp.EndTime()-29.2) > 1e-9 {
		t.Fatalf("expected end time 29.2, got %v", exp.EndTime())
	}
	// Ticks at 0..29 inclusive.
	if len(rec.samples) != 30 {
		t.Fatalf("expected 30 samples, got %d", len(rec.samples))
	}
	for i, s := range rec.samples {
		if s.SimulationSecond != float64(i) {
			t.Fatalf("sample %d at %v", i, s.SimulationSecond)
		}
		if s.RunID != "run-1" || s.RoutingProtocol != "DSDV" || s.NumberOfSinks != 5 {
			t.Fatalf("unexpected sample %+v", s)
		}
		if s.SimulationSecond <= 25 && s.PacketsReceived != 0 {
			t.Fatalf("traffic before the first batch at %v", s.SimulationSecond)
		}
	}

	// Every flow sends two 64-byte packets inside its 0.7 s window.
	st := exp.Status()
	if st.Phase != telemetry.RunFinished || st.PacketsReceived != 36 || st.BytesReceived != 36*64 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Sinks != 5 || st.TeamA != 2 || st.TeamB != 2 || st.Relays != 1 {
		t.Fatalf("unexpected roster counts %+v", st)
	}
	if len(rec.events) != 36 {
		t.Fatalf("expected 36 receive events, got %d", len(rec.events))
	}
	if len(rec.flows) != 18 || len(exp.FlowStats()) != 18 {
		t.Fatalf("expected 18 flow stats, got %d", len(rec.flows))
	}
	for _, f := range rec.flows {
		if f.TxPackets != 2 || f.RxPackets != 2 || f.DestinationPort != 9 {
			t.Fatalf("unexpected flow row %+v", f)
		}
	}
	if len(rec.runs) != 2 || rec.runs[0].Status != telemetry.RunRunning || rec.runs[1].Status != telemetry.RunFinished {
		t.Fatalf("expected running and finished run rows, got %+v", rec.runs)
	}

	data, err := os.ReadFile(cfg.FlowMonitorPath())
	if err != nil {
		t.Fatalf("flowmon not written: %v", err)
	}
	doc, err := fabric.ReadFlowMonitor(strings.NewReader(string(data)))
	if err != nil || len(doc.FlowStats.Flows) != 18 {
		t.Fatalf("bad flowmon document: %v", err)
	}
	if _, err := os.Stat(cfg.MobilityPath()); err != nil {
		t.Fatalf("mobility trace not written: %v", err)
	}
}

func TestExperimentAddressesRelaysFromFirstChannel(t *testing.T) {
	cfg := testConfig(t)
	exp, err := NewExperiment(Options{Config: cfg, Topology: duel(t), Writer: &recordingWriter{}})
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	if err := exp.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	// Channel 1 numbers A0, A1 and the relay; channel 2 continues with B0, B1.
	want := map[int]string{0: "10.1.1.1:9", 1: "10.1.1.2:9", 4: "10.1.1.3:9", 2: "10.1.1.4:9", 3: "10.1.1.5:9"}
	got := map[int]string{}
	for _, f := range exp.Flows() {
		got[f.Target.ID] = f.Remote.String()
	}
	for id, addr := range want {
		if got[id] != addr {
			t.Fatalf("node %d: got %s, want %s", id, got[id], addr)
		}
	}
}

func TestExperimentFixedTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Addressing = campaign.PolicyFixedTarget
	rec := &recordingWriter{}
	exp, err := NewExperiment(Options{Config: cfg, Topology: duel(t), Writer: rec, Rand: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	if err := exp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := exp.Status(); st.Sinks != 1 || st.PacketsReceived != 36 || st.Addressing != campaign.PolicyFixedTarget {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestExperimentNoTraffic(t *testing.T) {
	cfg := testConfig(t)
	topo := topology.Topology{Members: []topology.Node{{ID: 0, PlayerID: 1, Role: topology.RoleTeamA}}}
	rec := &recordingWriter{}
	exp, err := NewExperiment(Options{Config: cfg, Topology: topo, Writer: rec})
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	if err := exp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exp.Flows()) != 0 || exp.EndTime() != cfg.Campaign.StartTimeS {
		t.Fatalf("expected no flows ending at start time, got %d / %v", len(exp.Flows()), exp.EndTime())
	}
	if len(rec.flows) != 0 {
		t.Fatalf("no flow stats expected")
	}
}

func TestExperimentCancelled(t *testing.T) {
	cfg := testConfig(t)
	rec := &recordingWriter{}
	exp, _ := NewExperiment(Options{Config: cfg, Topology: duel(t), Writer: rec})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exp.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st := exp.Status(); st.Phase != telemetry.RunFailed || st.Error == "" {
		t.Fatalf("expected failed status, got %+v", st)
	}
}

func TestExperimentReportsSampleWriteErrors(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("write refused")
	exp, _ := NewExperiment(Options{Config: cfg, Topology: duel(t), Writer: &recordingWriter{err: boom}})
	if err := exp.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected sample write error, got %v", err)
	}
}

type failingFabric struct {
	*fabric.AdhocNetwork
	failBind bool
}

func (f *failingFabric) BindReceiver(node fabric.NodeID, local netip.AddrPort, fn fabric.ReceiveFunc) error {
	if f.failBind {
		return &fabric.CollaboratorError{Op: "bind", Err: fabric.ErrAddressInUse}
	}
	return f.AdhocNetwork.BindReceiver(node, local, fn)
}

func TestExperimentCollaboratorFailure(t *testing.T) {
	cfg := testConfig(t)
	clock := engine.NewClock()
	fab := &failingFabric{AdhocNetwork: fabric.NewAdhocNetwork(clock, nil), failBind: true}
	exp, err := NewExperiment(Options{Config: cfg, Topology: duel(t), Writer: &recordingWriter{}, Clock: clock, Fabric: fab})
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	err = exp.Run(context.Background())
	var ce *fabric.CollaboratorError
	if !errors.As(err, &ce) || !errors.Is(err, fabric.ErrAddressInUse) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestNewExperimentRejectsBadOptions(t *testing.T) {
	cfg := testConfig(t)
	bad := *cfg
	bad.Protocol = 9
	cases := []struct {
		name string
		opts Options
	}{
		{"no config", Options{Writer: &recordingWriter{}}},
		{"no writer", Options{Config: cfg}},
		{"bad protocol", Options{Config: &bad, Writer: &recordingWriter{}}},
		{"fixed target without relay", Options{Config: func() *config.ExperimentConfig {
			c := *cfg
			c.Addressing = campaign.PolicyFixedTarget
			return &c
		}(), Writer: &recordingWriter{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewExperiment(tc.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
