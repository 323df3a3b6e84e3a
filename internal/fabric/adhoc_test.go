package fabric

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"manet-sim/internal/engine"
)

var testChannel = ChannelParams{Standard: "802.11b", PhyMode: "DsssRate11Mbps", TxPowerDbm: 4.6875, RangeM: 250}

var testSender = SenderConfig{PacketSize: 64, DataRateBps: 2048, OnTime: 1, OffTime: 0}

// line builds count nodes spaced gap metres apart on one channel.
func line(t *testing.T, count int, gap float64) (*engine.Clock, *AdhocNetwork, []NodeID, []netip.Addr) {
	t.Helper()
	clock := engine.NewClock()
	n := NewAdhocNetwork(clock, nil)
	nodes := n.CreateNodes(count)
	for i, id := range nodes {
		if err := n.SetPosition(id, float64(i)*gap, 0); err != nil {
			t.Fatalf("SetPosition: %v", err)
		}
	}
	devs, err := n.InstallWireless(nodes, testChannel)
	if err != nil {
		t.Fatalf("InstallWireless: %v", err)
	}
	addrs, err := n.AssignAddresses(devs, netip.MustParsePrefix("10.1.1.0/24"))
	if err != nil {
		t.Fatalf("AssignAddresses: %v", err)
	}
	return clock, n, nodes, addrs
}

func TestAssignAddressesContinuesAcrossCalls(t *testing.T) {
	n := NewAdhocNetwork(engine.NewClock(), nil)
	nodes := n.CreateNodes(3)
	d1, _ := n.InstallWireless(nodes[:2], testChannel)
	d2, _ := n.InstallWireless(nodes[1:], testChannel)
	subnet := netip.MustParsePrefix("10.1.1.0/24")
	a1, err := n.AssignAddresses(d1, subnet)
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	a2, err := n.AssignAddresses(d2, subnet)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	got := []string{a1[0].String(), a1[1].String(), a2[0].String(), a2[1].String()}
	want := "10.1.1.1 10.1.1.2 10.1.1.3 10.1.1.4"
	if strings.Join(got, " ") != want {
		t.Fatalf("addresses = %v, want %s", got, want)
	}
}

func TestAssignAddressesExhausted(t *testing.T) {
	n := NewAdhocNetwork(engine.NewClock(), nil)
	devs, _ := n.InstallWireless(n.CreateNodes(3), testChannel)
	_, err := n.AssignAddresses(devs, netip.MustParsePrefix("10.0.0.0/30"))
	if !errors.Is(err, ErrSubnetExhausted) {
		t.Fatalf("expected ErrSubnetExhausted, got %v", err)
	}
}

func TestBindReceiverRejects(t *testing.T) {
	_, n, nodes, addrs := line(t, 2, 100)
	noop := func(NodeID, Packet) {}
	if err := n.BindReceiver(nodes[0], netip.AddrPortFrom(addrs[1], 9), noop); !errors.Is(err, ErrForeignAddress) {
		t.Fatalf("expected ErrForeignAddress, got %v", err)
	}
	local := netip.AddrPortFrom(addrs[0], 9)
	if err := n.BindReceiver(nodes[0], local, noop); err != nil {
		t.Fatalf("bind: %v", err)
	}
	err := n.BindReceiver(nodes[0], local, noop)
	if !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse, got %v", err)
	}
	var ce *CollaboratorError
	if !errors.As(err, &ce) || ce.Op != "bind" {
		t.Fatalf("expected CollaboratorError, got %#v", err)
	}
	if err := n.BindReceiver(NodeID(42), local, noop); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestDirectDelivery(t *testing.T) {
	clock, n, nodes, addrs := line(t, 2, 100)
	var got []Packet
	dst := netip.AddrPortFrom(addrs[1], 9)
	if err := n.BindReceiver(nodes[1], dst, func(_ NodeID, p Packet) { got = append(got, p) }); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s, err := n.InstallSender(nodes[0], dst, testSender)
	if err != nil {
		t.Fatalf("InstallSender: %v", err)
	}
	if err := s.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(2); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := clock.RunUntil(context.Background(), 3); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	// 0.25 s interval, first packet one interval after start, stop wins the tie at 2.0
	if len(got) != 3 {
		t.Fatalf("received %d packets, want 3", len(got))
	}
	if got[0].SentAt != 1.25 || got[0].Size != 64 || got[0].From.Addr() != addrs[0] {
		t.Fatalf("unexpected first packet %+v", got[0])
	}
	doc := n.CollectFlowStatistics()
	if len(doc.FlowStats.Flows) != 1 {
		t.Fatalf("expected one flow, got %d", len(doc.FlowStats.Flows))
	}
	fs := doc.FlowStats.Flows[0]
	if fs.TxPackets != 3 || fs.RxPackets != 3 || fs.LostPackets != 0 || fs.TxBytes != 3*92 {
		t.Fatalf("unexpected flow stats %+v", fs)
	}
	if fs.DelaySum <= 0 || fs.TimesForwarded != 0 {
		t.Fatalf("unexpected delay/forwarding %+v", fs)
	}
}

func TestMultiHopNeedsRouting(t *testing.T) {
	for _, routed := range []bool{false, true} {
		clock, n, nodes, addrs := line(t, 3, 200)
		if routed {
			if err := n.InstallRouting(ProtocolDSDV, nodes); err != nil {
				t.Fatalf("InstallRouting: %v", err)
			}
		}
		received := 0
		dst := netip.AddrPortFrom(addrs[2], 9)
		if err := n.BindReceiver(nodes[2], dst, func(NodeID, Packet) { received++ }); err != nil {
			t.Fatalf("bind: %v", err)
		}
		s, _ := n.InstallSender(nodes[0], dst, testSender)
		_ = s.Start(0)
		_ = s.Stop(1.1)
		if err := clock.RunUntil(context.Background(), 2); err != nil {
			t.Fatalf("RunUntil: %v", err)
		}
		fs := n.CollectFlowStatistics().FlowStats.Flows[0]
		if routed {
			if received != 4 || fs.TimesForwarded != 4 {
				t.Fatalf("routed: received %d forwarded %d", received, fs.TimesForwarded)
			}
		} else if received != 0 || fs.LostPackets != fs.TxPackets {
			t.Fatalf("unrouted: received %d stats %+v", received, fs)
		}
	}
}

func TestLoopbackDelivery(t *testing.T) {
	clock, n, nodes, addrs := line(t, 1, 0)
	received := 0
	dst := netip.AddrPortFrom(addrs[0], 9)
	_ = n.BindReceiver(nodes[0], dst, func(NodeID, Packet) { received++ })
	s, _ := n.InstallSender(nodes[0], dst, testSender)
	_ = s.Start(0)
	_ = s.Stop(0.6)
	_ = clock.RunUntil(context.Background(), 1)
	if received != 2 {
		t.Fatalf("received %d, want 2", received)
	}
}

func TestWildcardBind(t *testing.T) {
	clock, n, nodes, addrs := line(t, 2, 50)
	received := 0
	wildcard := netip.AddrPortFrom(netip.IPv4Unspecified(), 9)
	if err := n.BindReceiver(nodes[1], wildcard, func(NodeID, Packet) { received++ }); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s, _ := n.InstallSender(nodes[0], netip.AddrPortFrom(addrs[1], 9), testSender)
	_ = s.Start(0)
	_ = s.Stop(0.3)
	_ = clock.RunUntil(context.Background(), 1)
	if received != 1 {
		t.Fatalf("received %d, want 1", received)
	}
}

func TestInstallSenderValidation(t *testing.T) {
	_, n, nodes, addrs := line(t, 2, 50)
	bad := testSender
	bad.DataRateBps = 0
	_, err := n.InstallSender(nodes[0], netip.AddrPortFrom(addrs[1], 9), bad)
	if !errors.Is(err, ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}
}

func TestPhyModeRate(t *testing.T) {
	cases := map[string]float64{
		"DsssRate11Mbps":  11e6,
		"DsssRate5_5Mbps": 5.5e6,
		"DsssRate1Mbps":   1e6,
		"OfdmRate54Mbps":  54e6,
		"HtMcs7":          0,
		"DsssRateFast":    0,
	}
	for mode, want := range cases {
		if got := PhyModeRate(mode); got != want {
			t.Errorf("PhyModeRate(%q) = %v, want %v", mode, got, want)
		}
	}
}

func TestParseProtocol(t *testing.T) {
	for code, want := range map[int]string{1: "OLSR", 2: "AODV", 3: "DSDV", 4: "DSR"} {
		p, err := ParseProtocol(code)
		if err != nil || p.String() != want {
			t.Fatalf("ParseProtocol(%d) = %v, %v", code, p, err)
		}
	}
	if _, err := ParseProtocol(5); err == nil {
		t.Fatalf("expected error for code 5")
	}
	if DefaultProtocol != ProtocolDSDV {
		t.Fatalf("default protocol should be DSDV")
	}
}

func TestFlowMonitorXML(t *testing.T) {
	clock, n, nodes, addrs := line(t, 2, 100)
	dst := netip.AddrPortFrom(addrs[1], 9)
	_ = n.BindReceiver(nodes[1], dst, func(NodeID, Packet) {})
	s, _ := n.InstallSender(nodes[0], dst, testSender)
	_ = s.Start(0)
	_ = s.Stop(0.6)
	_ = clock.RunUntil(context.Background(), 1)

	path := filepath.Join(t.TempDir(), "trace.flowmon")
	if err := n.CollectFlowStatistics().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{`<FlowMonitor>`, `timeFirstTxPacket="+250000000.0ns"`, `sourceAddress="10.1.1.1"`, `destinationPort="9"`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Fatalf("flowmon output missing %s:\n%s", want, data)
		}
	}
	doc, err := ReadFlowMonitor(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadFlowMonitor: %v", err)
	}
	sums := doc.Summaries()
	if len(sums) != 1 || sums[0].Stat.RxPackets != 2 || sums[0].Flow.DestinationAddress != "10.1.1.2" {
		t.Fatalf("unexpected summaries %+v", sums)
	}
	if sums[0].Stat.TimeFirstTxPacket.Seconds() != 0.25 {
		t.Fatalf("unexpected first tx %v", sums[0].Stat.TimeFirstTxPacket)
	}
}

func TestTraceMobility(t *testing.T) {
	_, n, _, _ := line(t, 2, 100)
	path := filepath.Join(t.TempDir(), "trace.mob")
	if err := n.TraceMobility(path); err != nil {
		t.Fatalf("TraceMobility: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "node=1 pos=100:0:0") {
		t.Fatalf("unexpected trace:\n%s", data)
	}
}
