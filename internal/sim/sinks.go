package sim

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"manet-sim/internal/fabric"
	"manet-sim/internal/telemetry"
	"manet-sim/internal/topology"
)

// SinkRegistry binds at most one receive endpoint per measured node and
// funnels every arrival into a shared Accumulator.
type SinkRegistry struct {
	transport fabric.Transport
	clock     interface{ Now() float64 }
	acc       *Accumulator
	log       *slog.Logger
	events    ReceiveEventWriter
	runID     string
	now       func() time.Time
	place     Placement
	bound     map[int]netip.AddrPort
	order     []int
}

// Placement maps topology node ids onto fabric nodes and the address each
// node's sink binds.
type Placement struct {
	Nodes map[int]fabric.NodeID
	Addrs map[int]netip.Addr
}

// NewSinkRegistry creates a registry. events may be nil.
func NewSinkRegistry(t fabric.Transport, clock interface{ Now() float64 }, acc *Accumulator, place Placement, events ReceiveEventWriter, log *slog.Logger) *SinkRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &SinkRegistry{
		transport: t,
		clock:     clock,
		acc:       acc,
		log:       log,
		events:    events,
		now:       time.Now,
		place:     place,
		bound:     make(map[int]netip.AddrPort),
	}
}

// Ensure binds a sink on target at port unless one already exists and
// returns the endpoint senders should use.
func (s *SinkRegistry) Ensure(target topology.Node, port uint16) (netip.AddrPort, error) {
	if ap, ok := s.bound[target.ID]; ok {
		return ap, nil
	}
	node, ok := s.place.Nodes[target.ID]
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("sink on node %d: %w", target.ID, fabric.ErrUnknownNode)
	}
	addr, ok := s.place.Addrs[target.ID]
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("sink on node %d: %w", target.ID, fabric.ErrForeignAddress)
	}
	ap := netip.AddrPortFrom(addr, port)
	if err := s.transport.BindReceiver(node, ap, s.receive); err != nil {
		return netip.AddrPort{}, fmt.Errorf("sink on node %d: %w", target.ID, err)
	}
	s.bound[target.ID] = ap
	s.order = append(s.order, target.ID)
	return ap, nil
}

// Count returns the number of bound sinks.
func (s *SinkRegistry) Count() int { return len(s.order) }

// Nodes returns the ids of nodes with a sink, in bind order.
func (s *SinkRegistry) Nodes() []int { return append([]int(nil), s.order...) }

func (s *SinkRegistry) receive(node fabric.NodeID, pkt fabric.Packet) {
	s.acc.Add(pkt.Size)
	t := s.clock.Now()
	s.log.Info(receiptLine(t, int(node), pkt.From))
	if s.events == nil {
		return
	}
	row := telemetry.ReceiveEventRow{
		RunID:      s.runID,
		SimSeconds: t,
		NodeID:     int(node),
		Bytes:      pkt.Size,
		Timestamp:  s.now().UTC(),
	}
	if pkt.From.IsValid() {
		row.From = pkt.From.Addr().String()
	}
	if err := s.events.WriteReceiveEvent(row); err != nil {
		s.log.Warn("receive event write failed", "node", int(node), "err", err)
	}
}

// receiptLine formats the per-datagram notice.
func receiptLine(t float64, node int, from netip.AddrPort) string {
	ts := strconv.FormatFloat(t, 'f', -1, 64)
	if !from.IsValid() {
		return fmt.Sprintf("%s %d received one packet!", ts, node)
	}
	return fmt.Sprintf("%s %d received one packet from %s", ts, node, from.Addr())
}
