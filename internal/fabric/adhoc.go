package fabric

import (
	"bufio"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

const (
	speedOfLight = 299792458.0
	// udpIPHeaderBytes is added to every payload when accounting IP-level bytes.
	udpIPHeaderBytes = 28
	// macOverheadBytes approximates the 802.11 MAC header and FCS.
	macOverheadBytes   = 34
	firstEphemeralPort = 49153
)

type adhocNode struct {
	id       NodeID
	x, y     float64
	devices  []DeviceID
	protocol Protocol
	routed   bool
}

type device struct {
	id      DeviceID
	node    NodeID
	channel int
	params  ChannelParams
	addr    netip.Addr
}

type socket struct {
	node NodeID
	fn   ReceiveFunc
}

// AdhocNetwork is a small built-in fabric. Nodes sharing a channel within
// radio range are neighbours; packets follow the fewest-hop route over
// neighbours of nodes that have routing installed. There is no contention,
// fading or protocol control traffic.
type AdhocNetwork struct {
	clock    Scheduler
	log      *slog.Logger
	nodes    []*adhocNode
	devices  []*device
	channels int
	cursors  map[netip.Prefix]netip.Addr
	owners   map[netip.Addr]NodeID
	sockets  map[netip.AddrPort]*socket
	nextPort map[NodeID]uint16
	routes   map[[2]NodeID][]NodeID
	monitor  *FlowMonitor
}

// NewAdhocNetwork creates an empty fabric driven by clock.
func NewAdhocNetwork(clock Scheduler, log *slog.Logger) *AdhocNetwork {
	if log == nil {
		log = slog.Default()
	}
	return &AdhocNetwork{
		clock:    clock,
		log:      log,
		cursors:  make(map[netip.Prefix]netip.Addr),
		owners:   make(map[netip.Addr]NodeID),
		sockets:  make(map[netip.AddrPort]*socket),
		nextPort: make(map[NodeID]uint16),
		monitor:  NewFlowMonitor(),
	}
}

// CreateNodes appends count nodes and returns their ids.
func (n *AdhocNetwork) CreateNodes(count int) []NodeID {
	ids := make([]NodeID, 0, count)
	for i := 0; i < count; i++ {
		id := NodeID(len(n.nodes))
		n.nodes = append(n.nodes, &adhocNode{id: id})
		ids = append(ids, id)
	}
	return ids
}

// SetPosition places a node. Nodes are stationary.
func (n *AdhocNetwork) SetPosition(id NodeID, x, y float64) error {
	nd, err := n.node("set position", id)
	if err != nil {
		return err
	}
	nd.x, nd.y = x, y
	n.routes = nil
	return nil
}

// InstallWireless creates a new channel and one device per node on it.
func (n *AdhocNetwork) InstallWireless(nodes []NodeID, ch ChannelParams) ([]DeviceID, error) {
	if ch.RangeM <= 0 {
		return nil, opErr("install wireless", "non-positive radio range %.2f", ch.RangeM)
	}
	channel := n.channels
	n.channels++
	ids := make([]DeviceID, 0, len(nodes))
	for _, id := range nodes {
		nd, err := n.node("install wireless", id)
		if err != nil {
			return nil, err
		}
		dev := &device{id: DeviceID(len(n.devices)), node: id, channel: channel, params: ch}
		n.devices = append(n.devices, dev)
		nd.devices = append(nd.devices, dev.id)
		ids = append(ids, dev.id)
	}
	n.routes = nil
	return ids, nil
}

// AssignAddresses hands out consecutive host addresses from subnet. Numbering
// continues across calls that use the same subnet.
func (n *AdhocNetwork) AssignAddresses(devices []DeviceID, subnet netip.Prefix) ([]netip.Addr, error) {
	subnet = subnet.Masked()
	cur, ok := n.cursors[subnet]
	if !ok {
		cur = subnet.Addr()
	}
	addrs := make([]netip.Addr, 0, len(devices))
	for _, id := range devices {
		if int(id) < 0 || int(id) >= len(n.devices) {
			return nil, opErr("assign addresses", "%w: %d", ErrUnknownDevice, id)
		}
		dev := n.devices[id]
		next := cur.Next()
		if !next.IsValid() || !subnet.Contains(next) || isBroadcast(subnet, next) {
			return nil, opErr("assign addresses", "%w: %s", ErrSubnetExhausted, subnet)
		}
		cur = next
		dev.addr = next
		n.owners[next] = dev.node
		addrs = append(addrs, next)
	}
	n.cursors[subnet] = cur
	return addrs, nil
}

// InstallRouting enables multi-hop forwarding on the given nodes.
func (n *AdhocNetwork) InstallRouting(p Protocol, nodes []NodeID) error {
	if _, err := ParseProtocol(int(p)); err != nil {
		return &CollaboratorError{Op: "install routing", Err: err}
	}
	for _, id := range nodes {
		nd, err := n.node("install routing", id)
		if err != nil {
			return err
		}
		nd.protocol = p
		nd.routed = true
	}
	n.routes = nil
	return nil
}

// BindReceiver registers fn for datagrams arriving at local. The address must
// belong to node, or be unspecified to accept any of its addresses.
func (n *AdhocNetwork) BindReceiver(id NodeID, local netip.AddrPort, fn ReceiveFunc) error {
	if _, err := n.node("bind", id); err != nil {
		return err
	}
	addr := local.Addr()
	if addr.IsValid() && !addr.IsUnspecified() {
		owner, ok := n.owners[addr]
		if !ok || owner != id {
			return opErr("bind", "%w: %s on node %d", ErrForeignAddress, addr, id)
		}
	}
	if _, taken := n.sockets[local]; taken {
		return opErr("bind", "%w: %s", ErrAddressInUse, local)
	}
	n.sockets[local] = &socket{node: id, fn: fn}
	return nil
}

// InstallSender creates an on/off source on node sending to remote.
func (n *AdhocNetwork) InstallSender(id NodeID, remote netip.AddrPort, cfg SenderConfig) (Sender, error) {
	nd, err := n.node("install sender", id)
	if err != nil {
		return nil, err
	}
	if cfg.PacketSize <= 0 || cfg.DataRateBps <= 0 || cfg.OnTime <= 0 || cfg.OffTime < 0 {
		return nil, opErr("install sender", "%w: %+v", ErrInvalidSender, cfg)
	}
	src, ok := n.primaryAddr(nd)
	if !ok {
		return nil, opErr("install sender", "%w: node %d has no address", ErrForeignAddress, id)
	}
	port, ok := n.nextPort[id]
	if !ok {
		port = firstEphemeralPort
	}
	n.nextPort[id] = port + 1
	return &onOffApp{
		net:    n,
		node:   id,
		local:  netip.AddrPortFrom(src, port),
		remote: remote,
		cfg:    cfg,
	}, nil
}

// CollectFlowStatistics returns a snapshot of the flow monitor.
func (n *AdhocNetwork) CollectFlowStatistics() *FlowMonitorDocument {
	return n.monitor.Document()
}

// TraceMobility writes the node positions in an ns-2 style trace.
func (n *AdhocNetwork) TraceMobility(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, nd := range n.nodes {
		fmt.Fprintf(w, "now=%s node=%d pos=%s:%s:0 vel=0:0:0\n",
			formatSeconds(n.clock.Now()), nd.id, formatSeconds(nd.x), formatSeconds(nd.y))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// send transmits one datagram from node towards remote.
func (n *AdhocNetwork) send(from NodeID, local, remote netip.AddrPort, size int) {
	now := n.clock.Now()
	key := FiveTuple{Src: local.Addr(), Dst: remote.Addr(), SrcPort: local.Port(), DstPort: remote.Port(), Protocol: 17}
	ipSize := size + udpIPHeaderBytes
	flow := n.monitor.Tx(key, now, ipSize)

	dst, ok := n.owners[remote.Addr()]
	if !ok {
		n.monitor.Lost(flow)
		n.log.Debug("no route: unknown destination", "dst", remote)
		return
	}
	path := n.route(from, dst)
	if path == nil {
		n.monitor.Lost(flow)
		n.log.Debug("no route", "src", from, "dst", dst)
		return
	}
	delay := n.pathDelay(path, size)
	pkt := Packet{Size: size, From: local, To: remote, SentAt: now}
	err := n.clock.ScheduleAt(now+delay, func() {
		n.monitor.Rx(flow, now, n.clock.Now(), ipSize, len(path)-1)
		n.deliver(dst, pkt)
	})
	if err != nil {
		n.monitor.Lost(flow)
	}
}

func (n *AdhocNetwork) deliver(dst NodeID, pkt Packet) {
	if s, ok := n.sockets[pkt.To]; ok && s.node == dst {
		s.fn(dst, pkt)
		return
	}
	wildcard := netip.AddrPortFrom(netip.IPv4Unspecified(), pkt.To.Port())
	if s, ok := n.sockets[wildcard]; ok && s.node == dst {
		s.fn(dst, pkt)
	}
}

// route returns the node sequence from src to dst, or nil when unreachable.
func (n *AdhocNetwork) route(src, dst NodeID) []NodeID {
	if n.routes == nil {
		n.routes = make(map[[2]NodeID][]NodeID)
	}
	key := [2]NodeID{src, dst}
	if p, ok := n.routes[key]; ok {
		return p
	}
	p := n.shortestPath(src, dst)
	n.routes[key] = p
	return p
}

func (n *AdhocNetwork) shortestPath(src, dst NodeID) []NodeID {
	if src == dst {
		return []NodeID{src}
	}
	prev := make(map[NodeID]NodeID)
	visited := map[NodeID]bool{src: true}
	queue := []NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur != src && !n.nodes[cur].routed {
			continue
		}
		for _, nb := range n.neighbours(cur) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			prev[nb] = cur
			if nb == dst {
				return buildPath(prev, src, dst)
			}
			queue = append(queue, nb)
		}
	}
	return nil
}

func buildPath(prev map[NodeID]NodeID, src, dst NodeID) []NodeID {
	path := []NodeID{dst}
	for cur := dst; cur != src; {
		cur = prev[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// neighbours lists nodes sharing a channel with id within radio range, in node order.
func (n *AdhocNetwork) neighbours(id NodeID) []NodeID {
	self := n.nodes[id]
	var out []NodeID
	for _, other := range n.nodes {
		if other.id == id {
			continue
		}
		if n.linked(self, other) {
			out = append(out, other.id)
		}
	}
	return out
}

func (n *AdhocNetwork) linked(a, b *adhocNode) bool {
	d := math.Hypot(a.x-b.x, a.y-b.y)
	for _, da := range a.devices {
		for _, db := range b.devices {
			devA, devB := n.devices[da], n.devices[db]
			if devA.channel != devB.channel {
				continue
			}
			if d <= math.Min(devA.params.RangeM, devB.params.RangeM) {
				return true
			}
		}
	}
	return false
}

func (n *AdhocNetwork) pathDelay(path []NodeID, size int) float64 {
	var delay float64
	for i := 1; i < len(path); i++ {
		a, b := n.nodes[path[i-1]], n.nodes[path[i]]
		rate := n.linkRate(a)
		delay += float64((size+udpIPHeaderBytes+macOverheadBytes)*8) / rate
		delay += math.Hypot(a.x-b.x, a.y-b.y) / speedOfLight
	}
	return delay
}

func (n *AdhocNetwork) linkRate(nd *adhocNode) float64 {
	for _, id := range nd.devices {
		if r := PhyModeRate(n.devices[id].params.PhyMode); r > 0 {
			return r
		}
	}
	return 11e6
}

func (n *AdhocNetwork) primaryAddr(nd *adhocNode) (netip.Addr, bool) {
	for _, id := range nd.devices {
		if a := n.devices[id].addr; a.IsValid() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

func (n *AdhocNetwork) node(op string, id NodeID) (*adhocNode, error) {
	if int(id) < 0 || int(id) >= len(n.nodes) {
		return nil, opErr(op, "%w: %d", ErrUnknownNode, id)
	}
	return n.nodes[id], nil
}

// PhyModeRate parses DSSS mode names such as "DsssRate11Mbps" or
// "DsssRate5_5Mbps" into bits per second. It returns 0 when unknown.
func PhyModeRate(mode string) float64 {
	s := strings.TrimPrefix(mode, "DsssRate")
	s = strings.TrimPrefix(s, "OfdmRate")
	if s == mode || !strings.HasSuffix(s, "Mbps") {
		return 0
	}
	s = strings.ReplaceAll(strings.TrimSuffix(s, "Mbps"), "_", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v * 1e6
}

func isBroadcast(p netip.Prefix, a netip.Addr) bool {
	if !a.Is4() || p.Bits() >= 31 {
		return false
	}
	b := a.As4()
	hostBits := 32 - p.Bits()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	mask := uint32(1)<<hostBits - 1
	return v&mask == mask
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
