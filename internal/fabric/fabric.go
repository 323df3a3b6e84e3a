// Collaborator interfaces consumed from a network simulation engine
package fabric

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

// NodeID identifies a node created by a Builder.
type NodeID int

// DeviceID identifies a wireless device installed on a node.
type DeviceID int

// Protocol selects the routing protocol installed on the nodes.
type Protocol int

// Routing protocol codes accepted on the command line.
const (
	ProtocolOLSR Protocol = 1
	ProtocolAODV Protocol = 2
	ProtocolDSDV Protocol = 3
	ProtocolDSR  Protocol = 4
)

// DefaultProtocol is used when nothing else is configured.
const DefaultProtocol = ProtocolDSDV

func (p Protocol) String() string {
	switch p {
	case ProtocolOLSR:
		return "OLSR"
	case ProtocolAODV:
		return "AODV"
	case ProtocolDSDV:
		return "DSDV"
	case ProtocolDSR:
		return "DSR"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// ParseProtocol validates a numeric protocol code (1=OLSR, 2=AODV, 3=DSDV, 4=DSR).
func ParseProtocol(code int) (Protocol, error) {
	p := Protocol(code)
	switch p {
	case ProtocolOLSR, ProtocolAODV, ProtocolDSDV, ProtocolDSR:
		return p, nil
	}
	return 0, fmt.Errorf("unknown routing protocol code %d (1=OLSR;2=AODV;3=DSDV;4=DSR)", code)
}

// ChannelParams configures one shared wireless channel.
type ChannelParams struct {
	Standard   string
	PhyMode    string
	TxPowerDbm float64
	RangeM     float64
}

// SenderConfig describes a constant bit rate on/off source.
type SenderConfig struct {
	PacketSize  int
	DataRateBps float64
	OnTime      float64
	OffTime     float64
}

// Packet is a datagram handed to a receive callback.
type Packet struct {
	Size   int
	From   netip.AddrPort
	To     netip.AddrPort
	SentAt float64
}

// ReceiveFunc is invoked once per datagram arriving at a bound endpoint.
type ReceiveFunc func(node NodeID, pkt Packet)

// Sender is an installed traffic source.
type Sender interface {
	Start(at float64) error
	Stop(at float64) error
}

// Scheduler is the discrete-event clock shared by the fabric and the experiment.
type Scheduler interface {
	Now() float64
	ScheduleAt(t float64, action func()) error
	RunUntil(ctx context.Context, until float64) error
}

// Builder creates nodes, wireless devices and addresses.
type Builder interface {
	CreateNodes(count int) []NodeID
	SetPosition(node NodeID, x, y float64) error
	InstallWireless(nodes []NodeID, ch ChannelParams) ([]DeviceID, error)
	AssignAddresses(devices []DeviceID, subnet netip.Prefix) ([]netip.Addr, error)
}

// RoutingInstaller installs a routing protocol on a set of nodes.
type RoutingInstaller interface {
	InstallRouting(p Protocol, nodes []NodeID) error
}

// Transport binds receive endpoints and installs traffic sources.
type Transport interface {
	BindReceiver(node NodeID, local netip.AddrPort, fn ReceiveFunc) error
	InstallSender(node NodeID, remote netip.AddrPort, cfg SenderConfig) (Sender, error)
}

// FlowStatsCollector exposes per-flow statistics gathered during the run.
type FlowStatsCollector interface {
	CollectFlowStatistics() *FlowMonitorDocument
}

// Fabric bundles every collaborator an experiment needs.
type Fabric interface {
	Builder
	RoutingInstaller
	Transport
	FlowStatsCollector
}

// MobilityTracer is implemented by fabrics that can dump node positions.
type MobilityTracer interface {
	TraceMobility(path string) error
}

// Collaborator failures.
var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrAddressInUse    = errors.New("address already in use")
	ErrForeignAddress  = errors.New("address not assigned to node")
	ErrSubnetExhausted = errors.New("subnet exhausted")
	ErrInvalidSender   = errors.New("invalid sender configuration")
)

// CollaboratorError reports a rejected fabric request.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("fabric %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func opErr(op string, format string, args ...any) error {
	return &CollaboratorError{Op: op, Err: fmt.Errorf(format, args...)}
}
