package fabric

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// FiveTuple classifies a flow.
type FiveTuple struct {
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

type flowState struct {
	id        int
	key       FiveTuple
	firstTx   float64
	lastTx    float64
	firstRx   float64
	lastRx    float64
	txBytes   uint64
	rxBytes   uint64
	txPackets uint64
	rxPackets uint64
	lost      uint64
	forwarded uint64
	delaySum  float64
	jitterSum float64
	lastDelay float64
}

// FlowMonitor records per-flow packet statistics. Flow ids are assigned in
// order of the first transmitted packet, starting at 1.
type FlowMonitor struct {
	flows []*flowState
	byKey map[FiveTuple]*flowState
}

// NewFlowMonitor returns an empty monitor.
func NewFlowMonitor() *FlowMonitor {
	return &FlowMonitor{byKey: make(map[FiveTuple]*flowState)}
}

// Tx records a transmitted packet and returns its flow id.
func (m *FlowMonitor) Tx(key FiveTuple, now float64, size int) int {
	f, ok := m.byKey[key]
	if !ok {
		f = &flowState{id: len(m.flows) + 1, key: key, firstTx: now}
		m.flows = append(m.flows, f)
		m.byKey[key] = f
	}
	f.lastTx = now
	f.txPackets++
	f.txBytes += uint64(size)
	return f.id
}

// Rx records a packet sent at sentAt and delivered at now. hops is the number
// of links traversed.
func (m *FlowMonitor) Rx(id int, sentAt, now float64, size, hops int) {
	f := m.flow(id)
	if f == nil {
		return
	}
	delay := now - sentAt
	if f.rxPackets == 0 {
		f.firstRx = now
	} else {
		f.jitterSum += math.Abs(delay - f.lastDelay)
	}
	f.lastDelay = delay
	f.lastRx = now
	f.rxPackets++
	f.rxBytes += uint64(size)
	f.delaySum += delay
	if hops > 1 {
		f.forwarded += uint64(hops - 1)
	}
}

// Lost records a packet that will never be delivered.
func (m *FlowMonitor) Lost(id int) {
	if f := m.flow(id); f != nil {
		f.lost++
	}
}

func (m *FlowMonitor) flow(id int) *flowState {
	if id < 1 || id > len(m.flows) {
		return nil
	}
	return m.flows[id-1]
}

// Document snapshots the current statistics.
func (m *FlowMonitor) Document() *FlowMonitorDocument {
	doc := &FlowMonitorDocument{}
	for _, f := range m.flows {
		doc.FlowStats.Flows = append(doc.FlowStats.Flows, FlowStat{
			FlowID:            f.id,
			TimeFirstTxPacket: Nanos(f.firstTx),
			TimeFirstRxPacket: Nanos(f.firstRx),
			TimeLastTxPacket:  Nanos(f.lastTx),
			TimeLastRxPacket:  Nanos(f.lastRx),
			DelaySum:          Nanos(f.delaySum),
			JitterSum:         Nanos(f.jitterSum),
			TxBytes:           f.txBytes,
			RxBytes:           f.rxBytes,
			TxPackets:         f.txPackets,
			RxPackets:         f.rxPackets,
			LostPackets:       f.lost,
			TimesForwarded:    f.forwarded,
		})
		doc.Classifier.Flows = append(doc.Classifier.Flows, ClassifiedFlow{
			FlowID:             f.id,
			SourceAddress:      f.key.Src.String(),
			DestinationAddress: f.key.Dst.String(),
			Protocol:           f.key.Protocol,
			SourcePort:         f.key.SrcPort,
			DestinationPort:    f.key.DstPort,
		})
	}
	return doc
}

// Nanos is a simulated duration rendered as "+<n>ns" in XML.
type Nanos float64

// Seconds returns the value in seconds.
func (n Nanos) Seconds() float64 { return float64(n) }

// MarshalXMLAttr renders the value in nanoseconds.
func (n Nanos) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: "+" + strconv.FormatFloat(float64(n)*1e9, 'f', 1, 64) + "ns"}, nil
}

// UnmarshalXMLAttr parses "+<n>ns".
func (n *Nanos) UnmarshalXMLAttr(attr xml.Attr) error {
	s := strings.TrimSuffix(strings.TrimPrefix(attr.Value, "+"), "ns")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", attr.Name.Local, err)
	}
	*n = Nanos(v / 1e9)
	return nil
}

// FlowMonitorDocument is the XML flow statistics dump.
type FlowMonitorDocument struct {
	XMLName   xml.Name `xml:"FlowMonitor"`
	FlowStats struct {
		Flows []FlowStat `xml:"Flow"`
	} `xml:"FlowStats"`
	Classifier struct {
		Flows []ClassifiedFlow `xml:"Flow"`
	} `xml:"Ipv4FlowClassifier"`
}

// FlowStat carries the counters of one flow.
type FlowStat struct {
	FlowID            int    `xml:"flowId,attr"`
	TimeFirstTxPacket Nanos  `xml:"timeFirstTxPacket,attr"`
	TimeFirstRxPacket Nanos  `xml:"timeFirstRxPacket,attr"`
	TimeLastTxPacket  Nanos  `xml:"timeLastTxPacket,attr"`
	TimeLastRxPacket  Nanos  `xml:"timeLastRxPacket,attr"`
	DelaySum          Nanos  `xml:"delaySum,attr"`
	JitterSum         Nanos  `xml:"jitterSum,attr"`
	TxBytes           uint64 `xml:"txBytes,attr"`
	RxBytes           uint64 `xml:"rxBytes,attr"`
	TxPackets         uint64 `xml:"txPackets,attr"`
	RxPackets         uint64 `xml:"rxPackets,attr"`
	LostPackets       uint64 `xml:"lostPackets,attr"`
	TimesForwarded    uint64 `xml:"timesForwarded,attr"`
}

// ClassifiedFlow maps a flow id to its five-tuple.
type ClassifiedFlow struct {
	FlowID             int    `xml:"flowId,attr"`
	SourceAddress      string `xml:"sourceAddress,attr"`
	DestinationAddress string `xml:"destinationAddress,attr"`
	Protocol           uint8  `xml:"protocol,attr"`
	SourcePort         uint16 `xml:"sourcePort,attr"`
	DestinationPort    uint16 `xml:"destinationPort,attr"`
}

// FlowSummary joins the counters of a flow with its classification.
type FlowSummary struct {
	Stat FlowStat
	Flow ClassifiedFlow
}

// Summaries returns one entry per flow in flow id order.
func (d *FlowMonitorDocument) Summaries() []FlowSummary {
	byID := make(map[int]ClassifiedFlow, len(d.Classifier.Flows))
	for _, c := range d.Classifier.Flows {
		byID[c.FlowID] = c
	}
	out := make([]FlowSummary, 0, len(d.FlowStats.Flows))
	for _, s := range d.FlowStats.Flows {
		out = append(out, FlowSummary{Stat: s, Flow: byID[s.FlowID]})
	}
	return out
}

// WriteXML encodes the document with indentation.
func (d *FlowMonitorDocument) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Save writes the document to path, replacing any previous content.
func (d *FlowMonitorDocument) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.WriteXML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFlowMonitor decodes a document written by WriteXML.
func ReadFlowMonitor(r io.Reader) (*FlowMonitorDocument, error) {
	var d FlowMonitorDocument
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
