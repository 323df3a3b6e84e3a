package sim

import (
	"fmt"
	"time"

	"manet-sim/internal/fabric"
	"manet-sim/internal/telemetry"
)

// FlowStatRows flattens a flow monitor document into one row per flow.
func FlowStatRows(doc *fabric.FlowMonitorDocument, runID string, ts time.Time) []telemetry.FlowStatRow {
	if doc == nil {
		return nil
	}
	summaries := doc.Summaries()
	rows := make([]telemetry.FlowStatRow, 0, len(summaries))
	for _, s := range summaries {
		st := s.Stat
		row := telemetry.FlowStatRow{
			RunID:           runID,
			FlowID:          st.FlowID,
			Source:          s.Flow.SourceAddress,
			Destination:     s.Flow.DestinationAddress,
			SourcePort:      int(s.Flow.SourcePort),
			DestinationPort: int(s.Flow.DestinationPort),
			TxPackets:       st.TxPackets,
			RxPackets:       st.RxPackets,
			LostPackets:     st.LostPackets,
			TxBytes:         st.TxBytes,
			RxBytes:         st.RxBytes,
			Timestamp:       ts,
		}
		if st.RxPackets > 0 {
			row.MeanDelayS = st.DelaySum.Seconds() / float64(st.RxPackets)
		}
		if st.RxPackets > 1 {
			row.MeanJitterS = st.JitterSum.Seconds() / float64(st.RxPackets-1)
		}
		if d := st.TimeLastRxPacket.Seconds() - st.TimeFirstTxPacket.Seconds(); d > 0 {
			row.ThroughputKbps = float64(st.RxBytes) * 8 / d / 1024
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteFlowMonitor serializes the fabric's flow statistics to path.
func WriteFlowMonitor(c fabric.FlowStatsCollector, path string) (*fabric.FlowMonitorDocument, error) {
	doc := c.CollectFlowStatistics()
	if doc == nil {
		doc = &fabric.FlowMonitorDocument{}
	}
	if err := doc.Save(path); err != nil {
		return nil, fmt.Errorf("write flow statistics %s: %w", path, err)
	}
	return doc, nil
}
