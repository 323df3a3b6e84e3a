package sim

import (
	"fmt"
	"text/tabwriter"
	"time"

	"manet-sim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

func (w *StdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	c := w.cfg
	fmt.Fprintln(w.out, "Experiment Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Routing Protocol:\t%d\n", c.Protocol)
	fmt.Fprintf(tw, "Topology:\t%s\n", c.TopologySource())
	fmt.Fprintf(tw, "Addressing:\t%s\n", c.Addressing)
	fmt.Fprintf(tw, "Subnet:\t%s\n", c.Subnet)
	fmt.Fprintf(tw, "Radio:\t%s %s %.4f dBm, %.0f m\n", c.Radio.Standard, c.Radio.PhyMode, c.Radio.TxPowerDbm, c.Radio.RangeM)
	fmt.Fprintf(tw, "Traffic:\t%d B @ %.0f bps\n", c.Traffic.PacketSize, c.Traffic.DataRateBps)
	fmt.Fprintf(tw, "Campaign:\tstart %.2fs, shift %.2fs, jitter %.3fs, port %d\n", c.Campaign.StartTimeS, c.Campaign.ShiftS, c.Campaign.JitterS, c.Campaign.Port)
	fmt.Fprintf(tw, "CSV:\t%s (%s)\n", c.CSVFile, c.CSVMode)
	tw.Flush()
	fmt.Fprintln(w.out)
}

func (w *StdoutWriter) printSample(row telemetry.SampleRow) {
	rateColor := colorGreen
	if row.PacketsReceived == 0 {
		rateColor = colorGray
	}
	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, row.Timestamp.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%st=%6.1fs%s ", colorBlue, row.SimulationSecond, colorReset)
	fmt.Fprintf(w.out, "%srate=%8.3f kbps%s ", rateColor, row.ReceiveRate, colorReset)
	fmt.Fprintf(w.out, "%spkts=%d%s ", colorYellow, row.PacketsReceived, colorReset)
	fmt.Fprintf(w.out, "%ssinks=%d%s ", colorCyan, row.NumberOfSinks, colorReset)
	fmt.Fprintf(w.out, "%sproto=%s%s", colorMagenta, row.RoutingProtocol, colorReset)
	fmt.Fprintln(w.out)
}

func (w *StdoutWriter) printFlowTable(rows []telemetry.FlowStatRow) {
	fmt.Fprintln(w.out, "\nFlows:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSource\tDestination\tTx\tRx\tLost\tDelay (ms)\tkbps\n")
	for _, r := range rows {
		col := colorGreen
		switch {
		case r.RxPackets == 0:
			col = colorRed
		case r.RxPackets < r.TxPackets:
			col = colorYellow
		}
		fmt.Fprintf(tw, "%d\t%s:%d\t%s:%d\t%d\t%s%d%s\t%d\t%.3f\t%.3f\n",
			r.FlowID, r.Source, r.SourcePort, r.Destination, r.DestinationPort,
			r.TxPackets, col, r.RxPackets, colorReset, r.LostPackets, r.MeanDelayS*1000, r.ThroughputKbps)
	}
	tw.Flush()
}
