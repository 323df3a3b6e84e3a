package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"manet-sim/internal/sim"
	"manet-sim/internal/telemetry"
)

var summaryCmd = &cobra.Command{
	Use:   "summary <csv>",
	Short: "Summarise a CSV throughput report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := sim.ReadCSVReport(args[0])
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summarize(rows))
	},
}

// reportSummary aggregates report rows per routing protocol.
type reportSummary struct {
	Protocol  string
	Rows      int
	FirstS    float64
	LastS     float64
	Packets   int
	MeanKbps  float64
	PeakKbps  float64
	PeakAtS   float64
	MaxSinks  int
	TxPowerDb float64
}

func summarize(rows []telemetry.SampleRow) []reportSummary {
	byProto := map[string]*reportSummary{}
	var order []string
	for _, r := range rows {
		s, ok := byProto[r.RoutingProtocol]
		if !ok {
			s = &reportSummary{Protocol: r.RoutingProtocol, FirstS: r.SimulationSecond, TxPowerDb: r.TransmissionPower}
			byProto[r.RoutingProtocol] = s
			order = append(order, r.RoutingProtocol)
		}
		s.Rows++
		if r.SimulationSecond < s.FirstS {
			s.FirstS = r.SimulationSecond
		}
		if r.SimulationSecond > s.LastS {
			s.LastS = r.SimulationSecond
		}
		s.Packets += r.PacketsReceived
		s.MeanKbps += r.ReceiveRate
		if r.ReceiveRate > s.PeakKbps {
			s.PeakKbps = r.ReceiveRate
			s.PeakAtS = r.SimulationSecond
		}
		if r.NumberOfSinks > s.MaxSinks {
			s.MaxSinks = r.NumberOfSinks
		}
	}
	sort.Strings(order)
	out := make([]reportSummary, 0, len(order))
	for _, p := range order {
		s := byProto[p]
		s.MeanKbps /= float64(s.Rows)
		out = append(out, *s)
	}
	return out
}

func printSummary(w io.Writer, sums []reportSummary) error {
	if len(sums) == 0 {
		_, err := fmt.Fprintln(w, "report has no rows")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tROWS\tSPAN (s)\tPACKETS\tMEAN kbps\tPEAK kbps\tSINKS\tTX dBm")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%g-%g\t%d\t%.3f\t%.3f@%g\t%d\t%g\n",
			s.Protocol, s.Rows, s.FirstS, s.LastS, s.Packets, s.MeanKbps, s.PeakKbps, s.PeakAtS, s.MaxSinks, s.TxPowerDb)
	}
	return tw.Flush()
}
