package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"manet-sim/internal/topology"
)

var (
	topoGenBuiltin string
	topoGenOut     string
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Inspect and generate topology files",
}

var topologyInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the team roster of a topology file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := topology.Load(args[0])
		if err != nil {
			return err
		}
		return printRoster(cmd.OutOrStdout(), topo)
	},
}

var topologyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in topologies",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, name := range topology.BuiltInNames() {
			p, _ := topology.Lookup(name)
			fmt.Fprintf(tw, "%s\t%d nodes\t%s\n", p.Name, p.Topology.NodeCount(), p.Description)
		}
		return tw.Flush()
	},
}

var topologyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a built-in topology in the file format",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := topology.Lookup(topoGenBuiltin)
		if err != nil {
			return err
		}
		if topoGenOut == "" || topoGenOut == "-" {
			return topology.Write(cmd.OutOrStdout(), p.Topology)
		}
		f, err := os.Create(topoGenOut)
		if err != nil {
			return err
		}
		if err := topology.Write(f, p.Topology); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

func printRoster(w io.Writer, topo topology.Topology) error {
	r := topology.Partition(topo)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Nodes:\t%d\n", topo.NodeCount())
	for _, g := range []struct {
		name  string
		nodes []topology.Node
	}{
		{"Team A", r.TeamA},
		{"Team B", r.TeamB},
		{"Relays", r.Relays},
		{"Unassigned", r.Unassigned},
	} {
		fmt.Fprintf(tw, "%s:\t%d\t%s\n", g.name, len(g.nodes), nodeList(g.nodes))
	}
	return tw.Flush()
}

func nodeList(nodes []topology.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprintf("%d(%g,%g)", n.ID, n.X, n.Y)
	}
	return strings.Join(parts, " ")
}

func init() {
	topologyGenerateCmd.Flags().StringVar(&topoGenBuiltin, "builtin", "duel", "Built-in topology name")
	topologyGenerateCmd.Flags().StringVar(&topoGenOut, "out", "", "Output file (STDOUT when empty)")
	topologyCmd.AddCommand(topologyInspectCmd, topologyListCmd, topologyGenerateCmd)
}
