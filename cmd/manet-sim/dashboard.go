package main

import (
	"github.com/spf13/cobra"

	"manet-sim/internal/dashboard"
	"manet-sim/internal/logging"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the GreptimeDB tables",
	Long:  "dashboard writes Grafana dashboard JSON querying the sample and flow tables. GREPTIMEDB_DATASOURCE_UID selects the datasource.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dashboard.Render(dashboardOut, dashboard.DefaultTables()); err != nil {
			return err
		}
		logging.FromContext(cmd.Context()).Info("dashboards rendered", "dir", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
