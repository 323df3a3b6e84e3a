package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"manet-sim/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "manet-sim",
	Short: "MANET routing experiment orchestrator",
	Long:  "manet-sim wires a two-team topology onto an ad-hoc wireless fabric, runs a staggered UDP traffic campaign and reports receive throughput.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		l := logging.NewWithLevel(cmd.ErrOrStderr(), level)
		slog.SetDefault(l)
		cmd.SetContext(logging.NewContext(cmd.Context(), l))
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(dashboardCmd)
}
