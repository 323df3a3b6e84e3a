package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"manet-sim/internal/config"
	"manet-sim/internal/logging"
	"manet-sim/internal/sim"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayCSVFile   string
	replayLogFile   string
	replayDBPath    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a sample log file",
	Long: "replay feeds sample rows from a JSONL log back into GreptimeDB or STDOUT, and optionally\n" +
		"into a CSV report, a JSONL log or the SQLite store. --speed 0 loads the log in batches.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		log := logging.FromContext(cmd.Context())
		cfg := config.Default()
		cfg.CSVFile = replayCSVFile
		ws, cleanup, err := newWriters(&cfg, writerOptions{
			PrintOnly: replayPrintOnly,
			LogFile:   replayLogFile,
			DBPath:    replayDBPath,
			Log:       log,
		})
		if err != nil {
			return err
		}
		defer cleanup()
		n, err := sim.ReplayLogFile(cmd.Context(), replayInput, ws.Writer, replaySpeed)
		if err != nil {
			return err
		}
		log.Info("replay finished", "rows", n)
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to sample log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print samples to STDOUT instead of writing to DB")
	replayCmd.Flags().StringVar(&replayCSVFile, "csv-file", "", "Also write the replayed samples to a CSV report")
	replayCmd.Flags().StringVar(&replayLogFile, "log-file", "", "Also append the replayed samples to a JSONL log")
	replayCmd.Flags().StringVar(&replayDBPath, "db", "", "Also store the replayed samples in a SQLite database")
	_ = replayCmd.MarkFlagRequired("input")
}
