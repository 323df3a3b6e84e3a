package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"manet-sim/internal/admin"
	"manet-sim/internal/config"
	"manet-sim/internal/logging"
	"manet-sim/internal/sim"
	"manet-sim/internal/topology"
)

var (
	runConfigPath string
	runSchemaPath string
	runTopology   string
	runBuiltin    string
	runCSVFile    string
	runCSVMode    string
	runTraceMob   bool
	runTraceFile  string
	runProtocol   int
	runAddressing string
	runSeed       int64
	runPrintOnly  bool
	runLogFile    string
	runTUI        bool
	runPace       float64
	runAdminAddr  string
	runDBPath     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one routing experiment",
	Long:  "run builds the network, installs the traffic campaign and samples receive throughput until the last batch ends.",
	// Unknown flags are ignored so wrapper scripts can pass extra options.
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.FromContext(cmd.Context())
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		topo, name, err := loadTopology(cmd.ErrOrStderr(), cfg)
		if err != nil {
			return err
		}

		if runTUI {
			// Log records would tear the alternate screen.
			log = logging.NewWithLevel(io.Discard, slog.LevelError)
		}
		ws, cleanup, err := newWriters(cfg, writerOptions{
			PrintOnly: runPrintOnly,
			LogFile:   runLogFile,
			TUI:       runTUI,
			DBPath:    runDBPath,
			Metrics:   runAdminAddr != "",
			Log:       log,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		exp, err := sim.NewExperiment(sim.Options{
			Config:       cfg,
			Topology:     topo,
			TopologyName: name,
			Writer:       ws.Writer,
			Log:          log,
			Pace:         runPace,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runAdminAddr != "" {
			if err := startAdmin(ctx, exp, ws, log); err != nil {
				return err
			}
		}

		if err := exp.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn("experiment interrupted")
			}
			return err
		}
		st := exp.Status()
		log.Info("experiment finished",
			"run_id", st.RunID,
			"protocol", st.Protocol,
			"flows", st.Flows,
			"sinks", st.Sinks,
			"packets", st.PacketsReceived,
			"bytes", st.BytesReceived,
			"events", st.EventsExecuted,
		)
		return nil
	},
}

func startAdmin(ctx context.Context, exp *sim.Experiment, ws *writerSet, log *slog.Logger) error {
	var runs admin.RunLister
	if ws.Store != nil {
		runs = ws.Store
	}
	srv := admin.NewServer(exp, ws.Metrics.Handler(), runs)
	srv.Log = log
	ln, err := srv.Listen(runAdminAddr)
	if err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	log.Info("admin UI listening", "addr", ln.Addr().String())
	ws.Writer.SetAdminStatus(true)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			log.Error("admin server failed", "err", err)
		}
		ws.Writer.SetAdminStatus(false)
	}()
	return nil
}

// resolveConfig loads the config file, or the defaults when none is given,
// and applies explicitly set flags on top.
func resolveConfig(cmd *cobra.Command) (*config.ExperimentConfig, error) {
	var cfg *config.ExperimentConfig
	if runConfigPath != "" {
		loaded, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		d := config.Default()
		cfg = &d
	}
	flags := cmd.Flags()
	if flags.Changed("topology") {
		cfg.Topology = runTopology
		cfg.BuiltinTopology = ""
	}
	if flags.Changed("builtin") {
		cfg.BuiltinTopology = runBuiltin
	}
	if flags.Changed("csv-file") {
		cfg.CSVFile = runCSVFile
	}
	if flags.Changed("csv-mode") {
		cfg.CSVMode = runCSVMode
	}
	if flags.Changed("trace-mobility") {
		cfg.TraceMobility = runTraceMob
	}
	if flags.Changed("trace-file") {
		cfg.TraceFile = runTraceFile
	}
	if flags.Changed("protocol") {
		cfg.Protocol = runProtocol
	}
	if flags.Changed("addressing") {
		cfg.Addressing = runAddressing
	}
	if flags.Changed("seed") {
		cfg.Seed = runSeed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTopology returns the configured topology and its display name. File
// open failures are reported on the console before anything else happens.
func loadTopology(console io.Writer, cfg *config.ExperimentConfig) (topology.Topology, string, error) {
	if cfg.BuiltinTopology != "" {
		p, err := topology.Lookup(cfg.BuiltinTopology)
		if err != nil {
			return topology.Topology{}, "", err
		}
		return p.Topology, cfg.TopologySource(), nil
	}
	topo, err := topology.Load(cfg.Topology)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			fmt.Fprintf(console, "Could not open topology file %s\n", cfg.Topology)
		}
		return topology.Topology{}, "", err
	}
	return topo, cfg.Topology, nil
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runConfigPath, "config", "", "Path to experiment configuration YAML (defaults are used when empty)")
	f.StringVar(&runSchemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	f.StringVar(&runTopology, "topology", "nodes.txt", "Path to topology file")
	f.StringVar(&runBuiltin, "builtin", "", "Use a built-in topology instead of a file")
	f.StringVar(&runCSVFile, "csv-file", "manet.output.csv", "CSV throughput report path")
	f.StringVar(&runCSVMode, "csv-mode", config.CSVAppend, "CSV write policy (append or overwrite)")
	f.BoolVar(&runTraceMob, "trace-mobility", false, "Write node positions to <trace>.mob")
	f.StringVar(&runTraceFile, "trace-file", "manet", "Prefix for the .flowmon and .mob trace files")
	f.IntVar(&runProtocol, "protocol", 3, "Routing protocol: 1=OLSR;2=AODV;3=DSDV;4=DSR")
	f.StringVar(&runAddressing, "addressing", "per-pair", "Flow addressing policy (per-pair or fixed-target)")
	f.Int64Var(&runSeed, "seed", 1, "Random seed for start jitter")
	f.BoolVar(&runPrintOnly, "print-only", false, "Print samples to STDOUT as JSON instead of writing to DB")
	f.StringVar(&runLogFile, "log-file", "", "Path to export samples, receipts, flows and runs (JSONL)")
	f.BoolVar(&runTUI, "tui", false, "Show a live terminal UI")
	f.Float64Var(&runPace, "pace", 0, "Follow wall-clock time at this speed factor (0 runs as fast as possible)")
	f.StringVar(&runAdminAddr, "admin", "", "Serve the admin UI and /metrics on this address (e.g. :8080)")
	f.StringVar(&runDBPath, "db", "", "SQLite results database path")
}
