package main

import (
	"log/slog"
	"os"

	"manet-sim/internal/config"
	"manet-sim/internal/fabric"
	"manet-sim/internal/sim"
	"manet-sim/internal/store"
)

type writerOptions struct {
	PrintOnly bool
	LogFile   string
	TUI       bool
	DBPath    string
	Metrics   bool
	Log       *slog.Logger
}

// writerSet keeps typed handles next to the fan-out writer for the parts of
// the CLI that need them.
type writerSet struct {
	Writer  *sim.MultiWriter
	CSV     *sim.CSVWriter
	Metrics *sim.PrometheusWriter
	Store   *store.Store
}

// newWriters sets up the report, console and optional sinks based on flags
// and env vars. It returns the writers and a cleanup function to close them.
func newWriters(cfg *config.ExperimentConfig, opts writerOptions) (*writerSet, func(), error) {
	ws := &writerSet{}
	var writers []sim.SampleWriter
	closeAll := func() {
		_ = sim.NewMultiWriter(writers...).Close()
	}

	if cfg.CSVFile != "" {
		cw, err := sim.NewCSVWriter(cfg.CSVFile, cfg.CSVMode)
		if err != nil {
			return nil, nil, err
		}
		ws.CSV = cw
		writers = append(writers, cw)
	}

	base, err := baseWriter(cfg, opts)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	writers = append(writers, base)

	if opts.LogFile != "" {
		fw, err := sim.NewFileWriter(opts.LogFile, opts.LogFile+".events", opts.LogFile+".flows", opts.LogFile+".runs")
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		writers = append(writers, fw)
	}

	if opts.DBPath != "" {
		st, err := store.Open(opts.DBPath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ws.Store = st
		writers = append(writers, st)
	}

	if opts.Metrics {
		ws.Metrics = sim.NewPrometheusWriter(fabric.Protocol(cfg.Protocol).String())
		writers = append(writers, ws.Metrics)
	}

	ws.Writer = sim.NewMultiWriter(writers...)
	cleanup := func() {
		if err := ws.Writer.Close(); err != nil && opts.Log != nil {
			opts.Log.Warn("closing writers", "err", err)
		}
	}
	return ws, cleanup, nil
}

// baseWriter chooses the console or database writer based on flags and env vars.
func baseWriter(cfg *config.ExperimentConfig, opts writerOptions) (sim.SampleWriter, error) {
	if opts.TUI {
		return sim.NewTUIWriter(cfg), nil
	}
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if opts.PrintOnly {
		return sim.NewJSONStdoutWriter(), nil
	}
	if endpoint == "" {
		return sim.NewStdoutWriter(cfg), nil
	}
	database := os.Getenv("GREPTIMEDB_DATABASE")
	if database == "" {
		database = "public"
	}
	return sim.NewGreptimeDBWriter(endpoint, database, opts.Log)
}
