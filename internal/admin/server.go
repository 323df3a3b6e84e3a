package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"manet-sim/internal/sim"
	"manet-sim/internal/telemetry"
)

// StatusSource exposes the observable state of a running experiment.
type StatusSource interface {
	Status() sim.Status
	Samples() []telemetry.SampleRow
	FlowStats() []telemetry.FlowStatRow
}

// RunLister lists runs from the results store.
type RunLister interface {
	Runs(protocol string, limit int) ([]telemetry.RunRow, error)
}

type Server struct {
	Source  StatusSource
	Metrics http.Handler
	Runs    RunLister
	Log     *slog.Logger
	tpl     *template.Template
}

//go:embed templates/index.html
var content embed.FS

func NewServer(src StatusSource, metrics http.Handler, runs RunLister) *Server {
	tpl := template.Must(template.New("index.html").Funcs(template.FuncMap{
		"pct": func(r telemetry.FlowStatRow) string {
			return strconv.FormatFloat(r.DeliveryRatio()*100, 'f', 0, 64) + "%"
		},
	}).ParseFS(content, "templates/index.html"))
	return &Server{Source: src, Metrics: metrics, Runs: runs, Log: slog.Default(), tpl: tpl}
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/samples", s.handleSamples)
	mux.HandleFunc("/flows", s.handleFlows)
	mux.HandleFunc("/runs", s.handleRuns)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	return mux
}

// Listen binds addr so callers learn about port conflicts before the run.
func (s *Server) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Serve runs the admin server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	samples := s.Source.Samples()
	if len(samples) > 20 {
		samples = samples[len(samples)-20:]
	}
	data := struct {
		Status  sim.Status
		Samples []telemetry.SampleRow
		Flows   []telemetry.FlowStatRow
	}{
		Status:  s.Source.Status(),
		Samples: samples,
		Flows:   s.Source.FlowStats(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.Log.Warn("render admin index", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Source.Status())
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	samples := s.Source.Samples()
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := strconv.ParseFloat(since, 64)
		if err != nil {
			http.Error(w, "since must be a number of simulated seconds", http.StatusBadRequest)
			return
		}
		filtered := samples[:0:0]
		for _, row := range samples {
			if row.SimulationSecond >= t {
				filtered = append(filtered, row)
			}
		}
		samples = filtered
	}
	writeJSON(w, samples)
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Source.FlowStats())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		http.Error(w, "no results store configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.Runs.Runs(r.URL.Query().Get("protocol"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
