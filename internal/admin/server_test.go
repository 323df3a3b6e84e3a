package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"manet-sim/internal/sim"
	"manet-sim/internal/telemetry"
)

type fakeSource struct {
	status  sim.Status
	samples []telemetry.SampleRow
	flows   []telemetry.FlowStatRow
}

func (f *fakeSource) Status() sim.Status                 { return f.status }
func (f *fakeSource) Samples() []telemetry.SampleRow     { return f.samples }
func (f *fakeSource) FlowStats() []telemetry.FlowStatRow { return f.flows }

type fakeRuns struct {
	protocol string
	limit    int
	err      error
}

func (f *fakeRuns) Runs(protocol string, limit int) ([]telemetry.RunRow, error) {
	f.protocol, f.limit = protocol, limit
	if f.err != nil {
		return nil, f.err
	}
	return []telemetry.RunRow{{RunID: "r1", Protocol: protocol}}, nil
}

func newTestSource() *fakeSource {
	return &fakeSource{
		status: sim.Status{RunID: "r1", Phase: "running", Protocol: "DSDV", Topology: "builtin:duel", Flows: 18, Sinks: 5, SimSeconds: 26},
		samples: []telemetry.SampleRow{
			{SimulationSecond: 25, ReceiveRate: 0},
			{SimulationSecond: 26, ReceiveRate: 1.5, PacketsReceived: 3},
		},
		flows: []telemetry.FlowStatRow{{FlowID: 1, Source: "10.1.1.1", Destination: "10.1.1.4", TxPackets: 2, RxPackets: 1}},
	}
}

func TestHandleStatus(t *testing.T) {
	server := NewServer(newTestSource(), nil, nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status OK, got %v", w.Code)
	}
	var st sim.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if st.RunID != "r1" || st.Flows != 18 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestHandleSamples(t *testing.T) {
	server := NewServer(newTestSource(), nil, nil)
	cases := []struct {
		query string
		code  int
		rows  int
	}{
		{"", http.StatusOK, 2},
		{"?since=26", http.StatusOK, 1},
		{"?since=99", http.StatusOK, 0},
		{"?since=x", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/samples"+tc.query, nil))
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.query, tc.code, w.Code)
		}
		if tc.code != http.StatusOK {
			continue
		}
		var rows []telemetry.SampleRow
		if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
			t.Fatalf("%s: decode error: %v", tc.query, err)
		}
		if len(rows) != tc.rows {
			t.Errorf("%s: expected %d rows, got %d", tc.query, tc.rows, len(rows))
		}
	}
}

func TestHandleIndexAndFlows(t *testing.T) {
	server := NewServer(newTestSource(), nil, nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	body := w.Body.String()
	if !strings.Contains(body, "Experiment r1") || !strings.Contains(body, "50%") {
		t.Fatalf("index missing run or flow data:\n%s", body)
	}
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/flows", nil))
	var flows []telemetry.FlowStatRow
	if err := json.NewDecoder(w.Body).Decode(&flows); err != nil || len(flows) != 1 {
		t.Fatalf("unexpected flows response: %v %+v", err, flows)
	}
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", w.Code)
	}
}

func TestHandleRuns(t *testing.T) {
	w := httptest.NewRecorder()
	NewServer(newTestSource(), nil, nil).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a store, got %d", w.Code)
	}

	runs := &fakeRuns{}
	w = httptest.NewRecorder()
	NewServer(newTestSource(), nil, runs).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?protocol=AODV&limit=5", nil))
	if w.Code != http.StatusOK || runs.protocol != "AODV" || runs.limit != 5 {
		t.Fatalf("runs query not forwarded: code=%d %+v", w.Code, runs)
	}

	runs.err = errors.New("db locked")
	w = httptest.NewRecorder()
	NewServer(newTestSource(), nil, runs).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestMetricsAndServe(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "manet_sinks 5\n")
	})
	server := NewServer(newTestSource(), metrics, nil)
	ln, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "manet_sinks 5") {
		t.Fatalf("unexpected metrics body: %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
