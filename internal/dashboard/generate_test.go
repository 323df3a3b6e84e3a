package dashboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"manet-sim/internal/telemetry"
)

type dashboardDoc struct {
	UID    string `json:"uid"`
	Panels []struct {
		Title   string `json:"title"`
		Targets []struct {
			RawSQL string `json:"rawSql"`
		} `json:"targets"`
	} `json:"panels"`
}

func TestRenderMissingDatasource(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "")
	err := Render(t.TempDir(), DefaultTables())
	if err == nil || !strings.Contains(err.Error(), "GREPTIMEDB_DATASOURCE_UID") {
		t.Fatalf("expected missing datasource error, got %v", err)
	}
}

func TestDefaultTablesFollowWriter(t *testing.T) {
	tables := DefaultTables()
	if tables.Samples != telemetry.SampleTableName || tables.Flows != telemetry.FlowTableName {
		t.Fatalf("default tables %+v do not match telemetry tables", tables)
	}
}

func TestRenderThroughputDashboard(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "greptime-uid")

	dir := filepath.Join(t.TempDir(), "build")
	if err := Render(dir, Tables{Samples: "runs_a", Flows: "flows_a"}); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "manet-throughput.json"))
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(b), `"uid": "greptime-uid"`) {
		t.Fatalf("datasource uid not rendered")
	}

	var doc dashboardDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("dashboard is not valid JSON: %v", err)
	}
	if doc.UID != "manet-throughput" || len(doc.Panels) == 0 {
		t.Fatalf("unexpected dashboard: uid=%q panels=%d", doc.UID, len(doc.Panels))
	}
	var sawSamples, sawFlows bool
	for _, p := range doc.Panels {
		for _, target := range p.Targets {
			sawSamples = sawSamples || strings.Contains(target.RawSQL, "FROM runs_a")
			sawFlows = sawFlows || strings.Contains(target.RawSQL, "FROM flows_a")
		}
	}
	if !sawSamples || !sawFlows {
		t.Fatalf("panels do not query both tables (samples=%v flows=%v)", sawSamples, sawFlows)
	}
}
