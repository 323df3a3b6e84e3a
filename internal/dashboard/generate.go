package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"manet-sim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Tables names the GreptimeDB tables the dashboard queries.
type Tables struct {
	Samples string
	Flows   string
}

// DefaultTables returns the tables the GreptimeDB writer fills.
func DefaultTables() Tables {
	return Tables{Samples: telemetry.SampleTableName, Flows: telemetry.FlowTableName}
}

// Render executes every embedded Grafana template and writes the dashboards
// to outDir. Datasource UIDs come from the environment.
func Render(outDir string, tables Tables) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	t, err := template.New("dashboards").Funcs(funcMap).ParseFS(templates, "templates/*.json.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, tpl := range t.Templates() {
		if !strings.HasSuffix(tpl.Name(), ".tmpl") {
			continue
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(tpl.Name(), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := tpl.Execute(f, tables); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", tpl.Name(), err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
