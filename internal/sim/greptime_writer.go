package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"manet-sim/internal/telemetry"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

const defaultGreptimePort = 4001

// greptimeClient is the subset of the ingester client used by the writer.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes samples and flow summaries to GreptimeDB.
type GreptimeDBWriter struct {
	client      greptimeClient
	sampleTable string
	flowTable   string
	timeout     time.Duration
	log         *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port") and
// writes into database. Tables are created by the server on first write.
func NewGreptimeDBWriter(endpoint, database string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if database == "" {
		database = "public"
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptimedb client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{
		client:      client,
		sampleTable: telemetry.SampleTableName,
		flowTable:   telemetry.FlowTableName,
		timeout:     10 * time.Second,
		log:         log,
	}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, fmt.Errorf("greptimedb endpoint is empty")
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("greptimedb endpoint %q: bad port: %w", endpoint, err)
	}
	return host, port, nil
}

// Write inserts a single sample row.
func (w *GreptimeDBWriter) Write(row telemetry.SampleRow) error {
	return w.WriteBatch([]telemetry.SampleRow{row})
}

// WriteBatch inserts multiple sample rows.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.SampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.sampleTable)
	if err != nil {
		return err
	}
	if err := addColumns(tbl,
		tagCol("run_id", types.STRING),
		tagCol("protocol", types.STRING),
		fieldCol("sim_seconds", types.FLOAT64),
		fieldCol("kbps", types.FLOAT64),
		fieldCol("packets", types.INT64),
		fieldCol("bytes", types.INT64),
		fieldCol("sinks", types.INT64),
		fieldCol("tx_power_dbm", types.FLOAT64),
	); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.RunID, r.RoutingProtocol, r.SimulationSecond, r.ReceiveRate,
			int64(r.PacketsReceived), r.BytesReceived, int64(r.NumberOfSinks), r.TransmissionPower, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, w.sampleTable, len(rows))
}

// WriteFlowStats inserts the per-flow summary.
func (w *GreptimeDBWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.flowTable)
	if err != nil {
		return err
	}
	if err := addColumns(tbl,
		tagCol("run_id", types.STRING),
		tagCol("flow_id", types.INT64),
		fieldCol("source", types.STRING),
		fieldCol("destination", types.STRING),
		fieldCol("source_port", types.INT64),
		fieldCol("destination_port", types.INT64),
		fieldCol("tx_packets", types.INT64),
		fieldCol("rx_packets", types.INT64),
		fieldCol("lost_packets", types.INT64),
		fieldCol("tx_bytes", types.INT64),
		fieldCol("rx_bytes", types.INT64),
		fieldCol("mean_delay_s", types.FLOAT64),
		fieldCol("mean_jitter_s", types.FLOAT64),
		fieldCol("throughput_kbps", types.FLOAT64),
		fieldCol("delivery_ratio", types.FLOAT64),
	); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.RunID, int64(r.FlowID), r.Source, r.Destination,
			int64(r.SourcePort), int64(r.DestinationPort),
			int64(r.TxPackets), int64(r.RxPackets), int64(r.LostPackets),
			int64(r.TxBytes), int64(r.RxBytes),
			r.MeanDelayS, r.MeanJitterS, r.ThroughputKbps, r.DeliveryRatio(), r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, w.flowTable, len(rows))
}

func (w *GreptimeDBWriter) write(tbl *table.Table, name string, n int) error {
	timeout := w.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := w.log
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Error("greptimedb write failed", "table", name, "err", err)
		return err
	}
	log.Debug("greptimedb write", "table", name, "rows", n)
	return nil
}

type column struct {
	name string
	typ  types.ColumnType
	tag  bool
}

func tagCol(name string, t types.ColumnType) column   { return column{name: name, typ: t, tag: true} }
func fieldCol(name string, t types.ColumnType) column { return column{name: name, typ: t} }

func addColumns(tbl *table.Table, cols ...column) error {
	for _, c := range cols {
		var err error
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return fmt.Errorf("column %s: %w", c.name, err)
		}
	}
	return nil
}
