package sim

import (
	"net/http"
	"strconv"

	"manet-sim/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusWriter exposes the latest sample and the flow summary as
// Prometheus metrics on its own registry.
type PrometheusWriter struct {
	reg      *prometheus.Registry
	rate     prometheus.Gauge
	simTime  prometheus.Gauge
	sinks    prometheus.Gauge
	packets  prometheus.Counter
	bytes    prometheus.Counter
	flowRx   *prometheus.GaugeVec
	flowLoss *prometheus.GaugeVec
	flowRate *prometheus.GaugeVec
}

// NewPrometheusWriter registers the experiment metrics. protocol is attached
// as a constant label.
func NewPrometheusWriter(protocol string) *PrometheusWriter {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"protocol": protocol}
	w := &PrometheusWriter{
		reg: reg,
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "manet", Name: "receive_rate_kbps",
			Help: "Receive rate over the last sample interval in kbit/s.", ConstLabels: labels,
		}),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "manet", Name: "simulation_seconds",
			Help: "Simulated time of the latest sample.", ConstLabels: labels,
		}),
		sinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "manet", Name: "sinks",
			Help: "Number of bound receive sinks.", ConstLabels: labels,
		}),
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "manet", Name: "packets_received_total",
			Help: "Datagrams received by all sinks.", ConstLabels: labels,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "manet", Name: "bytes_received_total",
			Help: "Payload bytes received by all sinks.", ConstLabels: labels,
		}),
		flowRx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "manet", Name: "flow_delivery_ratio",
			Help: "Share of transmitted packets received, per flow.", ConstLabels: labels,
		}, []string{"flow", "source", "destination"}),
		flowLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "manet", Name: "flow_lost_packets",
			Help: "Packets lost per flow.", ConstLabels: labels,
		}, []string{"flow", "source", "destination"}),
		flowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "manet", Name: "flow_throughput_kbps",
			Help: "Mean receive throughput per flow in kbit/s.", ConstLabels: labels,
		}, []string{"flow", "source", "destination"}),
	}
	reg.MustRegister(w.rate, w.simTime, w.sinks, w.packets, w.bytes, w.flowRx, w.flowLoss, w.flowRate)
	return w
}

// Registry returns the registry holding the experiment metrics.
func (w *PrometheusWriter) Registry() *prometheus.Registry { return w.reg }

// Handler serves the registry in the Prometheus exposition format.
func (w *PrometheusWriter) Handler() http.Handler {
	return promhttp.HandlerFor(w.reg, promhttp.HandlerOpts{})
}

// Write updates the sample metrics.
func (w *PrometheusWriter) Write(row telemetry.SampleRow) error {
	w.rate.Set(row.ReceiveRate)
	w.simTime.Set(row.SimulationSecond)
	w.sinks.Set(float64(row.NumberOfSinks))
	w.packets.Add(float64(row.PacketsReceived))
	w.bytes.Add(float64(row.BytesReceived))
	return nil
}

// WriteFlowStats publishes one series per flow.
func (w *PrometheusWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	for _, r := range rows {
		lv := []string{strconv.Itoa(r.FlowID), r.Source, r.Destination}
		w.flowRx.WithLabelValues(lv...).Set(r.DeliveryRatio())
		w.flowLoss.WithLabelValues(lv...).Set(float64(r.LostPackets))
		w.flowRate.WithLabelValues(lv...).Set(r.ThroughputKbps)
	}
	return nil
}
