// Experiment orchestrating fabric setup, traffic campaign and sampling
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"manet-sim/internal/campaign"
	"manet-sim/internal/config"
	"manet-sim/internal/engine"
	"manet-sim/internal/fabric"
	"manet-sim/internal/telemetry"
	"manet-sim/internal/topology"

	"github.com/google/uuid"
)

// recentSamples bounds the sample history kept for status readers.
const recentSamples = 300

// Options configures an Experiment. Config, Topology and Writer are required.
type Options struct {
	Config       *config.ExperimentConfig
	Topology     topology.Topology
	TopologyName string
	RunID        string
	Rand         *rand.Rand
	Writer       SampleWriter
	Log          *slog.Logger
	Now          func() time.Time
	// Clock and Fabric default to an engine.Clock driving the built-in
	// AdhocNetwork. A custom Fabric must be driven by the given Clock.
	Clock  fabric.Scheduler
	Fabric fabric.Fabric
	// Pace follows wall-clock time when the clock supports it.
	Pace float64
}

// Status is a snapshot of a running experiment.
type Status struct {
	RunID           string    `json:"run_id"`
	Phase           string    `json:"phase"`
	Protocol        string    `json:"protocol"`
	Topology        string    `json:"topology"`
	Addressing      string    `json:"addressing"`
	Nodes           int       `json:"nodes"`
	TeamA           int       `json:"team_a"`
	TeamB           int       `json:"team_b"`
	Relays          int       `json:"relays"`
	Unassigned      int       `json:"unassigned"`
	Flows           int       `json:"flows"`
	Sinks           int       `json:"sinks"`
	SimSeconds      float64   `json:"sim_seconds"`
	EndTimeS        float64   `json:"end_time_s"`
	LastRateKbps    float64   `json:"last_rate_kbps"`
	PacketsReceived int       `json:"packets_received"`
	BytesReceived   int64     `json:"bytes_received"`
	EventsExecuted  int       `json:"events_executed"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Experiment wires a topology onto a fabric, installs the traffic campaign
// and samples receive throughput until the last batch ends.
type Experiment struct {
	cfg      *config.ExperimentConfig
	topo     topology.Topology
	roster   topology.TeamRoster
	protocol fabric.Protocol
	clock    fabric.Scheduler
	fab      fabric.Fabric
	sched    *campaign.Scheduler
	writer   SampleWriter
	log      *slog.Logger
	now      func() time.Time
	runID    string
	topoName string

	acc     *Accumulator
	place   Placement
	sinks   *SinkRegistry
	sampler *ThroughputSampler
	flows   []campaign.Flow
	endTime float64
	ready   bool

	mu        sync.RWMutex
	status    Status
	samples   []telemetry.SampleRow
	flowStats []telemetry.FlowStatRow
}

// NewExperiment validates options and prepares an experiment. No fabric
// calls are made until Setup.
func NewExperiment(opts Options) (*Experiment, error) {
	if opts.Config == nil {
		return nil, errors.New("experiment config is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("experiment writer is required")
	}
	proto, err := fabric.ParseProtocol(opts.Config.Protocol)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(opts.Config.Seed))
	}
	if opts.Clock == nil {
		opts.Clock = engine.NewClock()
	}
	if pc, ok := opts.Clock.(interface{ SetPace(float64) }); ok && opts.Pace > 0 {
		pc.SetPace(opts.Pace)
	}
	if opts.Fabric == nil {
		opts.Fabric = fabric.NewAdhocNetwork(opts.Clock, opts.Log.With("component", "fabric"))
	}

	roster := topology.Partition(opts.Topology)
	policy, err := campaign.ParsePolicy(opts.Config.Addressing, roster)
	if err != nil {
		return nil, err
	}
	params := campaign.Params{
		StartTime: opts.Config.Campaign.StartTimeS,
		Shift:     opts.Config.Campaign.ShiftS,
		Jitter:    opts.Config.Campaign.JitterS,
		Port:      uint16(opts.Config.Campaign.Port),
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	e := &Experiment{
		cfg:      opts.Config,
		topo:     opts.Topology,
		roster:   roster,
		protocol: proto,
		clock:    opts.Clock,
		fab:      opts.Fabric,
		sched:    campaign.NewScheduler(params, policy, opts.Rand),
		writer:   opts.Writer,
		log:      opts.Log,
		now:      opts.Now,
		runID:    opts.RunID,
		topoName: opts.TopologyName,
		acc:      &Accumulator{},
	}
	e.status = Status{
		RunID:      e.runID,
		Phase:      telemetry.RunPending,
		Protocol:   proto.String(),
		Topology:   e.topoName,
		Addressing: policy.Name(),
		Nodes:      opts.Topology.NodeCount(),
		TeamA:      len(roster.TeamA),
		TeamB:      len(roster.TeamB),
		Relays:     len(roster.Relays),
		Unassigned: len(roster.Unassigned),
	}
	return e, nil
}

// Setup builds nodes, channels, addresses and routing, then plans and
// installs every flow. It runs once; later calls are no-ops.
func (e *Experiment) Setup() error {
	if e.ready {
		return nil
	}
	if err := e.buildNetwork(); err != nil {
		return err
	}
	if e.cfg.TraceMobility {
		if mt, ok := e.fab.(fabric.MobilityTracer); ok {
			if err := mt.TraceMobility(e.cfg.MobilityPath()); err != nil {
				return fmt.Errorf("trace mobility: %w", err)
			}
		} else {
			e.log.Warn("fabric cannot trace mobility")
		}
	}

	var events ReceiveEventWriter
	if receiveEventsWanted(e.writer) {
		events, _ = e.writer.(ReceiveEventWriter)
	}
	e.sinks = NewSinkRegistry(e.fab, e.clock, e.acc, e.place, events, e.log.With("component", "sink"))
	e.sinks.runID = e.runID
	e.sinks.now = e.now

	flows, err := e.sched.Plan(e.roster)
	if err != nil {
		return err
	}
	if err := e.sched.Install(flows, e); err != nil {
		return err
	}
	e.flows = flows
	e.endTime = e.sched.EndTime(flows)

	e.sampler = NewThroughputSampler(e.clock, e.acc, e.writer, SamplerOptions{
		Interval: e.cfg.SampleIntervalS,
		Base: telemetry.SampleRow{
			RunID:             e.runID,
			RoutingProtocol:   e.protocol.String(),
			TransmissionPower: e.cfg.Radio.TxPowerDbm,
		},
		Sinks:    e.sinks.Count,
		Now:      e.now,
		Log:      e.log.With("component", "sampler"),
		OnSample: e.recordSample,
	})

	e.mu.Lock()
	e.status.Flows = len(flows)
	e.status.Sinks = e.sinks.Count()
	e.status.EndTimeS = e.endTime
	e.mu.Unlock()

	e.log.Info("experiment ready",
		"run_id", e.runID,
		"protocol", e.protocol.String(),
		"nodes", e.topo.NodeCount(),
		"flows", len(flows),
		"sinks", e.sinks.Count(),
		"end_time_s", e.endTime)
	e.ready = true
	return nil
}

func (e *Experiment) buildNetwork() error {
	nodes := e.topo.Nodes()
	ids := e.fab.CreateNodes(len(nodes))
	if len(ids) != len(nodes) {
		return &fabric.CollaboratorError{Op: "create nodes", Err: fmt.Errorf("asked for %d nodes, got %d", len(nodes), len(ids))}
	}
	e.place = Placement{Nodes: make(map[int]fabric.NodeID, len(nodes)), Addrs: make(map[int]netip.Addr, len(nodes))}
	for i, n := range nodes {
		e.place.Nodes[n.ID] = ids[i]
		x, y := n.Scaled(e.cfg.GridScale)
		if err := e.fab.SetPosition(ids[i], x, y); err != nil {
			return err
		}
	}

	subnet, err := netip.ParsePrefix(e.cfg.Subnet)
	if err != nil {
		return fmt.Errorf("subnet: %w", err)
	}
	ch := fabric.ChannelParams{
		Standard:   e.cfg.Radio.Standard,
		PhyMode:    e.cfg.Radio.PhyMode,
		TxPowerDbm: e.cfg.Radio.TxPowerDbm,
		RangeM:     e.cfg.Radio.RangeM,
	}
	// Side A shares channel 1 and side B channel 2; relays sit on both and
	// keep the address from channel 1 for their sink.
	for _, side := range [][]topology.Node{e.roster.SideA(), e.roster.SideB()} {
		devs, err := e.fab.InstallWireless(e.fabricIDs(side), ch)
		if err != nil {
			return err
		}
		addrs, err := e.fab.AssignAddresses(devs, subnet)
		if err != nil {
			return err
		}
		for i, n := range side {
			if _, ok := e.place.Addrs[n.ID]; !ok && i < len(addrs) {
				e.place.Addrs[n.ID] = addrs[i]
			}
		}
	}
	return e.fab.InstallRouting(e.protocol, ids)
}

func (e *Experiment) fabricIDs(nodes []topology.Node) []fabric.NodeID {
	ids := make([]fabric.NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, e.place.Nodes[n.ID])
	}
	return ids
}

// EnsureSink implements campaign.Installer.
func (e *Experiment) EnsureSink(target topology.Node, port uint16) (netip.AddrPort, error) {
	return e.sinks.Ensure(target, port)
}

// InstallFlow implements campaign.Installer.
func (e *Experiment) InstallFlow(f campaign.Flow) error {
	node, ok := e.place.Nodes[f.Sender.ID]
	if !ok {
		return &fabric.CollaboratorError{Op: "install sender", Err: fmt.Errorf("%w: %d", fabric.ErrUnknownNode, f.Sender.ID)}
	}
	snd, err := e.fab.InstallSender(node, f.Remote, fabric.SenderConfig{
		PacketSize:  e.cfg.Traffic.PacketSize,
		DataRateBps: e.cfg.Traffic.DataRateBps,
		OnTime:      e.cfg.Traffic.OnTimeS,
		OffTime:     e.cfg.Traffic.OffTimeS,
	})
	if err != nil {
		return err
	}
	if err := snd.Start(f.Start); err != nil {
		return err
	}
	return snd.Stop(f.Stop)
}

// Run sets the experiment up if needed, drives the clock until the end
// time and writes the flow statistics. Sample write failures do not stop the
// run but are returned afterwards.
func (e *Experiment) Run(ctx context.Context) error {
	started := e.now().UTC()
	e.mu.Lock()
	e.status.StartedAt = started
	e.mu.Unlock()

	if err := e.Setup(); err != nil {
		e.finish(err)
		return err
	}
	e.setPhase(telemetry.RunRunning)
	e.writeRun()

	if err := e.sampler.Start(); err != nil {
		e.finish(err)
		return err
	}
	e.log.Info("running experiment", "until_s", e.endTime)
	runErr := e.clock.RunUntil(ctx, e.endTime)
	if runErr != nil {
		runErr = fmt.Errorf("run aborted at %.3fs: %w", e.clock.Now(), runErr)
	}

	teardownErr := e.teardown()
	var sampleErr error
	if err := e.sampler.Err(); err != nil {
		sampleErr = fmt.Errorf("sample writer: %w", err)
	}
	err := errors.Join(runErr, teardownErr, sampleErr)
	e.finish(err)
	return err
}

func (e *Experiment) teardown() error {
	doc, err := WriteFlowMonitor(e.fab, e.cfg.FlowMonitorPath())
	if err != nil {
		return err
	}
	rows := FlowStatRows(doc, e.runID, e.now().UTC())
	e.mu.Lock()
	e.flowStats = rows
	e.mu.Unlock()
	if fw, ok := e.writer.(FlowStatsWriter); ok && len(rows) > 0 {
		if err := fw.WriteFlowStats(rows); err != nil {
			return fmt.Errorf("flow stats writer: %w", err)
		}
	}
	e.log.Info("flow statistics written", "path", e.cfg.FlowMonitorPath(), "flows", len(rows))
	return nil
}

func (e *Experiment) finish(err error) {
	bytes, packets := e.acc.Totals()
	e.mu.Lock()
	e.status.PacketsReceived = packets
	e.status.BytesReceived = bytes
	e.status.FinishedAt = e.now().UTC()
	e.status.SimSeconds = e.clock.Now()
	if ex, ok := e.clock.(interface{ Executed() int }); ok {
		e.status.EventsExecuted = ex.Executed()
	}
	if err != nil {
		e.status.Phase = telemetry.RunFailed
		e.status.Error = err.Error()
	} else {
		e.status.Phase = telemetry.RunFinished
	}
	e.mu.Unlock()
	e.writeRun()
}

func (e *Experiment) writeRun() {
	rw, ok := e.writer.(RunWriter)
	if !ok {
		return
	}
	st := e.Status()
	row := telemetry.RunRow{
		RunID:          st.RunID,
		Protocol:       st.Protocol,
		Topology:       st.Topology,
		Addressing:     st.Addressing,
		Nodes:          st.Nodes,
		Flows:          st.Flows,
		Sinks:          st.Sinks,
		EndTimeS:       st.EndTimeS,
		EventsExecuted: st.EventsExecuted,
		Status:         st.Phase,
		Error:          st.Error,
		StartedAt:      st.StartedAt,
		FinishedAt:     st.FinishedAt,
	}
	if err := rw.WriteRun(row); err != nil {
		e.log.Warn("run write failed", "err", err)
	}
}

func (e *Experiment) recordSample(row telemetry.SampleRow) {
	bytes, packets := e.acc.Totals()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.SimSeconds = row.SimulationSecond
	e.status.LastRateKbps = row.ReceiveRate
	e.status.PacketsReceived = packets
	e.status.BytesReceived = bytes
	e.status.Sinks = row.NumberOfSinks
	if ex, ok := e.clock.(interface{ Executed() int }); ok {
		e.status.EventsExecuted = ex.Executed()
	}
	e.samples = append(e.samples, row)
	if len(e.samples) > recentSamples {
		e.samples = e.samples[len(e.samples)-recentSamples:]
	}
}

func (e *Experiment) setPhase(phase string) {
	e.mu.Lock()
	e.status.Phase = phase
	e.mu.Unlock()
}

// Status returns the latest snapshot. Safe for concurrent use.
func (e *Experiment) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Samples returns the most recent sample rows. Safe for concurrent use.
func (e *Experiment) Samples() []telemetry.SampleRow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]telemetry.SampleRow(nil), e.samples...)
}

// FlowStats returns the per-flow summary once the run has finished.
func (e *Experiment) FlowStats() []telemetry.FlowStatRow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]telemetry.FlowStatRow(nil), e.flowStats...)
}

// Flows returns the planned flows after Setup.
func (e *Experiment) Flows() []campaign.Flow { return e.flows }

// Roster returns the team partition of the topology.
func (e *Experiment) Roster() topology.TeamRoster { return e.roster }

// EndTime is the simulated time at which the run stops.
func (e *Experiment) EndTime() float64 { return e.endTime }

// Sinks returns the sink registry after Setup.
func (e *Experiment) Sinks() *SinkRegistry { return e.sinks }

// Config returns the experiment configuration.
func (e *Experiment) Config() *config.ExperimentConfig { return e.cfg }
