// Cross-group traffic campaign planning and installation
package campaign

import (
	"fmt"
	"math/rand"
	"net/netip"

	"manet-sim/internal/topology"
)

// Params controls batch timing. Times are simulated seconds.
type Params struct {
	StartTime float64
	Shift     float64
	Jitter    float64
	Port      uint16
}

// DefaultParams mirrors the reference experiment: first batch at 25 s, 0.7 s
// windows, starts jittered by up to 30 ms, sinks on UDP port 9.
func DefaultParams() Params {
	return Params{StartTime: 25.0, Shift: 0.7, Jitter: 0.03, Port: 9}
}

// Validate rejects timings that cannot produce a flow ending after it starts.
func (p Params) Validate() error {
	switch {
	case p.StartTime < 0:
		return fmt.Errorf("campaign start time must not be negative, got %v", p.StartTime)
	case p.Shift <= 0:
		return fmt.Errorf("campaign shift must be positive, got %v", p.Shift)
	case p.Jitter < 0 || p.Jitter >= p.Shift:
		return fmt.Errorf("campaign jitter must be in [0, shift), got %v", p.Jitter)
	case p.Port == 0:
		return fmt.Errorf("campaign port must be set")
	}
	return nil
}

// Flow is one directed traffic request.
type Flow struct {
	ID int
	// Round is 1 for side A to side B and 2 for the reverse direction.
	Round int
	// Batch counts batches across both rounds, starting at 0.
	Batch      int
	Sender     topology.Node
	Receiver   topology.Node
	Target     topology.Node
	Remote     netip.AddrPort
	BatchStart float64
	Start      float64
	Stop       float64
}

func (f Flow) String() string {
	return fmt.Sprintf("flow %d r%d b%d %d->%d (target %d) [%.3f, %.3f]",
		f.ID, f.Round, f.Batch, f.Sender.ID, f.Receiver.ID, f.Target.ID, f.Start, f.Stop)
}

// ScheduleInconsistencyError reports a flow whose stop time does not follow its start.
type ScheduleInconsistencyError struct {
	Flow Flow
}

func (e *ScheduleInconsistencyError) Error() string {
	return fmt.Sprintf("schedule inconsistency: %s stops at or before it starts", e.Flow)
}

// Installer realises planned flows on a network fabric.
type Installer interface {
	// EnsureSink makes sure target listens on port and returns its endpoint.
	// Repeated calls for the same target return the same endpoint.
	EnsureSink(target topology.Node, port uint16) (netip.AddrPort, error)
	// InstallFlow creates a sender on the flow's sender node towards
	// flow.Remote, active during [flow.Start, flow.Stop].
	InstallFlow(flow Flow) error
}

// Scheduler plans the traffic matrix between both sides of a roster.
type Scheduler struct {
	params Params
	policy AddressingPolicy
	rand   *rand.Rand
}

// NewScheduler creates a scheduler. A nil policy means PerPair; a nil rng is
// seeded with 1.
func NewScheduler(p Params, policy AddressingPolicy, rng *rand.Rand) *Scheduler {
	if policy == nil {
		policy = PerPair{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Scheduler{params: p, policy: policy, rand: rng}
}

// Params returns the timing parameters.
func (s *Scheduler) Params() Params { return s.params }

// Policy returns the addressing policy.
func (s *Scheduler) Policy() AddressingPolicy { return s.policy }

// Plan builds every flow of both rounds. A batch pairs one sender with every
// receiver of the opposite side; batch k starts at StartTime + k*Shift. Senders
// without receivers form no batch.
func (s *Scheduler) Plan(r topology.TeamRoster) ([]Flow, error) {
	if err := s.params.Validate(); err != nil {
		return nil, err
	}
	sideA, sideB := r.SideA(), r.SideB()
	flows := make([]Flow, 0, 2*len(sideA)*len(sideB))
	batch := 0
	rounds := []struct {
		senders, receivers []topology.Node
	}{
		{sideA, sideB},
		{sideB, sideA},
	}
	for i, round := range rounds {
		if len(round.receivers) == 0 {
			continue
		}
		for _, sender := range round.senders {
			batchStart := s.BatchStart(batch)
			for _, receiver := range round.receivers {
				f := Flow{
					ID:         len(flows),
					Round:      i + 1,
					Batch:      batch,
					Sender:     sender,
					Receiver:   receiver,
					Target:     s.policy.Target(sender, receiver),
					BatchStart: batchStart,
					Start:      batchStart + s.rand.Float64()*s.params.Jitter,
					Stop:       batchStart + s.params.Shift,
				}
				if !(f.Stop > f.Start) {
					return nil, &ScheduleInconsistencyError{Flow: f}
				}
				flows = append(flows, f)
			}
			batch++
		}
	}
	return flows, nil
}

// BatchStart returns the nominal start of batch k.
func (s *Scheduler) BatchStart(k int) float64 {
	return s.params.StartTime + float64(k)*s.params.Shift
}

// Batches returns the number of distinct batches in flows.
func Batches(flows []Flow) int {
	n := 0
	for _, f := range flows {
		if f.Batch+1 > n {
			n = f.Batch + 1
		}
	}
	return n
}

// EndTime is the nominal start of the batch after the last one, which is when
// the last batch's window closes. Without flows it is StartTime.
func (s *Scheduler) EndTime(flows []Flow) float64 {
	return s.BatchStart(Batches(flows))
}

// Install binds sinks and creates senders for flows in order, filling in
// each flow's Remote endpoint. It stops at the first failure.
func (s *Scheduler) Install(flows []Flow, in Installer) error {
	for i := range flows {
		remote, err := in.EnsureSink(flows[i].Target, s.params.Port)
		if err != nil {
			return fmt.Errorf("sink for node %d: %w", flows[i].Target.ID, err)
		}
		flows[i].Remote = remote
		if err := in.InstallFlow(flows[i]); err != nil {
			return fmt.Errorf("install %s: %w", flows[i], err)
		}
	}
	return nil
}

// Targets lists the distinct target nodes of flows in first-use order.
func Targets(flows []Flow) []topology.Node {
	seen := make(map[int]bool)
	var out []topology.Node
	for _, f := range flows {
		if !seen[f.Target.ID] {
			seen[f.Target.ID] = true
			out = append(out, f.Target)
		}
	}
	return out
}
