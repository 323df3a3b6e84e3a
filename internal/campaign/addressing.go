package campaign

import (
	"errors"
	"fmt"
	"strings"

	"manet-sim/internal/topology"
)

// AddressingPolicy decides which node a flow's traffic is sent to.
type AddressingPolicy interface {
	Name() string
	Target(sender, receiver topology.Node) topology.Node
}

// Policy names accepted by ParsePolicy.
const (
	PolicyPerPair     = "per-pair"
	PolicyFixedTarget = "fixed-target"
)

// ErrNoRelay is returned when a fixed-target policy is requested for a
// topology without relays.
var ErrNoRelay = errors.New("fixed-target addressing needs at least one relay")

// PerPair sends every flow to its own receiver.
type PerPair struct{}

func (PerPair) Name() string { return PolicyPerPair }

func (PerPair) Target(_, receiver topology.Node) topology.Node { return receiver }

// FixedTarget sends every flow to a single node regardless of receiver.
type FixedTarget struct {
	Node topology.Node
}

func (FixedTarget) Name() string { return PolicyFixedTarget }

func (p FixedTarget) Target(_, _ topology.Node) topology.Node { return p.Node }

// NewFixedTarget targets the last relay of the roster.
func NewFixedTarget(r topology.TeamRoster) (FixedTarget, error) {
	if len(r.Relays) == 0 {
		return FixedTarget{}, ErrNoRelay
	}
	return FixedTarget{Node: r.Relays[len(r.Relays)-1]}, nil
}

// ParsePolicy resolves a policy name against a roster. An empty name selects
// per-pair addressing.
func ParsePolicy(name string, r topology.TeamRoster) (AddressingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyPerPair:
		return PerPair{}, nil
	case PolicyFixedTarget:
		return NewFixedTarget(r)
	default:
		return nil, fmt.Errorf("unknown addressing policy %q (want %s or %s)", name, PolicyPerPair, PolicyFixedTarget)
	}
}
