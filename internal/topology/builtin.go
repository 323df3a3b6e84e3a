package topology

import (
	"fmt"
	"sort"
)

// Preset is a named topology shipped with the tool.
type Preset struct {
	Name        string
	Description string
	Topology    Topology
}

// BuiltIn returns the predefined topologies.
func BuiltIn() map[string]Preset {
	return map[string]Preset{
		"duel": {
			Name:        "duel",
			Description: "Two members per team facing each other with a single relay in the middle.",
			Topology: build(
				[]member{{0, 0, 1}, {0, 1, 1}, {3, 0, 2}, {3, 1, 2}},
				[]point{{1.5, 0.5}},
			),
		},
		"direct": {
			Name:        "direct",
			Description: "One member per team in radio range, no relays.",
			Topology: build(
				[]member{{0, 0, 1}, {1, 0, 2}},
				nil,
			),
		},
		"skirmish-32": grid("skirmish-32", "Sixteen members per team on opposite flanks bridged by four relays.", 16, 4),
	}
}

// Lookup returns a built-in topology by name.
func Lookup(name string) (Preset, error) {
	p, ok := BuiltIn()[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown built-in topology %q (available: %v)", name, BuiltInNames())
	}
	return p, nil
}

// BuiltInNames lists the built-in topology names in sorted order.
func BuiltInNames() []string {
	var names []string
	for n := range BuiltIn() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type member struct {
	x, y float64
	pid  int
}

type point struct{ x, y float64 }

func build(members []member, relays []point) Topology {
	var t Topology
	for i, m := range members {
		t.Members = append(t.Members, Node{ID: i, Index: i, X: m.x, Y: m.y, PlayerID: m.pid, Role: RoleForPlayer(m.pid)})
	}
	for i, r := range relays {
		t.Relays = append(t.Relays, Node{ID: len(members) + i, Index: i, X: r.x, Y: r.y, Role: RoleRelay})
	}
	return t
}

// grid lays out perTeam members per side in a 4-wide block with relays along
// the center line.
func grid(name, desc string, perTeam, relays int) Preset {
	var ms []member
	for i := 0; i < perTeam; i++ {
		ms = append(ms, member{x: float64(i % 4), y: float64(i / 4), pid: PlayerTeamA})
	}
	for i := 0; i < perTeam; i++ {
		ms = append(ms, member{x: float64(7 + i%4), y: float64(i / 4), pid: PlayerTeamB})
	}
	var rs []point
	for i := 0; i < relays; i++ {
		rs = append(rs, point{x: 5, y: float64(i)})
	}
	return Preset{Name: name, Description: desc, Topology: build(ms, rs)}
}
