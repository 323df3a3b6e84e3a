package topology

// TeamRoster splits a topology into the two opposing teams plus relays.
// Members whose player id is neither 1 nor 2 land in Unassigned and take no
// part in traffic generation.
type TeamRoster struct {
	TeamA      []Node
	TeamB      []Node
	Relays     []Node
	Unassigned []Node
}

// Partition classifies members by player id, preserving file order.
func Partition(t Topology) TeamRoster {
	var r TeamRoster
	for _, m := range t.Members {
		switch m.Role {
		case RoleTeamA:
			r.TeamA = append(r.TeamA, m)
		case RoleTeamB:
			r.TeamB = append(r.TeamB, m)
		default:
			r.Unassigned = append(r.Unassigned, m)
		}
	}
	r.Relays = append(r.Relays, t.Relays...)
	return r
}

// SideA returns the effective Team A pool: Team A members followed by relays.
func (r TeamRoster) SideA() []Node {
	return joinNodes(r.TeamA, r.Relays)
}

// SideB returns the effective Team B pool: Team B members followed by relays.
func (r TeamRoster) SideB() []Node {
	return joinNodes(r.TeamB, r.Relays)
}

func joinNodes(team, relays []Node) []Node {
	out := make([]Node, 0, len(team)+len(relays))
	out = append(out, team...)
	return append(out, relays...)
}
