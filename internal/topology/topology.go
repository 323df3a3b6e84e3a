// Topology file parsing and team partitioning
package topology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ErrTopologyFormat marks every topology loading failure.
var ErrTopologyFormat = errors.New("topology format error")

// FormatError describes why a topology could not be loaded.
type FormatError struct {
	Path string
	Msg  string
	Err  error
}

func (e *FormatError) Error() string {
	where := e.Path
	if where == "" {
		where = "topology"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", where, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", where, e.Msg)
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTopologyFormat, e.Err}
	}
	return []error{ErrTopologyFormat}
}

// Role tags a node with its side in the experiment.
type Role int

const (
	RoleUnassigned Role = iota
	RoleTeamA
	RoleTeamB
	RoleRelay
)

func (r Role) String() string {
	switch r {
	case RoleTeamA:
		return "team-a"
	case RoleTeamB:
		return "team-b"
	case RoleRelay:
		return "relay"
	default:
		return "unassigned"
	}
}

// Player identifiers used in topology files.
const (
	PlayerTeamA = 1
	PlayerTeamB = 2
)

// RoleForPlayer maps a member's player id to its role.
func RoleForPlayer(playerID int) Role {
	switch playerID {
	case PlayerTeamA:
		return RoleTeamA
	case PlayerTeamB:
		return RoleTeamB
	default:
		return RoleUnassigned
	}
}

// Node is a stationary network participant. X and Y are the raw file
// coordinates; scale them before handing them to a fabric.
type Node struct {
	ID       int
	Index    int
	X        float64
	Y        float64
	PlayerID int
	Role     Role
}

// Scaled returns the node position multiplied by factor.
func (n Node) Scaled(factor float64) (float64, float64) {
	return n.X * factor, n.Y * factor
}

// Topology holds member and relay nodes in file order. Member IDs run from 0,
// relay IDs continue after the last member.
type Topology struct {
	Members []Node
	Relays  []Node
}

// NodeCount returns members plus relays.
func (t Topology) NodeCount() int { return len(t.Members) + len(t.Relays) }

// PlayerIDs returns the player id of every member, indexed like Members.
func (t Topology) PlayerIDs() []int {
	ids := make([]int, len(t.Members))
	for i, m := range t.Members {
		ids[i] = m.PlayerID
	}
	return ids
}

// Nodes returns members followed by relays.
func (t Topology) Nodes() []Node {
	out := make([]Node, 0, t.NodeCount())
	out = append(out, t.Members...)
	return append(out, t.Relays...)
}

// Load reads a topology file from disk.
func Load(path string) (Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return Topology{}, &FormatError{Path: path, Msg: "cannot open file", Err: err}
	}
	defer f.Close()
	topo, err := Parse(f)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return Topology{}, err
	}
	return topo, nil
}

// Parse decodes a topology from whitespace separated tokens:
// "<members> <relays>", then members × "x y playerId", then relays × "x y".
func Parse(r io.Reader) (Topology, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	tr := &tokenReader{sc: sc}

	members, err := tr.readInt("member count")
	if err != nil {
		return Topology{}, err
	}
	relays, err := tr.readInt("relay count")
	if err != nil {
		return Topology{}, err
	}
	if members < 0 || relays < 0 {
		return Topology{}, &FormatError{Msg: fmt.Sprintf("negative node counts %d %d", members, relays)}
	}

	topo := Topology{
		Members: make([]Node, 0, members),
		Relays:  make([]Node, 0, relays),
	}
	for i := 0; i < members; i++ {
		what := fmt.Sprintf("member %d of %d", i+1, members)
		x, err := tr.readFloat(what + " x")
		if err != nil {
			return Topology{}, err
		}
		y, err := tr.readFloat(what + " y")
		if err != nil {
			return Topology{}, err
		}
		pid, err := tr.readInt(what + " player id")
		if err != nil {
			return Topology{}, err
		}
		topo.Members = append(topo.Members, Node{ID: i, Index: i, X: x, Y: y, PlayerID: pid, Role: RoleForPlayer(pid)})
	}
	for i := 0; i < relays; i++ {
		what := fmt.Sprintf("relay %d of %d", i+1, relays)
		x, err := tr.readFloat(what + " x")
		if err != nil {
			return Topology{}, err
		}
		y, err := tr.readFloat(what + " y")
		if err != nil {
			return Topology{}, err
		}
		topo.Relays = append(topo.Relays, Node{ID: members + i, Index: i, X: x, Y: y, Role: RoleRelay})
	}
	if sc.Scan() {
		return Topology{}, &FormatError{Msg: fmt.Sprintf("unexpected token %q after %d members and %d relays", sc.Text(), members, relays)}
	}
	if err := sc.Err(); err != nil {
		return Topology{}, &FormatError{Msg: "read failed", Err: err}
	}
	return topo, nil
}

// Write encodes a topology in the format accepted by Parse.
func Write(w io.Writer, t Topology) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", len(t.Members), len(t.Relays))
	for _, m := range t.Members {
		fmt.Fprintf(bw, "%s %s %d\n", formatCoord(m.X), formatCoord(m.Y), m.PlayerID)
	}
	for _, r := range t.Relays {
		fmt.Fprintf(bw, "%s %s\n", formatCoord(r.X), formatCoord(r.Y))
	}
	return bw.Flush()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type tokenReader struct {
	sc *bufio.Scanner
}

func (t *tokenReader) next(what string) (string, error) {
	if !t.sc.Scan() {
		if err := t.sc.Err(); err != nil {
			return "", &FormatError{Msg: "read failed", Err: err}
		}
		return "", &FormatError{Msg: "missing " + what}
	}
	return t.sc.Text(), nil
}

func (t *tokenReader) readInt(what string) (int, error) {
	tok, err := t.next(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, &FormatError{Msg: "invalid " + what, Err: err}
	}
	return v, nil
}

func (t *tokenReader) readFloat(what string) (float64, error) {
	tok, err := t.next(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, &FormatError{Msg: "invalid " + what, Err: err}
	}
	return v, nil
}
