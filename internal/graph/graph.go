// Package graph models the typed file/declaration/module graph and builds it
// from per-file analysis results.
//
// A Graph is written by a single builder and is read-only afterwards, apart
// from the unreferenced flag set by MarkUnreferenced. Read accessors return
// copies in sorted order, so two graphs built from the same input compare
// equal through Nodes and Edges.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNodeNotFound is returned when an edge references a missing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnknownKind is returned when a kind name is not recognised.
	ErrUnknownKind = errors.New("unknown node kind")

	// ErrInvariant is wrapped by every error returned from Validate.
	ErrInvariant = errors.New("graph invariant violated")
)

// Kind is the closed set of node kinds.
type Kind int

const (
	File Kind = iota + 1
	Module
	Function
	Class
)

var kindNames = map[Kind]string{
	File:     "file",
	Module:   "module",
	Function: "function",
	Class:    "class",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Color returns the rendering colour for the kind. The mapping is part of
// the visualization contract and must not change.
func (k Kind) Color() string {
	switch k {
	case File:
		return "blue"
	case Function:
		return "green"
	case Class:
		return "red"
	case Module:
		return "yellow"
	default:
		return "gray"
	}
}

// IsDeclaration reports whether nodes of this kind carry a snippet.
func (k Kind) IsDeclaration() bool {
	return k == Function || k == Class
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// EdgeKind classifies edges.
type EdgeKind int

const (
	Containment EdgeKind = iota + 1
	Reference
)

func (k EdgeKind) String() string {
	switch k {
	case Containment:
		return "contains"
	case Reference:
		return "imports"
	default:
		return fmt.Sprintf("EdgeKind(%d)", int(k))
	}
}

// MarshalText encodes the edge kind by name.
func (k EdgeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Separator joins the parts of a declaration identity.
const Separator = "::"

// DeclID builds the identity of a declaration: the file path followed by the
// enclosing scope names and the declaration name, joined by Separator.
func DeclID(file string, path ...string) string {
	if len(path) == 0 {
		return file
	}
	return file + Separator + strings.Join(path, Separator)
}

// Node is a graph vertex. ID doubles as the display label.
type Node struct {
	ID           string `json:"id"`
	Kind         Kind   `json:"kind"`
	Unreferenced bool   `json:"unreferenced,omitempty"`
}

// Label returns the display label of the node.
func (n Node) Label() string { return n.ID }

// Color returns the colour tag, derived solely from the node kind.
func (n Node) Color() string { return n.Kind.Color() }

// Edge is a typed directed edge. Edges are values and compare by all fields.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Graph owns a set of nodes keyed by identity and a set of edges.
type Graph struct {
	nodes map[string]*Node
	edges map[Edge]struct{}
	out   map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[Edge]struct{}),
		out:   make(map[string]int),
	}
}

// addNode inserts a node or returns the existing one with the same ID.
func (g *Graph) addNode(id string, kind Kind) (n *Node, existed bool) {
	if n, ok := g.nodes[id]; ok {
		return n, true
	}
	n = &Node{ID: id, Kind: kind}
	g.nodes[id] = n
	return n, false
}

// addEdge inserts e; inserting an existing edge is a no-op.
func (g *Graph) addEdge(e Edge) error {
	if _, ok := g.nodes[e.Source]; !ok {
		return fmt.Errorf("edge source %q: %w", e.Source, ErrNodeNotFound)
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return fmt.Errorf("edge target %q: %w", e.Target, ErrNodeNotFound)
	}
	if _, ok := g.edges[e]; ok {
		return nil
	}
	g.edges[e] = struct{}{}
	g.out[e.Source]++
	return nil
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesOfKind returns the nodes of one kind sorted by ID.
func (g *Graph) NodesOfKind(kind Kind) []Node {
	var out []Node
	for _, n := range g.Nodes() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns all edges sorted by source, target, then kind.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// InEdges returns the edges pointing at id, sorted.
func (g *Graph) InEdges(id string) []Edge {
	var out []Edge
	for e := range g.edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// OutDegree returns the number of edges leaving id, of any kind.
func (g *Graph) OutDegree(id string) int {
	return g.out[id]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Validate checks the structural invariants: every edge joins existing
// nodes, containment edges form a forest rooted at files with exactly one
// parent per declaration, and reference edges run from files to modules.
func (g *Graph) Validate() error {
	parents := make(map[string]int)
	parentOf := make(map[string]string)
	for e := range g.edges {
		src, ok := g.nodes[e.Source]
		if !ok {
			return fmt.Errorf("%w: edge source %q missing", ErrInvariant, e.Source)
		}
		dst, ok := g.nodes[e.Target]
		if !ok {
			return fmt.Errorf("%w: edge target %q missing", ErrInvariant, e.Target)
		}
		switch e.Kind {
		case Containment:
			if src.Kind == Module || !dst.Kind.IsDeclaration() {
				return fmt.Errorf("%w: containment %s(%s) -> %s(%s)", ErrInvariant, e.Source, src.Kind, e.Target, dst.Kind)
			}
			parents[e.Target]++
			parentOf[e.Target] = e.Source
		case Reference:
			if src.Kind != File || dst.Kind != Module {
				return fmt.Errorf("%w: reference %s(%s) -> %s(%s)", ErrInvariant, e.Source, src.Kind, e.Target, dst.Kind)
			}
		default:
			return fmt.Errorf("%w: edge %s -> %s has kind %s", ErrInvariant, e.Source, e.Target, e.Kind)
		}
	}

	for id, n := range g.nodes {
		if !n.Kind.IsDeclaration() {
			continue
		}
		if parents[id] != 1 {
			return fmt.Errorf("%w: %s has %d containment parents", ErrInvariant, id, parents[id])
		}
		if root := g.containmentRoot(id, parentOf); root == "" {
			return fmt.Errorf("%w: %s is not reachable from a file", ErrInvariant, id)
		}
	}
	return nil
}

// containmentRoot follows containment parents up from id and returns the
// file it ends at, or "" on a cycle or a dangling chain.
func (g *Graph) containmentRoot(id string, parent map[string]string) string {
	seen := make(map[string]struct{})
	for cur := id; ; {
		if _, loop := seen[cur]; loop {
			return ""
		}
		seen[cur] = struct{}{}
		if g.nodes[cur].Kind == File {
			return cur
		}
		next, ok := parent[cur]
		if !ok {
			return ""
		}
		cur = next
	}
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Kind < edges[j].Kind
	})
}

// Assemble rebuilds a graph from previously exported nodes and edges and
// validates it.
func Assemble(nodes []Node, edges []Edge) (*Graph, error) {
	g := New()
	for _, n := range nodes {
		if _, ok := kindNames[n.Kind]; !ok {
			return nil, fmt.Errorf("node %q: %w: %d", n.ID, ErrUnknownKind, int(n.Kind))
		}
		if existing, existed := g.addNode(n.ID, n.Kind); existed {
			return nil, fmt.Errorf("%w: duplicate node %q (%s, %s)", ErrInvariant, n.ID, existing.Kind, n.Kind)
		}
		g.nodes[n.ID].Unreferenced = n.Unreferenced
	}
	for _, e := range edges {
		if err := g.addEdge(e); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
