package graph

import (
	"sort"

	"github.com/phobologic/importgraph/internal/model"
	"github.com/phobologic/importgraph/internal/snippet"
)

// Collision records two sources that resolved to the same node identity.
// Collisions are coalesced, never fatal.
type Collision struct {
	ID       string
	Existing Kind
	Incoming Kind
}

// Build creates the graph and snippet map for a set of analyzed files.
//
// Nodes are created in three passes (files, declarations, references) so the
// result does not depend on the order of files. Within a file, enclosing
// declarations are applied before their members in whatever order the
// analyzer produced them, and declarations of equal depth by line: a later
// declaration with the same identity replaces the kind and snippet of the
// earlier one. A reference identifier
// equal to the identity of a file or declaration is dropped, since a node
// never carries two kinds. Both cases are returned as collisions.
func Build(files []model.FileAnalysis) (*Graph, snippet.Map, []Collision) {
	sorted := make([]model.FileAnalysis, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	g := New()
	snippets := make(snippet.Map)
	var collisions []Collision

	for i := range sorted {
		if n, existed := g.addNode(sorted[i].Path, File); existed {
			collisions = append(collisions, Collision{ID: n.ID, Existing: n.Kind, Incoming: File})
		}
	}

	for i := range sorted {
		fa := &sorted[i]
		for _, d := range sourceOrder(fa.Declarations) {
			id := DeclID(fa.Path, d.Path()...)
			kind := declKind(d.Kind)

			n, existed := g.addNode(id, kind)
			if existed {
				collisions = append(collisions, Collision{ID: id, Existing: n.Kind, Incoming: kind})
				if !n.Kind.IsDeclaration() {
					continue
				}
				n.Kind = kind
			}
			snippets[id] = d.Text

			if err := g.addEdge(Edge{Source: g.nearestAncestor(fa.Path, d.Scope), Target: id, Kind: Containment}); err != nil {
				panic(err) // nearestAncestor only returns existing nodes
			}
		}
	}

	for i := range sorted {
		fa := &sorted[i]
		for _, ref := range fa.Imports {
			n, existed := g.addNode(ref, Module)
			if existed && n.Kind != Module {
				collisions = append(collisions, Collision{ID: ref, Existing: n.Kind, Incoming: Module})
				continue
			}
			_ = g.addEdge(Edge{Source: fa.Path, Target: ref, Kind: Reference})
		}
	}

	return g, snippets, collisions
}

// sourceOrder returns the declarations with every enclosing scope ahead of
// its members, and same-depth declarations by line. The sort is stable so
// declarations without line numbers keep their input order.
func sourceOrder(decls []model.Declaration) []*model.Declaration {
	out := make([]*model.Declaration, len(decls))
	for i := range decls {
		out[i] = &decls[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Scope) != len(out[j].Scope) {
			return len(out[i].Scope) < len(out[j].Scope)
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// nearestAncestor returns the innermost declared node of scope, falling back
// to the file node when no enclosing declaration was recorded.
func (g *Graph) nearestAncestor(file string, scope []string) string {
	for k := len(scope); k > 0; k-- {
		id := DeclID(file, scope[:k]...)
		if n, ok := g.nodes[id]; ok && n.Kind.IsDeclaration() {
			return id
		}
	}
	return file
}

func declKind(k model.DeclKind) Kind {
	if k == model.Class {
		return Class
	}
	return Function
}
