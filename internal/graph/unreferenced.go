package graph

// MarkUnreferenced flags every File node that has no outgoing edges of any
// kind and returns the flagged IDs in sorted order. A flagged file declares
// nothing and imports nothing; whether other files import it is not
// considered. Nodes and edges are never removed.
//
// It must run after the graph is complete.
func MarkUnreferenced(g *Graph) []string {
	var marked []string
	for _, n := range g.NodesOfKind(File) {
		if g.OutDegree(n.ID) == 0 {
			g.nodes[n.ID].Unreferenced = true
			marked = append(marked, n.ID)
		}
	}
	return marked
}
