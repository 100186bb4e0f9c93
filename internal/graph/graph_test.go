package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/phobologic/importgraph/internal/model"
)

func fn(name string, scope ...string) model.Declaration {
	return model.Declaration{Name: name, Scope: scope, Kind: model.Function, Text: "def " + name + "(): pass"}
}

func cls(name string, scope ...string) model.Declaration {
	return model.Declaration{Name: name, Scope: scope, Kind: model.Class, Text: "class " + name + ": pass"}
}

func scenarioFiles() []model.FileAnalysis {
	return []model.FileAnalysis{
		{
			Path:         "a.py",
			Declarations: []model.Declaration{fn("foo")},
			Imports:      []string{"os"},
		},
		{
			Path:    "b.py",
			Imports: []string{"a.foo"},
		},
	}
}

func TestBuildScenario(t *testing.T) {
	t.Parallel()

	g, snippets, collisions := Build(scenarioFiles())
	if len(collisions) != 0 {
		t.Errorf("unexpected collisions: %+v", collisions)
	}

	wantNodes := []Node{
		{ID: "a.foo", Kind: Module},
		{ID: "a.py", Kind: File},
		{ID: "a.py::foo", Kind: Function},
		{ID: "b.py", Kind: File},
		{ID: "os", Kind: Module},
	}
	if got := g.Nodes(); !reflect.DeepEqual(got, wantNodes) {
		t.Errorf("nodes:\n got %+v\nwant %+v", got, wantNodes)
	}

	wantEdges := []Edge{
		{Source: "a.py", Target: "a.py::foo", Kind: Containment},
		{Source: "a.py", Target: "os", Kind: Reference},
		{Source: "b.py", Target: "a.foo", Kind: Reference},
	}
	if got := g.Edges(); !reflect.DeepEqual(got, wantEdges) {
		t.Errorf("edges:\n got %+v\nwant %+v", got, wantEdges)
	}

	if text, ok := snippets.Lookup("a.py::foo"); !ok || text != "def foo(): pass" {
		t.Errorf("snippet = %q, %v", text, ok)
	}
	if len(snippets) != 1 {
		t.Errorf("snippets = %v, want only declarations", snippets.IDs())
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildReferenceSharing(t *testing.T) {
	t.Parallel()

	g, _, _ := Build([]model.FileAnalysis{
		{Path: "a.py", Imports: []string{"X"}},
		{Path: "b.py", Imports: []string{"X"}},
	})

	if n := len(g.NodesOfKind(Module)); n != 1 {
		t.Fatalf("expected 1 module node, got %d", n)
	}
	in := g.InEdges("X")
	want := []Edge{
		{Source: "a.py", Target: "X", Kind: Reference},
		{Source: "b.py", Target: "X", Kind: Reference},
	}
	if !reflect.DeepEqual(in, want) {
		t.Errorf("in-edges of X = %+v", in)
	}
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	files := []model.FileAnalysis{
		{Path: "pkg/c.py", Declarations: []model.Declaration{cls("C"), fn("m", "C")}, Imports: []string{"os", "sys"}},
		{Path: "a.py", Declarations: []model.Declaration{fn("foo")}, Imports: []string{"os"}},
		{Path: "b.py", Imports: []string{"a.foo", "pkg.c.C"}},
	}
	reversed := []model.FileAnalysis{files[2], files[1], files[0]}

	g1, s1, _ := Build(files)
	g2, s2, _ := Build(reversed)

	if !reflect.DeepEqual(g1.Nodes(), g2.Nodes()) {
		t.Errorf("node sets differ:\n%+v\n%+v", g1.Nodes(), g2.Nodes())
	}
	if !reflect.DeepEqual(g1.Edges(), g2.Edges()) {
		t.Errorf("edge sets differ:\n%+v\n%+v", g1.Edges(), g2.Edges())
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Errorf("snippet maps differ")
	}
}

func TestBuildForest(t *testing.T) {
	t.Parallel()

	g, snippets, _ := Build([]model.FileAnalysis{{
		Path: "m.py",
		Declarations: []model.Declaration{
			cls("Outer"),
			fn("method", "Outer"),
			fn("helper", "Outer", "method"),
			fn("top"),
		},
	}})

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := map[string]string{
		"m.py::Outer":                 "m.py",
		"m.py::Outer::method":         "m.py::Outer",
		"m.py::Outer::method::helper": "m.py::Outer::method",
		"m.py::top":                   "m.py",
	}
	for id, parent := range cases {
		in := g.InEdges(id)
		if len(in) != 1 || in[0].Source != parent || in[0].Kind != Containment {
			t.Errorf("%s in-edges = %+v, want one containment from %s", id, in, parent)
		}
		if _, ok := snippets.Lookup(id); !ok {
			t.Errorf("%s has no snippet", id)
		}
	}

	if n, _ := g.Node("m.py::Outer::method"); n.Kind != Function {
		t.Errorf("method kind = %s", n.Kind)
	}
}

func TestBuildForestAnyDeclarationOrder(t *testing.T) {
	t.Parallel()

	at := func(d model.Declaration, line int) model.Declaration {
		d.Line = line
		return d
	}
	decls := []model.Declaration{
		at(fn("helper", "Outer", "method"), 3),
		at(fn("method", "Outer"), 2),
		at(fn("top"), 5),
		at(cls("Outer"), 1),
		at(fn("stray", "Missing"), 7),
	}

	g, _, _ := Build([]model.FileAnalysis{{Path: "m.py", Declarations: decls}})
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := map[string]string{
		"m.py::Outer":                 "m.py",
		"m.py::Outer::method":         "m.py::Outer",
		"m.py::Outer::method::helper": "m.py::Outer::method",
		"m.py::top":                   "m.py",
		"m.py::Missing::stray":        "m.py",
	}
	for id, parent := range cases {
		in := g.InEdges(id)
		if len(in) != 1 || in[0].Source != parent {
			t.Errorf("%s in-edges = %+v, want one containment from %s", id, in, parent)
		}
	}
}

func TestBuildLaterLineWins(t *testing.T) {
	t.Parallel()

	first := fn("thing")
	first.Line = 1
	second := cls("thing")
	second.Line = 10

	g, snippets, _ := Build([]model.FileAnalysis{{
		Path:         "a.py",
		Declarations: []model.Declaration{second, first},
	}})
	if n, _ := g.Node("a.py::thing"); n.Kind != Class {
		t.Errorf("kind = %s, want class (declared on the later line)", n.Kind)
	}
	if text, _ := snippets.Lookup("a.py::thing"); text != "class thing: pass" {
		t.Errorf("snippet = %q", text)
	}
}

func TestBuildDeclarationCollision(t *testing.T) {
	t.Parallel()

	second := cls("thing")
	second.Text = "class thing: pass"
	g, snippets, collisions := Build([]model.FileAnalysis{{
		Path:         "a.py",
		Declarations: []model.Declaration{fn("thing"), fn("inner", "thing"), second},
	}})

	n, ok := g.Node("a.py::thing")
	if !ok {
		t.Fatal("a.py::thing missing")
	}
	if n.Kind != Class {
		t.Errorf("kind = %s, want class (later declaration wins)", n.Kind)
	}
	if text, _ := snippets.Lookup("a.py::thing"); text != "class thing: pass" {
		t.Errorf("snippet = %q", text)
	}
	if len(collisions) != 1 || collisions[0] != (Collision{ID: "a.py::thing", Existing: Function, Incoming: Class}) {
		t.Errorf("collisions = %+v", collisions)
	}
	if in := g.InEdges("a.py::thing"); len(in) != 1 {
		t.Errorf("coalesced node has %d parents", len(in))
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildModuleCollidesWithFile(t *testing.T) {
	t.Parallel()

	g, _, collisions := Build([]model.FileAnalysis{
		{Path: "a.py"},
		{Path: "b.py", Imports: []string{"a.py", "os"}},
	})

	n, _ := g.Node("a.py")
	if n.Kind != File {
		t.Errorf("a.py kind = %s, want file", n.Kind)
	}
	if len(collisions) != 1 || collisions[0].ID != "a.py" || collisions[0].Incoming != Module {
		t.Errorf("collisions = %+v", collisions)
	}
	if g.OutDegree("b.py") != 1 {
		t.Errorf("b.py out-degree = %d, want 1", g.OutDegree("b.py"))
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	g, snippets, collisions := Build(nil)
	if g.NodeCount() != 0 || g.EdgeCount() != 0 || len(snippets) != 0 || collisions != nil {
		t.Errorf("expected empty result")
	}
}

func TestMarkUnreferenced(t *testing.T) {
	t.Parallel()

	g, _, _ := Build([]model.FileAnalysis{
		{Path: "empty.py"},
		{Path: "decl.py", Declarations: []model.Declaration{fn("f")}},
		{Path: "imp.py", Imports: []string{"os"}},
		{Path: "z_empty.py"},
	})

	marked := MarkUnreferenced(g)
	if want := []string{"empty.py", "z_empty.py"}; !reflect.DeepEqual(marked, want) {
		t.Errorf("marked = %v, want %v", marked, want)
	}

	for _, tc := range []struct {
		id   string
		want bool
	}{
		{"empty.py", true},
		{"z_empty.py", true},
		{"decl.py", false},
		{"imp.py", false},
	} {
		n, _ := g.Node(tc.id)
		if n.Unreferenced != tc.want {
			t.Errorf("%s unreferenced = %v, want %v", tc.id, n.Unreferenced, tc.want)
		}
		if n.Color() != "blue" {
			t.Errorf("%s color = %q, marking must not change the kind colour", tc.id, n.Color())
		}
	}

	if g.NodeCount() != 6 || g.EdgeCount() != 2 {
		t.Errorf("marking changed the graph: %d nodes, %d edges", g.NodeCount(), g.EdgeCount())
	}
}

func TestKindColors(t *testing.T) {
	t.Parallel()

	want := map[Kind]string{
		File:     "blue",
		Function: "green",
		Class:    "red",
		Module:   "yellow",
	}
	for k, c := range want {
		if got := k.Color(); got != c {
			t.Errorf("%s.Color() = %q, want %q", k, got, c)
		}
		parsed, err := ParseKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), parsed, err)
		}
	}
	if _, err := ParseKind("variable"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(variable) err = %v", err)
	}
}

func TestDeclID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		file string
		path []string
		want string
	}{
		{"a.py", nil, "a.py"},
		{"a.py", []string{"foo"}, "a.py::foo"},
		{"pkg/m.py", []string{"C", "m"}, "pkg/m.py::C::m"},
	}
	for _, tt := range tests {
		if got := DeclID(tt.file, tt.path...); got != tt.want {
			t.Errorf("DeclID(%q, %v) = %q, want %q", tt.file, tt.path, got, tt.want)
		}
	}
}

func TestLabelRoundTrip(t *testing.T) {
	t.Parallel()

	ids := []string{"a.py", "a.py::C::m", "weird<br>Type: file.py", ""}
	for _, id := range ids {
		for _, k := range []Kind{File, Module, Function, Class} {
			gotID, gotKind, err := DecodeLabel(EncodeLabel(id, k))
			if err != nil {
				t.Fatalf("DecodeLabel: %v", err)
			}
			if gotID != id || gotKind != k {
				t.Errorf("round trip (%q, %s) = (%q, %s)", id, k, gotID, gotKind)
			}
		}
	}

	if _, _, err := DecodeLabel("no kind here"); err == nil {
		t.Error("expected error for label without kind")
	}
}

func TestValidateRejectsBrokenGraph(t *testing.T) {
	t.Parallel()

	g := New()
	g.addNode("a.py", File)
	g.addNode("a.py::f", Function)
	if err := g.Validate(); !errors.Is(err, ErrInvariant) {
		t.Errorf("orphan declaration: err = %v, want ErrInvariant", err)
	}

	if err := g.addEdge(Edge{Source: "a.py", Target: "missing", Kind: Reference}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("addEdge to missing node: err = %v", err)
	}
}

func TestAssembleRoundTrip(t *testing.T) {
	t.Parallel()

	g, _, _ := Build(scenarioFiles())
	MarkUnreferenced(g)

	rebuilt, err := Assemble(g.Nodes(), g.Edges())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !reflect.DeepEqual(rebuilt.Nodes(), g.Nodes()) || !reflect.DeepEqual(rebuilt.Edges(), g.Edges()) {
		t.Error("assembled graph differs from the original")
	}
	if rebuilt.OutDegree("a.py") != 2 {
		t.Errorf("out-degree = %d, want 2", rebuilt.OutDegree("a.py"))
	}
}

func TestAssembleRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
		want  error
	}{
		{
			name:  "duplicate node",
			nodes: []Node{{ID: "a.py", Kind: File}, {ID: "a.py", Kind: Module}},
			want:  ErrInvariant,
		},
		{
			name:  "unknown kind",
			nodes: []Node{{ID: "x", Kind: Kind(42)}},
			want:  ErrUnknownKind,
		},
		{
			name:  "dangling edge",
			nodes: []Node{{ID: "a.py", Kind: File}},
			edges: []Edge{{Source: "a.py", Target: "os", Kind: Reference}},
			want:  ErrNodeNotFound,
		},
		{
			name:  "reference into declaration",
			nodes: []Node{{ID: "a.py", Kind: File}, {ID: "a.py::f", Kind: Function}},
			edges: []Edge{
				{Source: "a.py", Target: "a.py::f", Kind: Containment},
				{Source: "a.py", Target: "a.py::f", Kind: Reference},
			},
			want: ErrInvariant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Assemble(tt.nodes, tt.edges); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
