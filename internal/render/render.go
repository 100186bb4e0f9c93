// Package render writes the analyzed graph as an interactive HTML page or as
// a JSON document.
package render

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/layout"
	"github.com/phobologic/importgraph/internal/preview"
	"github.com/phobologic/importgraph/internal/snippet"
)

//go:embed page.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("page").Parse(pageSource))

// UnreferencedOutline is the marker outline colour of unreferenced files.
// The fill keeps the kind colour.
const UnreferencedOutline = "black"

// Options controls page rendering.
type Options struct {
	Title string
	// ContentURL is the endpoint file previews are fetched from.
	ContentURL string
	// ContentTimeout bounds each file fetch made by the page. Zero means
	// preview.DefaultTimeout.
	ContentTimeout time.Duration
}

type legendItem struct {
	Color string
	Label string
}

var legend = []legendItem{
	{graph.File.Color(), "File Node"},
	{graph.Function.Color(), "Function Node"},
	{graph.Class.Color(), "Class Node"},
	{graph.Module.Color(), "Module Node"},
}

type markerLine struct {
	Width []float64 `json:"width"`
	Color []string  `json:"color"`
}

type marker struct {
	Color []string   `json:"color,omitempty"`
	Size  int        `json:"size,omitempty"`
	Line  markerLine `json:"line"`
}

type lineStyle struct {
	Width float64 `json:"width"`
	Color string  `json:"color"`
}

type trace struct {
	Type      string     `json:"type"`
	Mode      string     `json:"mode"`
	X         []*float64 `json:"x"`
	Y         []*float64 `json:"y"`
	Text      []string   `json:"text,omitempty"`
	HoverInfo string     `json:"hoverinfo"`
	Marker    *marker    `json:"marker,omitempty"`
	Line      *lineStyle `json:"line,omitempty"`
}

type axis struct {
	ShowGrid       bool `json:"showgrid"`
	ZeroLine       bool `json:"zeroline"`
	ShowTickLabels bool `json:"showticklabels"`
}

type margin struct {
	B int `json:"b"`
	L int `json:"l"`
	R int `json:"r"`
	T int `json:"t"`
}

type figureLayout struct {
	ShowLegend   bool   `json:"showlegend"`
	HoverMode    string `json:"hovermode"`
	ClickMode    string `json:"clickmode"`
	Margin       margin `json:"margin"`
	XAxis        axis   `json:"xaxis"`
	YAxis        axis   `json:"yaxis"`
	PlotBGColor  string `json:"plot_bgcolor"`
	PaperBGColor string `json:"paper_bgcolor"`
}

type figure struct {
	Data   []trace      `json:"data"`
	Layout figureLayout `json:"layout"`
}

type pageData struct {
	Title               string
	Figure              figure
	Snippets            snippet.Map
	ContentURL          string
	ContentTimeoutMs    int64
	LabelSeparator      string
	NotAvailable        string
	Legend              []legendItem
	UnreferencedOutline string
}

// HTML writes the interactive page. Every node must have a position.
func HTML(w io.Writer, g *graph.Graph, snippets snippet.Map, pos map[string]layout.Point, opts Options) error {
	fig, err := buildFigure(g, pos)
	if err != nil {
		return err
	}
	if snippets == nil {
		snippets = snippet.Map{}
	}
	contentURL := opts.ContentURL
	if contentURL == "" {
		contentURL = "/content"
	}
	timeout := opts.ContentTimeout
	if timeout <= 0 {
		timeout = preview.DefaultTimeout
	}
	title := opts.Title
	if title == "" {
		title = "Import graph"
	}

	return pageTemplate.Execute(w, pageData{
		Title:               title,
		Figure:              fig,
		Snippets:            snippets,
		ContentURL:          contentURL,
		ContentTimeoutMs:    timeout.Milliseconds(),
		LabelSeparator:      graph.LabelSeparator,
		NotAvailable:        preview.NotAvailableText,
		Legend:              legend,
		UnreferencedOutline: UnreferencedOutline,
	})
}

func buildFigure(g *graph.Graph, pos map[string]layout.Point) (figure, error) {
	edges := trace{
		Type:      "scatter",
		Mode:      "lines",
		HoverInfo: "none",
		Line:      &lineStyle{Width: 0.5, Color: "#888"},
		X:         []*float64{},
		Y:         []*float64{},
	}
	for _, e := range g.Edges() {
		from, ok := pos[e.Source]
		if !ok {
			return figure{}, fmt.Errorf("no position for %q", e.Source)
		}
		to, ok := pos[e.Target]
		if !ok {
			return figure{}, fmt.Errorf("no position for %q", e.Target)
		}
		edges.X = append(edges.X, ptr(from.X), ptr(to.X), nil)
		edges.Y = append(edges.Y, ptr(from.Y), ptr(to.Y), nil)
	}

	nodes := trace{
		Type:      "scatter",
		Mode:      "markers",
		HoverInfo: "text",
		Marker:    &marker{Size: 30},
		X:         []*float64{},
		Y:         []*float64{},
	}
	for _, n := range g.Nodes() {
		p, ok := pos[n.ID]
		if !ok {
			return figure{}, fmt.Errorf("no position for %q", n.ID)
		}
		nodes.X = append(nodes.X, ptr(p.X))
		nodes.Y = append(nodes.Y, ptr(p.Y))
		nodes.Text = append(nodes.Text, graph.EncodeLabel(n.ID, n.Kind))
		nodes.Marker.Color = append(nodes.Marker.Color, n.Color())
		if n.Unreferenced {
			nodes.Marker.Line.Width = append(nodes.Marker.Line.Width, 5)
			nodes.Marker.Line.Color = append(nodes.Marker.Line.Color, UnreferencedOutline)
		} else {
			nodes.Marker.Line.Width = append(nodes.Marker.Line.Width, 2)
			nodes.Marker.Line.Color = append(nodes.Marker.Line.Color, "#444")
		}
	}

	hidden := axis{}
	return figure{
		Data: []trace{edges, nodes},
		Layout: figureLayout{
			HoverMode:    "closest",
			ClickMode:    "event+select",
			Margin:       margin{B: 20, L: 5, R: 5, T: 40},
			XAxis:        hidden,
			YAxis:        hidden,
			PlotBGColor:  "rgba(255,255,255,0.9)",
			PaperBGColor: "rgba(255,255,255,0.9)",
		},
	}, nil
}

func ptr(f float64) *float64 { return &f }

// Document is the JSON rendering of an analysis.
type Document struct {
	Nodes    []DocumentNode `json:"nodes"`
	Edges    []graph.Edge   `json:"edges"`
	Snippets snippet.Map    `json:"snippets"`
}

// DocumentNode is a node with its presentation attributes.
type DocumentNode struct {
	graph.Node
	Label string        `json:"label"`
	Color string        `json:"color"`
	Pos   *layout.Point `json:"pos,omitempty"`
}

// JSON writes the graph, snippets and optional positions as indented JSON.
func JSON(w io.Writer, g *graph.Graph, snippets snippet.Map, pos map[string]layout.Point) error {
	doc := Document{
		Nodes:    []DocumentNode{},
		Edges:    g.Edges(),
		Snippets: snippets,
	}
	if doc.Snippets == nil {
		doc.Snippets = snippet.Map{}
	}
	for _, n := range g.Nodes() {
		dn := DocumentNode{Node: n, Label: graph.EncodeLabel(n.ID, n.Kind), Color: n.Color()}
		if p, ok := pos[n.ID]; ok {
			dn.Pos = &p
		}
		doc.Nodes = append(doc.Nodes, dn)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
