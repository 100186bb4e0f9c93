// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// the structure graph.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/snippet"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Diagnostic is a skipped file and the reason.
type Diagnostic struct {
	Path   string
	Reason string
}

// Document is everything one TOON output contains.
type Document struct {
	Root        string
	Graph       *graph.Graph
	Snippets    snippet.Map
	Diagnostics []Diagnostic
}

// Encode converts a Document into TOON format.
func Encode(doc *Document) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(doc.Root)))

	var nodeRows [][]string
	for _, n := range doc.Graph.Nodes() {
		status := "ok"
		if n.Unreferenced {
			status = "unreferenced"
		}
		nodeRows = append(nodeRows, []string{n.ID, n.Kind.String(), n.Color(), status})
	}
	parts = append(parts, formatTabular("nodes", []string{"id", "kind", "color", "status"}, nodeRows))

	var edgeRows [][]string
	for _, e := range doc.Graph.Edges() {
		edgeRows = append(edgeRows, []string{e.Source, e.Target, e.Kind.String()})
	}
	parts = append(parts, formatTabular("edges", []string{"source", "target", "kind"}, edgeRows))

	var snippetRows [][]string
	for _, id := range doc.Snippets.IDs() {
		text, _ := doc.Snippets.Lookup(id)
		snippetRows = append(snippetRows, []string{id, text})
	}
	parts = append(parts, formatTabular("snippets", []string{"id", "text"}, snippetRows))

	if len(doc.Diagnostics) > 0 {
		var diagRows [][]string
		for _, d := range doc.Diagnostics {
			diagRows = append(diagRows, []string{d.Path, d.Reason})
		}
		parts = append(parts, formatTabular("diagnostics", []string{"path", "reason"}, diagRows))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
