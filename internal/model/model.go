// Package model defines the per-file analysis results shared between the
// source analyzer and the graph builder.
package model

// DeclKind indicates the syntactic kind of a declaration.
type DeclKind string

const (
	Function DeclKind = "function"
	Class    DeclKind = "class"
)

// Declaration is a function or class found in a source file.
type Declaration struct {
	Name string
	// Scope lists the names of the enclosing declarations, outermost first.
	// It is empty for top-level declarations.
	Scope []string
	Kind  DeclKind
	// Text is the declaration re-serialized at column zero.
	Text string
	Line int
}

// Path returns the scope chain followed by the declaration name.
func (d Declaration) Path() []string {
	out := make([]string, 0, len(d.Scope)+1)
	out = append(out, d.Scope...)
	return append(out, d.Name)
}

// FileAnalysis holds everything the analyzer extracted from one file.
type FileAnalysis struct {
	Path         string
	Language     string
	Declarations []Declaration
	// Imports are flat reference identifiers, deduplicated and sorted.
	Imports []string
}
