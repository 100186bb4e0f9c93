// Package parse runs the source analyzer over a single file using tree-sitter.
package parse

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/importgraph/internal/lang"
	"github.com/phobologic/importgraph/internal/model"
)

var (
	// ErrSyntax is wrapped by every *SyntaxError.
	ErrSyntax = errors.New("syntax error")

	// ErrInvalidContent is returned for sources that are not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// SyntaxError reports the first erroneous position in a file.
type SyntaxError struct {
	Path   string
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, ErrSyntax)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// File parses source and returns its declarations and import identifiers.
// The parser must be created for the correct language and must not be shared
// between goroutines. filePath becomes FileAnalysis.Path and should be the
// root-relative path.
//
// A file whose tree contains any error or missing node is rejected with a
// *SyntaxError rather than analyzed partially.
func File(ctx context.Context, l *lang.Language, parser *sitter.Parser, source []byte, filePath string) (*model.FileAnalysis, error) {
	fa := &model.FileAnalysis{Path: filePath, Language: l.Name}
	if len(source) == 0 {
		return fa, nil
	}
	if !utf8.Valid(source) {
		return nil, fmt.Errorf("%s: %w: not valid UTF-8", filePath, ErrInvalidContent)
	}

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%s: parsing: %w", filePath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		pos := root.StartPoint()
		if bad := firstError(root); bad != nil {
			pos = bad.StartPoint()
		}
		return nil, &SyntaxError{Path: filePath, Line: int(pos.Row) + 1, Column: int(pos.Column) + 1}
	}

	fa.Declarations, fa.Imports = l.Extract(root, source)
	return fa, nil
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if child.HasError() || child.IsMissing() {
			if bad := firstError(child); bad != nil {
				return bad
			}
		}
	}
	return nil
}
