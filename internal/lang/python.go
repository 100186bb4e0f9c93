package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/importgraph/internal/model"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		Extract:    pythonExtract,
	}
}

type pythonWalker struct {
	source  []byte
	decls   []model.Declaration
	imports map[string]struct{}
}

func pythonExtract(root *sitter.Node, source []byte) ([]model.Declaration, []string) {
	w := &pythonWalker{source: source, imports: make(map[string]struct{})}
	w.walk(root, nil)
	return w.decls, sortedSet(w.imports)
}

// walk visits every named node below parent. scope is the chain of
// enclosing function/class names.
func (w *pythonWalker) walk(parent *sitter.Node, scope []string) {
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		child := parent.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_definition", "class_definition":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				w.walk(child, scope)
				continue
			}
			name := NodeText(nameNode, w.source)

			kind := model.Function
			if child.Type() == "class_definition" {
				kind = model.Class
			}

			// Decorators are part of the declaration.
			outer := child
			if parent.Type() == "decorated_definition" {
				outer = parent
			}

			w.decls = append(w.decls, model.Declaration{
				Name:  name,
				Scope: append([]string(nil), scope...),
				Kind:  kind,
				Text:  pythonDeclText(outer, w.source),
				Line:  int(child.StartPoint().Row) + 1,
			})

			inner := make([]string, 0, len(scope)+1)
			inner = append(inner, scope...)
			w.walk(child, append(inner, name))
		case "import_statement":
			w.importStatement(child)
		case "import_from_statement", "future_import_statement":
			w.importFromStatement(child)
		default:
			w.walk(child, scope)
		}
	}
}

// importStatement handles `import a.b` and `import a.b as c`; the
// identifier is always the imported module path.
func (w *pythonWalker) importStatement(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			w.addImport(NodeText(child, w.source))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				w.addImport(NodeText(name, w.source))
			}
		}
	}
}

// importFromStatement handles `from M import N [as A]`, producing "M.N".
// Leading dots of relative imports are dropped; `from . import N` yields "N".
func (w *pythonWalker) importFromStatement(node *sitter.Node) {
	var module string
	var names []string
	sawImport := false
	if node.Type() == "future_import_statement" {
		module = "__future__"
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if gc := child.NamedChild(j); gc.Type() == "dotted_name" {
					module = NodeText(gc, w.source)
				}
			}
		case "dotted_name":
			if sawImport {
				names = append(names, NodeText(child, w.source))
			} else {
				module = NodeText(child, w.source)
			}
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				names = append(names, NodeText(name, w.source))
			}
		case "wildcard_import":
			names = append(names, "*")
		}
	}

	for _, name := range names {
		if module != "" {
			w.addImport(module + "." + name)
		} else {
			w.addImport(name)
		}
	}
}

func (w *pythonWalker) addImport(id string) {
	if id == "" {
		return
	}
	w.imports[id] = struct{}{}
}

// pythonDeclText returns the source of a declaration re-indented to column
// zero. The indentation of the declaration's first line is stripped from
// every following line, except lines inside multi-line string literals,
// whose bytes belong to the literal value.
func pythonDeclText(node *sitter.Node, source []byte) string {
	start := node.StartByte()
	lineStart := start
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	indent := string(source[lineStart:start])
	text := string(source[start:node.EndByte()])
	if indent == "" || strings.Trim(indent, " \t") != "" {
		return text
	}

	keep := make(map[int]struct{})
	markStringRows(node, keep)

	firstRow := int(node.StartPoint().Row)
	lines := strings.Split(text, "\n")
	for i := 1; i < len(lines); i++ {
		if _, ok := keep[firstRow+i]; ok {
			continue
		}
		lines[i] = strings.TrimPrefix(lines[i], indent)
	}
	return strings.Join(lines, "\n")
}

// markStringRows records every row that begins inside a multi-line string.
func markStringRows(node *sitter.Node, rows map[int]struct{}) {
	if node.Type() == "string" {
		startRow, endRow := int(node.StartPoint().Row), int(node.EndPoint().Row)
		for r := startRow + 1; r <= endRow; r++ {
			rows[r] = struct{}{}
		}
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child != nil {
			markStringRows(child, rows)
		}
	}
}
