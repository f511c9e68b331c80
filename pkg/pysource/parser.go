// Package pysource extracts import statements from Python source files using
// the tree-sitter Python grammar.
package pysource

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/alexaandru/go-sitter-forest/python"

	"github.com/ronpik/mono-deps-analyzer/pkg/importmodel"
)

// Lang is the language tag attached to parsed files.
const Lang = "python"

// Sentinel errors for parse operations.
var (
	// ErrSyntax marks content the grammar could not parse cleanly.
	ErrSyntax = errors.New("python syntax error")

	errNoRootNode = errors.New("pysource: no root node")
	errPoolType   = errors.New("pysource: pool returned unexpected type")
)

// Tree-sitter node kinds the parser cares about.
const (
	kindImport       = "import_statement"
	kindImportFrom   = "import_from_statement"
	kindFutureImport = "future_import_statement"
	kindDottedName   = "dotted_name"
	kindAliased      = "aliased_import"
	kindRelative     = "relative_import"
	kindImportPrefix = "import_prefix"
	kindWildcard     = "wildcard_import"
	kindIdentifier   = "identifier"
	kindComment      = "comment"

	futureModule = "__future__"
)

// Parser extracts import statements from Python source. It is safe for
// concurrent use; tree-sitter parsers are pooled per goroutine use.
type Parser struct {
	pool sync.Pool
}

// NewParser creates a Parser bound to the Python grammar.
func NewParser() *Parser {
	lang := sitter.NewLanguage(python.GetLanguage())

	p := &Parser{}
	p.pool = sync.Pool{
		New: func() any {
			tsParser := sitter.NewParser()
			tsParser.SetLanguage(lang)

			return tsParser
		},
	}

	return p
}

// Parse returns the imports referenced by content. On a syntax error the
// returned file has no imports and its Error field matches [ErrSyntax].
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (importmodel.File, error) {
	file := importmodel.File{Path: path, Lang: Lang}

	tsParser, ok := p.pool.Get().(*sitter.Parser)
	if !ok {
		return file, errPoolType
	}

	defer p.pool.Put(tsParser)

	tree, err := tsParser.ParseString(ctx, nil, content)
	if err != nil {
		file.Error = fmt.Errorf("%w: %s: %w", ErrSyntax, path, err)

		return file, file.Error
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.IsNull() {
		file.Error = fmt.Errorf("%s: %w", path, errNoRootNode)

		return file, file.Error
	}

	// HasError also covers MISSING tokens inserted during error recovery,
	// which never show up as ERROR nodes.
	if root.HasError() {
		at := firstErrorByte(root)
		line := strings.Count(string(content[:min(at, len(content))]), "\n") + 1
		file.Error = fmt.Errorf("%w: %s:%d", ErrSyntax, path, line)

		return file, file.Error
	}

	w := walker{src: content}

	w.walk(root)

	file.Imports = w.imports

	return file, nil
}

// walker collects statements from a syntax tree in source order.
type walker struct {
	src     []byte
	imports []importmodel.Statement
	seen    map[string]int
}

func (w *walker) walk(root sitter.Node) {
	w.seen = make(map[string]int)

	// Explicit stack; deeply nested sources must not grow the goroutine stack.
	stack := []sitter.Node{root}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type() {
		case kindImport:
			w.importStatement(n)

			continue
		case kindImportFrom:
			w.fromStatement(n)

			continue
		case kindFutureImport:
			w.add(importmodel.Statement{Path: futureModule, Names: w.names(n, sitter.Node{})})

			continue
		}

		children := make([]sitter.Node, 0, n.NamedChildCount())
		for idx := range n.NamedChildCount() {
			children = append(children, n.NamedChild(idx))
		}

		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// firstErrorByte returns the offset of the first ERROR or MISSING node,
// descending only into subtrees that contain one.
func firstErrorByte(n sitter.Node) int {
	for {
		if n.IsError() || n.IsMissing() {
			return int(n.StartByte())
		}

		descended := false

		for idx := range n.ChildCount() {
			if child := n.Child(idx); child.HasError() {
				n, descended = child, true

				break
			}
		}

		if !descended {
			return int(n.StartByte())
		}
	}
}

// importStatement handles "import a.b, c as d".
func (w *walker) importStatement(n sitter.Node) {
	for idx := range n.NamedChildCount() {
		child := n.NamedChild(idx)

		if path := w.moduleName(child); path != "" {
			w.add(importmodel.Statement{Path: path})
		}
	}
}

// fromStatement handles "from a.b import c" and its relative forms.
func (w *walker) fromStatement(n sitter.Node) {
	module := n.ChildByFieldName("module_name")
	if module.IsNull() {
		return
	}

	stmt := importmodel.Statement{Names: w.names(n, module)}

	switch module.Type() {
	case kindRelative:
		for idx := range module.NamedChildCount() {
			child := module.NamedChild(idx)

			switch child.Type() {
			case kindImportPrefix:
				stmt.Level = strings.Count(w.text(child), ".")
			case kindDottedName:
				stmt.Path = w.dotted(child)
			}
		}

		if stmt.Level == 0 {
			stmt.Level = strings.Count(w.text(module), ".") - strings.Count(stmt.Path, ".")
		}
	default:
		stmt.Path = w.dotted(module)
	}

	if stmt.Path == "" && stmt.Level == 0 {
		return
	}

	w.add(stmt)
}

// names lists the identifiers imported by a from-statement, skipping the module node.
func (w *walker) names(n, module sitter.Node) []string {
	var out []string

	for idx := range n.NamedChildCount() {
		child := n.NamedChild(idx)

		if !module.IsNull() && child.StartByte() == module.StartByte() {
			continue
		}

		switch child.Type() {
		case kindWildcard:
			out = append(out, "*")
		case kindComment:
		default:
			if name := w.moduleName(child); name != "" {
				out = append(out, name)
			}
		}
	}

	return out
}

// moduleName returns the dotted path of a dotted_name or aliased_import node.
func (w *walker) moduleName(n sitter.Node) string {
	switch n.Type() {
	case kindDottedName:
		return w.dotted(n)
	case kindAliased:
		name := n.ChildByFieldName("name")
		if name.IsNull() {
			return ""
		}

		return w.dotted(name)
	case kindIdentifier:
		return w.text(n)
	}

	return ""
}

// dotted joins the identifier parts of a dotted_name, ignoring whitespace
// and comments between them.
func (w *walker) dotted(n sitter.Node) string {
	if n.Type() != kindDottedName {
		return strings.TrimSpace(w.text(n))
	}

	parts := make([]string, 0, n.NamedChildCount())

	for idx := range n.NamedChildCount() {
		child := n.NamedChild(idx)
		if child.Type() == kindIdentifier {
			parts = append(parts, w.text(child))
		}
	}

	return strings.Join(parts, ".")
}

func (w *walker) text(n sitter.Node) string {
	start, end := int(n.StartByte()), int(n.EndByte())
	if start < 0 || end > len(w.src) || start > end {
		return ""
	}

	return string(w.src[start:end])
}

func (w *walker) add(stmt importmodel.Statement) {
	key := stmt.String()

	if idx, ok := w.seen[key]; ok {
		existing := &w.imports[idx]

		for _, name := range stmt.Names {
			if !slices.Contains(existing.Names, name) {
				existing.Names = append(existing.Names, name)
			}
		}

		return
	}

	w.seen[key] = len(w.imports)
	w.imports = append(w.imports, stmt)
}
