package sexp

import (
	"fmt"
	"os"
	"path/filepath"

	"rattle/internal/ast"
)

// ---------------------------------------------------------------------------
// Static require expansion
//
// (require "lib/foo.rl") forms are replaced by the parsed contents of the
// named file before compilation.  Paths are resolved relative to the
// directory of the file that contains the require.  A file is loaded at most
// once per expansion; repeated requires splice an empty node.
// ---------------------------------------------------------------------------

// Expander resolves require forms against a base directory.
type Expander struct {
	visited map[string]bool
}

// NewExpander returns an Expander with an empty visited set.
func NewExpander() *Expander {
	return &Expander{visited: make(map[string]bool)}
}

// ExpandRequires walks v and statically splices every require form, loading
// files relative to dir.  The input tree is not modified; changed subtrees
// are rebuilt.
func ExpandRequires(v ast.Value, dir string) (ast.Value, error) {
	return NewExpander().Expand(v, dir)
}

// Expand processes one tree.  The expander's visited set persists across
// calls, so requiring the same file from two places loads it once.
func (x *Expander) Expand(v ast.Value, dir string) (ast.Value, error) {
	n, ok := v.(*ast.Node)
	if !ok || n == nil {
		return v, nil
	}
	if n.Tag == ast.TagRequire {
		return x.expandRequire(n, dir)
	}
	changed := false
	elems := make([]ast.Value, len(n.Elems))
	for i, e := range n.Elems {
		out, err := x.Expand(e, dir)
		if err != nil {
			return nil, err
		}
		elems[i] = out
		if out != e {
			changed = true
		}
	}
	if !changed {
		return n, nil
	}
	return &ast.Node{Tag: n.Tag, Elems: elems, Pos: n.Pos}, nil
}

func (x *Expander) expandRequire(n *ast.Node, dir string) (ast.Value, error) {
	if len(n.Elems) != 1 {
		return nil, fmt.Errorf("require expects a single file name, got %s", ast.ExprString(n))
	}
	name, ok := n.Elems[0].(ast.Str)
	if !ok {
		return nil, fmt.Errorf("require expects a string literal, got %s", ast.ExprString(n.Elems[0]))
	}

	path := filepath.Join(dir, string(name))
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if x.visited[abs] {
		return nil, nil
	}
	x.visited[abs] = true

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("require %q: %w", string(name), err)
	}
	tree, err := Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("require %q: %w", string(name), err)
	}
	return x.Expand(tree, filepath.Dir(path))
}
