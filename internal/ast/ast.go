package ast

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Source position
// ---------------------------------------------------------------------------

// Position represents a line/column pair in source code (1-based).
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ---------------------------------------------------------------------------
// Values
//
// A rattle program is a tree of tagged tuples.  Every value is one of:
//   - nil          empty; compiles to a no-op
//   - Sym          a name, resolved through the scope chain
//   - Atom         a literal atom :foo, interned to an integer identifier
//   - Int          an integer literal
//   - Str          a string literal, routed through the constant pool
//   - *Node        a tuple (tag arg1 arg2 ...)
// ---------------------------------------------------------------------------

// Value is any rattle AST value.  The concrete types are Sym, Atom, Int,
// Str and *Node; a nil Value is the empty expression.
type Value interface{}

// Sym is a bare name (variable, function or method reference).
type Sym string

// Atom is a literal atom such as :foo — never looked up, always interned.
type Atom string

// Int is an integer literal.
type Int int64

// Str is a string literal.
type Str string

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

// Tag identifies which construct a tuple represents.  TagNone means the
// tuple is an implicit call whose callee is its first element.
type Tag int

const (
	TagNone Tag = iota
	TagDo
	TagClass
	TagDefun
	TagIf
	TagLambda
	TagAssign
	TagWhile
	TagIndex
	TagLet
	TagCase
	TagCall
	TagCallm
	TagRequire
)

var tagNames = map[Tag]string{
	TagNone: "call*", TagDo: "do", TagClass: "class", TagDefun: "defun",
	TagIf: "if", TagLambda: "lambda", TagAssign: "assign", TagWhile: "while",
	TagIndex: "index", TagLet: "let", TagCase: "case", TagCall: "call",
	TagCallm: "callm", TagRequire: "require",
}

var tagBySym = map[Sym]Tag{
	"do": TagDo, "class": TagClass, "defun": TagDefun, "if": TagIf,
	"lambda": TagLambda, "assign": TagAssign, "while": TagWhile,
	"index": TagIndex, "let": TagLet, "case": TagCase, "call": TagCall,
	"callm": TagCallm, "require": TagRequire,
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tag_%d", int(t))
}

// LookupTag resolves a head symbol to its construct tag.
func LookupTag(head Sym) (Tag, bool) {
	t, ok := tagBySym[head]
	return t, ok
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Node is a tuple.  For tagged tuples Elems holds the elements after the
// tag word; for TagNone tuples Elems[0] is the implicit callee.  Nodes are
// immutable inputs: the compiler never modifies them.
type Node struct {
	Tag   Tag
	Elems []Value
	Pos   *Position // nil when the front end attached no position
}

// New builds a node from raw tuple elements, deriving the tag from the head
// symbol.  An unknown head stays in place as the implicit callee.
func New(elems ...Value) *Node {
	return NewAt(nil, elems...)
}

// NewAt is New with a source position attached.
func NewAt(pos *Position, elems ...Value) *Node {
	n := &Node{Pos: pos}
	if len(elems) > 0 {
		if head, ok := elems[0].(Sym); ok {
			if tag, known := LookupTag(head); known {
				n.Tag = tag
				n.Elems = elems[1:]
				return n
			}
		}
	}
	n.Elems = elems
	return n
}

// List coerces a value into a slice of values: a *Node yields its elements,
// nil yields nil, anything else yields a one-element slice.  Used where the
// AST contract allows "a single value or a list" (call arguments, let
// bindings).
func List(v Value) []Value {
	switch x := v.(type) {
	case nil:
		return nil
	case *Node:
		if x == nil {
			return nil
		}
		return x.Elems
	default:
		return []Value{x}
	}
}

// IsEmpty reports whether v is nil or an empty tuple.
func IsEmpty(v Value) bool {
	if v == nil {
		return true
	}
	if n, ok := v.(*Node); ok {
		return n == nil || (n.Tag == TagNone && len(n.Elems) == 0)
	}
	return false
}

// ---------------------------------------------------------------------------
// Debug printing
// ---------------------------------------------------------------------------

// DebugString returns an indented, human-readable dump of a value tree,
// used by the -parse-tree CLI mode.
func DebugString(v Value) string {
	var b strings.Builder
	debugValue(&b, v, 0)
	return b.String()
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteString("  ")
	}
}

func debugValue(b *strings.Builder, v Value, level int) {
	writeIndent(b, level)
	switch x := v.(type) {
	case nil:
		b.WriteString("<empty>\n")
	case Sym:
		fmt.Fprintf(b, "Sym %s\n", string(x))
	case Atom:
		fmt.Fprintf(b, "Atom :%s\n", string(x))
	case Int:
		fmt.Fprintf(b, "Int %d\n", int64(x))
	case Str:
		fmt.Fprintf(b, "Str %q\n", string(x))
	case *Node:
		if x == nil {
			b.WriteString("<empty>\n")
			return
		}
		if x.Pos != nil {
			fmt.Fprintf(b, "Node %s @%s\n", x.Tag, x.Pos)
		} else {
			fmt.Fprintf(b, "Node %s\n", x.Tag)
		}
		for _, e := range x.Elems {
			debugValue(b, e, level+1)
		}
	default:
		fmt.Fprintf(b, "?%T\n", v)
	}
}

// ExprString renders a value as a compact s-expression, used in diagnostics.
func ExprString(v Value) string {
	switch x := v.(type) {
	case nil:
		return "()"
	case Sym:
		return string(x)
	case Atom:
		return ":" + string(x)
	case Int:
		return fmt.Sprintf("%d", int64(x))
	case Str:
		return fmt.Sprintf("%q", string(x))
	case *Node:
		if x == nil {
			return "()"
		}
		parts := make([]string, 0, len(x.Elems)+1)
		if x.Tag != TagNone {
			parts = append(parts, x.Tag.String())
		}
		for _, e := range x.Elems {
			parts = append(parts, ExprString(e))
		}
		return "(" + strings.Join(parts, " ") + ")"
	default:
		return fmt.Sprintf("?%T", v)
	}
}
