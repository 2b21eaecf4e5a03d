package compiler

import (
	"fmt"
	"strings"

	"rattle/internal/ast"
)

// ---------------------------------------------------------------------------
// Compile errors
//
// All fatal errors carry the offending expression, the identity of the scope
// that was active, and the best-available source position.  A missing vtable
// slot is deliberately not an error kind: it degrades to the dynamic-send
// fallback with a warning (see calls.go).
// ---------------------------------------------------------------------------

// ErrKind classifies a fatal compile error.
type ErrKind int

const (
	ErrUnresolvedName ErrKind = iota
	ErrInvalidAssignmentTarget
	ErrNotImplemented
)

func (k ErrKind) String() string {
	switch k {
	case ErrUnresolvedName:
		return "unresolved name"
	case ErrInvalidAssignmentTarget:
		return "invalid assignment target"
	case ErrNotImplemented:
		return "not implemented"
	default:
		return "unknown error"
	}
}

// Error is a fatal compile error.  Compilation aborts at the first one;
// there is no partial-output recovery.
type Error struct {
	Kind  ErrKind
	Msg   string
	Expr  ast.Value     // offending expression, may be nil
	Scope string        // identity of the active scope frame
	Pos   *ast.Position // nil when no position is known
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos != nil {
		fmt.Fprintf(&b, "line %d, col %d: ", e.Pos.Line, e.Pos.Column)
	} else {
		b.WriteString("unknown position: ")
	}
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Msg)
	if e.Expr != nil {
		fmt.Fprintf(&b, ": %s", ast.ExprString(e.Expr))
	}
	if e.Scope != "" {
		fmt.Fprintf(&b, " (in %s)", e.Scope)
	}
	return b.String()
}
