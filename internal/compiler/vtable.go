package compiler

import (
	"fmt"
	"io"

	"rattle/internal/ast"
	"rattle/internal/emitter"
)

// ---------------------------------------------------------------------------
// VTable allocation
//
// One global numbering of method name → dispatch slot, shared by every class
// in the compilation run.  Slot 0 is reserved for __send__, the universal
// dynamic-dispatch handler; user method names start at 1.  Allocation runs
// as a full pre-pass over the AST, because a call site emits a fixed numeric
// offset computed from this mapping.
// ---------------------------------------------------------------------------

// SendMethod is the method every class answers for dynamic sends.
const SendMethod = ast.Sym("__send__")

// VTable holds the global method-name → slot mapping.
type VTable struct {
	slots   map[ast.Sym]int
	order   []ast.Sym
	classes int
}

// NewVTable returns a table with __send__ pre-allocated at slot 0.
func NewVTable() *VTable {
	v := &VTable{slots: make(map[ast.Sym]int)}
	v.Alloc(SendMethod)
	return v
}

// Alloc assigns the next slot to a method name, or returns the existing one.
func (v *VTable) Alloc(name ast.Sym) int {
	if slot, ok := v.slots[name]; ok {
		return slot
	}
	slot := len(v.order)
	v.slots[name] = slot
	v.order = append(v.order, name)
	return slot
}

// Slot returns the slot for a method name, if one was allocated.
func (v *VTable) Slot(name ast.Sym) (int, bool) {
	slot, ok := v.slots[name]
	return slot, ok
}

// Size is the number of allocated slots — the width of every class's
// dispatch table.
func (v *VTable) Size() int {
	return len(v.order)
}

// Classes is the number of class nodes seen by the pre-pass.
func (v *VTable) Classes() int {
	return v.classes
}

// MethodNames returns every allocated name in slot order (__send__ first).
func (v *VTable) MethodNames() []ast.Sym {
	return v.order
}

// Allocate walks the whole AST depth-first and assigns a slot to every defun
// name.  It does not descend into a defun once visited — methods are not
// nested, so function bodies hold no further method definitions at this
// stage.  Class nodes are counted for the overhead report.  Re-running on
// the same tree is idempotent.
func (v *VTable) Allocate(root ast.Value) {
	n, ok := root.(*ast.Node)
	if !ok || n == nil {
		return
	}
	switch n.Tag {
	case ast.TagDefun:
		if len(n.Elems) > 0 {
			if name, ok := n.Elems[0].(ast.Sym); ok {
				v.Alloc(name)
			}
		}
		return
	case ast.TagClass:
		v.classes++
	}
	for _, e := range n.Elems {
		v.Allocate(e)
	}
}

// Report prints the dispatch-table memory overhead to the diagnostic stream.
func (v *VTable) Report(w io.Writer) {
	overhead := v.Size() * v.classes * emitter.PtrSize
	fmt.Fprintf(w, "vtable: %d slots, %d classes, %d bytes of dispatch tables\n",
		v.Size(), v.classes, overhead)
}
