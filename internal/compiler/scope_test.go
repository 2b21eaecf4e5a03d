package compiler

import (
	"bytes"
	"strings"
	"testing"

	"rattle/internal/ast"
	"rattle/internal/sexp"
)

// ---------------------------------------------------------------------------
// VTable
// ---------------------------------------------------------------------------

func TestVTableSendPreallocated(t *testing.T) {
	v := NewVTable()
	slot, ok := v.Slot(SendMethod)
	if !ok || slot != 0 {
		t.Fatalf("__send__ slot = %d, %v; want 0, true", slot, ok)
	}
	if v.Size() != 1 {
		t.Fatalf("fresh table size = %d, want 1", v.Size())
	}
}

func TestVTableAllocSequentialAndIdempotent(t *testing.T) {
	v := NewVTable()
	if got := v.Alloc("foo"); got != 1 {
		t.Errorf("first user slot = %d, want 1", got)
	}
	if got := v.Alloc("bar"); got != 2 {
		t.Errorf("second user slot = %d, want 2", got)
	}
	if got := v.Alloc("foo"); got != 1 {
		t.Errorf("re-alloc changed slot: %d", got)
	}
	if v.Size() != 3 {
		t.Errorf("size = %d, want 3", v.Size())
	}
}

func TestVTableSharedAcrossClasses(t *testing.T) {
	tree, err := sexp.Parse(`
		(do
		  (class A (defun foo (x) x))
		  (class B (defun foo (y) y) (defun bar () ())))`)
	if err != nil {
		t.Fatal(err)
	}
	v := NewVTable()
	v.Allocate(tree)

	fooSlot, ok := v.Slot("foo")
	if !ok {
		t.Fatal("foo not allocated")
	}
	barSlot, ok := v.Slot("bar")
	if !ok {
		t.Fatal("bar not allocated")
	}
	if fooSlot == barSlot {
		t.Errorf("distinct names share slot %d", fooSlot)
	}
	// Two classes naming foo must agree on one slot, so size counts foo once.
	if v.Size() != 3 {
		t.Errorf("size = %d, want 3 (__send__, foo, bar)", v.Size())
	}
	if v.Classes() != 2 {
		t.Errorf("classes = %d, want 2", v.Classes())
	}

	// Re-running the pre-pass must not grow the numbering.
	v.Allocate(tree)
	if v.Size() != 3 {
		t.Errorf("size after re-run = %d, want 3", v.Size())
	}
}

func TestVTableDoesNotDescendIntoDefun(t *testing.T) {
	tree, err := sexp.Parse("(defun outer (x) (defun inner () ()))")
	if err != nil {
		t.Fatal(err)
	}
	v := NewVTable()
	v.Allocate(tree)
	if _, ok := v.Slot("outer"); !ok {
		t.Error("outer not allocated")
	}
	if _, ok := v.Slot("inner"); ok {
		t.Error("nested defun should not be visited by the pre-pass")
	}
}

func TestVTableReport(t *testing.T) {
	v := NewVTable()
	v.Alloc("foo")
	v.classes = 2
	var buf bytes.Buffer
	v.Report(&buf)
	want := "vtable: 2 slots, 2 classes, 16 bytes of dispatch tables\n"
	if buf.String() != want {
		t.Errorf("report = %q, want %q", buf.String(), want)
	}
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

func TestConstantPoolDedup(t *testing.T) {
	p := NewConstantPool()
	l1 := p.InternString("hello")
	l2 := p.InternString("world")
	l3 := p.InternString("hello")
	if l1 != ".LC0" || l2 != ".LC1" {
		t.Errorf("labels = %s, %s", l1, l2)
	}
	if l3 != l1 {
		t.Errorf("duplicate literal got a fresh label: %s", l3)
	}
	if len(p.Strings()) != 2 {
		t.Errorf("pool holds %d literals, want 2", len(p.Strings()))
	}
}

func TestConstantPoolGlobals(t *testing.T) {
	p := NewConstantPool()
	p.AddGlobal("Foo")
	p.AddGlobal("Bar")
	p.AddGlobal("Foo")
	if got := p.Globals(); len(got) != 2 || got[0] != "Foo" || got[1] != "Bar" {
		t.Errorf("globals = %v", got)
	}
	if p.Empty() {
		t.Error("pool with globals reported empty")
	}
}

// ---------------------------------------------------------------------------
// Scope chain
// ---------------------------------------------------------------------------

func TestGlobalScopeResolution(t *testing.T) {
	funcs := NewFuncTable()
	g := NewGlobalScope(funcs)

	if _, ok := g.Resolve("nothing"); ok {
		t.Error("unknown name resolved")
	}
	loc, ok := g.Resolve("puts")
	if !ok || loc.Kind != LocFunc || loc.Name != "puts" {
		t.Errorf("runtime function: %+v, %v", loc, ok)
	}
	g.Declare("Foo")
	loc, ok = g.Resolve("Foo")
	if !ok || loc.Kind != LocGlobal || loc.Name != "Foo" {
		t.Errorf("global: %+v, %v", loc, ok)
	}
}

func TestFuncScopeArgs(t *testing.T) {
	funcs := NewFuncTable()
	g := NewGlobalScope(funcs)
	fn := &Function{Name: "f", Args: []ast.Sym{"a", "b"}}
	s := NewFuncScope(fn, g)

	loc, ok := s.Resolve("b")
	if !ok || loc.Kind != LocArg || loc.Index != 1 {
		t.Errorf("arg b: %+v, %v", loc, ok)
	}
	if _, ok := s.Resolve("c"); ok {
		t.Error("unknown arg resolved")
	}
}

func TestLocalScopeNesting(t *testing.T) {
	g := NewGlobalScope(NewFuncTable())
	outer := NewLocalScope(g, []ast.Sym{"a", "b"})
	inner := NewLocalScope(outer, []ast.Sym{"c"})

	loc, _ := inner.Resolve("c")
	if loc.Kind != LocLocal || loc.Index != 2 {
		t.Errorf("nested local slot = %+v, want slot 2", loc)
	}
	loc, _ = inner.Resolve("a")
	if loc.Kind != LocLocal || loc.Index != 0 {
		t.Errorf("outer local through inner frame = %+v", loc)
	}
}

func TestLocalScopeShadowing(t *testing.T) {
	g := NewGlobalScope(NewFuncTable())
	outer := NewLocalScope(g, []ast.Sym{"x"})
	inner := NewLocalScope(outer, []ast.Sym{"x"})

	loc, _ := inner.Resolve("x")
	if loc.Index != 1 {
		t.Errorf("shadowing binding should use the inner slot, got %d", loc.Index)
	}
}

func TestClassScopeResolution(t *testing.T) {
	g := NewGlobalScope(NewFuncTable())
	cs := NewClassScope("Foo", "Object", g)
	cs.DefineMethod("bar", 1, "__method_Foo_bar")
	cs.DeclareIvar("@x")
	cs.DeclareIvar("@y")
	cs.DeclareIvar("@x") // repeat keeps the first offset

	loc, ok := cs.Resolve("@y")
	if !ok || loc.Kind != LocIvar || loc.Index != 1 {
		t.Errorf("ivar @y: %+v, %v", loc, ok)
	}
	loc, ok = cs.Resolve("bar")
	if !ok || loc.Kind != LocFunc || loc.Name != "__method_Foo_bar" {
		t.Errorf("method bar: %+v, %v", loc, ok)
	}
	if cs.InstanceSize() != 2 {
		t.Errorf("instance size = %d, want 2", cs.InstanceSize())
	}
	if cs.Ident() != "class Foo" {
		t.Errorf("ident = %q", cs.Ident())
	}
}

func TestIsIvar(t *testing.T) {
	if !IsIvar("@x") {
		t.Error("@x should be an instance variable")
	}
	if IsIvar("x") || IsIvar("") {
		t.Error("plain names are not instance variables")
	}
}

// ---------------------------------------------------------------------------
// Function records and mangling
// ---------------------------------------------------------------------------

func TestParseArgs(t *testing.T) {
	raw, err := sexp.Parse("(a b (args rest))")
	if err != nil {
		t.Fatal(err)
	}
	args, rest := parseArgs(raw)
	if len(args) != 3 || args[0] != "a" || args[2] != "args" {
		t.Errorf("args = %v", args)
	}
	if !rest {
		t.Error("rest flag not set")
	}

	args, rest = parseArgs(nil)
	if args != nil || rest {
		t.Errorf("empty list: %v, %v", args, rest)
	}
}

func TestMangleMethodName(t *testing.T) {
	tests := []struct {
		method ast.Sym
		want   string
	}{
		{"bar", "__method_Foo_bar"},
		{"empty?", "__method_Foo_empty__p"},
		{"save!", "__method_Foo_save__b"},
		{"name=", "__method_Foo_name__setter"},
		{"[]", "__method_Foo___index"},
		{"[]=", "__method_Foo___indexasgn"},
	}
	for _, tt := range tests {
		if got := mangleMethodName("Foo", tt.method); got != tt.want {
			t.Errorf("mangle(%s) = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestFuncTableKnown(t *testing.T) {
	ft := NewFuncTable()
	if !ft.Known("puts") {
		t.Error("runtime entry point not pre-seeded")
	}
	if ft.Known("later") {
		t.Error("unregistered name known")
	}
	ft.MarkKnown("later")
	if !ft.Known("later") {
		t.Error("MarkKnown had no effect")
	}
}

// ---------------------------------------------------------------------------
// Error rendering
// ---------------------------------------------------------------------------

func TestErrorString(t *testing.T) {
	e := &Error{
		Kind:  ErrUnresolvedName,
		Msg:   "not found in any enclosing scope",
		Expr:  ast.Sym("x"),
		Scope: "global scope",
		Pos:   &ast.Position{Line: 3, Column: 7},
	}
	got := e.Error()
	want := "line 3, col 7: unresolved name: not found in any enclosing scope: x (in global scope)"
	if got != want {
		t.Errorf("error = %q\n  want %q", got, want)
	}
}

func TestErrorStringNoPosition(t *testing.T) {
	e := &Error{Kind: ErrNotImplemented, Msg: "no code generator for case/when"}
	if !strings.HasPrefix(e.Error(), "unknown position: not implemented:") {
		t.Errorf("error = %q", e.Error())
	}
}
