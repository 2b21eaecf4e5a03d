package compiler

import (
	"strings"

	"rattle/internal/ast"
)

// ---------------------------------------------------------------------------
// Function records
//
// One record per defun/lambda/method.  Records are created once, registered
// in the global function table under their emitted (possibly mangled) name,
// and only read back when the driver outputs function bodies.
// ---------------------------------------------------------------------------

// Function is a single compiled-to-be function.
type Function struct {
	Name string      // emitted name
	Args []ast.Sym   // ordered argument names; methods have "self" prepended
	Rest bool        // trailing rest flag (variadic)
	Body []ast.Value

	// encl is the scope the function was defined in, used when the body is
	// compiled at output time.  Methods keep their class scope here so
	// instance variables stay resolvable.
	encl Scope
}

// parseArgs splits a raw argument-list value into names and the variadic
// flag.  A trailing (name rest) entry marks the function variadic.
func parseArgs(raw ast.Value) ([]ast.Sym, bool) {
	var args []ast.Sym
	rest := false
	for _, entry := range ast.List(raw) {
		switch a := entry.(type) {
		case ast.Sym:
			args = append(args, a)
		case *ast.Node:
			if len(a.Elems) == 2 {
				if name, ok := a.Elems[0].(ast.Sym); ok {
					if mod, ok := a.Elems[1].(ast.Sym); ok && mod == "rest" {
						args = append(args, name)
						rest = true
					}
				}
			}
		}
	}
	return args, rest
}

// ---------------------------------------------------------------------------
// Global function table
// ---------------------------------------------------------------------------

// runtimeFuncs are the support-library entry points the emitted code may
// call; they resolve as function addresses without a rattle definition.
var runtimeFuncs = []string{
	"__new_class_object", "require",
	"puts", "printf", "malloc", "exit",
}

// FuncTable owns every function record of a compilation run.  Output order
// is registration order; the table also tracks names the vtable pre-pass has
// seen, so forward calls resolve before their defun compiles.
type FuncTable struct {
	funcs map[string]*Function
	order []string
	known map[string]bool
}

// NewFuncTable returns a table pre-seeded with the runtime entry points.
func NewFuncTable() *FuncTable {
	t := &FuncTable{
		funcs: make(map[string]*Function),
		known: make(map[string]bool),
	}
	for _, name := range runtimeFuncs {
		t.known[name] = true
	}
	return t
}

// Register adds a function record under its emitted name.
func (t *FuncTable) Register(fn *Function) {
	if _, exists := t.funcs[fn.Name]; !exists {
		t.order = append(t.order, fn.Name)
	}
	t.funcs[fn.Name] = fn
	t.known[fn.Name] = true
}

// MarkKnown records a name as callable before its record exists.
func (t *FuncTable) MarkKnown(name string) {
	t.known[name] = true
}

// Known reports whether a name resolves to a function address.
func (t *FuncTable) Known(name string) bool {
	return t.known[name]
}

// ---------------------------------------------------------------------------
// Method name mangling
// ---------------------------------------------------------------------------

// mangleEscapes maps characters that are legal in rattle method names but
// not in assembly symbols.
var mangleEscapes = strings.NewReplacer(
	"[]=", "__indexasgn",
	"[]", "__index",
	"?", "__p",
	"!", "__b",
	"=", "__setter",
)

// mangleMethodName derives the emitted symbol for a method from its class
// and method name, deterministically and collision-free across classes.
func mangleMethodName(class string, method ast.Sym) string {
	return "__method_" + class + "_" + mangleEscapes.Replace(string(method))
}
