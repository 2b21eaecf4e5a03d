package compiler

import (
	"strings"

	"rattle/internal/ast"
)

// ---------------------------------------------------------------------------
// Scope chain
//
// Four frame kinds cooperate to resolve a name to a storage location:
// Global (terminal), Function (argument slots), Local (let bindings) and
// Class (instance variables and the per-class vtable entries).  Frames form
// a tree via parent references and are discarded once their construct has
// compiled; children never outlive the compile call of their parent, except
// that a Function record keeps its defining scope for output time.
// ---------------------------------------------------------------------------

// LocKind describes the storage a name resolved to.
type LocKind int

const (
	LocArg    LocKind = iota // function argument, Index = argument slot
	LocLocal                 // let-bound local, Index = local slot
	LocIvar                  // instance variable, Index = word offset
	LocGlobal                // named global object
	LocFunc                  // address of a named function
)

// Loc is a resolved storage location.
type Loc struct {
	Kind  LocKind
	Index int
	Name  string
}

// Scope resolves names against one frame, delegating misses to its parent.
// Resolution must be free of side effects.
type Scope interface {
	Resolve(name ast.Sym) (Loc, bool)
	Ident() string // frame identity, for diagnostics
}

// ---------------------------------------------------------------------------
// Global scope
// ---------------------------------------------------------------------------

// GlobalScope is the terminal frame.  It holds the declared global symbol
// names and resolves function names through the shared function table.
type GlobalScope struct {
	globals map[ast.Sym]bool
	funcs   *FuncTable
}

// NewGlobalScope returns an empty global frame backed by the given function
// table.
func NewGlobalScope(funcs *FuncTable) *GlobalScope {
	return &GlobalScope{globals: make(map[ast.Sym]bool), funcs: funcs}
}

// Declare marks a name as a global symbol.
func (s *GlobalScope) Declare(name ast.Sym) {
	s.globals[name] = true
}

func (s *GlobalScope) Resolve(name ast.Sym) (Loc, bool) {
	if s.globals[name] {
		return Loc{Kind: LocGlobal, Name: string(name)}, true
	}
	if s.funcs.Known(string(name)) {
		return Loc{Kind: LocFunc, Name: string(name)}, true
	}
	return Loc{}, false
}

func (s *GlobalScope) Ident() string {
	return "global scope"
}

// ---------------------------------------------------------------------------
// Function scope
// ---------------------------------------------------------------------------

// FuncScope resolves a function's arguments; argument index is the storage
// location.  Everything else delegates to the defining scope chain.
type FuncScope struct {
	fn     *Function
	parent Scope
}

// NewFuncScope wraps a function record for body compilation.
func NewFuncScope(fn *Function, parent Scope) *FuncScope {
	return &FuncScope{fn: fn, parent: parent}
}

func (s *FuncScope) Resolve(name ast.Sym) (Loc, bool) {
	for i, arg := range s.fn.Args {
		if arg == name {
			return Loc{Kind: LocArg, Index: i}, true
		}
	}
	return s.parent.Resolve(name)
}

func (s *FuncScope) Ident() string {
	return "function " + s.fn.Name
}

// ---------------------------------------------------------------------------
// Local scope
// ---------------------------------------------------------------------------

// LocalScope binds let-declared names to fresh local slots.  Slot numbers
// continue from the enclosing local frame, so nested lets share one
// contiguous region below the frame pointer.
type LocalScope struct {
	vars   map[ast.Sym]int
	base   int
	parent Scope
}

// NewLocalScope allocates a slot per declared name, in declaration order.
func NewLocalScope(parent Scope, names []ast.Sym) *LocalScope {
	base := 0
	if p, ok := parent.(*LocalScope); ok {
		base = p.base + len(p.vars)
	}
	s := &LocalScope{vars: make(map[ast.Sym]int, len(names)), base: base, parent: parent}
	for _, n := range names {
		if _, dup := s.vars[n]; !dup {
			s.vars[n] = base + len(s.vars)
		}
	}
	return s
}

func (s *LocalScope) Resolve(name ast.Sym) (Loc, bool) {
	if slot, ok := s.vars[name]; ok {
		return Loc{Kind: LocLocal, Index: slot}, true
	}
	return s.parent.Resolve(name)
}

func (s *LocalScope) Ident() string {
	return "local scope"
}

// ---------------------------------------------------------------------------
// Class scope
// ---------------------------------------------------------------------------

// VTableEntry binds one method this class implements to its global slot and
// emitted label.
type VTableEntry struct {
	Slot  int
	Label string
	Fn    *Function // nil until the defun compiles
}

// ClassScope carries a class's vtable entries and instance-variable layout.
// Instance variables are @-prefixed names; offsets are assigned in
// declaration (first-seen) order during the class body scan, so Resolve
// itself stays side-effect free.
type ClassScope struct {
	name    string
	super   string
	parent  Scope
	entries map[ast.Sym]*VTableEntry
	ivars   map[ast.Sym]int
	ivarN   int
}

// NewClassScope returns an empty class frame nested in parent.
func NewClassScope(name, super string, parent Scope) *ClassScope {
	return &ClassScope{
		name:    name,
		super:   super,
		parent:  parent,
		entries: make(map[ast.Sym]*VTableEntry),
		ivars:   make(map[ast.Sym]int),
	}
}

// Name returns the class name.
func (s *ClassScope) Name() string {
	return s.name
}

// DefineMethod registers a method this class implements against its global
// slot and mangled label.
func (s *ClassScope) DefineMethod(name ast.Sym, slot int, label string) *VTableEntry {
	e := &VTableEntry{Slot: slot, Label: label}
	s.entries[name] = e
	return e
}

// Entry returns this class's vtable entry for a method name.
func (s *ClassScope) Entry(name ast.Sym) (*VTableEntry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// DeclareIvar assigns the next word offset to an instance variable, first
// declaration wins.
func (s *ClassScope) DeclareIvar(name ast.Sym) {
	if _, ok := s.ivars[name]; ok {
		return
	}
	s.ivars[name] = s.ivarN
	s.ivarN++
}

// InstanceSize is the class's instance size in words, derived from the
// declared instance-variable count.
func (s *ClassScope) InstanceSize() int {
	return s.ivarN
}

// IsIvar reports whether a name has instance-variable shape.
func IsIvar(name ast.Sym) bool {
	return strings.HasPrefix(string(name), "@")
}

func (s *ClassScope) Resolve(name ast.Sym) (Loc, bool) {
	if off, ok := s.ivars[name]; ok {
		return Loc{Kind: LocIvar, Index: off, Name: string(name)}, true
	}
	if e, ok := s.entries[name]; ok {
		return Loc{Kind: LocFunc, Name: e.Label}, true
	}
	return s.parent.Resolve(name)
}

func (s *ClassScope) Ident() string {
	return "class " + s.name
}
