package compiler

import (
	"fmt"
	"io"
	"os"

	"rattle/internal/ast"
	"rattle/internal/emitter"
)

// ---------------------------------------------------------------------------
// Compiler — lowers the tagged-tuple AST into emitter primitives
//
// Single-threaded, single-pass, synchronous recursive descent.  All mutable
// state (function table, constant pool, vtable map, atom interning, last
// known source position) lives on one Compiler value owned by one
// compilation run.
// ---------------------------------------------------------------------------

// Options configures a compilation run.
type Options struct {
	// Output receives the emitted assembly.
	Output io.Writer

	// Diag receives warnings and the vtable overhead report.
	// Defaults to os.Stderr.
	Diag io.Writer
}

// Compiler is the compilation context.
type Compiler struct {
	e      *emitter.Emitter
	vtable *VTable
	pool   *ConstantPool
	funcs  *FuncTable
	global *GlobalScope
	diag   io.Writer

	atoms   map[ast.Atom]int64
	lastPos *ast.Position // best-available position for diagnostics
	lambdaN int
}

// New returns a Compiler for one run.
func New(opts *Options) *Compiler {
	diag := opts.Diag
	if diag == nil {
		diag = os.Stderr
	}
	funcs := NewFuncTable()
	return &Compiler{
		e:      emitter.New(opts.Output),
		vtable: NewVTable(),
		pool:   NewConstantPool(),
		funcs:  funcs,
		global: NewGlobalScope(funcs),
		diag:   diag,
		atoms:  make(map[ast.Atom]int64),
	}
}

// Compile runs the full pipeline on one program: vtable pre-pass, the
// top-level body inside an implicit main function, every queued function
// body, then the accumulated constant pool.
func Compile(prog ast.Value, opts *Options) error {
	c := New(opts)

	// Slot numbers must be known before any method body or call site
	// compiles.
	c.vtable.Allocate(prog)
	for _, name := range c.vtable.MethodNames() {
		c.funcs.MarkKnown(string(name))
	}
	c.vtable.Report(c.diag)

	c.e.TextSection()
	err := c.e.Func("main", false, func() error {
		res, err := c.compile(c.global, prog)
		c.discard(res)
		return err
	})
	if err != nil {
		return err
	}
	if err := c.outputFunctions(); err != nil {
		return err
	}
	c.outputConstants()
	return c.e.Err()
}

// ---------------------------------------------------------------------------
// Result descriptors
// ---------------------------------------------------------------------------

// ResultKind says where a compiled expression's value lives.
type ResultKind int

const (
	// ResultNone: statement-only, or the value is already in the result
	// register.
	ResultNone ResultKind = iota
	// ResultIndirect: the value sits at the address held in Reg.  The
	// consumer loads through it and releases the register.
	ResultIndirect
	// ResultAddr: the value is the address of the named function/label.
	ResultAddr
	// ResultGlobal: the value is the named global object.
	ResultGlobal
)

// Result describes a compiled expression's value to the enclosing construct.
type Result struct {
	Kind ResultKind
	Reg  emitter.Reg
	Name string
}

var noValue = Result{}

// discard drops an unused result, releasing any register it holds.
func (c *Compiler) discard(res Result) {
	if res.Kind == ResultIndirect {
		c.e.ReleaseReg(res.Reg)
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// compile generates code for one value and returns its result descriptor.
func (c *Compiler) compile(scope Scope, v ast.Value) (Result, error) {
	switch x := v.(type) {
	case nil:
		return noValue, nil
	case *ast.Node:
		if x == nil {
			return noValue, nil
		}
		if x.Pos != nil {
			c.lastPos = x.Pos
		}
		return c.compileNode(scope, x)
	default:
		// A bare atom in statement position: evaluate it for uniformity.
		if err := c.evalArg(scope, v); err != nil {
			return noValue, err
		}
		return noValue, nil
	}
}

func (c *Compiler) compileNode(scope Scope, n *ast.Node) (Result, error) {
	switch n.Tag {
	case ast.TagNone:
		if len(n.Elems) == 0 {
			return noValue, nil
		}
		// Implicit call: head is the callee, the rest are arguments.
		return c.compileCall(scope, n.Elems[0], n.Elems[1:])
	case ast.TagDo:
		return c.compileBlock(scope, n.Elems)
	case ast.TagClass:
		return c.compileClass(scope, n)
	case ast.TagDefun:
		return c.compileDefun(scope, n)
	case ast.TagIf:
		return c.compileIf(scope, n)
	case ast.TagLambda:
		return c.compileLambda(scope, n)
	case ast.TagAssign:
		return c.compileAssign(scope, n)
	case ast.TagWhile:
		return c.compileWhile(scope, n)
	case ast.TagIndex:
		return c.compileIndex(scope, n)
	case ast.TagLet:
		return c.compileLet(scope, n)
	case ast.TagCase:
		return noValue, c.errf(ErrNotImplemented, n, scope, "no code generator for case/when")
	case ast.TagCall:
		if len(n.Elems) < 1 {
			return noValue, c.errf(ErrNotImplemented, n, scope, "call without a callee")
		}
		var args []ast.Value
		if len(n.Elems) > 1 {
			args = ast.List(n.Elems[1])
		}
		return c.compileCall(scope, n.Elems[0], args)
	case ast.TagCallm:
		return c.compileCallmNode(scope, n)
	case ast.TagRequire:
		// Requires left unexpanded compile as an ordinary runtime call.
		return c.compileCall(scope, ast.Sym("require"), n.Elems)
	default:
		return noValue, c.errf(ErrNotImplemented, n, scope, "no code generator for %s", n.Tag)
	}
}

// ---------------------------------------------------------------------------
// Name and literal resolution
// ---------------------------------------------------------------------------

// resolve runs a name through the scope chain.
func (c *Compiler) resolve(scope Scope, name ast.Sym) (Loc, error) {
	if loc, ok := scope.Resolve(name); ok {
		return loc, nil
	}
	return Loc{}, c.errf(ErrUnresolvedName, name, scope, "not found in any enclosing scope")
}

// intern maps an atom to its opaque stable integer identifier.
func (c *Compiler) intern(a ast.Atom) int64 {
	if id, ok := c.atoms[a]; ok {
		return id
	}
	id := int64(len(c.atoms) + 1)
	c.atoms[a] = id
	return id
}

func argMem(i int) emitter.Operand {
	return emitter.Mem("ebp", int64((i+2)*emitter.PtrSize))
}

func localMem(slot int) emitter.Operand {
	return emitter.Mem("ebp", -int64((slot+1)*emitter.PtrSize))
}

// evalArg makes sure a value ends up in the result register.
func (c *Compiler) evalArg(scope Scope, v ast.Value) error {
	switch x := v.(type) {
	case nil:
		return nil
	case ast.Sym:
		loc, err := c.resolve(scope, x)
		if err != nil {
			return err
		}
		return c.loadLoc(scope, loc)
	case ast.Atom:
		c.e.LoadResult(emitter.Imm(c.intern(x)))
		return nil
	case ast.Int:
		c.e.LoadResult(emitter.Imm(int64(x)))
		return nil
	case ast.Str:
		label := c.pool.InternString(string(x))
		c.e.LoadResult(emitter.Addr(label))
		return nil
	case *ast.Node:
		res, err := c.compile(scope, x)
		if err != nil {
			c.discard(res)
			return err
		}
		switch res.Kind {
		case ResultIndirect:
			c.e.LoadIndirect(res.Reg)
			c.e.ReleaseReg(res.Reg)
		case ResultAddr:
			c.e.LoadResult(emitter.Addr(res.Name))
		case ResultGlobal:
			c.e.LoadResult(emitter.Global(res.Name))
		}
		return nil
	default:
		return c.errf(ErrNotImplemented, v, scope, "cannot evaluate %T", v)
	}
}

// loadLoc loads a resolved location into the result register.
func (c *Compiler) loadLoc(scope Scope, loc Loc) error {
	switch loc.Kind {
	case LocArg:
		c.e.LoadResult(argMem(loc.Index))
	case LocLocal:
		c.e.LoadResult(localMem(loc.Index))
	case LocGlobal:
		c.e.LoadResult(emitter.Global(loc.Name))
	case LocFunc:
		c.e.LoadResult(emitter.Addr(loc.Name))
	case LocIvar:
		// Instance variables live in the receiver's storage.
		self, err := c.resolve(scope, "self")
		if err != nil {
			return err
		}
		c.e.LoadResult(argMem(self.Index))
		c.e.LoadResult(emitter.Mem(emitter.ResultReg, int64(loc.Index*emitter.PtrSize)))
	}
	return nil
}

// storeLoc stores the result register into a resolved location.
func (c *Compiler) storeLoc(scope Scope, loc Loc) error {
	switch loc.Kind {
	case LocArg:
		c.e.SaveResult(argMem(loc.Index))
	case LocLocal:
		c.e.SaveResult(localMem(loc.Index))
	case LocGlobal:
		c.e.SaveResult(emitter.Global(loc.Name))
	case LocIvar:
		self, err := c.resolve(scope, "self")
		if err != nil {
			return err
		}
		return c.e.WithRegister(func(reg emitter.Reg) error {
			c.e.Move(argMem(self.Index), emitter.R(reg))
			c.e.SaveResult(emitter.Mem(reg, int64(loc.Index*emitter.PtrSize)))
			return nil
		})
	default:
		return c.errf(ErrInvalidAssignmentTarget, nil, scope, "%q is not a storable location", loc.Name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statement-like constructs
// ---------------------------------------------------------------------------

// compileBlock evaluates expressions in sequence, discarding every value.
func (c *Compiler) compileBlock(scope Scope, exprs []ast.Value) (Result, error) {
	for _, e := range exprs {
		res, err := c.compile(scope, e)
		c.discard(res)
		if err != nil {
			return noValue, err
		}
	}
	return noValue, nil
}

func (c *Compiler) compileIf(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) < 2 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "if needs a condition and a then arm")
	}
	cond, then := n.Elems[0], n.Elems[1]
	var elseArm ast.Value
	if len(n.Elems) > 2 {
		elseArm = n.Elems[2]
	}

	if err := c.evalArg(scope, cond); err != nil {
		return noValue, err
	}
	elseLabel := c.e.LocalLabel()
	c.e.JmpIfZero(elseLabel)

	res, err := c.compile(scope, then)
	c.discard(res)
	if err != nil {
		return noValue, err
	}

	if ast.IsEmpty(elseArm) {
		c.e.Label(elseLabel)
		return noValue, nil
	}
	endLabel := c.e.LocalLabel()
	c.e.Jmp(endLabel)
	c.e.Label(elseLabel)
	res, err = c.compile(scope, elseArm)
	c.discard(res)
	if err != nil {
		return noValue, err
	}
	c.e.Label(endLabel)
	return noValue, nil
}

func (c *Compiler) compileWhile(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) < 2 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "while needs a condition and a body")
	}
	loopLabel := c.e.LocalLabel()
	endLabel := c.e.LocalLabel()

	c.e.Label(loopLabel)
	if err := c.evalArg(scope, n.Elems[0]); err != nil {
		return noValue, err
	}
	c.e.JmpIfZero(endLabel)
	if _, err := c.compileBlock(scope, n.Elems[1:]); err != nil {
		return noValue, err
	}
	c.e.Jmp(loopLabel)
	c.e.Label(endLabel)
	return noValue, nil
}

func (c *Compiler) compileLet(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) < 1 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "let needs a variable list")
	}
	var names []ast.Sym
	for _, v := range ast.List(n.Elems[0]) {
		if name, ok := v.(ast.Sym); ok {
			names = append(names, name)
		}
	}
	ls := NewLocalScope(scope, names)
	err := c.e.WithLocals(len(names), func() error {
		_, err := c.compileBlock(ls, n.Elems[1:])
		return err
	})
	return noValue, err
}

func (c *Compiler) compileAssign(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) != 2 {
		return noValue, c.errf(ErrInvalidAssignmentTarget, n, scope, "assign needs a target and a value")
	}
	lhs, rhs := n.Elems[0], n.Elems[1]

	if ln, ok := lhs.(*ast.Node); ok && ln != nil {
		switch ln.Tag {
		case ast.TagCallm:
			// obj.attr = v rewrites to the setter call obj.attr=(v).
			if len(ln.Elems) >= 2 && callmArgsEmpty(ln) {
				method, ok := ln.Elems[1].(ast.Sym)
				if !ok {
					break
				}
				return c.compileCallm(scope, ln.Elems[0], method+"=", []ast.Value{rhs})
			}
		case ast.TagIndex:
			res, err := c.compileIndex(scope, ln)
			if err != nil {
				return noValue, err
			}
			if err := c.evalArg(scope, rhs); err != nil {
				c.discard(res)
				return noValue, err
			}
			c.e.StoreIndirect(res.Reg)
			c.e.ReleaseReg(res.Reg)
			return noValue, nil
		}
	}

	name, ok := lhs.(ast.Sym)
	if !ok {
		return noValue, c.errf(ErrInvalidAssignmentTarget, n, scope,
			"cannot store into %s", ast.ExprString(lhs))
	}
	if err := c.evalArg(scope, rhs); err != nil {
		return noValue, err
	}
	loc, err := c.resolve(scope, name)
	if err != nil {
		return noValue, err
	}
	if loc.Kind == LocFunc {
		return noValue, c.errf(ErrInvalidAssignmentTarget, n, scope,
			"cannot store into function %q", loc.Name)
	}
	return noValue, c.storeLoc(scope, loc)
}

// callmArgsEmpty reports whether a callm node carries no arguments.
func callmArgsEmpty(n *ast.Node) bool {
	if len(n.Elems) < 3 {
		return true
	}
	return len(ast.List(n.Elems[2])) == 0
}

func (c *Compiler) compileIndex(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) != 2 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "index needs a base and an index")
	}
	if err := c.evalArg(scope, n.Elems[0]); err != nil {
		return noValue, err
	}
	reg, err := c.e.AcquireReg()
	if err != nil {
		return noValue, err
	}
	c.e.Move(emitter.R(emitter.ResultReg), emitter.R(reg))
	if err := c.evalArg(scope, n.Elems[1]); err != nil {
		c.e.ReleaseReg(reg)
		return noValue, err
	}
	// Scale the index by the element size (pointer width).
	c.e.ShlResult(2)
	c.e.AddToReg(reg)
	return Result{Kind: ResultIndirect, Reg: reg}, nil
}

// ---------------------------------------------------------------------------
// Functions, lambdas, classes
// ---------------------------------------------------------------------------

func (c *Compiler) compileDefun(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) < 2 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "defun needs a name and an argument list")
	}
	name, ok := n.Elems[0].(ast.Sym)
	if !ok {
		return noValue, c.errf(ErrNotImplemented, n, scope,
			"function name must be a symbol, got %s", ast.ExprString(n.Elems[0]))
	}
	return c.defineFunction(scope, name, n.Elems[1], n.Elems[2:])
}

func (c *Compiler) compileLambda(scope Scope, n *ast.Node) (Result, error) {
	c.lambdaN++
	name := ast.Sym(fmt.Sprintf("__lambda_%d", c.lambdaN))
	var args ast.Value
	var body []ast.Value
	if len(n.Elems) > 0 {
		args = n.Elems[0]
		body = n.Elems[1:]
	}
	return c.defineFunction(scope, name, args, body)
}

// defineFunction registers a function record and, for methods, emits the
// vtable-slot store.  Bodies compile later, at output time.
func (c *Compiler) defineFunction(scope Scope, name ast.Sym, argsVal ast.Value, body []ast.Value) (Result, error) {
	args, rest := parseArgs(argsVal)

	cscope, inClass := scope.(*ClassScope)
	var entry *VTableEntry
	if inClass {
		entry, _ = cscope.Entry(name)
	}
	if entry == nil {
		// Free function (or lambda): unmangled, compiled against the global
		// chain.
		fn := &Function{Name: string(name), Args: args, Rest: rest, Body: body, encl: c.global}
		c.funcs.Register(fn)
		return Result{Kind: ResultAddr, Name: fn.Name}, nil
	}

	// Method: implicit receiver argument, mangled name, body resolving
	// through the class chain.
	fn := &Function{
		Name: entry.Label,
		Args: append([]ast.Sym{"self"}, args...),
		Rest: rest,
		Body: body,
		encl: cscope,
	}
	entry.Fn = fn
	c.funcs.Register(fn)

	// Write the method address into the class object's dispatch slot.  Slot
	// 0 is the base address itself, so the displacement disappears there.
	err := c.e.WithRegister(func(reg emitter.Reg) error {
		c.e.Move(emitter.Global(cscope.Name()), emitter.R(reg))
		c.e.Move(emitter.Addr(entry.Label),
			emitter.Mem(reg, int64(entry.Slot*emitter.PtrSize)))
		return nil
	})
	if err != nil {
		return noValue, err
	}
	return Result{Kind: ResultAddr, Name: entry.Label}, nil
}

func (c *Compiler) compileClass(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) < 1 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "class needs a name")
	}
	name, ok := n.Elems[0].(ast.Sym)
	if !ok {
		return noValue, c.errf(ErrNotImplemented, n, scope,
			"class name must be a symbol, got %s", ast.ExprString(n.Elems[0]))
	}

	// An absent superclass means the universal root class.
	super := "Object"
	rest := n.Elems[1:]
	if len(rest) > 0 {
		if s, ok := rest[0].(ast.Sym); ok {
			super = string(s)
			rest = rest[1:]
		}
	}
	body := flattenClassBody(rest)

	cscope := NewClassScope(string(name), super, scope)

	// Bind this class's method names to their already-allocated global
	// slots, and fix the instance-variable layout, before any body
	// expression compiles.
	for _, expr := range body {
		dn, ok := expr.(*ast.Node)
		if !ok || dn == nil || dn.Tag != ast.TagDefun || len(dn.Elems) == 0 {
			continue
		}
		mname, ok := dn.Elems[0].(ast.Sym)
		if !ok {
			continue
		}
		slot := c.vtable.Alloc(mname)
		cscope.DefineMethod(mname, slot, mangleMethodName(string(name), mname))
	}
	scanIvars(cscope, body)

	// Allocate the class object, sized to the dispatch-table width.
	c.e.Comment(fmt.Sprintf("class %s < %s", name, super))
	size := c.vtable.Size()
	err := c.e.WithStack(1, func() error {
		c.e.LoadResult(emitter.Imm(int64(size)))
		c.e.SaveResult(emitter.Mem("esp", 0))
		c.e.CallLabel("__new_class_object")
		return nil
	})
	if err != nil {
		return noValue, err
	}

	// Bind the class name and record the instance size.
	c.global.Declare(name)
	c.pool.AddGlobal(string(name))
	c.e.SaveResult(emitter.Global(string(name)))
	c.e.Comment(fmt.Sprintf("%s: instance size %d", name, cscope.InstanceSize()))

	if _, err := c.compileBlock(cscope, body); err != nil {
		return noValue, err
	}
	return Result{Kind: ResultGlobal, Name: string(name)}, nil
}

// flattenClassBody accepts both class body shapes: a single list of
// expressions, or the expressions given directly.
func flattenClassBody(elems []ast.Value) []ast.Value {
	var body []ast.Value
	for _, e := range elems {
		if n, ok := e.(*ast.Node); ok && n != nil && n.Tag == ast.TagNone && isNodeList(n.Elems) {
			body = append(body, n.Elems...)
			continue
		}
		body = append(body, e)
	}
	return body
}

func isNodeList(elems []ast.Value) bool {
	if len(elems) == 0 {
		return false
	}
	for _, e := range elems {
		if _, ok := e.(*ast.Node); !ok {
			return false
		}
	}
	return true
}

// scanIvars walks the class body and declares every @-name in first-seen
// order, fixing each instance variable's offset before bodies compile.
func scanIvars(cscope *ClassScope, v interface{}) {
	switch x := v.(type) {
	case ast.Sym:
		if IsIvar(x) {
			cscope.DeclareIvar(x)
		}
	case *ast.Node:
		if x == nil {
			return
		}
		for _, e := range x.Elems {
			scanIvars(cscope, e)
		}
	case []ast.Value:
		for _, e := range x {
			scanIvars(cscope, e)
		}
	}
}

// ---------------------------------------------------------------------------
// Deferred output
// ---------------------------------------------------------------------------

// outputFunctions compiles every queued function body.  Compiling a body may
// queue more functions (nested defuns, lambdas), so the queue is drained by
// index.
func (c *Compiler) outputFunctions() error {
	for i := 0; i < len(c.funcs.order); i++ {
		fn := c.funcs.funcs[c.funcs.order[i]]
		fscope := NewFuncScope(fn, fn.encl)
		err := c.e.Func(fn.Name, fn.Rest, func() error {
			_, err := c.compileBlock(fscope, fn.Body)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// outputConstants emits the deduplicated string literals and one bss slot
// per global constant.
func (c *Compiler) outputConstants() {
	if c.pool.Empty() {
		return
	}
	c.e.DataSection()
	for _, s := range c.pool.Strings() {
		c.e.DataString(s.Label, s.Value)
	}
	for _, g := range c.pool.Globals() {
		c.e.Bss(g)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// errf builds a fatal error with the best-available source position.
func (c *Compiler) errf(kind ErrKind, expr ast.Value, scope Scope, format string, args ...interface{}) *Error {
	pos := c.lastPos
	if n, ok := expr.(*ast.Node); ok && n != nil && n.Pos != nil {
		pos = n.Pos
	}
	ident := ""
	if scope != nil {
		ident = scope.Ident()
	}
	return &Error{
		Kind:  kind,
		Msg:   fmt.Sprintf(format, args...),
		Expr:  expr,
		Scope: ident,
		Pos:   pos,
	}
}

// warnf prints a non-fatal warning to the diagnostic stream.
func (c *Compiler) warnf(format string, args ...interface{}) {
	if c.lastPos != nil {
		fmt.Fprintf(c.diag, "line %d, col %d: warning: %s\n",
			c.lastPos.Line, c.lastPos.Column, fmt.Sprintf(format, args...))
		return
	}
	fmt.Fprintf(c.diag, "warning: %s\n", fmt.Sprintf(format, args...))
}
