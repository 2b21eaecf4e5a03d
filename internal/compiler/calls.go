package compiler

import (
	"rattle/internal/ast"
	"rattle/internal/emitter"
)

// ---------------------------------------------------------------------------
// Call and method-call compilation
//
// Arguments travel on the stack: a call reserves an argument region, fills
// slot i with argument i, and invokes the callee.  Method calls prepend the
// receiver as the implicit argument in slot 0 and dispatch through the
// receiver's vtable.  A method name the allocator never saw degrades to the
// dynamic-send protocol instead of failing.
// ---------------------------------------------------------------------------

// CallTarget is the compile-time resolution of a method call site: a known
// dispatch slot, or a dynamic send carrying the interned method name.
type CallTarget struct {
	kind callTargetKind
	Slot int
	Name ast.Sym
}

type callTargetKind int

const (
	callStatic callTargetKind = iota
	callDynamic
)

// Static reports whether the call site resolved to a fixed slot.
func (t CallTarget) Static() bool {
	return t.kind == callStatic
}

// methodTarget resolves a method name against the global vtable numbering.
func (c *Compiler) methodTarget(method ast.Sym) CallTarget {
	if slot, ok := c.vtable.Slot(method); ok {
		return CallTarget{kind: callStatic, Slot: slot, Name: method}
	}
	return CallTarget{kind: callDynamic, Name: method}
}

// ---------------------------------------------------------------------------
// Plain calls
// ---------------------------------------------------------------------------

// compileCall compiles a call to a function or callable value.  Arguments
// are evaluated left to right into a freshly reserved argument region.
func (c *Compiler) compileCall(scope Scope, callee ast.Value, args []ast.Value) (Result, error) {
	err := c.e.WithStack(len(args), func() error {
		for i, a := range args {
			if err := c.evalArg(scope, a); err != nil {
				return err
			}
			c.e.SaveResult(emitter.Mem("esp", int64(i*emitter.PtrSize)))
		}
		if name, ok := callee.(ast.Sym); ok {
			loc, err := c.resolve(scope, name)
			if err != nil {
				return err
			}
			if loc.Kind == LocFunc {
				c.e.CallLabel(loc.Name)
				return nil
			}
			if err := c.loadLoc(scope, loc); err != nil {
				return err
			}
			c.e.CallReg(emitter.ResultReg)
			return nil
		}
		if err := c.evalArg(scope, callee); err != nil {
			return err
		}
		c.e.CallReg(emitter.ResultReg)
		return nil
	})
	return noValue, err
}

// ---------------------------------------------------------------------------
// Method calls
// ---------------------------------------------------------------------------

func (c *Compiler) compileCallmNode(scope Scope, n *ast.Node) (Result, error) {
	if len(n.Elems) < 2 {
		return noValue, c.errf(ErrNotImplemented, n, scope, "callm needs a receiver and a method")
	}
	method, ok := n.Elems[1].(ast.Sym)
	if !ok {
		return noValue, c.errf(ErrNotImplemented, n, scope,
			"method name must be a symbol, got %s", ast.ExprString(n.Elems[1]))
	}
	var args []ast.Value
	if len(n.Elems) > 2 {
		args = ast.List(n.Elems[2])
	}
	return c.compileCallm(scope, n.Elems[0], method, args)
}

// compileCallm compiles receiver.method(args...).  The receiver occupies
// argument slot 0; explicit arguments follow.
func (c *Compiler) compileCallm(scope Scope, recv ast.Value, method ast.Sym, args []ast.Value) (Result, error) {
	target := c.methodTarget(method)
	slot := target.Slot
	if !target.Static() {
		// Dynamic-send fallback: box the interned method name as the first
		// argument and dispatch through the universal __send__ slot.  Not an
		// error — the receiver may resolve it at runtime.
		c.warnf("no vtable slot for method %q, falling back to %s", string(method), SendMethod)
		args = append([]ast.Value{ast.Atom(method)}, args...)
		slot, _ = c.vtable.Slot(SendMethod)
	}

	err := c.e.WithStack(len(args)+1, func() error {
		if err := c.evalArg(scope, recv); err != nil {
			return err
		}
		c.e.SaveResult(emitter.Mem("esp", 0))
		for i, a := range args {
			if err := c.evalArg(scope, a); err != nil {
				return err
			}
			c.e.SaveResult(emitter.Mem("esp", int64((i+1)*emitter.PtrSize)))
		}
		return c.e.WithRegister(func(reg emitter.Reg) error {
			// receiver → vtable base → slot → call
			c.e.Move(emitter.Mem("esp", 0), emitter.R(reg))
			c.e.Move(emitter.Mem(reg, 0), emitter.R(reg))
			c.e.Move(emitter.Mem(reg, int64(slot*emitter.PtrSize)), emitter.R(reg))
			c.e.CallReg(reg)
			return nil
		})
	})
	return noValue, err
}
