package emitter

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// i386 assembly emitter
//
// Produces GAS (AT&T syntax) 32-bit x86 assembly.  The emitter exposes the
// primitive operations the compiler core needs: labels and jumps, function
// prologue/epilogue, scoped scratch-register and stack-region acquisition,
// loads/stores against the result register, arithmetic, calls, and data/bss
// section output.
//
// Convention: every expression leaves its value in the result register %eax.
// %eax is never part of the scratch pool.
// ---------------------------------------------------------------------------

// PtrSize is the width of a pointer (and of every value slot) in bytes.
const PtrSize = 4

// Reg is a named physical register.
type Reg string

// ResultReg holds the value of the most recently compiled expression.
const ResultReg Reg = "eax"

// scratchPool lists the registers handed out by WithRegister, in preference
// order.
var scratchPool = []Reg{"ebx", "ecx", "edx", "esi", "edi"}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OpKind describes what an operand refers to.
type OpKind int

const (
	OpNone    OpKind = iota
	OpImm            // integer immediate ($5)
	OpReg            // register (%eax)
	OpMem            // memory at register + offset (8(%ebp))
	OpGlobal         // memory at a named label (foo)
	OpAddr           // address of a named label ($foo)
)

// Operand is a single value reference in an emitted instruction.
type Operand struct {
	Kind   OpKind
	Imm    int64
	Reg    Reg
	Offset int64
	Name   string
}

// Convenience constructors.
func Imm(v int64) Operand { return Operand{Kind: OpImm, Imm: v} }
func R(r Reg) Operand     { return Operand{Kind: OpReg, Reg: r} }

func Mem(base Reg, off int64) Operand {
	return Operand{Kind: OpMem, Reg: base, Offset: off}
}
func Global(name string) Operand { return Operand{Kind: OpGlobal, Name: name} }
func Addr(name string) Operand   { return Operand{Kind: OpAddr, Name: name} }

func (o Operand) String() string {
	switch o.Kind {
	case OpImm:
		return fmt.Sprintf("$%d", o.Imm)
	case OpReg:
		return fmt.Sprintf("%%%s", o.Reg)
	case OpMem:
		if o.Offset == 0 {
			return fmt.Sprintf("(%%%s)", o.Reg)
		}
		return fmt.Sprintf("%d(%%%s)", o.Offset, o.Reg)
	case OpGlobal:
		return o.Name
	case OpAddr:
		return "$" + o.Name
	default:
		return "<none>"
	}
}

// ---------------------------------------------------------------------------
// Emitter
// ---------------------------------------------------------------------------

// Emitter writes assembly text.  Write errors are sticky: the first one is
// kept and every later operation becomes a no-op, so call sites only need to
// check Err at convenient boundaries.
type Emitter struct {
	w      io.Writer
	err    error
	inUse  map[Reg]bool
	labelN int
}

// New returns an Emitter writing to w.
func New(w io.Writer) *Emitter {
	return &Emitter{w: w, inUse: make(map[Reg]bool)}
}

// Err returns the first write error, if any.
func (e *Emitter) Err() error {
	return e.err
}

func (e *Emitter) raw(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format+"\n", args...)
}

func (e *Emitter) instr(format string, args ...interface{}) {
	e.raw("\t"+format, args...)
}

// Comment emits a free-text comment line.
func (e *Emitter) Comment(text string) {
	e.raw("\t# %s", text)
}

// ---------------------------------------------------------------------------
// Labels and jumps
// ---------------------------------------------------------------------------

// Label defines a label at the current position.
func (e *Emitter) Label(name string) {
	e.raw("%s:", name)
}

// LocalLabel returns a fresh local label name.
func (e *Emitter) LocalLabel() string {
	e.labelN++
	return fmt.Sprintf(".L%d", e.labelN)
}

// Jmp emits an unconditional jump.
func (e *Emitter) Jmp(label string) {
	e.instr("jmp\t%s", label)
}

// JmpIfZero tests the result register and jumps when it is zero — the
// false-branch jump used by if and while.
func (e *Emitter) JmpIfZero(label string) {
	e.instr("testl\t%%eax, %%eax")
	e.instr("je\t%s", label)
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// Func emits a function: .globl directive, label, prologue, body, epilogue.
// The variadic flag is recorded as a comment; variadic callees receive their
// trailing arguments as ordinary stack slots.
func (e *Emitter) Func(name string, variadic bool, body func() error) error {
	e.raw("")
	e.raw(".globl %s", name)
	e.Label(name)
	if variadic {
		e.Comment("variadic")
	}
	e.instr("pushl\t%%ebp")
	e.instr("movl\t%%esp, %%ebp")
	if err := body(); err != nil {
		return err
	}
	e.instr("leave")
	e.instr("ret")
	return e.err
}

// ---------------------------------------------------------------------------
// Scratch registers
//
// A construct that acquires a register must release it on every exit path.
// WithRegister guarantees that via defer; AcquireReg/ReleaseReg are the raw
// form for results whose register must outlive the acquiring construct
// (indirect results — the consumer releases).
// ---------------------------------------------------------------------------

// AcquireReg takes a free scratch register out of the pool.
func (e *Emitter) AcquireReg() (Reg, error) {
	for _, r := range scratchPool {
		if !e.inUse[r] {
			e.inUse[r] = true
			return r, nil
		}
	}
	return "", fmt.Errorf("out of scratch registers")
}

// ReleaseReg returns a register to the pool.
func (e *Emitter) ReleaseReg(r Reg) {
	delete(e.inUse, r)
}

// WithRegister runs body with a scratch register, releasing it on every
// exit path.
func (e *Emitter) WithRegister(body func(Reg) error) error {
	r, err := e.AcquireReg()
	if err != nil {
		return err
	}
	defer e.ReleaseReg(r)
	return body(r)
}

// ---------------------------------------------------------------------------
// Stack regions
// ---------------------------------------------------------------------------

// align16 rounds a byte count up to the 16-byte stack alignment.
func align16(n int) int {
	if n%16 != 0 {
		n += 16 - n%16
	}
	return n
}

// WithStack reserves an argument region of the given slot count for the
// duration of body, releasing it on every exit path.  Slot i is addressed
// as i*PtrSize(%esp).
func (e *Emitter) WithStack(slots int, body func() error) error {
	bytes := align16(slots * PtrSize)
	if bytes == 0 {
		return body()
	}
	e.instr("subl\t$%d, %%esp", bytes)
	defer e.instr("addl\t$%d, %%esp", bytes)
	return body()
}

// WithLocals reserves a contiguous local-variable region of the given slot
// count.  Locals stay addressable relative to %ebp, so the region only needs
// to move %esp below them.
func (e *Emitter) WithLocals(slots int, body func() error) error {
	return e.WithStack(slots, body)
}

// ---------------------------------------------------------------------------
// Data movement and arithmetic
// ---------------------------------------------------------------------------

// Move emits movl src, dst.
func (e *Emitter) Move(src, dst Operand) {
	e.instr("movl\t%s, %s", src, dst)
}

// LoadResult loads an operand into the result register.
func (e *Emitter) LoadResult(src Operand) {
	e.Move(src, R(ResultReg))
}

// SaveResult stores the result register into an operand.
func (e *Emitter) SaveResult(dst Operand) {
	e.Move(R(ResultReg), dst)
}

// LoadIndirect loads through the address held in reg into the result
// register.
func (e *Emitter) LoadIndirect(reg Reg) {
	e.Move(Mem(reg, 0), R(ResultReg))
}

// StoreIndirect stores the result register through the address held in reg.
func (e *Emitter) StoreIndirect(reg Reg) {
	e.Move(R(ResultReg), Mem(reg, 0))
}

// AddToReg emits addl %eax, %reg.
func (e *Emitter) AddToReg(dst Reg) {
	e.instr("addl\t%%eax, %%%s", dst)
}

// MulResult multiplies the result register by an immediate.
func (e *Emitter) MulResult(n int64) {
	e.instr("imull\t$%d, %%eax", n)
}

// ShlResult shifts the result register left by n bits.
func (e *Emitter) ShlResult(n int) {
	e.instr("sall\t$%d, %%eax", n)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// CallLabel calls a named function.
func (e *Emitter) CallLabel(name string) {
	e.instr("call\t%s", name)
}

// CallReg calls through the address held in a register.
func (e *Emitter) CallReg(reg Reg) {
	e.instr("call\t*%%%s", reg)
}

// ---------------------------------------------------------------------------
// Sections and data
// ---------------------------------------------------------------------------

// TextSection switches to the text section.
func (e *Emitter) TextSection() {
	e.raw(".text")
}

// DataSection switches to the data section.
func (e *Emitter) DataSection() {
	e.raw("")
	e.raw(".data")
}

// DataString emits a labelled, NUL-terminated string constant.
func (e *Emitter) DataString(label, value string) {
	e.Label(label)
	e.instr(".asciz %s", quoteString(value))
}

// Bss reserves one pointer-sized uninitialised slot for a global constant.
func (e *Emitter) Bss(label string) {
	e.raw(".lcomm %s, %d", label, PtrSize)
}

// quoteString renders a Go string as a GAS double-quoted literal.
func quoteString(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			out = append(out, '\\', c)
		case c == '\n':
			out = append(out, '\\', 'n')
		case c == '\t':
			out = append(out, '\\', 't')
		case c < 0x20 || c >= 0x7f:
			out = append(out, []byte(fmt.Sprintf("\\%03o", c))...)
		default:
			out = append(out, c)
		}
	}
	out = append(out, '"')
	return string(out)
}
