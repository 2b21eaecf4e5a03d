package emitter

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestOperandString(t *testing.T) {
	tests := []struct {
		op   Operand
		want string
	}{
		{Imm(5), "$5"},
		{Imm(-1), "$-1"},
		{R("eax"), "%eax"},
		{Mem("ebp", 8), "8(%ebp)"},
		{Mem("ebp", -4), "-4(%ebp)"},
		{Mem("esp", 0), "(%esp)"},
		{Global("foo"), "foo"},
		{Addr(".LC0"), "$.LC0"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("operand = %q, want %q", got, tt.want)
		}
	}
}

func TestAlign16(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {1, 16}, {4, 16}, {16, 16}, {17, 32}, {20, 32}, {32, 32},
	}
	for _, tt := range tests {
		if got := align16(tt.in); got != tt.want {
			t.Errorf("align16(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFuncShape(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	err := e.Func("main", false, func() error {
		e.LoadResult(Imm(0))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		".globl main",
		"main:",
		"pushl\t%ebp",
		"movl\t%esp, %ebp",
		"movl\t$0, %eax",
		"leave",
		"ret",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFuncVariadicComment(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	if err := e.Func("f", true, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "# variadic") {
		t.Errorf("missing variadic marker:\n%s", buf.String())
	}
}

func TestLocalLabels(t *testing.T) {
	e := New(&bytes.Buffer{})
	if l := e.LocalLabel(); l != ".L1" {
		t.Errorf("first label = %q", l)
	}
	if l := e.LocalLabel(); l != ".L2" {
		t.Errorf("second label = %q", l)
	}
}

func TestJmpIfZero(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.JmpIfZero(".L1")
	out := buf.String()
	if !strings.Contains(out, "testl\t%eax, %eax") || !strings.Contains(out, "je\t.L1") {
		t.Errorf("got:\n%s", out)
	}
}

func TestWithStack(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	err := e.WithStack(3, func() error {
		e.SaveResult(Mem("esp", 0))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "subl\t$16, %esp") {
		t.Errorf("3 slots should reserve 16 aligned bytes:\n%s", out)
	}
	if !strings.Contains(out, "addl\t$16, %esp") {
		t.Errorf("region not released:\n%s", out)
	}
}

func TestWithStackZeroSlots(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	if err := e.WithStack(0, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("zero slots should emit nothing, got:\n%s", buf.String())
	}
}

func TestWithStackReleasesOnError(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	boom := errors.New("boom")
	if err := e.WithStack(1, func() error { return boom }); err != boom {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(buf.String(), "addl\t$16, %esp") {
		t.Errorf("region not released on error:\n%s", buf.String())
	}
}

func TestScratchRegisters(t *testing.T) {
	e := New(&bytes.Buffer{})
	r1, err := e.AcquireReg()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := e.AcquireReg()
	if err != nil {
		t.Fatal(err)
	}
	if r1 == r2 {
		t.Fatalf("same register handed out twice: %s", r1)
	}
	if r1 == ResultReg || r2 == ResultReg {
		t.Fatal("result register must not be in the scratch pool")
	}
	e.ReleaseReg(r1)
	r3, err := e.AcquireReg()
	if err != nil {
		t.Fatal(err)
	}
	if r3 != r1 {
		t.Errorf("released register not reused: got %s, want %s", r3, r1)
	}
}

func TestScratchPoolExhaustion(t *testing.T) {
	e := New(&bytes.Buffer{})
	for i := 0; i < len(scratchPool); i++ {
		if _, err := e.AcquireReg(); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if _, err := e.AcquireReg(); err == nil {
		t.Fatal("expected exhaustion error")
	}
}

func TestWithRegisterReleases(t *testing.T) {
	e := New(&bytes.Buffer{})
	var seen Reg
	err := e.WithRegister(func(r Reg) error {
		seen = r
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.AcquireReg()
	if err != nil {
		t.Fatal(err)
	}
	if r != seen {
		t.Errorf("register %s not released by WithRegister", seen)
	}
}

func TestDataOutput(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.DataSection()
	e.DataString(".LC0", "hi\n")
	e.Bss("Foo")
	out := buf.String()
	for _, want := range []string{
		".data",
		".LC0:",
		`.asciz "hi\n"`,
		".lcomm Foo, 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", `"plain"`},
		{"a\"b", `"a\"b"`},
		{"a\\b", `"a\\b"`},
		{"tab\there", `"tab\there"`},
		{"nul\x00", `"nul\000"`},
	}
	for _, tt := range tests {
		if got := quoteString(tt.in); got != tt.want {
			t.Errorf("quoteString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	w.n++
	if w.n > 1 {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func TestStickyWriteError(t *testing.T) {
	w := &failWriter{}
	e := New(w)
	e.TextSection()
	e.Label("a")
	e.Label("b")
	e.Label("c")
	if e.Err() == nil {
		t.Fatal("write error not surfaced")
	}
	if w.n != 2 {
		t.Errorf("writes after the first error should be skipped, got %d writes", w.n)
	}
}

func TestCallForms(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.CallLabel("puts")
	e.CallReg("ebx")
	out := buf.String()
	if !strings.Contains(out, "call\tputs") {
		t.Errorf("direct call missing:\n%s", out)
	}
	if !strings.Contains(out, "call\t*%ebx") {
		t.Errorf("indirect call missing:\n%s", out)
	}
}
