package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Constant pool
//
// Deduplicates string literals and collects the global constant names (class
// names) that need uninitialised-data storage.  Insertion order is preserved
// so output is deterministic.
// ---------------------------------------------------------------------------

// StringConst is one deduplicated string literal.
type StringConst struct {
	Label string
	Value string
}

// ConstantPool owns the data-section contents of one compilation run.
type ConstantPool struct {
	labels    map[string]string // value → label
	strings   []StringConst
	globals   []string
	globalSet map[string]bool
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{
		labels:    make(map[string]string),
		globalSet: make(map[string]bool),
	}
}

// InternString returns the data label for a string literal, allocating one on
// first occurrence.  Identical literals share a label.
func (p *ConstantPool) InternString(value string) string {
	if label, ok := p.labels[value]; ok {
		return label
	}
	label := fmt.Sprintf(".LC%d", len(p.strings))
	p.labels[value] = label
	p.strings = append(p.strings, StringConst{Label: label, Value: value})
	return label
}

// AddGlobal records a global constant name needing a bss slot.
func (p *ConstantPool) AddGlobal(name string) {
	if p.globalSet[name] {
		return
	}
	p.globalSet[name] = true
	p.globals = append(p.globals, name)
}

// Strings returns the interned literals in insertion order.
func (p *ConstantPool) Strings() []StringConst {
	return p.strings
}

// Globals returns the global constant names in insertion order.
func (p *ConstantPool) Globals() []string {
	return p.globals
}

// Empty reports whether the pool has nothing to emit.
func (p *ConstantPool) Empty() bool {
	return len(p.strings) == 0 && len(p.globals) == 0
}
