// Package dumpir implements backend.CodeGen as a textual dump of the IR
// rather than a runnable realization: a backend whose only purpose is to
// make the frontend and IR layers independently testable, with no actual
// register/memory allocation. Labels render as L<n> from a monotonic
// counter, named (fixed) registers as $name, immediates as #v.
package dumpir

import (
	"fmt"
	"io"

	"github.com/jsteward/khemu/backend"
	"github.com/jsteward/khemu/ir"
)

// namedStorage is the dumpir realization of a fixed (named) Value: it
// prints as "$name" rather than allocating any real storage.
type namedStorage struct {
	ir.StorageBase
	name string
}

func (n namedStorage) String() string { return "$" + n.name }

// Block is the dumpir realization of a backend.HostBlock: nothing but a
// name, since the actual text was already written to the Backend's writer
// as each Op was dispatched.
type Block struct{ name string }

func (b *Block) Name() string { return b.name }

// Backend is a backend.CodeGen that writes one line per Op to W, in the
// original's "<mnemonic>\toperands" format (see ir.Op.String).
type Backend struct {
	W io.Writer

	labelCounter uint64
	named        map[string]*ir.Value
	blockName    string
}

var _ backend.CodeGen = (*Backend)(nil)

// New returns a Backend that writes to w.
func New(w io.Writer) *Backend {
	return &Backend{W: w, named: make(map[string]*ir.Value)}
}

func (b *Backend) MakeLabel() *ir.Value {
	v := ir.NewValue(ir.Label, false)
	v.SetStorage(ir.LabelHandle{ID: b.labelCounter})
	b.labelCounter++
	return v
}

func (b *Backend) MakeU32(v uint32) *ir.Value {
	val := ir.NewValue(ir.U32, false)
	val.SetStorage(ir.ConstU32{V: v})
	return val
}

func (b *Backend) MakeU64(v uint64) *ir.Value {
	val := ir.NewValue(ir.U64, false)
	val.SetStorage(ir.ConstU64{V: v})
	return val
}

func (b *Backend) MakeF64(v float64) *ir.Value {
	val := ir.NewValue(ir.F64, false)
	val.SetStorage(ir.ConstF64{V: v})
	return val
}

// MakeNamed returns the same *ir.Value every time it is called with the
// same name, matching the one-Value-per-fixed-register invariant the
// frontend register file relies on.
func (b *Backend) MakeNamed(name string, ty ir.ValueType) *ir.Value {
	if v, ok := b.named[name]; ok {
		return v
	}
	v := ir.NewValue(ty, true)
	v.SetStorage(namedStorage{name: name})
	b.named[name] = v
	return v
}

func (b *Backend) PushBlock(name string) {
	b.blockName = name
	fmt.Fprintf(b.W, "%s:\n", name)
}

func (b *Backend) EmitBlock(tb *ir.TranslationBlock, name string) backend.HostBlock {
	b.PushBlock(name)
	for _, op := range tb.Ops {
		b.Dispatch(op)
	}
	return &Block{name: name}
}

// Dispatch writes op's textual form; dumpir needs no per-operator
// specialization, unlike a real code generator's per-opcode lowering.
func (b *Backend) Dispatch(op *ir.Op) {
	fmt.Fprintf(b.W, "\t%s\n", op)
}

func (b *Backend) HandleTrap(cause ir.TrapOp, val uint64) {
	fmt.Fprintf(b.W, "; trap %s val=%#x\n", cause, val)
}
