// Package backend defines the contract every code generator (a "CodeGen")
// implements: a value-factory surface used while building IR, and a single
// Dispatch method, called once per Op, used while lowering a finished
// TranslationBlock to a HostBlock. See backend/dumpir for a trivial textual
// realization and backend/jit for the real host-native one.
package backend

import "github.com/jsteward/khemu/ir"

// HostBlock is an emitted, runnable (or, for backend/dumpir, merely
// printable) realization of one TranslationBlock.
type HostBlock interface {
	// Name is the name this block was emitted under (EmitBlock's name
	// argument); the dispatch loop caches blocks by start PC, not by name.
	Name() string
}

// TrapFunc is the runtime-provided handler for a guest trap: trap cause
// and the associated value, two word-sized integers. The backend delivers
// every (cause, val) pair an emitted block reports through its trap ABI
// to this function via HandleTrap.
type TrapFunc func(cause ir.TrapOp, val uint64)

// ValueFactory is the value-allocation surface of a CodeGen, usable by the
// frontend (for fixed registers) and directly by tests.
type ValueFactory interface {
	// MakeLabel allocates a fresh Label Value.
	MakeLabel() *ir.Value
	// MakeU32 allocates a U32 constant Value.
	MakeU32(v uint32) *ir.Value
	// MakeU64 allocates a U64 constant Value.
	MakeU64(v uint64) *ir.Value
	// MakeF64 allocates an F64 constant Value.
	MakeF64(v float64) *ir.Value
	// MakeNamed allocates a Fixed Value bound to a backend global known by
	// name (a guest register, flag, or PC). Calling MakeNamed twice with
	// the same name returns the same Value.
	MakeNamed(name string, ty ir.ValueType) *ir.Value
}

// CodeGen is the backend contract: a single Dispatch method that lowers one
// Op (each backend switches on the Op's Opcode), plus block/lifecycle
// management. There are no per-operator hook methods and no shared default
// implementation; each backend's Dispatch sets its own coverage.
// backend/jit's Dispatch panics on an opcode it has no lowering for;
// backend/dumpir's prints every Op.
type CodeGen interface {
	ValueFactory

	// PushBlock begins a new emission unit named name.
	PushBlock(name string)

	// EmitBlock lowers every Op of tb in order and finalizes the block,
	// returning the resulting HostBlock.
	EmitBlock(tb *ir.TranslationBlock, name string) HostBlock

	// HandleTrap is invoked synchronously when a guest trap arrives. A
	// real backend flushes any cached fixed-register realizations to
	// their canonical global storage before the caller's trap handler
	// observes guest state.
	HandleTrap(cause ir.TrapOp, val uint64)

	// Dispatch lowers a single Op. Called by EmitBlock once per Op, in TB
	// order; exposed so tests can drive individual Ops without
	// constructing a whole TB.
	Dispatch(op *ir.Op)
}

// Runnable is implemented by backends whose HostBlock is directly
// executable on the host (backend/jit); backend/dumpir's textual blocks
// satisfy CodeGen for testing but are not Runnable, so the dispatch loop
// type-asserts for this before it ever tries to run a block.
type Runnable interface {
	// Run executes blk to completion and returns the trap it exited
	// through, exactly once per call (every HostBlock ends at a Trap).
	Run(blk HostBlock) (ir.TrapOp, uint64)
}
