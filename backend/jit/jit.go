// Package jit implements backend.CodeGen as a real host code generator:
// every IR Op is lowered to amd64 machine code via golang-asm's obj.Prog
// builder (github.com/twitchyliquid64/golang-asm). There is only one host
// architecture to target, so the obj.Prog/Builder API is driven directly
// rather than through a multi-arch assembler abstraction.
//
// Fixed guest registers are the only thing given first-class "global
// storage" status; there is no register allocator. Every IR Value, fixed
// or temporary, is realized as a slot in a per-block native stack frame;
// fixed registers additionally know the absolute address of their
// canonical backing cell, cache-fill from it on first read and flush back
// on block end or on any trap call, so the runtime always observes
// up-to-date guest state across a trap boundary.
package jit

import (
	"fmt"
	"sync"
	"unsafe"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/jsteward/khemu/backend"
	"github.com/jsteward/khemu/ir"
)

// GuestMem is the address-space surface the JIT backend needs to compute
// load/store addresses: guest_vm_base + addr.
// runtime.GuestVM implements this; kept as a narrow interface here so jit
// never imports runtime (runtime is what wires frontend + arm64 + backend
// + jit together).
type GuestMem interface {
	// Base returns the host address the guest address space starts at.
	Base() uintptr
}

// globalSlot is the canonical Go-side storage for one fixed (named) Value:
// MakeNamed allocates one of these, and its address is what generated code
// loads/stores through directly (a compile-time constant baked into each
// MOVQ as it is emitted).
type globalSlot struct {
	name string
	ty   ir.ValueType
	bits uint64 // raw bit pattern; F64 globals carry math.Float64bits(x)
}

func (g *globalSlot) addr() uintptr { return uintptr(unsafe.Pointer(g)) + unsafe.Offsetof(g.bits) }

// namedStorage is the jit realization of a Fixed Value's Storage: a
// pointer to its backing globalSlot. The stack slot the global is cached in
// for the current block is recorded in Backend.slotOf, not here.
type namedStorage struct {
	ir.StorageBase
	slot *globalSlot
}

func (n namedStorage) String() string { return "$" + n.slot.name }

// tempStorage is the jit realization of a temporary Value: purely a slot
// index into the current block's native stack frame, no backing global.
type tempStorage struct {
	ir.StorageBase
	slot int32
}

func (t tempStorage) String() string { return fmt.Sprintf("slot(%d)", t.slot) }

const (
	// nativeStackSize is the dedicated, GC-invisible stack every emitted
	// HostBlock runs on (see exec_amd64.s): large enough for the per-block
	// frame (maxSlots below) plus headroom for the CALL into the extern
	// trap function. Execution is single-threaded, so one shared buffer
	// suffices — no HostBlock ever runs re-entrantly.
	nativeStackSize = 1 << 20

	// maxSlots bounds how many distinct Values (temporaries plus touched
	// globals) a single TranslationBlock may realize. DEFAULT_TB_SIZE-sized
	// blocks stay well under this; slotFor panics rather than
	// silently overrunning the frame if it is ever exceeded.
	maxSlots = 512
	slotSize = 8
)

// Backend is the jit realization of backend.CodeGen. Only one Backend is
// ever live per process — initialized once via Init, accessed via Get —
// since all emitted code shares one native stack and one trap path.
type Backend struct {
	mem  GuestMem
	trap backend.TrapFunc

	// trapEntry is the extern trap function emitted blocks call: the code
	// address of trapRecord (exec_amd64.s), baked into every emitTrap
	// sequence.
	trapEntry uintptr

	named map[string]*ir.Value

	asm       *goasm.Builder
	blockName string

	// per-block emission state, reset by PushBlock.
	slotOf      map[*ir.Value]int32
	nextSlot    int32
	loaded      map[*ir.Value]bool // fixed Values whose slot holds the current value (fetched or written)
	dirty       map[*ir.Value]bool // fixed Values written since last fetch/flush
	touchedGlob []*ir.Value        // insertion-ordered keys of loaded, for deterministic flush

	labels map[*ir.Value][]*obj.Prog // label Value -> branch Progs awaiting SetTarget
	setAt  map[*ir.Value]*obj.Prog   // label Value -> the Prog it was Setlbl'd at

	nativeStackTop uintptr
}

var _ backend.CodeGen = (*Backend)(nil)
var _ backend.Runnable = (*Backend)(nil)

var (
	singleton   *Backend
	singletonMu sync.Mutex
)

// Init installs the process-wide jit Backend, wiring it to the guest
// address space and the runtime's trap handler. Must be called exactly
// once before any translation occurs.
func Init(mem GuestMem, trap backend.TrapFunc) *Backend {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	b := &Backend{
		mem:            mem,
		trap:           trap,
		trapEntry:      trapRecordAddr(),
		named:          make(map[string]*ir.Value),
		nativeStackTop: allocNativeStack(nativeStackSize),
	}
	singleton = b
	return b
}

// Get returns the process-wide Backend installed by Init.
func Get() *Backend {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		panic("jit: Get() called before Init()")
	}
	return singleton
}

// --- backend.ValueFactory ---

func (b *Backend) MakeLabel() *ir.Value {
	v := ir.NewValue(ir.Label, false)
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
// same name, backed by a process-lifetime globalSlot; fixed registers
// persist for the frontend's lifetime.
func (b *Backend) MakeNamed(name string, ty ir.ValueType) *ir.Value {
	if v, ok := b.named[name]; ok {
		return v
	}
	v := ir.NewValue(ty, true)
	v.SetStorage(namedStorage{slot: &globalSlot{name: name, ty: ty}})
	b.named[name] = v
	return v
}

// --- block lifecycle ---

// execBlock is the jit realization of backend.HostBlock: a page of
// assembled machine code plus its entry point, runnable via callHostBlock
// (exec_amd64.s).
type execBlock struct {
	name  string
	code  []byte
	entry uintptr
}

func (blk *execBlock) Name() string { return blk.name }

func (b *Backend) PushBlock(name string) {
	a, err := goasm.NewBuilder("amd64", 64)
	if err != nil {
		panic(fmt.Sprintf("jit: failed to create assembler: %v", err))
	}
	b.asm = a
	b.blockName = name
	b.slotOf = make(map[*ir.Value]int32)
	b.nextSlot = 0
	b.loaded = make(map[*ir.Value]bool)
	b.dirty = make(map[*ir.Value]bool)
	b.touchedGlob = nil
	b.labels = make(map[*ir.Value][]*obj.Prog)
	b.setAt = make(map[*ir.Value]*obj.Prog)

	b.emitPrologue()
}

func (b *Backend) EmitBlock(tb *ir.TranslationBlock, name string) backend.HostBlock {
	b.PushBlock(name)
	for _, op := range tb.Ops {
		b.Dispatch(op)
	}
	b.flushAllGlobals()
	b.emitEpilogue()
	b.resolveLabels()

	out := b.asm.Assemble()
	code := make([]byte, len(out))
	copy(code, out)

	blk := &execBlock{name: name}
	finalizeExecutable(blk, code)
	return blk
}

// HandleTrap is the backend's diagnostics hook for a guest trap. By the
// time it runs, the emitted block has already called the extern trap
// function (trapRecord, exec_amd64.s) with (cause, val) and returned; Run
// hands the recorded pair to the dispatch loop, which invokes this before
// rescheduling. Any global the block had cached was flushed to its
// canonical slot before the trap call fired (see emitTrap), so guest
// state is consistent here.
func (b *Backend) HandleTrap(cause ir.TrapOp, val uint64) {
	b.trap(cause, val)
}

func (b *Backend) newProg() *obj.Prog { return b.asm.NewProg() }
func (b *Backend) add(p *obj.Prog)    { b.asm.AddInstruction(p) }
