package jit

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/jsteward/khemu/ir"
)

type fakeGuestMem struct{ base uintptr }

func (m fakeGuestMem) Base() uintptr { return m.base }

func newTestBackend() *Backend {
	return Init(fakeGuestMem{}, func(ir.TrapOp, uint64) {})
}

func TestMakeNamedDedupesByName(t *testing.T) {
	b := newTestBackend()

	x0 := b.MakeNamed("x0", ir.U64)
	again := b.MakeNamed("x0", ir.U64)
	x1 := b.MakeNamed("x1", ir.U64)

	require.Same(t, x0, again, "same name must yield the same Value")
	require.NotSame(t, x0, x1)
	require.NotEqual(t, x0.Storage().(namedStorage).slot, x1.Storage().(namedStorage).slot)
	require.True(t, x0.Fixed())
}

func TestMakeConstants(t *testing.T) {
	b := newTestBackend()

	u32 := b.MakeU32(0xdead)
	require.Equal(t, ir.U32, u32.Type())
	require.Equal(t, ir.ConstU32{V: 0xdead}, u32.Storage())

	u64 := b.MakeU64(0x1234567890)
	require.Equal(t, ir.U64, u64.Type())
	require.Equal(t, ir.ConstU64{V: 0x1234567890}, u64.Storage())

	f64 := b.MakeF64(3.5)
	require.Equal(t, ir.F64, f64.Type())
	require.Equal(t, ir.ConstF64{V: 3.5}, f64.Storage())
}

// TestEmitBlockAndRunAdd builds a minimal TranslationBlock by hand (rd =
// 1 + 2, then trap LookupTB with rd) and actually runs the assembled host
// code, checking the dispatch-visible trap value comes back correctly. This
// exercises the full EmitBlock -> Run round trip through golang-asm and the
// exec_amd64.s trampoline, not just the Go-side bookkeeping the other tests
// in this file cover.
func TestEmitBlockAndRunAdd(t *testing.T) {
	b := newTestBackend()

	bld := ir.NewBuilder()
	a := b.MakeU64(1)
	c := b.MakeU64(2)
	rd := ir.NewValue(ir.U64, false)
	bld.PushAdd(rd, a, c)
	bld.PushTrap(ir.LookupTB, rd)

	tb := &ir.TranslationBlock{StartPC: 0x1000, Ops: bld.Ops()}
	blk := b.EmitBlock(tb, "test_add")

	cause, val := b.Run(blk)
	require.Equal(t, ir.LookupTB, cause)
	require.Equal(t, uint64(3), val)
}

// TestEmitBlockGlobalRoundTrip adds two fixed (named) registers whose
// first touch happens inside the same binary op, writes the sum to a third,
// and checks the canonical globals after the trap flush: the exact pattern
// that requires first-touch global loads not to clobber each other.
func TestEmitBlockGlobalRoundTrip(t *testing.T) {
	b := newTestBackend()

	x0 := b.MakeNamed("t_x0", ir.U64)
	x1 := b.MakeNamed("t_x1", ir.U64)
	x2 := b.MakeNamed("t_x2", ir.U64)
	x0.Storage().(namedStorage).slot.bits = 5
	x1.Storage().(namedStorage).slot.bits = 7

	bld := ir.NewBuilder()
	sum := ir.NewValue(ir.U64, false)
	bld.PushAdd(sum, x0, x1)
	bld.PushMov(x2, sum)
	bld.PushTrap(ir.LookupTB, sum)

	blk := b.EmitBlock(&ir.TranslationBlock{StartPC: 0x1000, Ops: bld.Ops()}, "test_globals")
	cause, val := b.Run(blk)

	require.Equal(t, ir.LookupTB, cause)
	require.Equal(t, uint64(12), val)
	require.Equal(t, uint64(12), x2.Storage().(namedStorage).slot.bits)
	require.Equal(t, uint64(5), x0.Storage().(namedStorage).slot.bits)
}

// TestEmitBlockLoadStore runs a block that loads a guest word, increments
// it and stores it elsewhere, against a real backing buffer standing in for
// the guest address space.
func TestEmitBlockLoadStore(t *testing.T) {
	guest := make([]byte, 64)
	guest[8] = 41
	b := Init(fakeGuestMem{base: uintptr(unsafe.Pointer(&guest[0]))}, func(ir.TrapOp, uint64) {})

	bld := ir.NewBuilder()
	loaded := ir.NewValue(ir.U64, false)
	bld.PushLoad(loaded, b.MakeU64(8), ir.MemU64)
	bumped := ir.NewValue(ir.U64, false)
	bld.PushAdd(bumped, loaded, b.MakeU64(1))
	bld.PushStore(b.MakeU64(16), bumped, ir.MemU64)
	bld.PushTrap(ir.LookupTB, bumped)

	blk := b.EmitBlock(&ir.TranslationBlock{StartPC: 0x1000, Ops: bld.Ops()}, "test_ldst")
	cause, val := b.Run(blk)

	require.Equal(t, ir.LookupTB, cause)
	require.Equal(t, uint64(42), val)
	require.Equal(t, byte(42), guest[16])
	runtime.KeepAlive(&guest[0])
}

// TestEmitBlockDepos checks the bit deposit at a non-zero offset, where
// the inserted field must be masked before shifting into place.
func TestEmitBlockDepos(t *testing.T) {
	b := newTestBackend()

	bld := ir.NewBuilder()
	rd := ir.NewValue(ir.U64, false)
	bld.PushDepos(rd, b.MakeU64(0xffff0000000000ff), b.MakeU64(0x1ab), 16, 8)
	bld.PushTrap(ir.LookupTB, rd)

	blk := b.EmitBlock(&ir.TranslationBlock{StartPC: 0x1000, Ops: bld.Ops()}, "test_depos")
	cause, val := b.Run(blk)

	require.Equal(t, ir.LookupTB, cause)
	require.Equal(t, uint64(0xffff0000_00ab00ff), val)
}

// TestEmitBlockAdd2 checks that the low-half carry of a double-limb add
// propagates into the high half.
func TestEmitBlockAdd2(t *testing.T) {
	b := newTestBackend()

	bld := ir.NewBuilder()
	rl := ir.NewValue(ir.U64, false)
	rh := ir.NewValue(ir.U64, false)
	bld.PushAdd2(rl, rh,
		b.MakeU64(^uint64(0)), b.MakeU64(1),
		b.MakeU64(1), b.MakeU64(2))
	bld.PushTrap(ir.LookupTB, rh)

	blk := b.EmitBlock(&ir.TranslationBlock{StartPC: 0x1000, Ops: bld.Ops()}, "test_add2")
	cause, val := b.Run(blk)

	require.Equal(t, ir.LookupTB, cause)
	require.Equal(t, uint64(4), val, "1 + 2 + carry")
}

func TestRunPanicsOnForeignHostBlock(t *testing.T) {
	b := newTestBackend()
	require.Panics(t, func() {
		b.Run(foreignBlock{})
	})
}

type foreignBlock struct{}

func (foreignBlock) Name() string { return "foreign" }
