package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func u64Const(v uint64) *Value {
	val := NewValue(U64, false)
	val.SetStorage(ConstU64{V: v})
	return val
}

func freshU64() *Value {
	val := NewValue(U64, false)
	val.SetStorage(ConstU64{V: 0xdead}) // pretend already realized, for Mov/fold tests
	return val
}

func TestOperandTypesMatchOperatorGroup(t *testing.T) {
	b := NewBuilder()
	rd, rs1, rs2 := freshU64(), freshU64(), freshU64()
	require.NotPanics(t, func() { b.PushAdd(rd, rs1, rs2) })

	bad := NewValue(U32, false)
	bad.SetStorage(ConstU32{V: 1})
	require.Panics(t, func() { b.PushAdd(rd, bad, rs2) })
}

func TestConvertOnlyConstrainsRd(t *testing.T) {
	b := NewBuilder()
	rd32 := NewValue(U32, false)
	rd32.SetStorage(ConstU32{V: 1})
	rs64 := freshU64()
	require.NotPanics(t, func() { b.PushExtrl(rd32, rs64) })
}

func TestAddZeroFoldsToMov(t *testing.T) {
	b := NewBuilder()
	rd := NewValue(U64, false)
	r := freshU64()
	zero := u64Const(0)

	b.PushAdd(rd, r, zero)
	require.Len(t, b.Ops(), 1)
	require.Equal(t, OpMov, b.Ops()[0].Opcode())
	require.Same(t, r, b.Ops()[0].Rs1())
}

func TestAddZeroOtherOperandFoldsToMov(t *testing.T) {
	b := NewBuilder()
	rd := NewValue(U64, false)
	r := freshU64()
	zero := u64Const(0)

	b.PushAdd(rd, zero, r)
	require.Len(t, b.Ops(), 1)
	require.Equal(t, OpMov, b.Ops()[0].Opcode())
	require.Same(t, r, b.Ops()[0].Rs1())
}

func TestAddZeroSameRegisterFoldsAway(t *testing.T) {
	b := NewBuilder()
	r := freshU64()
	zero := u64Const(0)

	b.PushAdd(r, r, zero)
	require.Empty(t, b.Ops())
}

func TestSubZeroFoldsToMov(t *testing.T) {
	b := NewBuilder()
	rd := NewValue(U64, false)
	r := freshU64()
	zero := u64Const(0)

	b.PushSub(rd, r, zero)
	require.Len(t, b.Ops(), 1)
	require.Equal(t, OpMov, b.Ops()[0].Opcode())
}

func TestMovSameStorageIsNoOp(t *testing.T) {
	b := NewBuilder()
	r := freshU64()

	b.PushMov(r, r)
	require.Empty(t, b.Ops())
}

func TestMovDistinctStorageEmits(t *testing.T) {
	b := NewBuilder()
	rd := NewValue(U64, false)
	r := freshU64()

	b.PushMov(rd, r)
	require.Len(t, b.Ops(), 1)
}

func TestWriteToZeroSinkIsDropped(t *testing.T) {
	b := NewBuilder()
	xzr := NewValue(U64, true)
	xzr.SetStorage(ZeroSink{})
	r := freshU64()

	b.PushMov(xzr, r)
	require.Empty(t, b.Ops())

	b.PushAdd(xzr, r, r)
	require.Empty(t, b.Ops())
}

func TestNoOpExtensionDropped(t *testing.T) {
	b := NewBuilder()
	r := freshU64()

	b.PushExtUlq(r, r)
	require.Empty(t, b.Ops())
}

func TestTrapSnapshotsValue(t *testing.T) {
	b := NewBuilder()
	reg := NewValue(U64, true)
	reg.SetStorage(ConstU64{V: 1})

	b.PushTrap(LookupTB, reg)
	require.Len(t, b.Ops(), 2)
	require.Equal(t, OpMov, b.Ops()[0].Opcode())
	require.Equal(t, OpTrap, b.Ops()[1].Opcode())
	require.NotSame(t, reg, b.Ops()[1].TrapValue())
	require.Equal(t, LookupTB, b.Ops()[1].TrapCause())
}

func TestCondOpInvertIsInvolution(t *testing.T) {
	for c := CondNever; c <= CondGTU; c++ {
		require.Equal(t, c, c.Invert().Invert())
		require.NotEqual(t, c, c.Invert())
		require.Equal(t, uint8(c)^1, uint8(c.Invert()))
	}
}

func TestMemOpRoundTrips(t *testing.T) {
	for _, n := range []int{1, 2, 4, 8} {
		m := MemOpFromSize(n)
		require.Equal(t, n, m.GetSize())
	}

	m := MemOpFromSize(4).WithSign(true)
	require.True(t, m.GetSign())
	require.Equal(t, 4, m.GetSize())

	m2 := m.WithSign(false)
	require.False(t, m2.GetSign())
}
