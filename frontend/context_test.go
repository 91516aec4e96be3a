package frontend

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsteward/khemu/backend/dumpir"
	"github.com/jsteward/khemu/ir"
)

// fakeMem serves instruction words from a flat little-endian byte slice
// starting at base; everything else faults.
type fakeMem struct {
	base  uint64
	words []uint32
}

func (m *fakeMem) ReadU32(addr uint64) (uint32, bool) {
	if addr < m.base || (addr-m.base)%4 != 0 {
		return 0, false
	}
	idx := (addr - m.base) / 4
	if int(idx) >= len(m.words) {
		return 0, false
	}
	return m.words[idx], true
}

func newTestContext(words ...uint32) (*Context, *fakeMem) {
	mem := &fakeMem{base: 0x1000, words: words}
	be := dumpir.New(&bytes.Buffer{})
	return NewContext(mem, be), mem
}

// nopDecode treats every instruction as a straight-line op that emits
// exactly one IR Mov, so DisasBlock's op-count cap is reachable in tests.
func nopDecode(ctx *Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	ctx.PushMov(ctx.NewTemp(ir.U64), ctx.ConstU64(uint64(insn)))
	return nil, nil
}

func TestConstCacheReusesValues(t *testing.T) {
	c, _ := newTestContext()
	a := c.ConstU64(42)
	b := c.ConstU64(42)
	require.Same(t, a, b)

	x := c.ConstU32(7)
	y := c.ConstU32(7)
	require.Same(t, x, y)
}

func TestReadXzrYieldsImmediateZero(t *testing.T) {
	c, _ := newTestContext()
	v := c.ReadCPUReg(31, true)
	require.True(t, v.IsConstZero())
}

func TestWriteXzrIsDiscarded(t *testing.T) {
	c, _ := newTestContext()
	before := c.Len()
	c.WriteCPUReg(31, true, c.ConstU64(5))
	require.Equal(t, before, c.Len())
}

func TestReadCPURegSPTreats31AsSP(t *testing.T) {
	c, _ := newTestContext()
	v := c.ReadCPURegSP(31, true)
	require.Len(t, c.Ops(), 1)
	require.Same(t, c.SP(), c.Ops()[0].Rs1())
	_ = v
}

func TestDisasBlockEmitsSizeCapBoundary(t *testing.T) {
	c, _ := newTestContext(0, 0, 0, 0)
	cont, err := c.DisasBlock(nopDecode, 0x1000, 2)
	require.Nil(t, err)
	require.Equal(t, ir.Continue, cont.Kind)
	require.Equal(t, uint64(0x1008), cont.ContinuePC)

	tb := c.GetTB()
	require.Equal(t, uint64(0x1000), tb.StartPC)
	// 2 straight-line movs + (mov pc, #imm) + (mov snapshot, pc; trap) boundary = 5 ops.
	require.Len(t, tb.Ops, 5)
	require.Equal(t, ir.OpTrap, tb.Ops[4].Opcode())
}

func TestDisasBlockFaultReturnsException(t *testing.T) {
	c, _ := newTestContext()
	_, err := c.DisasBlock(nopDecode, 0x2000, 4)
	require.NotNil(t, err)
}

func TestChainIndexPanicsOnDoubleSet(t *testing.T) {
	c, _ := newTestContext(0)
	c.PushTrap(ir.LookupTB, c.ConstU64(0))
	c.SetDirectChain()
	require.Panics(t, func() { c.SetDirectChain() })
}

func TestGetTBResetsAllocationList(t *testing.T) {
	c, _ := newTestContext(0, 0)
	c.NewTemp(ir.U64)
	require.NotEmpty(t, c.Allocated())
	c.DisasBlock(nopDecode, 0x1000, 1)
	c.GetTB()
	require.Empty(t, c.Allocated())
}
