package dumpir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsteward/khemu/ir"
)

func TestEmitBlockWritesOneLinePerOp(t *testing.T) {
	var buf bytes.Buffer
	be := New(&buf)

	rd := be.MakeNamed("x0", ir.U64)
	rs := be.MakeU64(1)
	b := ir.NewBuilder()
	b.PushMov(rd, rs)

	tb := &ir.TranslationBlock{StartPC: 0x1000, Ops: b.Take()}
	hb := be.EmitBlock(tb, "tb_1000")

	require.Equal(t, "tb_1000", hb.Name())
	require.Contains(t, buf.String(), "tb_1000:")
	require.Contains(t, buf.String(), "mov\t$x0, #0x1")
}

func TestMakeNamedIsIdempotentPerName(t *testing.T) {
	be := New(&bytes.Buffer{})
	a := be.MakeNamed("x3", ir.U64)
	c := be.MakeNamed("x3", ir.U64)
	require.Same(t, a, c)
}

func TestHandleTrapWritesComment(t *testing.T) {
	var buf bytes.Buffer
	be := New(&buf)
	be.HandleTrap(ir.LookupTB, 0x4000)
	require.Contains(t, buf.String(), "trap")
	require.Contains(t, buf.String(), "0x4000")
}
