package arm64

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsteward/khemu/backend/dumpir"
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

const testBase = 0x1000

// sliceMem serves little-endian instruction words from a fixed base;
// everything else faults, so a test that decodes past its words fails
// loudly instead of looping.
type sliceMem struct {
	words []uint32
}

func (m sliceMem) ReadU32(addr uint64) (uint32, bool) {
	if addr < testBase || (addr-testBase)%4 != 0 {
		return 0, false
	}
	idx := (addr - testBase) / 4
	if int(idx) >= len(m.words) {
		return 0, false
	}
	return m.words[idx], true
}

func newTestContext(words ...uint32) *frontend.Context {
	return frontend.NewContext(sliceMem{words: words}, dumpir.New(io.Discard))
}

// lowerWords drives DisasBlock over words with the given op-count cap and
// hands back everything a scenario assertion needs.
func lowerWords(t *testing.T, tbSize int, words ...uint32) (*frontend.Context, *ir.TranslationBlock, *ir.Continuation, *ir.DisasException) {
	t.Helper()
	ctx := newTestContext(words...)
	cont, derr := ctx.DisasBlock(Decode, testBase, tbSize)
	return ctx, ctx.GetTB(), cont, derr
}

// lowerOne decodes a single instruction with a one-op cap, so straight-line
// instructions stop at the size boundary right after lowering.
func lowerOne(t *testing.T, insn uint32) (*frontend.Context, *ir.TranslationBlock, *ir.Continuation, *ir.DisasException) {
	t.Helper()
	return lowerWords(t, 1, insn)
}

func findOps(tb *ir.TranslationBlock, opc ir.Opcode) []*ir.Op {
	var out []*ir.Op
	for _, op := range tb.Ops {
		if op.Opcode() == opc {
			out = append(out, op)
		}
	}
	return out
}

func findOp(t *testing.T, tb *ir.TranslationBlock, opc ir.Opcode) *ir.Op {
	t.Helper()
	ops := findOps(tb, opc)
	require.NotEmpty(t, ops, "expected an %s op", opc)
	return ops[0]
}

func requireConstU64(t *testing.T, v *ir.Value, want uint64) {
	t.Helper()
	require.Equal(t, ir.ConstU64{V: want}, v.Storage())
}

// --- the concrete end-to-end scenarios ---

func TestAddImmediate(t *testing.T) {
	// ADD X0, X0, #1
	ctx, tb, cont, derr := lowerOne(t, 0x91000400)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)
	require.Equal(t, uint64(testBase+4), cont.ContinuePC)

	add := findOp(t, tb, ir.OpAdd)
	requireConstU64(t, add.Rs2(), 1)
	mov := findOps(tb, ir.OpMov)
	require.Same(t, ctx.RawGPR(0), mov[len(mov)-3].Rd(), "result written back to x0 before the boundary terminator")
}

func TestMovzShifted(t *testing.T) {
	// MOVZ X0, #0xdead, LSL #16
	ctx, tb, cont, derr := lowerOne(t, 0xD2BBD5A0)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)

	var hit bool
	for _, op := range findOps(tb, ir.OpMov) {
		if op.Rd() == ctx.RawGPR(0) {
			requireConstU64(t, op.Rs1(), 0xdead0000)
			hit = true
		}
	}
	require.True(t, hit, "expected mov of 0xdead0000 into x0")
}

func TestCompareBranchZero(t *testing.T) {
	// CBZ X1, +8
	_, tb, cont, derr := lowerOne(t, 0xB4000041)
	require.Nil(t, derr)
	require.Equal(t, ir.Branch, cont.Kind)
	require.Equal(t, uint64(testBase+8), *cont.Taken)
	require.Equal(t, uint64(testBase+4), *cont.NotTaken)

	brc := findOp(t, tb, ir.OpBrc)
	require.Equal(t, ir.CondEQ, brc.Cond())

	require.NotNil(t, tb.DirectChainIdx)
	require.NotNil(t, tb.AuxChainIdx)
	require.Equal(t, ir.OpTrap, tb.Ops[*tb.DirectChainIdx].Opcode())
	require.Equal(t, ir.LookupTB, tb.Ops[*tb.DirectChainIdx].TrapCause())
	require.Equal(t, ir.OpTrap, tb.Ops[*tb.AuxChainIdx].Opcode())
	require.Less(t, *tb.AuxChainIdx, *tb.DirectChainIdx, "fall-through edge terminates before the taken edge")
}

func TestUnconditionalBranch(t *testing.T) {
	// B +16
	_, tb, cont, derr := lowerOne(t, 0x14000004)
	require.Nil(t, derr)
	require.Equal(t, ir.Branch, cont.Kind)
	require.Equal(t, uint64(testBase+16), *cont.Taken)
	require.Nil(t, cont.NotTaken)

	require.NotNil(t, tb.DirectChainIdx)
	require.Nil(t, tb.AuxChainIdx)
	require.Equal(t, ir.OpTrap, tb.Ops[*tb.DirectChainIdx].Opcode())
	require.Equal(t, len(tb.Ops)-1, *tb.DirectChainIdx)
}

func TestUnknownOpcodeTrapsAndContinues(t *testing.T) {
	_, tb, cont, derr := lowerOne(t, 0x00000000)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)

	trap := findOp(t, tb, ir.OpTrap)
	require.Equal(t, ir.UndefOpcode, trap.TrapCause())
}

func TestLoadPairFromSP(t *testing.T) {
	// LDP X0, X1, [SP, #16]
	ctx, tb, cont, derr := lowerOne(t, 0xA94107E0)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)

	clean := findOp(t, tb, ir.OpExtrS)
	ofs, length := clean.BitfieldRange()
	require.Equal(t, uint8(0), ofs)
	require.Equal(t, uint8(56), length)

	loads := findOps(tb, ir.OpLoad)
	require.Len(t, loads, 2)
	require.Same(t, ctx.RawGPR(1), loads[1].Rd(), "second access writes x1 directly")

	// The first load lands in a temporary and only reaches x0 after both
	// accesses completed.
	var loadIdx, movIdx int
	for i, op := range tb.Ops {
		if op.Opcode() == ir.OpLoad {
			loadIdx = i
		}
		if op.Opcode() == ir.OpMov && op.Rd() == ctx.RawGPR(0) {
			movIdx = i
		}
	}
	require.Greater(t, movIdx, loadIdx)
}

// --- coverage for the remaining integer families ---

func TestTestBitBranch(t *testing.T) {
	// TBZ X3, #5, +8
	_, tb, cont, derr := lowerOne(t, 0x36280043)
	require.Nil(t, derr)
	require.Equal(t, ir.Branch, cont.Kind)
	require.Equal(t, uint64(testBase+8), *cont.Taken)
	require.Equal(t, uint64(testBase+4), *cont.NotTaken)

	extr := findOp(t, tb, ir.OpExtrU)
	ofs, length := extr.BitfieldRange()
	require.Equal(t, uint8(5), ofs)
	require.Equal(t, uint8(1), length)
	require.Equal(t, ir.CondEQ, findOp(t, tb, ir.OpBrc).Cond())
	require.NotNil(t, tb.DirectChainIdx)
	require.NotNil(t, tb.AuxChainIdx)
}

func TestBitfieldExtract(t *testing.T) {
	// UBFX X0, X1, #8, #4
	ctx, tb, _, derr := lowerOne(t, 0xD3482C20)
	require.Nil(t, derr)

	extr := findOp(t, tb, ir.OpExtrU)
	ofs, length := extr.BitfieldRange()
	require.Equal(t, uint8(8), ofs)
	require.Equal(t, uint8(4), length)

	var wroteX0 bool
	for _, op := range findOps(tb, ir.OpMov) {
		wroteX0 = wroteX0 || op.Rd() == ctx.RawGPR(0)
	}
	require.True(t, wroteX0)
}

func TestBitfieldShiftAlias(t *testing.T) {
	// LSL X0, X1, #4 (UBFM immr=60, imms=59)
	_, tb, _, derr := lowerOne(t, 0xD37CEC20)
	require.Nil(t, derr)
	shl := findOp(t, tb, ir.OpShl)
	requireConstU64(t, shl.Rs2(), 4)
}

func TestExtractRotateAlias(t *testing.T) {
	// ROR X0, X1, #8 (EXTR X0, X1, X1, #8)
	_, tb, _, derr := lowerOne(t, 0x93C12020)
	require.Nil(t, derr)
	requireConstU64(t, findOp(t, tb, ir.OpShr).Rs2(), 8)
	requireConstU64(t, findOp(t, tb, ir.OpShl).Rs2(), 56)
	findOp(t, tb, ir.OpOr)
}

func TestMultiplyAdd(t *testing.T) {
	// MADD X0, X1, X2, X3
	_, tb, _, derr := lowerOne(t, 0x9B020C20)
	require.Nil(t, derr)
	mulIdx, addIdx := -1, -1
	for i, op := range tb.Ops {
		if op.Opcode() == ir.OpMul {
			mulIdx = i
		}
		if op.Opcode() == ir.OpAdd && addIdx < 0 {
			addIdx = i
		}
	}
	require.GreaterOrEqual(t, mulIdx, 0)
	require.Greater(t, addIdx, mulIdx)
}

func TestUnsignedDivideWord(t *testing.T) {
	// UDIV W0, W1, W2: the zero-divisor guard branches around a plain Div.
	_, tb, _, derr := lowerOne(t, 0x1AC20820)
	require.Nil(t, derr)
	findOp(t, tb, ir.OpDiv)
	brc := findOp(t, tb, ir.OpBrc)
	require.Equal(t, ir.CondEQ, brc.Cond())
	require.NotEmpty(t, findOps(tb, ir.OpSetlbl))
}

func TestSignedDivideEdges(t *testing.T) {
	// SDIV X0, X1, X2: guards for /0 and /-1.
	_, tb, _, derr := lowerOne(t, 0x9AC20C20)
	require.Nil(t, derr)
	findOp(t, tb, ir.OpDiv)
	findOp(t, tb, ir.OpNeg)
	require.Len(t, findOps(tb, ir.OpSetlbl), 3)
}

func TestAddWithCarry(t *testing.T) {
	// ADC X0, X1, X2
	_, tb, _, derr := lowerOne(t, 0x9A020020)
	require.Nil(t, derr)
	findOp(t, tb, ir.OpSetc) // materialized carry
	require.Len(t, findOps(tb, ir.OpAdd), 2)
}

func TestConditionalCompare(t *testing.T) {
	// CCMP X0, X1, #0, EQ
	_, tb, _, derr := lowerOne(t, 0xFA410000)
	require.Nil(t, derr)
	require.Len(t, findOps(tb, ir.OpSetlbl), 2)
	findOp(t, tb, ir.OpSub)
	require.Len(t, findOps(tb, ir.OpBrc), 2)
}

func TestConditionalSelect(t *testing.T) {
	// CSEL X0, X1, X2, EQ
	_, tb, _, derr := lowerOne(t, 0x9A820020)
	require.Nil(t, derr)
	require.Equal(t, ir.CondEQ, findOp(t, tb, ir.OpMovc).Cond())
}

func TestCountLeadingZeros(t *testing.T) {
	// CLZ X0, X1
	_, tb, _, derr := lowerOne(t, 0xDAC01020)
	require.Nil(t, derr)
	findOp(t, tb, ir.OpClz)
}

func TestLoadUnscaled(t *testing.T) {
	// LDUR X0, [X1, #-8]
	_, tb, _, derr := lowerOne(t, 0xF85F8020)
	require.Nil(t, derr)
	sub := findOp(t, tb, ir.OpSub)
	requireConstU64(t, sub.Rs2(), 8)
	findOp(t, tb, ir.OpExtrS)
	require.Len(t, findOps(tb, ir.OpLoad), 1)
}

func TestLoadRegisterOffset(t *testing.T) {
	// LDR X2, [X1, X3]
	ctx, tb, _, derr := lowerOne(t, 0xF8636822)
	require.Nil(t, derr)
	load := findOp(t, tb, ir.OpLoad)
	require.Equal(t, 8, load.MemOp().GetSize())
	var wroteX2 bool
	for _, op := range findOps(tb, ir.OpMov) {
		wroteX2 = wroteX2 || op.Rd() == ctx.RawGPR(2)
	}
	require.True(t, wroteX2)
}

func TestLoadLiteral(t *testing.T) {
	// LDR X1, <pc+8>
	_, tb, _, derr := lowerOne(t, 0x58000041)
	require.Nil(t, derr)
	load := findOp(t, tb, ir.OpLoad)
	requireConstU64(t, load.Rs1(), testBase+8)
	require.Equal(t, 8, load.MemOp().GetSize())
}

func TestPrefetchIsNoOp(t *testing.T) {
	// PRFM [X1]; B +4 — the prefetch contributes no ops at all.
	_, tb, cont, derr := lowerWords(t, 16, 0xF9800020, 0x14000001)
	require.Nil(t, derr)
	require.Equal(t, ir.Branch, cont.Kind)
	require.Empty(t, findOps(tb, ir.OpLoad))
}

func TestHintsAndBarriersAreNoOps(t *testing.T) {
	// NOP; DMB ISH; B +4
	_, tb, cont, derr := lowerWords(t, 16, 0xD503201F, 0xD5033BBF, 0x14000001)
	require.Nil(t, derr)
	require.Equal(t, ir.Branch, cont.Kind)
	// Only the branch terminator's ops are present.
	require.Equal(t, ir.OpMov, tb.Ops[0].Opcode())
	require.Equal(t, ir.LookupTB, findOp(t, tb, ir.OpTrap).TrapCause())
}

func TestFPAccessTrapsWithoutAbortingTranslation(t *testing.T) {
	// FADD D0, D1, D2: FP lowering is gated off, so the instruction traps
	// as undefined at run time and the block keeps decoding.
	_, tb, cont, derr := lowerOne(t, 0x1E622820)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)
	require.Equal(t, ir.UndefOpcode, findOp(t, tb, ir.OpTrap).TrapCause())
}

func TestSupervisorCallTrapsInline(t *testing.T) {
	// SVC #0 traps with x8 (the syscall number register) and does not end
	// the block.
	_, tb, cont, derr := lowerOne(t, 0xD4000001)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)
	require.Equal(t, ir.Syscall, findOp(t, tb, ir.OpTrap).TrapCause())
}

func TestBranchWithLinkWritesX30(t *testing.T) {
	// BL +8
	ctx, tb, cont, derr := lowerOne(t, 0x94000002)
	require.Nil(t, derr)
	require.Equal(t, uint64(testBase+8), *cont.Taken)

	var linked bool
	for _, op := range findOps(tb, ir.OpMov) {
		if op.Rd() == ctx.RawGPR(30) {
			requireConstU64(t, op.Rs1(), testBase+4)
			linked = true
		}
	}
	require.True(t, linked, "BL must write the return address into x30")
}

func TestDiscoveredTargetSplitsBlock(t *testing.T) {
	// CBZ X1, +8 discovers pc+8; translating a block that runs into that
	// address afterwards must stop there with a lookup trap.
	ctx := newTestContext(0xB4000041, 0x91000400, 0x91000400, 0x91000400)
	_, derr := ctx.DisasBlock(Decode, testBase, 64)
	require.Nil(t, derr)
	ctx.GetTB()

	cont, derr := ctx.DisasBlock(Decode, testBase+4, 64)
	require.Nil(t, derr)
	require.Equal(t, ir.Continue, cont.Kind)
	require.Equal(t, uint64(testBase+8), cont.ContinuePC)
}