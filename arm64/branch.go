package arm64

import (
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// lowerUncondBImm lowers B and BL: bit 31 selects BL (which also writes the
// link register) over plain B.
func lowerUncondBImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	isLink := extract(insn, 31, 1) == 1
	off := sextract(insn, 0, 26) * 4
	target := uint64(int64(ctx.CurrPC()) + off)

	if isLink {
		ctx.WriteCPUReg(30, true, ctx.ConstU64(ctx.NextPC()))
	}

	ctx.EndTBToAddr(ctx.ConstU64(target))
	ctx.SetDirectChain()
	return ir.BranchTo(&target, nil), nil
}

// lowerCompBImm lowers CBZ/CBNZ.
func lowerCompBImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	isNonZero := extract(insn, 24, 1) == 1
	rt := uint8(extract(insn, 0, 5))
	off := sextract(insn, 5, 19) * 4
	target := uint64(int64(ctx.CurrPC()) + off)
	fallthroughPC := ctx.NextPC()

	val := ctx.ReadCPUReg(rt, sf)
	cc := ir.CondEQ
	if isNonZero {
		cc = ir.CondNE
	}

	label := ctx.NewLabel()
	ctx.PushBrc(label, val, ctx.ConstU64(0), cc)

	ctx.EndTBToAddr(ctx.ConstU64(fallthroughPC))
	ctx.SetAuxChain()

	ctx.PushSetlbl(label)
	ctx.EndTBToAddr(ctx.ConstU64(target))
	ctx.SetDirectChain()

	return ir.BranchTo(&target, &fallthroughPC), nil
}

// lowerCondBImm lowers B.cond, including the "always" aliases at cond 0xe
// and 0xf that collapse to an unconditional branch.
func lowerCondBImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	if extract(insn, 4, 1) == 1 || extract(insn, 24, 1) == 1 {
		return unallocated(ctx, insn)
	}

	cond := extract(insn, 0, 4)
	off := sextract(insn, 5, 19) * 4
	target := uint64(int64(ctx.CurrPC()) + off)

	if cond >= 0xe {
		ctx.EndTBToAddr(ctx.ConstU64(target))
		ctx.SetDirectChain()
		return ir.BranchTo(&target, nil), nil
	}

	fallthroughPC := ctx.NextPC()
	cc, flagVal := testCC(ctx, cond)
	label := ctx.NewLabel()
	ctx.PushBrc(label, flagVal, ctx.ConstU32(0), cc)

	ctx.EndTBToAddr(ctx.ConstU64(fallthroughPC))
	ctx.SetAuxChain()

	ctx.PushSetlbl(label)
	ctx.EndTBToAddr(ctx.ConstU64(target))
	ctx.SetDirectChain()

	return ir.BranchTo(&target, &fallthroughPC), nil
}

// lowerTestBImm lowers TBZ/TBNZ: extract the tested bit and branch on it,
// following the same terminator pattern as lowerCompBImm.
func lowerTestBImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	bit := uint8(extract(insn, 31, 1)<<5 | extract(insn, 19, 5))
	isNonZero := extract(insn, 24, 1) == 1
	rt := uint8(extract(insn, 0, 5))
	off := sextract(insn, 5, 14) * 4
	target := uint64(int64(ctx.CurrPC()) + off)
	fallthroughPC := ctx.NextPC()

	val := ctx.ReadCPUReg(rt, true)
	tested := ctx.NewTemp(ir.U64)
	ctx.PushExtrU(tested, val, bit, 1)
	cc := ir.CondEQ
	if isNonZero {
		cc = ir.CondNE
	}

	label := ctx.NewLabel()
	ctx.PushBrc(label, tested, ctx.ConstU64(0), cc)

	ctx.EndTBToAddr(ctx.ConstU64(fallthroughPC))
	ctx.SetAuxChain()

	ctx.PushSetlbl(label)
	ctx.EndTBToAddr(ctx.ConstU64(target))
	ctx.SetDirectChain()

	return ir.BranchTo(&target, &fallthroughPC), nil
}

// lowerUncondBReg lowers BR/BLR/RET (and the plain, non-pointer-auth forms
// only — PAC variants are out of scope).
func lowerUncondBReg(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	opc := extract(insn, 21, 4)
	op2 := extract(insn, 16, 5)
	rn := uint8(extract(insn, 5, 5))

	if op2 != 0x1f {
		return unallocated(ctx, insn)
	}

	switch opc {
	case 0x0, 0x2: // BR, RET
	case 0x1: // BLR
		ctx.WriteCPUReg(30, true, ctx.ConstU64(ctx.NextPC()))
	case 0x4, 0x5: // ERET, DRPS: no supervisor state in user-mode emulation
		return notImplemented(ctx, "uncond_b_reg_priv")
	default:
		return unallocated(ctx, insn)
	}

	dest := ctx.ReadCPUReg(rn, true)
	ctx.EndTBToAddr(dest)
	ctx.SetDirectChain()
	return ir.BranchTo(nil, nil), nil
}
