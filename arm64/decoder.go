package arm64

import (
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// lowerFunc is the shape of every instruction-family handler: decode and
// lower insn (fetched at ctx.CurrPC()), pushing IR onto ctx. A non-nil
// Continuation means insn ended the TB.
type lowerFunc func(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException)

// Decode is the frontend.DecodeFunc this package provides: the entry point
// of the bit-field classification tree over the instruction word.
func Decode(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	return disasTop(ctx, insn)
}

// unallocated handles a bit pattern this dispatch level recognizes as
// architecturally undefined: the guest traps at execution time and the TB
// keeps decoding, rather than aborting translation.
func unallocated(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	ctx.PushTrap(ir.UndefOpcode, ctx.ConstU64(ctx.CurrPC()))
	return nil, nil
}

// notImplemented reports a family with no lowering yet — distinct from
// unallocated: the instruction may be architecturally valid, we simply
// haven't written its lowering. It is a fatal DisasException rather than a
// degrade to UNDEF_OPCODE, so a coverage gap surfaces as a translation
// error instead of a bogus guest fault.
func notImplemented(ctx *frontend.Context, name string) (*ir.Continuation, *ir.DisasException) {
	return nil, ir.Unexpected(ctx.CurrPC(), "%s not implemented", name)
}

// fpAccessCheck gates every instruction that touches the FP/SIMD register
// file. FP lowering is not wired yet, so the check always fails: the
// instruction traps as undefined at execution time and the TB continues,
// rather than aborting translation of the whole block. Lowerings that need
// FP must short-circuit when this returns false.
func fpAccessCheck(ctx *frontend.Context) bool {
	ctx.PushTrap(ir.UndefOpcode, ctx.ConstU64(ctx.CurrPC()))
	return false
}

// disasTop dispatches on bits [28:25], the top-level AArch64 instruction
// classes. The SVE and SIMD/FP classes exist only to fail the FP access
// check until FP lowering lands.
func disasTop(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	switch extract(insn, 25, 4) {
	case 0x2: // SVE
		fpAccessCheck(ctx)
		return nil, nil
	case 0x8, 0x9:
		return disasDataProcImm(ctx, insn)
	case 0x5, 0xd:
		return disasDataProcReg(ctx, insn)
	case 0x7, 0xf:
		fpAccessCheck(ctx)
		return nil, nil
	case 0xa, 0xb:
		return disasBExcSys(ctx, insn)
	case 0x4, 0x6, 0xc, 0xe:
		return disasLdst(ctx, insn)
	default:
		return unallocated(ctx, insn)
	}
}

// disasDataProcImm dispatches bits [28:23] within the data-processing
// immediate class.
func disasDataProcImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	switch extract(insn, 23, 6) {
	case 0x20, 0x21:
		return lowerPCRelAddr(ctx, insn)
	case 0x22, 0x23:
		return lowerAddSubImm(ctx, insn)
	case 0x24:
		return lowerLogicImm(ctx, insn)
	case 0x25:
		return lowerMovwImm(ctx, insn)
	case 0x26:
		return lowerBitfield(ctx, insn)
	case 0x27:
		return lowerExtract(ctx, insn)
	default:
		return unallocated(ctx, insn)
	}
}

// disasLdst dispatches bits [29:24] within the load/store class.
func disasLdst(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	switch extract(insn, 24, 6) {
	case 0x08:
		return notImplemented(ctx, "ldst_excl")
	case 0x18:
		return lowerLdLit(ctx, insn)
	case 0x28, 0x29, 0x2c, 0x2d:
		return lowerLdstPair(ctx, insn)
	case 0x38, 0x39, 0x3c, 0x3d:
		return lowerLdstReg(ctx, insn)
	case 0x0c:
		return notImplemented(ctx, "ldst_multiple_struct")
	case 0x0d:
		return notImplemented(ctx, "ldst_single_struct")
	case 0x19:
		return notImplemented(ctx, "ldst_ldapr_stlr")
	default:
		return unallocated(ctx, insn)
	}
}

// disasBExcSys dispatches bits [31:25] within the branch/exception/system
// class.
func disasBExcSys(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	switch extract(insn, 25, 7) {
	case 0x0a, 0x0b, 0x4a, 0x4b:
		return lowerUncondBImm(ctx, insn)
	case 0x1a, 0x5a:
		return lowerCompBImm(ctx, insn)
	case 0x1b, 0x5b:
		return lowerTestBImm(ctx, insn)
	case 0x2a:
		return lowerCondBImm(ctx, insn)
	case 0x6a:
		return lowerExcSys(ctx, insn)
	case 0x6b:
		return lowerUncondBReg(ctx, insn)
	default:
		return unallocated(ctx, insn)
	}
}
