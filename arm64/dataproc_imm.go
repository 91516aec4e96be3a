package arm64

import (
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// lowerAddSubImm lowers ADD/ADDS/SUB/SUBS (immediate): a 12-bit immediate
// optionally shifted left by 12, with the SP encoding live on both ends
// when flags are not set.
func lowerAddSubImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	rd := uint8(extract(insn, 0, 5))
	rn := uint8(extract(insn, 5, 5))
	shift := extract(insn, 22, 2)
	setFlags := extract(insn, 29, 1) == 1
	subOp := extract(insn, 30, 1) == 1
	is64 := extract(insn, 31, 1) == 1
	imm := uint64(extract(insn, 10, 12))

	switch shift {
	case 0x0:
	case 0x1:
		imm <<= 12
	default:
		return unallocated(ctx, insn)
	}

	rnVal := ctx.ReadCPURegSP(rn, true)
	immVal := ctx.ConstU64(imm)
	result := ctx.NewTemp(ir.U64)

	if !setFlags {
		if subOp {
			ctx.PushSub(result, rnVal, immVal)
		} else {
			ctx.PushAdd(result, rnVal, immVal)
		}
	} else if subOp {
		doSubCC(ctx, is64, result, rnVal, immVal)
	} else {
		doAddCC(ctx, is64, result, rnVal, immVal)
	}

	if setFlags {
		ctx.WriteCPUReg(rd, is64, result)
	} else {
		ctx.WriteCPURegSP(rd, is64, result)
	}
	return nil, nil
}

// lowerPCRelAddr lowers ADR/ADRP. ADRP aligns the base down to a 4 KiB
// page and shifts the offset by 12; both resolve entirely at translation
// time.
func lowerPCRelAddr(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	rd := uint8(extract(insn, 0, 5))
	page := extract(insn, 31, 1) == 1
	immlo := uint64(extract(insn, 29, 2))
	immhi := uint64(extract(insn, 5, 19))
	imm := (immhi << 2) | immlo

	base := ctx.CurrPC()
	if page {
		imm <<= 12
		base &^= 0xfff
		imm = signExtend(imm, 33)
	} else {
		imm = signExtend(imm, 21)
	}

	addr := base + imm
	ctx.WriteCPUReg(rd, true, ctx.ConstU64(addr))
	return nil, nil
}

// signExtend sign-extends the low nbits of v (already shifted into place)
// treating it as a two's-complement nbits-wide quantity, returning the
// result reinterpreted as an unsigned 64-bit addend.
func signExtend(v uint64, nbits uint) uint64 {
	shift := 64 - nbits
	return uint64(int64(v<<shift) >> shift)
}

// lowerLogicImm lowers AND/ORR/EOR/ANDS (immediate), whose encoded bitmask
// uses the same N:immr:imms decode as bitfield instructions.
func lowerLogicImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	rd := uint8(extract(insn, 0, 5))
	rn := uint8(extract(insn, 5, 5))
	imms := extract(insn, 10, 6)
	immr := extract(insn, 16, 6)
	n := extract(insn, 22, 1)
	opc := extract(insn, 29, 2)
	is64 := extract(insn, 31, 1) == 1

	if !is64 && n != 0 {
		return unallocated(ctx, insn)
	}

	mask, ok := bitRunMask(n, imms, immr)
	if !ok {
		return unallocated(ctx, insn)
	}
	if !is64 {
		mask &= 0xffffffff
	}

	rnVal := ctx.ReadCPUReg(rn, true)
	immVal := ctx.ConstU64(mask)
	result := ctx.NewTemp(ir.U64)

	switch opc {
	case 0: // AND
		ctx.PushAnd(result, rnVal, immVal)
	case 1: // ORR
		ctx.PushOr(result, rnVal, immVal)
	case 2: // EOR
		ctx.PushXor(result, rnVal, immVal)
	case 3: // ANDS
		ctx.PushAnd(result, rnVal, immVal)
		doLogicCC(ctx, is64, result)
	}

	if opc == 3 {
		ctx.WriteCPUReg(rd, is64, result)
	} else {
		ctx.WriteCPURegSP(rd, is64, result)
	}
	return nil, nil
}

// lowerMovwImm lowers MOVN/MOVZ/MOVK, the three 16-bit-immediate move forms.
func lowerMovwImm(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	rd := uint8(extract(insn, 0, 5))
	imm16 := uint64(extract(insn, 5, 16))
	hw := extract(insn, 21, 2)
	opc := extract(insn, 29, 2)
	is64 := extract(insn, 31, 1) == 1

	if !is64 && hw&0x2 != 0 {
		return unallocated(ctx, insn)
	}
	if opc == 1 {
		return unallocated(ctx, insn)
	}

	shift := uint(hw) * 16
	imm := imm16 << shift

	switch opc {
	case 0: // MOVN
		result := ^imm
		if !is64 {
			result &= 0xffffffff
		}
		ctx.WriteCPUReg(rd, is64, ctx.ConstU64(result))
	case 2: // MOVZ
		ctx.WriteCPUReg(rd, is64, ctx.ConstU64(imm))
	case 3: // MOVK
		cur := ctx.ReadCPUReg(rd, true)
		result := ctx.NewTemp(ir.U64)
		ctx.PushDepos(result, cur, ctx.ConstU64(imm16), uint8(shift), 16)
		ctx.WriteCPUReg(rd, is64, result)
	}
	return nil, nil
}

// lowerBitfield lowers SBFM/BFM/UBFM, covering all the LSL/LSR/ASR-
// immediate, (S|U)BFX, (S|U)BFIZ, BFI/BFXIL and SXT*/UXT* aliases through
// the two general shapes: a field copied down to bit 0 (imms >= immr), or a
// field inserted at width-immr (imms < immr).
func lowerBitfield(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	opc := extract(insn, 29, 2)
	n := extract(insn, 22, 1)
	immr := extract(insn, 16, 6)
	imms := extract(insn, 10, 6)
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if opc == 3 || (n == 1) != sf {
		return unallocated(ctx, insn)
	}
	width := uint32(32)
	if sf {
		width = 64
	}
	if immr >= width || imms >= width {
		return unallocated(ctx, insn)
	}

	rnVal := ctx.ReadCPUReg(rn, sf)

	if opc == 1 { // BFM: insert into the existing rd bits
		cur := ctx.ReadCPUReg(rd, true)
		result := ctx.NewTemp(ir.U64)
		if imms >= immr { // BFXIL
			length := uint8(imms - immr + 1)
			field := ctx.NewTemp(ir.U64)
			ctx.PushExtrU(field, rnVal, uint8(immr), length)
			ctx.PushDepos(result, cur, field, 0, length)
		} else { // BFI
			ctx.PushDepos(result, cur, rnVal, uint8(width-immr), uint8(imms+1))
		}
		ctx.WriteCPUReg(rd, sf, result)
		return nil, nil
	}

	signed := opc == 0
	extr := ctx.PushExtrU
	if signed {
		extr = ctx.PushExtrS
	}

	result := ctx.NewTemp(ir.U64)
	if imms >= immr { // (S|U)BFX, LSR/ASR immediate
		extr(result, rnVal, uint8(immr), uint8(imms-immr+1))
	} else { // (S|U)BFIZ, LSL immediate
		field := ctx.NewTemp(ir.U64)
		extr(field, rnVal, 0, uint8(imms+1))
		ctx.PushShl(result, field, ctx.ConstU64(uint64(width-immr)))
	}
	ctx.WriteCPUReg(rd, sf, result)
	return nil, nil
}

// lowerExtract lowers EXTR (and its ROR-immediate alias when Rn == Rm): a
// double-width funnel shift right by imms within the register width.
func lowerExtract(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	n := extract(insn, 22, 1)
	rm := uint8(extract(insn, 16, 5))
	imms := extract(insn, 10, 6)
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if extract(insn, 29, 2) != 0 || extract(insn, 21, 1) != 0 || (n == 1) != sf {
		return unallocated(ctx, insn)
	}
	width := uint32(32)
	if sf {
		width = 64
	}
	if imms >= width {
		return unallocated(ctx, insn)
	}

	rmVal := ctx.ReadCPUReg(rm, sf)
	if imms == 0 {
		ctx.WriteCPUReg(rd, sf, rmVal)
		return nil, nil
	}

	lo := ctx.NewTemp(ir.U64)
	ctx.PushShr(lo, rmVal, ctx.ConstU64(uint64(imms)))
	hi := ctx.NewTemp(ir.U64)
	ctx.PushShl(hi, ctx.ReadCPUReg(rn, sf), ctx.ConstU64(uint64(width-imms)))
	result := ctx.NewTemp(ir.U64)
	ctx.PushOr(result, lo, hi)
	ctx.WriteCPUReg(rd, sf, result)
	return nil, nil
}
