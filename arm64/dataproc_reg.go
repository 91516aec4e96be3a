package arm64

import (
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// disasDataProcReg dispatches the data-processing (register) class on the
// op1/op2/op3 sub-fields.
func disasDataProcReg(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	op0 := extract(insn, 30, 1)
	op1 := extract(insn, 28, 1)
	op2 := extract(insn, 21, 4)
	op3 := extract(insn, 10, 6)

	if op1 == 0 {
		if op2&8 != 0 {
			if op2&1 != 0 {
				return lowerAddSubExtReg(ctx, insn)
			}
			return lowerAddSubReg(ctx, insn)
		}
		return lowerLogicReg(ctx, insn)
	}

	switch op2 {
	case 0x0:
		switch op3 {
		case 0x0:
			return lowerAdcSbc(ctx, insn)
		case 0x1, 0x21:
			return notImplemented(ctx, "rotate_right_into_flags")
		case 0x2, 0x12, 0x22, 0x32:
			return notImplemented(ctx, "evaluate_into_flags")
		default:
			return unallocated(ctx, insn)
		}
	case 0x2:
		return lowerCondCmp(ctx, insn)
	case 0x4:
		return lowerCondSelect(ctx, insn)
	case 0x6:
		if op0 != 0 {
			return lowerDataProc1Src(ctx, insn)
		}
		return lowerDataProc2Src(ctx, insn)
	case 0x8, 0x9, 0xa, 0xb, 0xc, 0xd, 0xe, 0xf:
		return lowerDataProc3Src(ctx, insn)
	default:
		return unallocated(ctx, insn)
	}
}

// lowerAddSubReg lowers plain (non-extending) ADD/ADDS/SUB/SUBS (shifted
// register): same family as add_sub_ext_reg but without the extend-type
// field, shifted by LSL/LSR/ASR only.
func lowerAddSubReg(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	subOp := extract(insn, 30, 1) == 1
	setFlags := extract(insn, 29, 1) == 1
	shiftType := extract(insn, 22, 2)
	rm := uint8(extract(insn, 16, 5))
	amount := uint8(extract(insn, 10, 6))
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if shiftType == 0x3 || (!sf && amount&0x20 != 0) {
		return unallocated(ctx, insn)
	}

	rnVal := ctx.ReadCPUReg(rn, sf)
	rmVal := readCPURegShifted(ctx, rm, sf, shiftType, amount)
	result := ctx.NewTemp(ir.U64)

	if !setFlags {
		if subOp {
			ctx.PushSub(result, rnVal, rmVal)
		} else {
			ctx.PushAdd(result, rnVal, rmVal)
		}
	} else if subOp {
		doSubCC(ctx, sf, result, rnVal, rmVal)
	} else {
		doAddCC(ctx, sf, result, rnVal, rmVal)
	}

	ctx.WriteCPUReg(rd, sf, result)
	return nil, nil
}

// readCPURegShifted reads register n and applies one of the LSL/LSR/ASR/ROR
// shift types by a literal amount, the shared shifted-second-source form
// behind both the logical and add/sub register families.
func readCPURegShifted(ctx *frontend.Context, n uint8, sf bool, shiftType uint32, amount uint8) *ir.Value {
	v := ctx.ReadCPUReg(n, sf)
	if amount == 0 {
		return v
	}
	shAmt := ctx.ConstU64(uint64(amount))
	out := ctx.NewTemp(ir.U64)
	switch shiftType {
	case 0x0:
		ctx.PushShl(out, v, shAmt)
	case 0x1:
		ctx.PushShr(out, v, shAmt)
	case 0x2:
		ctx.PushSar(out, v, shAmt)
	case 0x3:
		ctx.PushRotr(out, v, shAmt)
	}
	return out
}

// lowerLogicReg lowers AND/ORR/EOR/ANDS/BIC/ORN/EON/BICS (shifted
// register), including the unshifted-ORR/ORN-with-WZR/XZR MOV/MVN aliases.
func lowerLogicReg(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	opc := extract(insn, 29, 2)
	shiftType := extract(insn, 22, 2)
	invert := extract(insn, 21, 1)
	rm := uint8(extract(insn, 16, 5))
	amount := uint8(extract(insn, 10, 6))
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if !sf && amount&0x20 != 0 {
		return unallocated(ctx, insn)
	}

	if opc == 1 && amount == 0 && shiftType == 0 && rn == 31 {
		rmVal := ctx.ReadCPUReg(rm, true)
		rdVal := ctx.RawGPR(rd)
		if invert == 1 {
			notVal := ctx.NewTemp(ir.U64)
			ctx.PushNot(notVal, rmVal)
			ctx.WriteCPUReg(rd, sf, notVal)
		} else if sf {
			ctx.PushMov(rdVal, rmVal)
		} else {
			ctx.PushExtUlq(rdVal, rmVal)
		}
		return nil, nil
	}

	rmVal := readCPURegShifted(ctx, rm, sf, shiftType, amount)
	rnVal := ctx.ReadCPUReg(rn, true)
	rdVal := ctx.NewTemp(ir.U64)

	switch opc | (invert << 2) {
	case 0, 3:
		ctx.PushAnd(rdVal, rnVal, rmVal)
	case 1:
		ctx.PushOr(rdVal, rnVal, rmVal)
	case 2:
		ctx.PushXor(rdVal, rnVal, rmVal)
	case 4, 7:
		ctx.PushAndc(rdVal, rnVal, rmVal)
	case 5:
		ctx.PushOrc(rdVal, rnVal, rmVal)
	case 6:
		ctx.PushEqv(rdVal, rnVal, rmVal)
	default:
		return notImplemented(ctx, "logic_reg")
	}

	ctx.WriteCPUReg(rd, sf, rdVal)
	if opc == 3 {
		doLogicCC(ctx, sf, rdVal)
	}
	return nil, nil
}

// lowerCondSelect lowers CSEL/CSINC/CSINV/CSNEG, including the
// CSET/CSETM/CSINC-with-XZR aliases (handled naturally: Rn==Rm==XZR reads
// as an immediate zero on both arms).
func lowerCondSelect(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	op := extract(insn, 30, 1)
	rm := uint8(extract(insn, 16, 5))
	cond := extract(insn, 12, 4)
	op2 := extract(insn, 10, 2)
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if op2&0x2 != 0 {
		return unallocated(ctx, insn)
	}

	cc, flagVal := testCC(ctx, cond)
	rnVal := ctx.ReadCPUReg(rn, true)
	rmVal := ctx.ReadCPUReg(rm, true)

	elseVal := rmVal
	switch op<<1 | op2 {
	case 0b01: // CSINC
		tmp := ctx.NewTemp(ir.U64)
		ctx.PushAdd(tmp, rmVal, ctx.ConstU64(1))
		elseVal = tmp
	case 0b10: // CSINV
		tmp := ctx.NewTemp(ir.U64)
		ctx.PushNot(tmp, rmVal)
		elseVal = tmp
	case 0b11: // CSNEG
		tmp := ctx.NewTemp(ir.U64)
		ctx.PushNeg(tmp, rmVal)
		elseVal = tmp
	}

	result := ctx.NewTemp(ir.U64)
	ctx.PushMovc(result, rnVal, elseVal, flagVal, ctx.ConstU32(0), cc)
	ctx.WriteCPUReg(rd, sf, result)
	return nil, nil
}

// extendReg reads register n and applies one of the eight UXTB..SXTX
// extensions followed by a left shift, the `option`-driven second-source
// form shared by add_sub_ext_reg and the register-offset load/stores.
func extendReg(ctx *frontend.Context, n uint8, option uint32, shift uint8) *ir.Value {
	v := ctx.ReadCPUReg(n, true)
	ext := func(push func(rd, rs1 *ir.Value)) {
		t := ctx.NewTemp(ir.U64)
		push(t, v)
		v = t
	}
	switch option {
	case 0:
		ext(ctx.PushExtUbq)
	case 1:
		ext(ctx.PushExtUwq)
	case 2:
		ext(ctx.PushExtUlq)
	case 4:
		ext(ctx.PushExtSbq)
	case 5:
		ext(ctx.PushExtSwq)
	case 6:
		ext(ctx.PushExtSlq)
	default: // 3, 7: UXTX/SXTX, the full register
	}
	if shift > 0 {
		t := ctx.NewTemp(ir.U64)
		ctx.PushShl(t, v, ctx.ConstU64(uint64(shift)))
		v = t
	}
	return v
}

// lowerAddSubExtReg lowers ADD/ADDS/SUB/SUBS (extended register): the
// second source passes through extendReg, and register 31 means SP for Rn
// (and for Rd when flags are not set).
func lowerAddSubExtReg(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	subOp := extract(insn, 30, 1) == 1
	setFlags := extract(insn, 29, 1) == 1
	opt := extract(insn, 22, 2)
	rm := uint8(extract(insn, 16, 5))
	option := extract(insn, 13, 3)
	imm3 := uint8(extract(insn, 10, 3))
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if opt != 0 || imm3 > 4 {
		return unallocated(ctx, insn)
	}

	rnVal := ctx.ReadCPURegSP(rn, sf)
	rmVal := extendReg(ctx, rm, option, imm3)
	result := ctx.NewTemp(ir.U64)

	if !setFlags {
		if subOp {
			ctx.PushSub(result, rnVal, rmVal)
		} else {
			ctx.PushAdd(result, rnVal, rmVal)
		}
		ctx.WriteCPURegSP(rd, sf, result)
		return nil, nil
	}

	if subOp {
		doSubCC(ctx, sf, result, rnVal, rmVal)
	} else {
		doAddCC(ctx, sf, result, rnVal, rmVal)
	}
	ctx.WriteCPUReg(rd, sf, result)
	return nil, nil
}

// carryIn materializes the C flag as a fresh U64 0/1, the add-with-carry
// operand shape.
func carryIn(ctx *frontend.Context) *ir.Value {
	c := ctx.NewTemp(ir.U64)
	ctx.PushSetc(c, ctx.CF(), ctx.ConstU32(0), ir.CondNE)
	return c
}

// lowerAdcSbc lowers ADC/ADCS/SBC/SBCS. SBC is lowered as rn + NOT(rm) + C,
// which makes the ADCS carry/overflow capture below cover both directions.
func lowerAdcSbc(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	subOp := extract(insn, 30, 1) == 1
	setFlags := extract(insn, 29, 1) == 1
	rm := uint8(extract(insn, 16, 5))
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if extract(insn, 10, 6) != 0 {
		return unallocated(ctx, insn)
	}

	rnVal := ctx.ReadCPUReg(rn, sf)
	opnd := ctx.ReadCPUReg(rm, sf)
	if subOp {
		t := ctx.NewTemp(ir.U64)
		ctx.PushNot(t, opnd)
		if !sf {
			t2 := ctx.NewTemp(ir.U64)
			ctx.PushExtUlq(t2, t)
			t = t2
		}
		opnd = t
	}
	c := carryIn(ctx)

	if !setFlags {
		sum := ctx.NewTemp(ir.U64)
		ctx.PushAdd(sum, rnVal, opnd)
		result := ctx.NewTemp(ir.U64)
		ctx.PushAdd(result, sum, c)
		ctx.WriteCPUReg(rd, sf, result)
		return nil, nil
	}

	if sf {
		// Widened 65-bit sum via two Add2 steps; the high limb lands the
		// carry-out directly.
		zero := ctx.ConstU64(0)
		tLo, tHi := ctx.NewTemp(ir.U64), ctx.NewTemp(ir.U64)
		ctx.PushAdd2(tLo, tHi, rnVal, zero, c, zero)
		rLo, rHi := ctx.NewTemp(ir.U64), ctx.NewTemp(ir.U64)
		ctx.PushAdd2(rLo, rHi, tLo, tHi, opnd, zero)

		setNZ64(ctx, rLo)
		cNarrow := ctx.NewTemp(ir.U32)
		ctx.PushExtrl(cNarrow, rHi)
		ctx.PushMovl(ctx.CF(), cNarrow)
		axr, bxr := ctx.NewTemp(ir.U64), ctx.NewTemp(ir.U64)
		ctx.PushXor(axr, rnVal, rLo)
		ctx.PushXor(bxr, opnd, rLo)
		ov := ctx.NewTemp(ir.U64)
		ctx.PushAnd(ov, axr, bxr)
		ctx.PushMovl(ctx.VF(), bitOfU64(ctx, ov, 63))
		ctx.WriteCPUReg(rd, true, rLo)
		return nil, nil
	}

	// 32-bit operands are zero-extended, so the 64-bit sum fits 33 bits and
	// bit 32 is the carry-out.
	sum := ctx.NewTemp(ir.U64)
	ctx.PushAdd(sum, rnVal, opnd)
	result := ctx.NewTemp(ir.U64)
	ctx.PushAdd(result, sum, c)

	loR := ctx.NewTemp(ir.U32)
	ctx.PushExtrl(loR, result)
	setNZ32(ctx, loR)
	ctx.PushMovl(ctx.CF(), bitOfU64(ctx, result, 32))
	loA, loB := ctx.NewTemp(ir.U32), ctx.NewTemp(ir.U32)
	ctx.PushExtrl(loA, rnVal)
	ctx.PushExtrl(loB, opnd)
	axr, bxr := ctx.NewTemp(ir.U32), ctx.NewTemp(ir.U32)
	ctx.PushXorl(axr, loA, loR)
	ctx.PushXorl(bxr, loB, loR)
	ov := ctx.NewTemp(ir.U32)
	ctx.PushAndl(ov, axr, bxr)
	ctx.PushMovl(ctx.VF(), signBitU32(ctx, ov))
	ctx.WriteCPUReg(rd, false, result)
	return nil, nil
}

// lowerCondCmp lowers CCMN/CCMP (both the register and immediate forms):
// if the condition holds the flags come from the compare, otherwise from
// the nzcv immediate. The two arms are bracketed by in-TB labels rather
// than select ops, since all four flag registers change together.
func lowerCondCmp(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	subOp := extract(insn, 30, 1) == 1
	setFlags := extract(insn, 29, 1) == 1
	isImm := extract(insn, 11, 1) == 1
	cond := extract(insn, 12, 4)
	rn := uint8(extract(insn, 5, 5))
	nzcv := extract(insn, 0, 4)

	if !setFlags || extract(insn, 10, 1) != 0 || extract(insn, 4, 1) != 0 {
		return unallocated(ctx, insn)
	}

	var y *ir.Value
	if isImm {
		y = ctx.ConstU64(uint64(extract(insn, 16, 5)))
	} else {
		y = ctx.ReadCPUReg(uint8(extract(insn, 16, 5)), sf)
	}
	rnVal := ctx.ReadCPUReg(rn, sf)

	compare := func() {
		result := ctx.NewTemp(ir.U64)
		if subOp {
			doSubCC(ctx, sf, result, rnVal, y)
		} else {
			doAddCC(ctx, sf, result, rnVal, y)
		}
	}

	if cond >= 0xe {
		compare()
		return nil, nil
	}

	cc, flagVal := testCC(ctx, cond)
	lblElse := ctx.NewLabel()
	lblEnd := ctx.NewLabel()
	zero := ctx.ConstU32(0)

	ctx.PushBrc(lblElse, flagVal, zero, cc.Invert())
	compare()
	ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)

	ctx.PushSetlbl(lblElse)
	ctx.PushMovl(ctx.NF(), ctx.ConstU32(extract(nzcv, 3, 1)))
	// The Z register holds "result was non-zero", the inverse of ARM's Z.
	ctx.PushMovl(ctx.ZF(), ctx.ConstU32(extract(nzcv, 2, 1)^1))
	ctx.PushMovl(ctx.CF(), ctx.ConstU32(extract(nzcv, 1, 1)))
	ctx.PushMovl(ctx.VF(), ctx.ConstU32(extract(nzcv, 0, 1)))
	ctx.PushSetlbl(lblEnd)
	return nil, nil
}

// lowerDataProc1Src lowers the one-source family: REV16/REV32/REV64, CLZ
// and CLS. RBIT has no IR operator to lower through and stays a decoder
// gap.
func lowerDataProc1Src(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	opcode := extract(insn, 10, 6)
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if extract(insn, 29, 1) != 0 || extract(insn, 16, 5) != 0 {
		return unallocated(ctx, insn)
	}

	val := ctx.ReadCPUReg(rn, sf)

	switch {
	case opcode == 0x0: // RBIT
		return notImplemented(ctx, "rbit")

	case opcode == 0x1: // REV16: swap bytes within each halfword
		evenMask := ctx.ConstU64(0x00ff00ff00ff00ff)
		lo := ctx.NewTemp(ir.U64)
		ctx.PushAnd(lo, val, evenMask)
		loShifted := ctx.NewTemp(ir.U64)
		ctx.PushShl(loShifted, lo, ctx.ConstU64(8))
		hi := ctx.NewTemp(ir.U64)
		ctx.PushShr(hi, val, ctx.ConstU64(8))
		hiMasked := ctx.NewTemp(ir.U64)
		ctx.PushAnd(hiMasked, hi, evenMask)
		result := ctx.NewTemp(ir.U64)
		ctx.PushOr(result, loShifted, hiMasked)
		ctx.WriteCPUReg(rd, sf, result)

	case opcode == 0x2 && !sf: // REV (32-bit)
		ctx.WriteCPUReg(rd, false, bswap32(ctx, val))

	case opcode == 0x2 && sf: // REV32: swap bytes within each word
		hiWord := ctx.NewTemp(ir.U64)
		ctx.PushShr(hiWord, val, ctx.ConstU64(32))
		hiSwapped := ctx.NewTemp(ir.U64)
		ctx.PushBswap(hiSwapped, hiWord) // bswap32(hi) lands in bits [63:32]
		result := ctx.NewTemp(ir.U64)
		ctx.PushOr(result, bswap32(ctx, val), hiSwapped)
		ctx.WriteCPUReg(rd, true, result)

	case opcode == 0x3 && sf: // REV64
		result := ctx.NewTemp(ir.U64)
		ctx.PushBswap(result, val)
		ctx.WriteCPUReg(rd, true, result)

	case opcode == 0x4: // CLZ
		result := ctx.NewTemp(ir.U64)
		ctx.PushClz(result, val)
		if !sf {
			// The zero-extended W operand always has 32 leading zeros.
			adjusted := ctx.NewTemp(ir.U64)
			ctx.PushSub(adjusted, result, ctx.ConstU64(32))
			result = adjusted
		}
		ctx.WriteCPUReg(rd, sf, result)

	case opcode == 0x5: // CLS: clz(x XOR (x >>s 63)) - 1
		x := val
		adjust := uint64(1)
		if !sf {
			xs := ctx.NewTemp(ir.U64)
			ctx.PushExtSlq(xs, val)
			x = xs
			adjust = 33
		}
		sign := ctx.NewTemp(ir.U64)
		ctx.PushSar(sign, x, ctx.ConstU64(63))
		folded := ctx.NewTemp(ir.U64)
		ctx.PushXor(folded, x, sign)
		count := ctx.NewTemp(ir.U64)
		ctx.PushClz(count, folded)
		result := ctx.NewTemp(ir.U64)
		ctx.PushSub(result, count, ctx.ConstU64(adjust))
		ctx.WriteCPUReg(rd, sf, result)

	default:
		return unallocated(ctx, insn)
	}
	return nil, nil
}

// bswap32 byte-reverses the low 32 bits of v, leaving the result in the
// high 32 bits shifted back down (Bswap only exists at the 64-bit width).
func bswap32(ctx *frontend.Context, v *ir.Value) *ir.Value {
	lo := ctx.NewTemp(ir.U64)
	ctx.PushExtUlq(lo, v)
	swapped := ctx.NewTemp(ir.U64)
	ctx.PushBswap(swapped, lo)
	out := ctx.NewTemp(ir.U64)
	ctx.PushShr(out, swapped, ctx.ConstU64(32))
	return out
}

// lowerDataProc2Src lowers the two-source family: UDIV/SDIV and the
// variable shifts LSLV/LSRV/ASRV/RORV.
func lowerDataProc2Src(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	opcode := extract(insn, 10, 6)
	rm := uint8(extract(insn, 16, 5))
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if extract(insn, 29, 1) != 0 {
		return unallocated(ctx, insn)
	}

	switch opcode {
	case 0x2: // UDIV
		lowerUdiv(ctx, sf, rd, rn, rm)
	case 0x3: // SDIV
		lowerSdiv(ctx, sf, rd, rn, rm)
	case 0x8, 0x9, 0xa, 0xb: // LSLV/LSRV/ASRV/RORV
		lowerShiftVar(ctx, sf, opcode&3, rd, rn, rm)
	default:
		return notImplemented(ctx, "data_proc_2src")
	}
	return nil, nil
}

// lowerShiftVar lowers the variable-amount shifts; the amount is taken
// modulo the register width.
func lowerShiftVar(ctx *frontend.Context, sf bool, kind uint32, rd, rn, rm uint8) {
	width := uint64(32)
	if sf {
		width = 64
	}
	amtRaw := ctx.ReadCPUReg(rm, true)
	amt := ctx.NewTemp(ir.U64)
	ctx.PushAnd(amt, amtRaw, ctx.ConstU64(width-1))

	val := ctx.ReadCPUReg(rn, sf)
	result := ctx.NewTemp(ir.U64)
	switch kind {
	case 0:
		ctx.PushShl(result, val, amt)
	case 1:
		ctx.PushShr(result, val, amt)
	case 2:
		if !sf {
			xs := ctx.NewTemp(ir.U64)
			ctx.PushExtSlq(xs, val)
			val = xs
		}
		ctx.PushSar(result, val, amt)
	case 3:
		if sf {
			ctx.PushRotr(result, val, amt)
		} else {
			// 32-bit rotate out of 64-bit shifts: (x >> a) | (x << ((32-a) mod 32)),
			// truncated on write.
			back := ctx.NewTemp(ir.U64)
			ctx.PushSub(back, ctx.ConstU64(0), amt)
			backAmt := ctx.NewTemp(ir.U64)
			ctx.PushAnd(backAmt, back, ctx.ConstU64(31))
			lo := ctx.NewTemp(ir.U64)
			ctx.PushShr(lo, val, amt)
			hi := ctx.NewTemp(ir.U64)
			ctx.PushShl(hi, val, backAmt)
			ctx.PushOr(result, lo, hi)
		}
	}
	ctx.WriteCPUReg(rd, sf, result)
}

// lowerSdiv lowers SDIV with the architecture's defined edge cases:
// division by zero yields zero, and INT_MIN / -1 yields INT_MIN. The W form
// sign-extends both operands and divides at the 64-bit width, where neither
// edge beyond /0 can overflow the host divider.
func lowerSdiv(ctx *frontend.Context, sf bool, rd, rn, rm uint8) {
	rnVal := ctx.ReadCPUReg(rn, sf)
	rmVal := ctx.ReadCPUReg(rm, sf)
	if !sf {
		a, b := ctx.NewTemp(ir.U64), ctx.NewTemp(ir.U64)
		ctx.PushExtSlq(a, rnVal)
		ctx.PushExtSlq(b, rmVal)
		rnVal, rmVal = a, b
	}

	zero := ctx.ConstU64(0)
	res := ctx.NewTemp(ir.U64)
	lblZero := ctx.NewLabel()
	lblEnd := ctx.NewLabel()

	ctx.PushBrc(lblZero, rmVal, zero, ir.CondEQ)
	if sf {
		lblNeg := ctx.NewLabel()
		ctx.PushBrc(lblNeg, rmVal, ctx.ConstU64(^uint64(0)), ir.CondEQ)
		ctx.PushDiv(res, rnVal, rmVal)
		ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)
		ctx.PushSetlbl(lblNeg)
		ctx.PushNeg(res, rnVal)
		ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)
	} else {
		ctx.PushDiv(res, rnVal, rmVal)
		ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)
	}
	ctx.PushSetlbl(lblZero)
	ctx.PushMov(res, zero)
	ctx.PushSetlbl(lblEnd)
	ctx.WriteCPUReg(rd, sf, res)
}

// lowerUdiv lowers UDIV. The IR divider is signed, so the X form splits
// three ways: a zero divisor yields zero; a divisor with bit 63 set admits
// only 0 or 1 as the quotient; otherwise the halved-dividend identity
// q = ((n >> 1) / d) * 2, corrected by one if the remainder still covers d,
// keeps every intermediate inside the signed range.
func lowerUdiv(ctx *frontend.Context, sf bool, rd, rn, rm uint8) {
	rnVal := ctx.ReadCPUReg(rn, sf)
	rmVal := ctx.ReadCPUReg(rm, sf)
	zero := ctx.ConstU64(0)
	res := ctx.NewTemp(ir.U64)
	lblZero := ctx.NewLabel()
	lblEnd := ctx.NewLabel()

	ctx.PushBrc(lblZero, rmVal, zero, ir.CondEQ)

	if !sf {
		// Zero-extended W operands are always in signed range.
		ctx.PushDiv(res, rnVal, rmVal)
		ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)
	} else {
		lblBig := ctx.NewLabel()
		sign := ctx.NewTemp(ir.U64)
		ctx.PushShr(sign, rmVal, ctx.ConstU64(63))
		ctx.PushBrc(lblBig, sign, zero, ir.CondNE)

		half := ctx.NewTemp(ir.U64)
		ctx.PushShr(half, rnVal, ctx.ConstU64(1))
		qHalf := ctx.NewTemp(ir.U64)
		ctx.PushDiv(qHalf, half, rmVal)
		q := ctx.NewTemp(ir.U64)
		ctx.PushShl(q, qHalf, ctx.ConstU64(1))
		prod := ctx.NewTemp(ir.U64)
		ctx.PushMul(prod, q, rmVal)
		rem := ctx.NewTemp(ir.U64)
		ctx.PushSub(rem, rnVal, prod)
		adj := ctx.NewTemp(ir.U64)
		ctx.PushSetc(adj, rem, rmVal, ir.CondGEU)
		ctx.PushAdd(res, q, adj)
		ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)

		ctx.PushSetlbl(lblBig)
		ctx.PushSetc(res, rnVal, rmVal, ir.CondGEU)
		ctx.PushBrc(lblEnd, zero, zero, ir.CondAlways)
	}

	ctx.PushSetlbl(lblZero)
	ctx.PushMov(res, zero)
	ctx.PushSetlbl(lblEnd)
	ctx.WriteCPUReg(rd, sf, res)
}

// lowerDataProc3Src lowers MADD/MSUB and the widening SMADDL/SMSUBL/
// UMADDL/UMSUBL forms. SMULH/UMULH need a 128-bit high multiply the IR has
// no operator for and stay a decoder gap.
func lowerDataProc3Src(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	sf := extract(insn, 31, 1) == 1
	op31 := extract(insn, 21, 3)
	isSub := extract(insn, 15, 1) == 1
	rm := uint8(extract(insn, 16, 5))
	ra := uint8(extract(insn, 10, 5))
	rn := uint8(extract(insn, 5, 5))
	rd := uint8(extract(insn, 0, 5))

	if extract(insn, 29, 2) != 0 {
		return unallocated(ctx, insn)
	}

	var a, b *ir.Value
	switch op31 {
	case 0: // MADD/MSUB
		a = ctx.ReadCPUReg(rn, sf)
		b = ctx.ReadCPUReg(rm, sf)
	case 1, 5: // SMADDL/SMSUBL, UMADDL/UMSUBL
		if !sf {
			return unallocated(ctx, insn)
		}
		a = ctx.ReadCPUReg(rn, false)
		b = ctx.ReadCPUReg(rm, false)
		if op31 == 1 {
			as, bs := ctx.NewTemp(ir.U64), ctx.NewTemp(ir.U64)
			ctx.PushExtSlq(as, a)
			ctx.PushExtSlq(bs, b)
			a, b = as, bs
		}
	case 2, 6:
		if isSub || ra != 31 || !sf {
			return unallocated(ctx, insn)
		}
		return notImplemented(ctx, "mulh")
	default:
		return unallocated(ctx, insn)
	}

	prod := ctx.NewTemp(ir.U64)
	ctx.PushMul(prod, a, b)
	raVal := ctx.ReadCPUReg(ra, sf)
	result := ctx.NewTemp(ir.U64)
	if isSub {
		ctx.PushSub(result, raVal, prod)
	} else {
		ctx.PushAdd(result, raVal, prod)
	}
	ctx.WriteCPUReg(rd, sf, result)
	return nil, nil
}
