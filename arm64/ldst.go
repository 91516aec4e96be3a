package arm64

import (
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// cleanDataTBI clears the top byte of a data address, the AArch64 TBI
// (Top-Byte-Ignore) behavior Linux enables for EL0: ignore bits [63:56]
// for data accesses rather than faulting on them. The signed extract keeps
// kernel-half addresses sign-extending while zeroing user tags; TBI is
// assumed always on (the Linux EL0 default) rather than modeling the
// control register.
func cleanDataTBI(ctx *frontend.Context, addr *ir.Value) *ir.Value {
	clean := ctx.NewTemp(ir.U64)
	ctx.PushExtrS(clean, addr, 0, 56)
	return clean
}

// doLdst emits the load or store itself; the guest is always little-endian
// so no swap bit is ever set.
func doLdst(ctx *frontend.Context, isLoad bool, reg, addr *ir.Value, mem ir.MemOp) {
	if isLoad {
		ctx.PushLoad(reg, addr, mem)
	} else {
		ctx.PushStore(addr, reg, mem)
	}
}

// ldstMemOp builds the MemOp for an integer load/store of the given
// power-of-two size in bytes, with the sign-extension bit set for signed
// loads. The 64- vs 32-bit destination width is not part of the MemOp;
// callers apply it when they write the register.
func ldstMemOp(size int, signed bool) ir.MemOp {
	m := ir.MemOpFromSize(size)
	return m.WithSign(signed)
}

// lowerLdstPair lowers LDP/STP/LDPSW for the integer registers: two
// sequential accesses at addr and addr+size, with the first loaded value
// parked in a temporary until both complete.
func lowerLdstPair(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	rt := uint8(extract(insn, 0, 5))
	rn := uint8(extract(insn, 5, 5))
	rt2 := uint8(extract(insn, 10, 5))
	index := extract(insn, 23, 2)
	isVector := extract(insn, 26, 1) == 1
	isLoad := extract(insn, 22, 1) == 1
	opc := extract(insn, 30, 2)

	if opc == 3 {
		return unallocated(ctx, insn)
	}
	if isVector {
		fpAccessCheck(ctx)
		return nil, nil
	}

	size := 2 + extract(opc, 1, 1)
	isSigned := extract(opc, 0, 1) == 1
	if !isLoad && isSigned {
		return unallocated(ctx, insn)
	}

	var postindex, wback bool
	switch index {
	case 0:
		if isSigned {
			return unallocated(ctx, insn)
		}
		postindex, wback = false, false
	case 1:
		postindex, wback = true, true
	case 2:
		postindex, wback = false, false
	case 3:
		postindex, wback = false, true
	}

	offset := sextract(insn, 15, 7) << size
	accessSize := 1 << size
	mem := ldstMemOp(accessSize, isSigned)

	dirtyAddr := ctx.ReadCPURegSP(rn, true)
	offsetVal := ctx.ConstU64(uint64(abs64(offset)))
	sizeVal := ctx.ConstU64(uint64(accessSize))

	if !postindex {
		addOrSub(ctx, dirtyAddr, dirtyAddr, offsetVal, offset >= 0)
	}
	cleanAddr := cleanDataTBI(ctx, dirtyAddr)

	rtTarget := ctx.RawGPR(rt)
	rt2Target := ctx.RawGPR(rt2)

	if isLoad {
		tmp := ctx.NewTemp(ir.U64)
		doLdst(ctx, true, tmp, cleanAddr, mem)
		ctx.PushAdd(cleanAddr, cleanAddr, sizeVal)
		doLdst(ctx, true, rt2Target, cleanAddr, mem)
		ctx.PushMov(rtTarget, tmp)
	} else {
		doLdst(ctx, false, rtTarget, cleanAddr, mem)
		ctx.PushAdd(cleanAddr, cleanAddr, sizeVal)
		doLdst(ctx, false, rt2Target, cleanAddr, mem)
	}

	if wback {
		if postindex {
			addOrSub(ctx, dirtyAddr, dirtyAddr, offsetVal, offset >= 0)
		}
		ctx.WriteCPURegSP(rn, true, dirtyAddr)
	}

	return nil, nil
}

func addOrSub(ctx *frontend.Context, rd, rs1, rs2 *ir.Value, add bool) {
	if add {
		ctx.PushAdd(rd, rs1, rs2)
	} else {
		ctx.PushSub(rd, rs1, rs2)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// ldstRegKind decodes the size/opc pair shared by every integer LDR/STR
// form into the access direction, sign-extension and destination width.
func ldstRegKind(size, opc uint32) (isLoad, isSigned, use64, ok bool) {
	switch size {
	case 0, 1: // byte, halfword
		switch opc {
		case 0:
			return false, false, false, true
		case 1:
			return true, false, false, true
		case 2:
			return true, true, true, true
		default:
			return true, true, false, true
		}
	case 2: // word
		switch opc {
		case 0:
			return false, false, false, true
		case 1:
			return true, false, false, true
		case 2:
			return true, true, true, true
		}
	default: // doubleword
		switch opc {
		case 0:
			return false, false, true, true
		case 1:
			return true, false, true, true
		}
	}
	return false, false, false, false
}

// ldstRegAccess performs a single integer register load or store at an
// already-TBI-cleaned address.
func ldstRegAccess(ctx *frontend.Context, isLoad, isSigned, use64 bool, size uint32, rt uint8, cleanAddr *ir.Value) {
	mem := ldstMemOp(1<<size, isSigned)
	if isLoad {
		dest := ctx.NewTemp(ir.U64)
		doLdst(ctx, true, dest, cleanAddr, mem)
		ctx.WriteCPUReg(rt, use64, dest)
	} else {
		src := ctx.ReadCPUReg(rt, use64)
		doLdst(ctx, false, src, cleanAddr, mem)
	}
}

// lowerLdstReg lowers LDR/STR (immediate): the unsigned-immediate form,
// the pre/post-indexed signed-immediate forms, and the unscaled LDUR/STUR
// form, integer registers only; bit 21 routes the register-offset form.
func lowerLdstReg(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	size := extract(insn, 30, 2)
	isVector := extract(insn, 26, 1) == 1
	opc := extract(insn, 22, 2)
	rn := uint8(extract(insn, 5, 5))
	rt := uint8(extract(insn, 0, 5))
	unsignedImm := extract(insn, 24, 1) == 1

	if isVector {
		fpAccessCheck(ctx)
		return nil, nil
	}
	if !unsignedImm && extract(insn, 21, 1) == 1 {
		if extract(insn, 10, 2) == 2 {
			return lowerLdstRegRoff(ctx, insn)
		}
		return notImplemented(ctx, "ldst_atomic")
	}
	if size == 3 && opc == 2 {
		// PRFM/PRFUM: a prefetch hint, architecturally allowed to do nothing.
		return nil, nil
	}

	isLoad, isSigned, use64, ok := ldstRegKind(size, opc)
	if !ok {
		return unallocated(ctx, insn)
	}

	var addr *ir.Value
	var wback, postindex bool
	var offset int64

	if unsignedImm {
		imm12 := uint64(extract(insn, 10, 12)) << size
		base := ctx.ReadCPURegSP(rn, true)
		addr = ctx.NewTemp(ir.U64)
		ctx.PushAdd(addr, base, ctx.ConstU64(imm12))
	} else {
		offset = sextract(insn, 12, 9)
		switch extract(insn, 10, 2) {
		case 0: // unscaled LDUR/STUR: signed offset, no writeback
		case 1:
			postindex, wback = true, true
		case 3:
			postindex, wback = false, true
		default:
			return notImplemented(ctx, "ldst_reg_unprivileged")
		}

		base := ctx.ReadCPURegSP(rn, true)
		if postindex {
			addr = base
		} else {
			addr = ctx.NewTemp(ir.U64)
			addOrSub(ctx, addr, base, ctx.ConstU64(uint64(abs64(offset))), offset >= 0)
		}
	}

	cleanAddr := cleanDataTBI(ctx, addr)
	ldstRegAccess(ctx, isLoad, isSigned, use64, size, rt, cleanAddr)

	if wback {
		// The tag byte survives writeback: the dirty address, not the
		// TBI-cleaned one, lands back in the base register.
		if postindex {
			finalAddr := ctx.NewTemp(ir.U64)
			addOrSub(ctx, finalAddr, addr, ctx.ConstU64(uint64(abs64(offset))), offset >= 0)
			ctx.WriteCPURegSP(rn, true, finalAddr)
		} else {
			ctx.WriteCPURegSP(rn, true, addr)
		}
	}

	return nil, nil
}

// lowerLdstRegRoff lowers the register-offset LDR/STR forms: the offset
// register passes through the same extend-and-shift as add_sub_ext_reg,
// scaled by the access size when the S bit is set.
func lowerLdstRegRoff(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	size := extract(insn, 30, 2)
	opc := extract(insn, 22, 2)
	rm := uint8(extract(insn, 16, 5))
	option := extract(insn, 13, 3)
	scaled := extract(insn, 12, 1) == 1
	rn := uint8(extract(insn, 5, 5))
	rt := uint8(extract(insn, 0, 5))

	if option&2 == 0 {
		return unallocated(ctx, insn)
	}
	if size == 3 && opc == 2 {
		return nil, nil // PRFM (register)
	}
	isLoad, isSigned, use64, ok := ldstRegKind(size, opc)
	if !ok {
		return unallocated(ctx, insn)
	}

	var shift uint8
	if scaled {
		shift = uint8(size)
	}
	off := extendReg(ctx, rm, option, shift)
	base := ctx.ReadCPURegSP(rn, true)
	addr := ctx.NewTemp(ir.U64)
	ctx.PushAdd(addr, base, off)

	cleanAddr := cleanDataTBI(ctx, addr)
	ldstRegAccess(ctx, isLoad, isSigned, use64, size, rt, cleanAddr)
	return nil, nil
}

// lowerLdLit lowers the load-literal forms: a PC-relative load whose
// address is fully known at translation time, so no TBI clean is needed.
func lowerLdLit(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	opc := extract(insn, 30, 2)
	isVector := extract(insn, 26, 1) == 1
	rt := uint8(extract(insn, 0, 5))
	addr := uint64(int64(ctx.CurrPC()) + sextract(insn, 5, 19)*4)

	if isVector {
		fpAccessCheck(ctx)
		return nil, nil
	}

	var mem ir.MemOp
	switch opc {
	case 0: // LDR Wt
		mem = ir.MemU32
	case 1: // LDR Xt
		mem = ir.MemU64
	case 2: // LDRSW
		mem = ir.MemS32
	default: // PRFM (literal)
		return nil, nil
	}

	dest := ctx.NewTemp(ir.U64)
	doLdst(ctx, true, dest, ctx.ConstU64(addr), mem)
	ctx.WriteCPUReg(rt, true, dest)
	return nil, nil
}
