package jit

import (
	"fmt"
	"math"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/jsteward/khemu/ir"
)

// --- primitive emit helpers: every higher-level lowering bottoms out here ---

func (b *Backend) emit2(as obj.As, from, to obj.Addr) {
	p := b.newProg()
	p.As = as
	p.From = from
	p.To = to
	b.add(p)
}

func regAddr(r int16) obj.Addr    { return obj.Addr{Type: obj.TYPE_REG, Reg: r} }
func constAddr(v int64) obj.Addr  { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }
func memAddr(r int16, o int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: r, Offset: o}
}

// emitMovImmToReg materializes an arbitrary 64-bit immediate into a host
// register. On amd64 MOVQ $imm64, reg is a single instruction at the ISA
// level, so no constant splitting is needed.
func (b *Backend) emitMovImmToReg(reg int16, v uint64) {
	b.emit2(x86.AMOVQ, constAddr(int64(v)), regAddr(reg))
}

func (b *Backend) emitMovMemToReg(base int16, off int64, dst int16) {
	b.emit2(x86.AMOVQ, memAddr(base, off), regAddr(dst))
}

func (b *Backend) emitMovRegToMem(src, base int16, off int64) {
	b.emit2(x86.AMOVQ, regAddr(src), memAddr(base, off))
}

func (b *Backend) emitMovRegToSlot(src int16, slot int32) {
	b.emitMovRegToMem(src, regFramePtr, slotOffset(slot))
}

func (b *Backend) emitMovSlotToReg(slot int32, dst int16) {
	b.emitMovMemToReg(regFramePtr, slotOffset(slot), dst)
}

// loadVal brings v's current value into host register dst: a constant is
// materialized directly, anything else is read from its stack slot. A fixed
// Value not yet seen this block fetches its canonical global first, routed
// entirely through dst so a multi-operand lowering's earlier loads
// survive; the first read of a fixed register fills its slot, which serves
// every later read in the block.
func (b *Backend) loadVal(v *ir.Value, dst int16) {
	switch s := v.Storage().(type) {
	case ir.ConstU64:
		b.emitMovImmToReg(dst, s.V)
	case ir.ConstU32:
		b.emitMovImmToReg(dst, uint64(s.V))
	case ir.ConstF64:
		b.emitMovImmToReg(dst, math.Float64bits(s.V))
	case namedStorage:
		slot := b.slotFor(v)
		if !b.loaded[v] {
			b.emitMovImmToReg(dst, uint64(s.slot.addr()))
			b.emitMovMemToReg(dst, 0, dst)
			b.emitMovRegToSlot(dst, slot)
			b.loaded[v] = true
			b.touchedGlob = append(b.touchedGlob, v)
			return
		}
		b.emitMovSlotToReg(slot, dst)
	default:
		b.emitMovSlotToReg(b.slotFor(v), dst)
	}
}

// storeVal writes host register src back into rd's slot, marking it dirty
// if rd is a fixed (named) global. The first write to a temporary realizes
// its storage as the slot itself; the slot binding happens exactly once per
// Value even when a lowering updates the same temporary along both arms of
// an in-block branch.
func (b *Backend) storeVal(rd *ir.Value, src int16) {
	slot := b.slotFor(rd)
	if !rd.Fixed() && !rd.Assigned() {
		rd.SetStorage(tempStorage{slot: slot})
	}
	b.emitMovRegToSlot(src, slot)
	b.markDirty(rd)
}

// --- prologue / epilogue ---

// fpSpillSlot is a scratch slot one past the allocator's range, used by the
// F64 lowerings to shuttle bits between integer and XMM registers.
const fpSpillSlot = maxSlots

// emitPrologue anchors the frame on the dedicated native stack this block
// runs on. callHostBlock (exec_amd64.s) has already switched SP there and
// pointed regFramePtr at the word its CALL stores the return address in
// (slot 0 lies just below it); the host ABI
// detail of exactly how it arrives is entry-point glue, not per-Op codegen.
// Here we simply reserve the frame — the slots plus the FP spill — under
// the real SP, so an asynchronous signal delivered mid-block cannot clobber
// live values.
func (b *Backend) emitPrologue() {
	b.emit2(x86.ASUBQ, constAddr((maxSlots+1)*slotSize), regAddr(x86.REG_SP))
}

func (b *Backend) emitEpilogue() {
	b.emit2(x86.AADDQ, constAddr((maxSlots+1)*slotSize), regAddr(x86.REG_SP))
	p := b.newProg()
	p.As = obj.ARET
	b.add(p)
}

// --- Dispatch: one case per Opcode family ---

// Dispatch routes a single Op to its lowering: a flat switch over a dense
// enum, one case (or helper call) per member.
func (b *Backend) Dispatch(op *ir.Op) {
	switch op.Opcode() {
	case ir.OpMov, ir.OpMovl, ir.OpMovd:
		b.emitUnary(op, func(r int16) {})
	case ir.OpNeg:
		b.emitUnary(op, func(r int16) { b.emit2(x86.ANEGQ, regAddr(r), regAddr(r)) })
	case ir.OpNegl:
		b.emitUnary(op, func(r int16) { b.emit2(x86.ANEGL, regAddr(r), regAddr(r)) })
	case ir.OpNot:
		b.emitUnary(op, func(r int16) { b.emit2(x86.ANOTQ, regAddr(r), regAddr(r)) })
	case ir.OpBswap:
		b.emitUnary(op, func(r int16) { b.emit2(x86.ABSWAPQ, regAddr(r), regAddr(r)) })

	case ir.OpAdd:
		b.emitBinary(op, x86.AADDQ)
	case ir.OpSub:
		b.emitBinary(op, x86.ASUBQ)
	case ir.OpMul:
		b.emitBinary(op, x86.AIMULQ)
	case ir.OpAnd:
		b.emitBinary(op, x86.AANDQ)
	case ir.OpOr:
		b.emitBinary(op, x86.AORQ)
	case ir.OpXor:
		b.emitBinary(op, x86.AXORQ)
	case ir.OpSubl:
		b.emitBinary(op, x86.ASUBL)
	case ir.OpAndl:
		b.emitBinary(op, x86.AANDL)
	case ir.OpOrl:
		b.emitBinary(op, x86.AORL)
	case ir.OpXorl:
		b.emitBinary(op, x86.AXORL)

	case ir.OpAndc:
		b.emitNotThen(op, x86.AANDQ)
	case ir.OpAndcl:
		b.emitNotThen(op, x86.AANDL)
	case ir.OpOrc:
		b.emitNotThen(op, x86.AORQ)
	case ir.OpEqv:
		b.emitBinary(op, x86.AXORQ)
		b.emitPostNot(op)
	case ir.OpNand:
		b.emitBinary(op, x86.AANDQ)
		b.emitPostNot(op)
	case ir.OpNor:
		b.emitBinary(op, x86.AORQ)
		b.emitPostNot(op)

	case ir.OpClz:
		b.emitClz(op)
	case ir.OpCtz:
		b.emitCtz(op)

	case ir.OpShl:
		b.emitShift(op, x86.ASHLQ)
	case ir.OpShr:
		b.emitShift(op, x86.ASHRQ)
	case ir.OpSar:
		b.emitShift(op, x86.ASARQ)
	case ir.OpSarl:
		b.emitShift(op, x86.ASARL)
	case ir.OpRotl:
		b.emitShift(op, x86.AROLQ)
	case ir.OpRotr:
		b.emitShift(op, x86.ARORQ)
	case ir.OpRotrl:
		b.emitShift(op, x86.ARORL)

	case ir.OpDiv:
		b.emitDivRem(op, true, false)
	case ir.OpRem:
		b.emitDivRem(op, true, true)
	case ir.OpRemu:
		b.emitDivRem(op, false, true)

	case ir.OpAddd:
		b.emitBinaryF(op, x86.AADDSD)
	case ir.OpSubd:
		b.emitBinaryF(op, x86.ASUBSD)
	case ir.OpMuld:
		b.emitBinaryF(op, x86.AMULSD)
	case ir.OpDivd:
		b.emitBinaryF(op, x86.ADIVSD)

	case ir.OpLoad:
		b.emitLoad(op)
	case ir.OpStore:
		b.emitStore(op)

	case ir.OpExtUbq, ir.OpExtUwq, ir.OpExtUlq, ir.OpExtSbq, ir.OpExtSwq, ir.OpExtSlq:
		b.emitExtend(op)
	case ir.OpExtrl:
		b.emitExtr(op, 0)
	case ir.OpExtrh:
		b.emitExtr(op, 32)

	case ir.OpSetlbl:
		b.emitSetlbl(op)
	case ir.OpBrc:
		b.emitBrc(op)
	case ir.OpSetc:
		b.emitSetc(op)
	case ir.OpMovc:
		b.emitMovc(op)
	case ir.OpExtrU:
		b.emitBitfieldExtr(op, false)
	case ir.OpExtrS:
		b.emitBitfieldExtr(op, true)
	case ir.OpDepos:
		b.emitDepos(op)
	case ir.OpAdd2, ir.OpAdd2l:
		b.emitAdd2(op)
	case ir.OpTrap:
		b.emitTrap(op)

	default:
		panic(fmt.Sprintf("jit: unhandled opcode %s", op.Opcode()))
	}
}

func (b *Backend) emitUnary(op *ir.Op, transform func(r int16)) {
	b.loadVal(op.Rs1(), regScratch1)
	transform(regScratch1)
	b.storeVal(op.Rd(), regScratch1)
}

func (b *Backend) emitBinary(op *ir.Op, as obj.As) {
	b.loadVal(op.Rs1(), regScratch1)
	b.loadVal(op.Rs2(), regScratch2)
	b.emit2(as, regAddr(regScratch2), regAddr(regScratch1))
	b.storeVal(op.Rd(), regScratch1)
}

// emitNotThen lowers a &^ b (Andc) and a | ^b (Orc): negate rs2, then apply
// as against rs1.
func (b *Backend) emitNotThen(op *ir.Op, as obj.As) {
	b.loadVal(op.Rs2(), regScratch2)
	b.emit2(x86.ANOTQ, regAddr(regScratch2), regAddr(regScratch2))
	b.loadVal(op.Rs1(), regScratch1)
	b.emit2(as, regAddr(regScratch2), regAddr(regScratch1))
	b.storeVal(op.Rd(), regScratch1)
}

// emitPostNot negates rd in place after a prior emitBinary wrote it,
// lowering Eqv/Nand/Nor as De Morgan rewrites of Xor/And/Or.
func (b *Backend) emitPostNot(op *ir.Op) {
	b.loadVal(op.Rd(), regScratch1)
	b.emit2(x86.ANOTQ, regAddr(regScratch1), regAddr(regScratch1))
	b.storeVal(op.Rd(), regScratch1)
}

// emitShift lowers Shl/Shr/Sar/Rotl/Rotr. amd64 shift instructions take
// their count in CL; rs2 is always moved there regardless of width.
func (b *Backend) emitShift(op *ir.Op, as obj.As) {
	b.loadVal(op.Rs1(), regScratch1)
	b.loadVal(op.Rs2(), x86.REG_CX)
	b.emit2(as, regAddr(x86.REG_CX), regAddr(regScratch1))
	b.storeVal(op.Rd(), regScratch1)
}

// emitDivRem lowers Div/Rem/Remu using the AX:DX-pair convention: Rem uses
// the signed IDIVQ's remainder (DX), Remu uses DIVQ's (no sign-extension,
// DX cleared first). The opcode set has one Div (signed quotient) and a
// Rem/Remu pair, so only the remainder needs both signednesses.
func (b *Backend) emitDivRem(op *ir.Op, signed, wantRemainder bool) {
	b.loadVal(op.Rs1(), x86.REG_AX)
	b.loadVal(op.Rs2(), regScratch2)
	if signed {
		p := b.newProg()
		p.As = x86.ACQO
		b.add(p)
		b.emit2(x86.AIDIVQ, regAddr(regScratch2), obj.Addr{})
	} else {
		b.emit2(x86.AXORQ, regAddr(x86.REG_DX), regAddr(x86.REG_DX))
		b.emit2(x86.ADIVQ, regAddr(regScratch2), obj.Addr{})
	}
	if wantRemainder {
		b.storeVal(op.Rd(), x86.REG_DX)
	} else {
		b.storeVal(op.Rd(), x86.REG_AX)
	}
}

func (b *Backend) emitBinaryF(op *ir.Op, as obj.As) {
	b.loadValF(op.Rs1(), x86.REG_X0)
	b.loadValF(op.Rs2(), x86.REG_X1)
	b.emit2(as, regAddr(x86.REG_X1), regAddr(x86.REG_X0))
	b.storeValF(op.Rd(), x86.REG_X0)
}

func (b *Backend) loadValF(v *ir.Value, dst int16) {
	b.loadVal(v, regScratch1)
	b.emitMovRegToMem(regScratch1, regFramePtr, slotOffset(fpSpillSlot))
	b.emit2(x86.AMOVSD, memAddr(regFramePtr, slotOffset(fpSpillSlot)), regAddr(dst))
}

func (b *Backend) storeValF(rd *ir.Value, src int16) {
	b.emit2(x86.AMOVSD, regAddr(src), memAddr(regFramePtr, slotOffset(fpSpillSlot)))
	b.emitMovMemToReg(regFramePtr, slotOffset(fpSpillSlot), regScratch1)
	b.storeVal(rd, regScratch1)
}

// emitClz/emitCtz lower AArch64's CLZ via BSR (bit-scan-reverse) and CTZ
// via BSF, both of which leave the result undefined on a zero input on
// amd64 where the guest operator defines it as the operand width;
// BSR/BSF's ZF flag signals that case so it is special-cased.
func (b *Backend) emitClz(op *ir.Op) {
	b.loadVal(op.Rs1(), regScratch1)
	b.emit2(x86.ABSRQ, regAddr(regScratch1), regAddr(regScratch2))
	zeroLbl := b.newProg()
	zeroLbl.As = x86.AJEQ
	b.add(zeroLbl)
	// nonzero path: clz = 63 - bsr_index
	b.emit2(x86.AMOVQ, constAddr(63), regAddr(regScratch1))
	b.emit2(x86.ASUBQ, regAddr(regScratch2), regAddr(regScratch1))
	doneJmp := b.newProg()
	doneJmp.As = obj.AJMP
	b.add(doneJmp)
	zeroLbl.To.SetTarget(b.peekNext())
	b.emit2(x86.AMOVQ, constAddr(64), regAddr(regScratch1))
	doneJmp.To.SetTarget(b.peekNext())
	b.storeVal(op.Rd(), regScratch1)
}

func (b *Backend) emitCtz(op *ir.Op) {
	b.loadVal(op.Rs1(), regScratch1)
	b.emit2(x86.ABSFQ, regAddr(regScratch1), regAddr(regScratch2))
	zeroLbl := b.newProg()
	zeroLbl.As = x86.AJEQ
	b.add(zeroLbl)
	b.emit2(x86.AMOVQ, regAddr(regScratch2), regAddr(regScratch1))
	doneJmp := b.newProg()
	doneJmp.As = obj.AJMP
	b.add(doneJmp)
	zeroLbl.To.SetTarget(b.peekNext())
	b.emit2(x86.AMOVQ, constAddr(64), regAddr(regScratch1))
	doneJmp.To.SetTarget(b.peekNext())
	b.storeVal(op.Rd(), regScratch1)
}

// peekNext emits a NOP and returns it, used as a branch-target anchor for
// the handful of lowerings (Clz/Ctz) that need to join two paths without a
// guest-visible Label Value.
func (b *Backend) peekNext() *obj.Prog {
	p := b.newProg()
	p.As = obj.ANOP
	b.add(p)
	return p
}

// emitLoad/emitStore compute guest_vm_base + addr and access through the
// resulting host pointer at the width the MemOp declares. regGuestBase is
// pinned by the trampoline for the whole block.
func (b *Backend) emitLoad(op *ir.Op) {
	var addrReg int16 = regScratch1
	b.loadVal(op.Rs1(), addrReg)
	b.emit2(x86.AADDQ, regAddr(regGuestBase), regAddr(addrReg))
	as := loadInsn(op.MemOp())
	b.emit2(as, memAddr(addrReg, 0), regAddr(regScratch2))
	b.storeVal(op.Rd(), regScratch2)
}

func (b *Backend) emitStore(op *ir.Op) {
	var addrReg int16 = regScratch1
	b.loadVal(op.Rd(), addrReg)
	b.emit2(x86.AADDQ, regAddr(regGuestBase), regAddr(addrReg))
	b.loadVal(op.Rs1(), regScratch2)
	as := storeInsn(op.MemOp())
	b.emit2(as, regAddr(regScratch2), memAddr(addrReg, 0))
}

// loadInsn/storeInsn pick the amd64 move variant for a MemOp's size and
// signedness (load only extends; store always truncates implicitly by
// instruction width).
func loadInsn(m ir.MemOp) obj.As {
	switch m.GetSize() {
	case 1:
		if m.GetSign() {
			return x86.AMOVBQSX
		}
		return x86.AMOVBQZX
	case 2:
		if m.GetSign() {
			return x86.AMOVWQSX
		}
		return x86.AMOVWQZX
	case 4:
		if m.GetSign() {
			return x86.AMOVLQSX
		}
		return x86.AMOVLQZX
	default:
		return x86.AMOVQ
	}
}

func storeInsn(m ir.MemOp) obj.As {
	switch m.GetSize() {
	case 1:
		return x86.AMOVB
	case 2:
		return x86.AMOVW
	case 4:
		return x86.AMOVL
	default:
		return x86.AMOVQ
	}
}

func (b *Backend) emitExtend(op *ir.Op) {
	b.loadVal(op.Rs1(), regScratch1)
	switch op.Opcode() {
	case ir.OpExtUbq:
		b.emit2(x86.AMOVBQZX, regAddr(regScratch1), regAddr(regScratch1))
	case ir.OpExtUwq:
		b.emit2(x86.AMOVWQZX, regAddr(regScratch1), regAddr(regScratch1))
	case ir.OpExtUlq:
		b.emit2(x86.AMOVLQZX, regAddr(regScratch1), regAddr(regScratch1))
	case ir.OpExtSbq:
		b.emit2(x86.AMOVBQSX, regAddr(regScratch1), regAddr(regScratch1))
	case ir.OpExtSwq:
		b.emit2(x86.AMOVWQSX, regAddr(regScratch1), regAddr(regScratch1))
	case ir.OpExtSlq:
		b.emit2(x86.AMOVLQSX, regAddr(regScratch1), regAddr(regScratch1))
	}
	b.storeVal(op.Rd(), regScratch1)
}

// emitExtr lowers Extrl/Extrh: take the low or high 32-bit half of a U64
// source.
func (b *Backend) emitExtr(op *ir.Op, shift uint) {
	b.loadVal(op.Rs1(), regScratch1)
	if shift != 0 {
		b.emit2(x86.ASHRQ, constAddr(int64(shift)), regAddr(regScratch1))
	}
	b.emit2(x86.AMOVLQZX, regAddr(regScratch1), regAddr(regScratch1))
	b.storeVal(op.Rd(), regScratch1)
}

// --- labels / control flow ---

func (b *Backend) emitSetlbl(op *ir.Op) {
	anchor := b.peekNext()
	b.setAt[op.Label()] = anchor
	for _, pending := range b.labels[op.Label()] {
		pending.To.SetTarget(anchor)
	}
}

// emitBrc lowers Brc: compare rs1 against rs2 per cc, branch to label if
// true. Unresolved forward labels get their target patched in once
// emitSetlbl is reached (or at resolveLabels, for any that never fire
// because the code never reaches that point in this dispatch order — see
// resolveLabels).
func (b *Backend) emitBrc(op *ir.Op) {
	b.loadVal(op.Rs1(), regScratch1)
	b.loadVal(op.Rs2(), regScratch2)
	b.emit2(x86.ACMPQ, regAddr(regScratch2), regAddr(regScratch1))

	p := b.newProg()
	p.As = condJump(op.Cond())
	b.add(p)
	if target, ok := b.setAt[op.Label()]; ok {
		p.To.SetTarget(target)
	} else {
		b.labels[op.Label()] = append(b.labels[op.Label()], p)
	}
}

// resolveLabels patches any branch whose label was referenced before it
// was defined in dispatch order but never caught up to by the scan above
// (guards against a malformed TB; well-formed output from the frontend
// always Setlbl's every label it Brc's to).
func (b *Backend) resolveLabels() {
	for lv, pending := range b.labels {
		target, ok := b.setAt[lv]
		if !ok {
			panic("jit: Brc to a label that was never Setlbl'd")
		}
		for _, p := range pending {
			p.To.SetTarget(target)
		}
	}
}

func condJump(cc ir.CondOp) obj.As {
	switch cc {
	case ir.CondAlways:
		return obj.AJMP
	case ir.CondEQ:
		return x86.AJEQ
	case ir.CondNE:
		return x86.AJNE
	case ir.CondLT:
		return x86.AJLT
	case ir.CondGE:
		return x86.AJGE
	case ir.CondLE:
		return x86.AJLE
	case ir.CondGT:
		return x86.AJGT
	case ir.CondLTU:
		return x86.AJCS
	case ir.CondGEU:
		return x86.AJCC
	case ir.CondLEU:
		return x86.AJLS
	case ir.CondGTU:
		return x86.AJHI
	default:
		panic(fmt.Sprintf("jit: unreachable condition %s in Brc (CondNever never reaches codegen)", cc))
	}
}

func condSet(cc ir.CondOp) obj.As {
	switch cc {
	case ir.CondEQ:
		return x86.ASETEQ
	case ir.CondNE:
		return x86.ASETNE
	case ir.CondLT:
		return x86.ASETLT
	case ir.CondGE:
		return x86.ASETGE
	case ir.CondLE:
		return x86.ASETLE
	case ir.CondGT:
		return x86.ASETGT
	case ir.CondLTU:
		return x86.ASETCS
	case ir.CondGEU:
		return x86.ASETCC
	case ir.CondLEU:
		return x86.ASETLS
	case ir.CondGTU:
		return x86.ASETHI
	default:
		panic(fmt.Sprintf("jit: unreachable condition %s in Setc", cc))
	}
}

// emitSetc lowers Setc: rd = (rs1 cc rs2) ? 1 : 0, used by the frontend's
// clean-boolean NZCV flag materialization.
func (b *Backend) emitSetc(op *ir.Op) {
	b.loadVal(op.Rs1(), regScratch1)
	b.loadVal(op.Rs2(), regScratch2)
	b.emit2(x86.ACMPQ, regAddr(regScratch2), regAddr(regScratch1))
	b.emit2(x86.AMOVQ, constAddr(0), regAddr(regScratch1))
	p := b.newProg()
	p.As = condSet(op.Cond())
	p.To = regAddr(regScratch1)
	b.add(p)
	b.storeVal(op.Rd(), regScratch1)
}

// emitMovc lowers Movc: rd = (c1 cc c2) ? rs1 : rs2, implementing AArch64's
// CSEL family via CMPQ + CMOVcc rather than a branch.
func (b *Backend) emitMovc(op *ir.Op) {
	trueVal := op.Rs1()
	falseVal := op.Rs3()
	cmp1 := op.Rs2()
	cmp2 := op.Rs4()

	b.loadVal(cmp1, regScratch1)
	b.loadVal(cmp2, regScratch2)
	b.emit2(x86.ACMPQ, regAddr(regScratch2), regAddr(regScratch1))

	b.loadVal(falseVal, regScratch1)
	b.loadVal(trueVal, regScratch2)
	p := b.newProg()
	p.As = condMov(op.Cond())
	p.From = regAddr(regScratch2)
	p.To = regAddr(regScratch1)
	b.add(p)
	b.storeVal(op.Rd(), regScratch1)
}

func condMov(cc ir.CondOp) obj.As {
	switch cc {
	case ir.CondEQ:
		return x86.ACMOVQEQ
	case ir.CondNE:
		return x86.ACMOVQNE
	case ir.CondLT:
		return x86.ACMOVQLT
	case ir.CondGE:
		return x86.ACMOVQGE
	case ir.CondLE:
		return x86.ACMOVQLE
	case ir.CondGT:
		return x86.ACMOVQGT
	case ir.CondLTU:
		return x86.ACMOVQCS
	case ir.CondGEU:
		return x86.ACMOVQCC
	case ir.CondLEU:
		return x86.ACMOVQLS
	case ir.CondGTU:
		return x86.ACMOVQHI
	default:
		panic(fmt.Sprintf("jit: unreachable condition %s in Movc", cc))
	}
}

// emitBitfieldExtr lowers ExtrU/ExtrS: extract length bits starting at
// ofs, zero- or sign-extending the result.
func (b *Backend) emitBitfieldExtr(op *ir.Op, signed bool) {
	ofs, length := op.BitfieldRange()
	b.loadVal(op.Rs1(), regScratch1)
	if ofs > 0 {
		b.emit2(x86.ASHRQ, constAddr(int64(ofs)), regAddr(regScratch1))
	}
	shift := 64 - int64(length)
	b.emit2(x86.ASHLQ, constAddr(shift), regAddr(regScratch1))
	if signed {
		b.emit2(x86.ASARQ, constAddr(shift), regAddr(regScratch1))
	} else {
		b.emit2(x86.ASHRQ, constAddr(shift), regAddr(regScratch1))
	}
	b.storeVal(op.Rd(), regScratch1)
}

// emitDepos lowers Depos: deposit length bits of rs2 into rd at bit
// offset ofs, keeping rs1's bits elsewhere (rd = rs1 with [ofs:ofs+length)
// replaced by rs2's low bits).
func (b *Backend) emitDepos(op *ir.Op) {
	ofs, length := op.BitfieldRange()
	low := uint64(1)<<uint(length) - 1
	mask := low << ofs

	b.loadVal(op.Rs1(), regScratch1)
	b.emitMovImmToReg(regScratch3, ^mask)
	b.emit2(x86.AANDQ, regAddr(regScratch3), regAddr(regScratch1))

	b.loadVal(op.Rs2(), regScratch2)
	b.emitMovImmToReg(regScratch3, low)
	b.emit2(x86.AANDQ, regAddr(regScratch3), regAddr(regScratch2))
	if ofs > 0 {
		b.emit2(x86.ASHLQ, constAddr(int64(ofs)), regAddr(regScratch2))
	}
	b.emit2(x86.AORQ, regAddr(regScratch2), regAddr(regScratch1))
	b.storeVal(op.Rd(), regScratch1)
}

// emitAdd2 lowers Add2/Add2l: a double-limb add whose low-half carry-out
// propagates into the high half. Operand layout per ir/op.go: rd=lo result,
// rs1=al, rs2=bl, rs3=ah, rs4=bh, Add2High()=hi result. The carry is
// captured with SETCS straight off the low-half ADD, before anything else
// disturbs the flags.
func (b *Backend) emitAdd2(op *ir.Op) {
	addAs := x86.AADDQ
	if op.Opcode() == ir.OpAdd2l {
		addAs = x86.AADDL
	}

	b.loadVal(op.Rs1(), regScratch1) // al
	b.loadVal(op.Rs2(), regScratch2) // bl
	b.emit2(addAs, regAddr(regScratch2), regAddr(regScratch1))
	setcs := b.newProg()
	setcs.As = x86.ASETCS
	setcs.To = regAddr(regScratch3)
	b.add(setcs)
	b.storeVal(op.Rd(), regScratch1)
	b.emit2(x86.AMOVBQZX, regAddr(regScratch3), regAddr(regScratch3))

	b.loadVal(op.Rs3(), regScratch1) // ah
	b.emit2(addAs, regAddr(regScratch3), regAddr(regScratch1))
	b.loadVal(op.Rs4(), regScratch2) // bh
	b.emit2(addAs, regAddr(regScratch2), regAddr(regScratch1))
	b.storeVal(op.Add2High(), regScratch1)
}

// --- traps ---

// emitTrap lowers a Trap op: flush every cached global to memory (the
// runtime must observe consistent guest state), call the extern trap
// function pointer with (cause, val) as its two word-sized integer
// arguments, then return — a HostBlock is a nullary void function whose
// every exit path is one of these sequences. The pointer targets
// trapRecord (exec_amd64.s), an assembly leaf: emitted code runs without
// a Go execution context, so the target must not lead into Go code. The
// Go-level trap handler runs via HandleTrap as soon as the block returns
// to the dispatch loop.
func (b *Backend) emitTrap(op *ir.Op) {
	b.flushAllGlobals()
	b.emitMovImmToReg(trapArgCause, uint64(op.TrapCause()))
	b.loadVal(op.TrapValue(), trapArgVal)
	b.emitMovImmToReg(regScratch1, uint64(b.trapEntry))
	call := b.newProg()
	call.As = obj.ACALL
	call.To = regAddr(regScratch1)
	b.add(call)
	b.emitEpilogue()
}
