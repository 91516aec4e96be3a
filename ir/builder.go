package ir

import "fmt"

// ZeroSink marks a Value whose writes are always discarded (AArch64's XZR
// register, modeled as a Fixed Value pinned to this Storage). Builder push
// methods drop any Op whose destination is a ZeroSink instead of emitting
// a dead store.
type ZeroSink struct{}

func (ZeroSink) isStorage()     {}
func (ZeroSink) String() string { return "xzr" }

// IsZeroSink reports whether v is pinned to the zero sink.
func (v *Value) IsZeroSink() bool {
	_, ok := v.storage.(ZeroSink)
	return ok
}

// Builder accumulates the Ops of a translation block in progress, applying
// operand-type assertions and the constructor-level peephole folds (zero
// add/sub to mov, same-storage mov elision, no-op extensions, zero-sink
// writes). A frontend.Context embeds one Builder per in-progress TB and
// hands its accumulated Ops to a TranslationBlock on finalization.
type Builder struct {
	ops          []*Op
	labelCounter uint64
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Ops returns the accumulated op list so far, in emission order.
func (b *Builder) Ops() []*Op { return b.ops }

// Len returns the number of Ops emitted so far.
func (b *Builder) Len() int { return len(b.ops) }

// Take removes and returns the accumulated Ops, resetting the Builder for
// the next translation block. Used by frontend.Context.GetTB.
func (b *Builder) Take() []*Op {
	ops := b.ops
	b.ops = nil
	return ops
}

// NewLabel allocates a fresh Label-typed Value; it is not yet placed until
// passed to PushSetlbl.
func (b *Builder) NewLabel() *Value {
	v := NewValue(Label, false)
	v.SetStorage(LabelHandle{ID: b.labelCounter})
	b.labelCounter++
	return v
}

func (b *Builder) push(op *Op) { b.ops = append(b.ops, op) }

func assertType(v *Value, want ValueType, op Opcode, operand string) {
	if v.Type() != want {
		panic(fmt.Sprintf("ir: %s operand %q must be %s, got %s", op, operand, want, v.Type()))
	}
}

// pushUnary implements the shared assertion + fold logic for op(rd, rs1)
// operators over Group().
func (b *Builder) pushUnary(op Opcode, rd, rs1 *Value) {
	g := op.Group()
	assertType(rd, g, op, "rd")
	assertType(rs1, g, op, "rs1")
	if rd.IsZeroSink() {
		return
	}
	if op == OpMov && SameStorage(rd, rs1) {
		return
	}
	b.push(&Op{opcode: op, rd: rd, rs1: rs1})
}

// pushBinary implements the shared assertion + fold logic for
// op(rd, rs1, rs2) operators over Group().
func (b *Builder) pushBinary(op Opcode, rd, rs1, rs2 *Value) {
	g := op.Group()
	assertType(rd, g, op, "rd")
	assertType(rs1, g, op, "rs1")
	assertType(rs2, g, op, "rs2")
	if rd.IsZeroSink() {
		return
	}
	switch op {
	case OpAdd:
		if rs2.IsConstZero() {
			b.pushUnary(movOpcodeFor(g), rd, rs1)
			return
		}
		if rs1.IsConstZero() {
			b.pushUnary(movOpcodeFor(g), rd, rs2)
			return
		}
	case OpSub:
		if rs2.IsConstZero() {
			b.pushUnary(movOpcodeFor(g), rd, rs1)
			return
		}
	}
	b.push(&Op{opcode: op, rd: rd, rs1: rs1, rs2: rs2})
}

func movOpcodeFor(g ValueType) Opcode {
	switch g {
	case U32:
		return OpMovl
	case F64:
		return OpMovd
	default:
		return OpMov
	}
}

// pushConvert implements a Convert-shaped op(rd, rs1) where only rd's type
// is asserted against want; rs1 is asserted against its own declared type.
func (b *Builder) pushConvert(op Opcode, rd, rs1 *Value, wantRd, wantRs1 ValueType) {
	assertType(rd, wantRd, op, "rd")
	assertType(rs1, wantRs1, op, "rs1")
	if rd.IsZeroSink() {
		return
	}
	if rd == rs1 {
		// No-op destination: the extension is already in effect.
		return
	}
	b.push(&Op{opcode: op, rd: rd, rs1: rs1})
}

// --- U64 unary ---

func (b *Builder) PushNeg(rd, rs1 *Value)   { b.pushUnary(OpNeg, rd, rs1) }
func (b *Builder) PushNot(rd, rs1 *Value)   { b.pushUnary(OpNot, rd, rs1) }
func (b *Builder) PushMov(rd, rs1 *Value)   { b.pushUnary(OpMov, rd, rs1) }
func (b *Builder) PushBswap(rd, rs1 *Value) { b.pushUnary(OpBswap, rd, rs1) }

// --- U64 arithmetic ---

func (b *Builder) PushAdd(rd, rs1, rs2 *Value)  { b.pushBinary(OpAdd, rd, rs1, rs2) }
func (b *Builder) PushSub(rd, rs1, rs2 *Value)  { b.pushBinary(OpSub, rd, rs1, rs2) }
func (b *Builder) PushMul(rd, rs1, rs2 *Value)  { b.pushBinary(OpMul, rd, rs1, rs2) }
func (b *Builder) PushDiv(rd, rs1, rs2 *Value)  { b.pushBinary(OpDiv, rd, rs1, rs2) }
func (b *Builder) PushRem(rd, rs1, rs2 *Value)  { b.pushBinary(OpRem, rd, rs1, rs2) }
func (b *Builder) PushRemu(rd, rs1, rs2 *Value) { b.pushBinary(OpRemu, rd, rs1, rs2) }

// --- U64 logic ---

func (b *Builder) PushAnd(rd, rs1, rs2 *Value)  { b.pushBinary(OpAnd, rd, rs1, rs2) }
func (b *Builder) PushOr(rd, rs1, rs2 *Value)   { b.pushBinary(OpOr, rd, rs1, rs2) }
func (b *Builder) PushXor(rd, rs1, rs2 *Value)  { b.pushBinary(OpXor, rd, rs1, rs2) }
func (b *Builder) PushAndc(rd, rs1, rs2 *Value) { b.pushBinary(OpAndc, rd, rs1, rs2) }
func (b *Builder) PushEqv(rd, rs1, rs2 *Value)  { b.pushBinary(OpEqv, rd, rs1, rs2) }
func (b *Builder) PushNand(rd, rs1, rs2 *Value) { b.pushBinary(OpNand, rd, rs1, rs2) }
func (b *Builder) PushNor(rd, rs1, rs2 *Value)  { b.pushBinary(OpNor, rd, rs1, rs2) }
func (b *Builder) PushOrc(rd, rs1, rs2 *Value)  { b.pushBinary(OpOrc, rd, rs1, rs2) }
func (b *Builder) PushClz(rd, rs1 *Value)       { b.pushUnary(OpClz, rd, rs1) }
func (b *Builder) PushCtz(rd, rs1 *Value)       { b.pushUnary(OpCtz, rd, rs1) }

// --- U64 shifts / rotates ---

func (b *Builder) PushShl(rd, rs1, rs2 *Value)  { b.pushBinary(OpShl, rd, rs1, rs2) }
func (b *Builder) PushShr(rd, rs1, rs2 *Value)  { b.pushBinary(OpShr, rd, rs1, rs2) }
func (b *Builder) PushSar(rd, rs1, rs2 *Value)  { b.pushBinary(OpSar, rd, rs1, rs2) }
func (b *Builder) PushRotl(rd, rs1, rs2 *Value) { b.pushBinary(OpRotl, rd, rs1, rs2) }
func (b *Builder) PushRotr(rd, rs1, rs2 *Value) { b.pushBinary(OpRotr, rd, rs1, rs2) }

// --- memory ---

// PushLoad emits rd = *rs1, using mem to describe size/sign/swap.
func (b *Builder) PushLoad(rd, rs1 *Value, mem MemOp) {
	assertType(rd, U64, OpLoad, "rd")
	assertType(rs1, U64, OpLoad, "rs1")
	if rd.IsZeroSink() {
		return
	}
	rs2 := NewValue(U64, false)
	rs2.SetStorage(ConstU64{V: uint64(mem)})
	b.push(&Op{opcode: OpLoad, rd: rd, rs1: rs1, rs2: rs2})
}

// PushStore emits *rd = rs1, using mem to describe size/swap (sign-extend
// is meaningless on store and must be clear in mem).
func (b *Builder) PushStore(rd, rs1 *Value, mem MemOp) {
	assertType(rd, U64, OpStore, "rd")
	assertType(rs1, U64, OpStore, "rs1")
	rs2 := NewValue(U64, false)
	rs2.SetStorage(ConstU64{V: uint64(mem)})
	b.push(&Op{opcode: OpStore, rd: rd, rs1: rs1, rs2: rs2})
}

// --- extensions (Convert shape) ---

func (b *Builder) PushExtUbq(rd, rs1 *Value) { b.pushConvert(OpExtUbq, rd, rs1, U64, U64) }
func (b *Builder) PushExtUwq(rd, rs1 *Value) { b.pushConvert(OpExtUwq, rd, rs1, U64, U64) }
func (b *Builder) PushExtUlq(rd, rs1 *Value) { b.pushConvert(OpExtUlq, rd, rs1, U64, U64) }
func (b *Builder) PushExtSbq(rd, rs1 *Value) { b.pushConvert(OpExtSbq, rd, rs1, U64, U64) }
func (b *Builder) PushExtSwq(rd, rs1 *Value) { b.pushConvert(OpExtSwq, rd, rs1, U64, U64) }
func (b *Builder) PushExtSlq(rd, rs1 *Value) { b.pushConvert(OpExtSlq, rd, rs1, U64, U64) }

// PushExtrl takes the low 32 bits of a U64 value into a U32 destination.
func (b *Builder) PushExtrl(rd, rs1 *Value) { b.pushConvert(OpExtrl, rd, rs1, U32, U64) }

// PushExtrh takes the high 32 bits of a U64 value into a U32 destination.
func (b *Builder) PushExtrh(rd, rs1 *Value) { b.pushConvert(OpExtrh, rd, rs1, U32, U64) }

// --- U32 ('l' suffix) ---

func (b *Builder) PushNegl(rd, rs1 *Value)      { b.pushUnary(OpNegl, rd, rs1) }
func (b *Builder) PushMovl(rd, rs1 *Value)      { b.pushUnary(OpMovl, rd, rs1) }
func (b *Builder) PushSubl(rd, rs1, rs2 *Value) { b.pushBinary(OpSubl, rd, rs1, rs2) }
func (b *Builder) PushAndl(rd, rs1, rs2 *Value) { b.pushBinary(OpAndl, rd, rs1, rs2) }
func (b *Builder) PushOrl(rd, rs1, rs2 *Value)  { b.pushBinary(OpOrl, rd, rs1, rs2) }
func (b *Builder) PushXorl(rd, rs1, rs2 *Value) { b.pushBinary(OpXorl, rd, rs1, rs2) }
func (b *Builder) PushAndcl(rd, rs1, rs2 *Value) {
	b.pushBinary(OpAndcl, rd, rs1, rs2)
}
func (b *Builder) PushSarl(rd, rs1, rs2 *Value)  { b.pushBinary(OpSarl, rd, rs1, rs2) }
func (b *Builder) PushRotrl(rd, rs1, rs2 *Value) { b.pushBinary(OpRotrl, rd, rs1, rs2) }

// --- F64 ('d' suffix) ---

func (b *Builder) PushMovd(rd, rs1 *Value)      { b.pushUnary(OpMovd, rd, rs1) }
func (b *Builder) PushAddd(rd, rs1, rs2 *Value) { b.pushBinary(OpAddd, rd, rs1, rs2) }
func (b *Builder) PushSubd(rd, rs1, rs2 *Value) { b.pushBinary(OpSubd, rd, rs1, rs2) }
func (b *Builder) PushMuld(rd, rs1, rs2 *Value) { b.pushBinary(OpMuld, rd, rs1, rs2) }
func (b *Builder) PushDivd(rd, rs1, rs2 *Value) { b.pushBinary(OpDivd, rd, rs1, rs2) }

// --- custom/typed shapes ---

// PushSetlbl places label at the current program point.
func (b *Builder) PushSetlbl(label *Value) {
	assertType(label, Label, OpSetlbl, "label")
	b.push(&Op{opcode: OpSetlbl, label: label})
}

// PushBrc emits a conditional branch to label when `c1 cc c2` holds.
func (b *Builder) PushBrc(label, c1, c2 *Value, cc CondOp) {
	assertType(label, Label, OpBrc, "label")
	b.push(&Op{opcode: OpBrc, label: label, rs1: c1, rs2: c2, cc: cc})
}

// PushSetc sets rd to 1 or 0 depending on whether `c1 cc c2` holds.
func (b *Builder) PushSetc(rd, c1, c2 *Value, cc CondOp) {
	assertType(rd, U64, OpSetc, "rd")
	if rd.IsZeroSink() {
		return
	}
	b.push(&Op{opcode: OpSetc, rd: rd, rs1: c1, rs2: c2, cc: cc})
}

// PushMovc sets rd to rs1 if `c1 cc c2` holds, else rs2 (CSEL/CSINC/... style).
func (b *Builder) PushMovc(rd, rs1, rs2, c1, c2 *Value, cc CondOp) {
	assertType(rd, U64, OpMovc, "rd")
	if rd.IsZeroSink() {
		return
	}
	b.push(&Op{opcode: OpMovc, rd: rd, rs1: rs1, rs3: rs2, rs2: c1, rs4: c2, cc: cc})
}

// PushExtrU extracts an unsigned bitfield [ofs, ofs+length) from rs1 into rd.
func (b *Builder) PushExtrU(rd, rs1 *Value, ofs, length uint8) {
	assertType(rd, U64, OpExtrU, "rd")
	assertType(rs1, U64, OpExtrU, "rs1")
	if rd.IsZeroSink() {
		return
	}
	b.push(&Op{opcode: OpExtrU, rd: rd, rs1: rs1, ofs: ofs, length: length})
}

// PushExtrS extracts a signed bitfield [ofs, ofs+length) from rs1 into rd.
func (b *Builder) PushExtrS(rd, rs1 *Value, ofs, length uint8) {
	assertType(rd, U64, OpExtrS, "rd")
	assertType(rs1, U64, OpExtrS, "rs1")
	if rd.IsZeroSink() {
		return
	}
	b.push(&Op{opcode: OpExtrS, rd: rd, rs1: rs1, ofs: ofs, length: length})
}

// PushDepos deposits bits [ofs, ofs+length) of rs2 into rd, copying the
// remaining bits of rs1 unchanged (the BFM-family encoding).
func (b *Builder) PushDepos(rd, rs1, rs2 *Value, ofs, length uint8) {
	assertType(rd, U64, OpDepos, "rd")
	assertType(rs1, U64, OpDepos, "rs1")
	assertType(rs2, U64, OpDepos, "rs2")
	if rd.IsZeroSink() {
		return
	}
	b.push(&Op{opcode: OpDepos, rd: rd, rs1: rs1, rs2: rs2, ofs: ofs, length: length})
}

// PushAdd2 computes the 128-bit sum (ah:al) + (bh:bl), writing the low half
// to rl and the high half (with carry) to rh.
func (b *Builder) PushAdd2(rl, rh, al, ah, bl, bh *Value) {
	for _, v := range [...]*Value{rl, rh, al, ah, bl, bh} {
		assertType(v, U64, OpAdd2, "operand")
	}
	b.push(&Op{opcode: OpAdd2, rd: rl, rs1: al, rs2: bl, rs3: ah, rs4: bh})
	b.setAdd2High(rh)
}

// PushAdd2l is the 32-bit-limb analogue of PushAdd2.
func (b *Builder) PushAdd2l(rl, rh, al, ah, bl, bh *Value) {
	for _, v := range [...]*Value{rl, rh, al, ah, bl, bh} {
		assertType(v, U32, OpAdd2l, "operand")
	}
	b.push(&Op{opcode: OpAdd2l, rd: rl, rs1: al, rs2: bl, rs3: ah, rs4: bh})
	b.setAdd2High(rh)
}

// setAdd2High stashes the high-half destination of the Add2/Add2l Op just
// pushed. Add2 produces two results; rh goes in the Op's label field
// (Add2 has no label) rather than growing Op with a second rd field.
func (b *Builder) setAdd2High(rh *Value) {
	last := b.ops[len(b.ops)-1]
	last.label = rh // repurposed: Add2(l) never uses label otherwise.
}

// Add2High returns the high-half destination of an Add2/Add2l Op.
func (o *Op) Add2High() *Value { return o.label }

// PushTrap emits a trap with the given cause and value. The value operand
// is copied into a fresh temporary first, so that later mutation of the
// original register (a fixed guest register, typically) cannot retroactively
// change what the trap recorded.
func (b *Builder) PushTrap(cause TrapOp, val *Value) {
	assertType(val, U64, OpTrap, "val")
	snapshot := NewValue(U64, false)
	b.PushMov(snapshot, val)
	b.push(&Op{opcode: OpTrap, trapCause: cause, rs1: snapshot})
}
