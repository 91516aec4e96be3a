package ir

import "fmt"

// Op is a single IR operation. Every Op shares one flattened struct rather
// than a Go sum type per shape — the Opcode says which fields are
// meaningful:
//
//   - Unary:   op(rd, rs1)                           — rd, rs1 set
//   - Convert: op(rd, rs1)  (rd.Type() may differ)    — rd, rs1 set
//   - Binary:  op(rd, rs1, rs2)                       — rd, rs1, rs2 set
//     (Load/Store use rs2 as the MemOp immediate, stored as a ConstU64)
//   - Custom:  Setc/Movc/ExtrU/ExtrS/Depos/Add2(l)     — see per-op accessors
//   - Label:   Setlbl(label), Brc(label, c1, c2, cc)  — label, cc set
//
// Every operand is a strong reference; an Op's operands keep their Values
// alive exactly as long as the Op itself is reachable from a
// TranslationBlock.
type Op struct {
	opcode Opcode

	rd, rs1, rs2, rs3, rs4 *Value
	label                  *Value
	cc                     CondOp
	ofs, length            uint8
	trapCause              TrapOp
}

// Opcode returns the operator this Op performs.
func (o *Op) Opcode() Opcode { return o.opcode }

// Rd returns the destination operand, or nil for ops with none (Brc, Setlbl, Trap).
func (o *Op) Rd() *Value { return o.rd }

// Rs1 returns the first source operand.
func (o *Op) Rs1() *Value { return o.rs1 }

// Rs2 returns the second source operand (the MemOp immediate, for Load/Store).
func (o *Op) Rs2() *Value { return o.rs2 }

// Rs3 returns the third source operand (Movc's rs2, Add2's ah).
func (o *Op) Rs3() *Value { return o.rs3 }

// Rs4 returns the fourth source operand (Movc's c2, Add2's bh).
func (o *Op) Rs4() *Value { return o.rs4 }

// Label returns the label operand of Setlbl/Brc.
func (o *Op) Label() *Value { return o.label }

// Cond returns the condition code of Brc/Setc/Movc.
func (o *Op) Cond() CondOp { return o.cc }

// BitfieldRange returns the (offset, length) pair of ExtrU/ExtrS/Depos.
func (o *Op) BitfieldRange() (ofs, length uint8) { return o.ofs, o.length }

// MemOp returns the memory-access encoding of a Load/Store Op.
func (o *Op) MemOp() MemOp {
	c, ok := o.rs2.Storage().(ConstU64)
	if !ok {
		panic("ir: Load/Store Op without a MemOp immediate in rs2")
	}
	return MemOp(c.V)
}

// TrapCause returns the cause code of a Trap Op.
func (o *Op) TrapCause() TrapOp { return o.trapCause }

// TrapValue returns the associated value of a Trap Op (rs1, the frontend's
// defensive copy — see Builder.PushTrap).
func (o *Op) TrapValue() *Value { return o.rs1 }

func (o *Op) String() string {
	switch o.opcode {
	case OpSetlbl:
		return fmt.Sprintf("setlbl\t%s", fmtVal(o.label))
	case OpBrc:
		return fmt.Sprintf("brc\t%s, %s, %s, %s", fmtVal(o.label), fmtVal(o.rs1), fmtVal(o.rs2), o.cc)
	case OpSetc:
		return fmt.Sprintf("setc\t%s, %s, %s, %s", fmtVal(o.rd), fmtVal(o.rs1), fmtVal(o.rs2), o.cc)
	case OpMovc:
		return fmt.Sprintf("movc\t%s, %s, %s, %s, %s, %s", fmtVal(o.rd), fmtVal(o.rs1), fmtVal(o.rs3), fmtVal(o.rs2), fmtVal(o.rs4), o.cc)
	case OpExtrU, OpExtrS:
		return fmt.Sprintf("%s\t%s, %s, #%d, #%d", o.opcode, fmtVal(o.rd), fmtVal(o.rs1), o.ofs, o.length)
	case OpDepos:
		return fmt.Sprintf("depos\t%s, %s, %s, #%d, #%d", fmtVal(o.rd), fmtVal(o.rs1), fmtVal(o.rs2), o.ofs, o.length)
	case OpAdd2, OpAdd2l:
		return fmt.Sprintf("%s\t%s, %s, %s, %s, %s, %s", o.opcode, fmtVal(o.rd), fmtVal(o.rs3), fmtVal(o.rs1), fmtVal(o.rs2), fmtVal(o.rs4), "")
	case OpTrap:
		return fmt.Sprintf("trap\t%s, %s", o.trapCause, fmtVal(o.rs1))
	case OpLoad, OpStore:
		return fmt.Sprintf("%s\t%s, [%s]\t; %s", o.opcode, fmtVal(o.rd), fmtVal(o.rs1), o.MemOp())
	default:
		if o.rs2 != nil {
			return fmt.Sprintf("%s\t%s, %s, %s", o.opcode, fmtVal(o.rd), fmtVal(o.rs1), fmtVal(o.rs2))
		}
		if o.rs1 != nil {
			return fmt.Sprintf("%s\t%s, %s", o.opcode, fmtVal(o.rd), fmtVal(o.rs1))
		}
		return fmt.Sprintf("%s\t%s", o.opcode, fmtVal(o.rd))
	}
}

func fmtVal(v *Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.storage.String()
}
