package ir

// Opcode identifies the operator an Op performs. U64 operators carry no
// suffix, U32 operators carry an `l` (long-word) suffix, F64 operators
// carry a `d` suffix.
type Opcode uint32

const (
	OpInvalid Opcode = iota

	// U64 unary / data-movement.
	OpNeg
	OpNot
	OpMov
	OpBswap

	// U64 arithmetic.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpRemu

	// U64 logic.
	OpAnd
	OpOr
	OpXor
	OpAndc // a &^ b
	OpEqv  // ^(a ^ b)
	OpNand
	OpNor
	OpOrc // a | ^b
	OpClz
	OpCtz

	// U64 shifts / rotates.
	OpShl
	OpShr
	OpSar
	OpRotl
	OpRotr

	// U64 memory. rs2 carries the MemOp immediate as a ConstU64.
	OpLoad
	OpStore

	// U64 sign/zero extensions (Convert shape).
	OpExtUbq
	OpExtUwq
	OpExtUlq
	OpExtSbq
	OpExtSwq
	OpExtSlq

	// U32 (`l` suffix) operators.
	OpNegl
	OpMovl
	OpSubl
	OpAndl
	OpOrl
	OpXorl
	OpAndcl
	OpSarl
	OpRotrl

	// U32 pair extracts from a U64 (Convert shape).
	OpExtrl
	OpExtrh

	// F64 (`d` suffix) operators.
	OpMovd
	OpAddd
	OpSubd
	OpMuld
	OpDivd

	// Custom/typed shapes.
	OpSetlbl
	OpBrc
	OpSetc
	OpMovc
	OpExtrU
	OpExtrS
	OpDepos
	OpAdd2
	OpAdd2l
	OpTrap
)

var opNames = map[Opcode]string{
	OpInvalid: "invalid",
	OpNeg:     "neg", OpNot: "not", OpMov: "mov", OpBswap: "bswap",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem", OpRemu: "remu",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpAndc: "andc", OpEqv: "eqv",
	OpNand: "nand", OpNor: "nor", OpOrc: "orc", OpClz: "clz", OpCtz: "ctz",
	OpShl: "shl", OpShr: "shr", OpSar: "sar", OpRotl: "rotl", OpRotr: "rotr",
	OpLoad: "load", OpStore: "store",
	OpExtUbq: "extubq", OpExtUwq: "extuwq", OpExtUlq: "extulq",
	OpExtSbq: "extsbq", OpExtSwq: "extswq", OpExtSlq: "extslq",
	OpNegl: "negl", OpMovl: "movl", OpSubl: "subl",
	OpAndl: "andl", OpOrl: "orl", OpXorl: "xorl", OpAndcl: "andcl",
	OpSarl: "sarl", OpRotrl: "rotrl",
	OpExtrl: "extrl", OpExtrh: "extrh",
	OpMovd: "movd", OpAddd: "addd", OpSubd: "subd", OpMuld: "muld", OpDivd: "divd",
	OpSetlbl: "setlbl", OpBrc: "brc", OpSetc: "setc", OpMovc: "movc",
	OpExtrU: "extru", OpExtrS: "extrs", OpDepos: "depos",
	OpAdd2: "add2", OpAdd2l: "add2l", OpTrap: "trap",
}

func (o Opcode) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "unknown_op"
}

// Group is the ValueType an Opcode's non-Convert operands must share.
func (o Opcode) Group() ValueType {
	switch o {
	case OpNegl, OpMovl, OpSubl, OpAndl, OpOrl, OpXorl, OpAndcl, OpSarl, OpRotrl,
		OpExtrl, OpExtrh, OpAdd2l:
		return U32
	case OpMovd, OpAddd, OpSubd, OpMuld, OpDivd:
		return F64
	default:
		return U64
	}
}

// IsConvert reports whether o is a Convert-shaped operator, whose rd type
// need not match Group() (only rd's own declared type matters).
func (o Opcode) IsConvert() bool {
	switch o {
	case OpExtUbq, OpExtUwq, OpExtUlq, OpExtSbq, OpExtSwq, OpExtSlq, OpExtrl, OpExtrh:
		return true
	default:
		return false
	}
}
