package ir

// CondOp is an IR-level condition code, distinct from AArch64's raw 4-bit
// `cond` field (see arm64.TestCC, which maps one into the other). Codes are
// assigned in inverse pairs so that Invert is a single XOR with bit 0.
type CondOp uint8

const (
	CondNever CondOp = iota
	CondAlways
	CondEQ
	CondNE
	CondLT
	CondGE
	CondLE
	CondGT
	CondLTU
	CondGEU
	CondLEU
	CondGTU
)

var condNames = [...]string{
	CondNever: "never", CondAlways: "always",
	CondEQ: "eq", CondNE: "ne",
	CondLT: "lt", CondGE: "ge",
	CondLE: "le", CondGT: "gt",
	CondLTU: "ltu", CondGEU: "geu",
	CondLEU: "leu", CondGTU: "gtu",
}

func (c CondOp) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "invalid"
}

// Invert returns the logical negation of c. It is an involution: flips
// exactly bit 0 and c.Invert().Invert() == c.
func (c CondOp) Invert() CondOp {
	return c ^ 1
}
