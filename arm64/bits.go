// Package arm64 implements the AArch64 guest decoder: a bit-field
// classification tree over the 32-bit instruction word, lowering each
// recognized instruction to IR pushed onto a frontend.Context's Builder.
// Decode in decoder.go is the entry point; each instruction class gets its
// own file (dataproc_imm.go, dataproc_reg.go, branch.go, ldst.go,
// system.go) and NZCV/condition handling lives in flags.go.
package arm64

// extract reads a len-bit unsigned field from insn starting at bit start.
func extract(insn uint32, start, length uint) uint32 {
	return (insn >> start) & ((1 << length) - 1)
}

// sextract reads a len-bit field from insn and sign-extends it to int64.
func sextract(insn uint32, start, length uint) int64 {
	v := extract(insn, start, length)
	shift := 32 - length
	return int64(int32(v<<shift)) >> shift
}

// bitRunMask replicates a 2^n-bit "string of e ones" pattern across a
// 64-bit word, the standard AArch64 logical-immediate decode algorithm used
// by both logic_imm and bitfield instructions. N:imms:immr together select
// an element size esize, a run length, and a rotation; this returns the
// resulting 64-bit mask, or ok=false for a reserved encoding.
func bitRunMask(n, imms, immr uint32) (mask uint64, ok bool) {
	var length uint
	if n == 1 {
		length = 6
	} else {
		// length is the bit index of the highest clear bit among imms's low
		// 6 bits (equivalently, the highest set bit of NOT(imms)); no clear
		// bit at all (imms == 0x3f) is a reserved encoding.
		found := false
		for i := uint(5); ; i-- {
			if extract(imms, i, 1) == 0 {
				length = i
				found = true
				break
			}
			if i == 0 {
				break
			}
		}
		if !found {
			return 0, false
		}
	}

	esize := uint(1) << length
	levels := uint32(esize - 1)
	s := imms & levels
	r := immr & levels
	if s == levels {
		return 0, false // reserved: all-ones run covers the whole element
	}

	runLen := s + 1
	var elem uint64
	for i := uint32(0); i < runLen; i++ {
		elem |= 1 << i
	}
	// rotate right by r within the esize-bit element.
	if r > 0 {
		elem = (elem>>r | elem<<(uint64(esize)-uint64(r))) & (1<<esize - 1)
	}

	// replicate the esize-bit element to fill 64 bits.
	mask = elem
	for filled := esize; filled < 64; filled *= 2 {
		mask |= mask << filled
	}
	return mask, true
}
