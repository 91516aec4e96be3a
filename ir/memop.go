package ir

import "fmt"

// MemOp is a bitfield-encoded immediate describing a Load/Store access:
// size, sign-extension (load only), byte-swap, and an alignment hint. It is
// carried as the rs2 operand of Load/Store Ops via a ConstU64 Value so that
// the Op shape stays uniform with other binary operators.
type MemOp uint64

const (
	memOpSizeShift  = 0 // 2 bits: log2(size in bytes), size ∈ {1,2,4,8}
	memOpSizeMask   = 0x3
	memOpSignShift  = 2 // 1 bit: sign-extend on load
	memOpSwapShift  = 3 // 1 bit: byte-swap (used for guest/host endian mismatch)
	memOpAlignShift = 4 // 3 bits: log2(alignment hint in bytes)
	memOpAlignMask  = 0x7
)

// MemOpFromSize builds a MemOp for an unsigned, non-swapped access of n
// bytes, n ∈ {1,2,4,8}. Panics otherwise — this is an Op-constructor-level
// invariant, not a guest-reachable error.
func MemOpFromSize(n int) MemOp {
	var log2 uint64
	switch n {
	case 1:
		log2 = 0
	case 2:
		log2 = 1
	case 4:
		log2 = 2
	case 8:
		log2 = 3
	default:
		panic(fmt.Sprintf("ir: MemOp size must be 1, 2, 4 or 8, got %d", n))
	}
	return MemOp(log2 << memOpSizeShift)
}

// GetSize returns the access size in bytes.
func (m MemOp) GetSize() int {
	return 1 << ((uint64(m) >> memOpSizeShift) & memOpSizeMask)
}

// WithSign returns a copy of m with the sign-extend bit set to b.
func (m MemOp) WithSign(b bool) MemOp {
	return m.withBit(memOpSignShift, b)
}

// GetSign reports whether a load sign-extends the loaded value.
func (m MemOp) GetSign() bool {
	return m.bit(memOpSignShift)
}

// WithSwap returns a copy of m with the byte-swap bit set to b.
func (m MemOp) WithSwap(b bool) MemOp {
	return m.withBit(memOpSwapShift, b)
}

// GetSwap reports whether the access byte-swaps relative to host order.
func (m MemOp) GetSwap() bool {
	return m.bit(memOpSwapShift)
}

// WithAlign returns a copy of m with an alignment hint of 1<<log2Bytes.
func (m MemOp) WithAlign(log2Bytes uint) MemOp {
	cleared := uint64(m) &^ (memOpAlignMask << memOpAlignShift)
	return MemOp(cleared | (uint64(log2Bytes)&memOpAlignMask)<<memOpAlignShift)
}

// GetAlign returns the alignment hint in bytes.
func (m MemOp) GetAlign() int {
	return 1 << ((uint64(m) >> memOpAlignShift) & memOpAlignMask)
}

func (m MemOp) bit(shift uint64) bool {
	return (uint64(m)>>shift)&1 != 0
}

func (m MemOp) withBit(shift uint64, b bool) MemOp {
	cleared := uint64(m) &^ (1 << shift)
	if b {
		cleared |= 1 << shift
	}
	return MemOp(cleared)
}

// Host-endian convenience aliases used pervasively by the AArch64 lowering,
// which is little-endian-only (GetSwap stays false on a little-endian
// host; a big-endian host backend would set WithSwap(true) here instead).
var (
	MemU8  = MemOpFromSize(1)
	MemU16 = MemOpFromSize(2)
	MemU32 = MemOpFromSize(4)
	MemU64 = MemOpFromSize(8)

	MemS8  = MemU8.WithSign(true)
	MemS16 = MemU16.WithSign(true)
	MemS32 = MemU32.WithSign(true)
)

func (m MemOp) String() string {
	s := fmt.Sprintf("u%d", m.GetSize()*8)
	if m.GetSign() {
		s = fmt.Sprintf("s%d", m.GetSize()*8)
	}
	if m.GetSwap() {
		s += "+bswap"
	}
	return s
}
