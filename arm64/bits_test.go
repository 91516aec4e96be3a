package arm64

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractReadsField(t *testing.T) {
	// 0b1011_0100 at bits [7:0]; field [3:6) holds bits 5..3 = 0b110 = 6.
	require.Equal(t, uint32(6), extract(0xb4, 3, 3))
}

func TestSextractSignExtendsNegative(t *testing.T) {
	// 5-bit field 0b11111 == -1.
	require.Equal(t, int64(-1), sextract(0x1f, 0, 5))
	require.Equal(t, int64(15), sextract(0x0f, 0, 5))
}

func TestBitRunMaskAllOnesReserved(t *testing.T) {
	_, ok := bitRunMask(1, 0x3f, 0)
	require.False(t, ok, "imms==all-ones at the n==1 element size is reserved")
}

func TestBitRunMaskSingleBit(t *testing.T) {
	// n=1, imms=0 (run length 1), immr=0 (no rotation): mask replicates bit 0
	// of a 64-bit element, i.e. 0x1.
	mask, ok := bitRunMask(1, 0, 0)
	require.True(t, ok)
	require.Equal(t, uint64(1), mask)
}

func TestBitRunMaskReplicatesElement(t *testing.T) {
	// n=0, imms=0b000111 (esize=32, run length 8), immr=0: a byte of ones
	// replicated across both 32-bit halves.
	mask, ok := bitRunMask(0, 0b000111, 0)
	require.True(t, ok)
	require.Equal(t, uint64(0x000000ff000000ff), mask)

	// n=0, imms=0b111100 (esize=2, run length 1): the 0b01 element repeated
	// 32 times, the canonical 0x5555... pattern.
	mask, ok = bitRunMask(0, 0b111100, 0)
	require.True(t, ok)
	require.Equal(t, uint64(0x5555555555555555), mask)
}

func TestBitRunMaskRotation(t *testing.T) {
	// n=0, imms=0b000000 (esize=32, run length 1), immr=1: a single set bit
	// rotated right by 1 within each 32-bit half lands at bit 31.
	mask, ok := bitRunMask(0, 0b000000, 1)
	require.True(t, ok)
	require.Equal(t, uint64(0x8000000080000000), mask)
}
