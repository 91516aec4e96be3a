// Package runtime wires together the frontend, the arm64 decoder and the
// jit backend into a running emulator: the guest address space, the ELF
// loader, the translation-block cache, and the dispatch loop that drives
// translation and execution.
package runtime

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GuestSize is the default size of the guest address space mapping,
// 512 MiB.
const GuestSize = 512 << 20

// GuestVM is the emulator's anonymous mapping standing in for the guest's
// entire address space: one contiguous mmap that ELF segments are copied
// into at their p_vaddr, and that every guest load/store is relative to.
// A single flat mapping keeps address translation to one add per access,
// with no per-segment lookup.
type GuestVM struct {
	mem []byte
}

// NewGuestVM reserves a fresh, zeroed guest address space of size bytes.
func NewGuestVM(size int) (*GuestVM, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to map guest address space: %w", err)
	}
	return &GuestVM{mem: mem}, nil
}

// Base implements jit.GuestMem: the host address guest address 0 maps to.
func (g *GuestVM) Base() uintptr {
	if len(g.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&g.mem[0]))
}

// Size returns the guest address space's mapped size.
func (g *GuestVM) Size() int { return len(g.mem) }

// ReadU32 implements frontend.MemReader: little-endian instruction fetch.
func (g *GuestVM) ReadU32(addr uint64) (uint32, bool) {
	if addr%4 != 0 || addr+4 > uint64(len(g.mem)) {
		return 0, false
	}
	b := g.mem[addr : addr+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

// WriteSegment copies data into the guest address space at vaddr,
// zero-filling memSize-len(data) bytes after it (the loader's p_memsz >
// p_filesz tail-zero behavior).
func (g *GuestVM) WriteSegment(vaddr uint64, data []byte, memSize uint64) error {
	if vaddr+memSize > uint64(len(g.mem)) {
		return fmt.Errorf("runtime: segment at %#x size %#x exceeds guest address space", vaddr, memSize)
	}
	n := copy(g.mem[vaddr:], data)
	for i := vaddr + uint64(n); i < vaddr+memSize; i++ {
		g.mem[i] = 0
	}
	return nil
}
