package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/jsteward/khemu/backend"
	"github.com/jsteward/khemu/ir"
)

// addrOfSlice returns the host address of a byte slice's backing array.
// The mmap'd slices this is used on are never garbage-collected (they are
// not Go heap memory), so holding a bare uintptr instead of a slice or
// unsafe.Pointer across their lifetime is safe.
func addrOfSlice(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// allocNativeStack reserves an anonymous, non-GC-managed stack for host
// block execution. The memory deliberately lives outside the Go heap:
// generated code runs with SP pointed here directly, and the Go runtime
// must never see or scan it. Returns the top-of-stack address (the highest
// mapped byte plus one), since amd64 stacks grow down.
func allocNativeStack(size int) uintptr {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		panic(fmt.Sprintf("jit: failed to allocate native stack: %v", err))
	}
	return addrOfSlice(mem) + uintptr(size)
}

// allocExecPage copies code into a fresh PROT_EXEC mapping: Go heap memory
// is never executable, so every assembled HostBlock gets its own mmap,
// mapped writable for the copy and then flipped to read+execute.
func allocExecPage(code []byte) uintptr {
	size := len(code)
	if size == 0 {
		size = 1
	}
	pageSize := unix.Getpagesize()
	mapSize := (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		panic(fmt.Sprintf("jit: failed to allocate executable page: %v", err))
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		panic(fmt.Sprintf("jit: failed to mark code page executable: %v", err))
	}
	return addrOfSlice(mem)
}

func finalizeExecutable(blk *execBlock, code []byte) {
	blk.code = code
	blk.entry = allocExecPage(code)
}

// trappedCause/trappedVal are where trapRecord (exec_amd64.s) spills the
// two arguments of the most recent trap call. Execution is
// single-threaded, so one pair of cells suffices; Run reads them the
// moment the block returns, before anything else can trap.
var (
	trappedCause uint64
	trappedVal   uint64
)

// trapRecord is the extern trap function emitted blocks call, implemented
// in exec_amd64.s; its code address comes from trapRecordAddr.
func trapRecord()

// trapRecordAddr is implemented in exec_amd64.s.
func trapRecordAddr() uintptr

// Run executes blk on the backend's dedicated native stack and returns the
// trap it exited through. This is the only way generated code ever runs:
// every HostBlock exit path is an emitTrap sequence (every TB eventually
// reaches a LookupTB, a syscall, or a fault), which calls the extern trap
// function with (cause, val) and then returns out of the block — so by
// the time callHostBlock comes back, the pair is sitting in trapRecord's
// cells. Implements backend.Runnable; blk must be one this Backend
// emitted.
func (b *Backend) Run(blk backend.HostBlock) (ir.TrapOp, uint64) {
	eb, ok := blk.(*execBlock)
	if !ok {
		panic(fmt.Sprintf("jit: Run called with a HostBlock this backend did not emit (%T)", blk))
	}
	callHostBlock(eb.entry, b.nativeStackTop, b.mem.Base())
	return ir.TrapOp(trappedCause), trappedVal
}

// callHostBlock is implemented in exec_amd64.s: it switches SP to
// frameTop, loads guestBase into regGuestBase, points the frame pointer at
// the word its CALL stores the return address in, CALLs entry and restores the Go stack
// once the block returns.
func callHostBlock(entry, frameTop, guestBase uintptr)
