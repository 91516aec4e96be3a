package jit

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/jsteward/khemu/ir"
)

// Host register assignment. Only a small, fixed set of GPRs is ever used
// directly by emitted code; everything else lives in the block's native
// stack frame (see jit.go's package doc: temporaries are never
// register-allocated, only slot-allocated).
const (
	regFramePtr = x86.REG_R13 // base of this block's native stack frame
	regScratch1 = x86.REG_AX
	regScratch2 = x86.REG_CX
	regScratch3 = x86.REG_DX

	// regGuestBase holds the guest address-space base for the life of a
	// block, loaded by the trampoline before entry. R15 is never touched by
	// any other lowering (DX is off the table: CQO/IDIVQ clobber it, and
	// R14 is the Go runtime's g register).
	regGuestBase = x86.REG_R15

	// trapArgCause/trapArgVal carry a Trap op's two word-sized integer
	// arguments into the extern trap function, per the C calling
	// convention emitTrap's generated CALL follows.
	trapArgCause = x86.REG_DI
	trapArgVal   = x86.REG_SI
)

// slotFor returns v's stack-slot index, allocating a fresh one on first
// use. Every Value — temporary or fixed — gets exactly one slot for the
// life of the current block.
func (b *Backend) slotFor(v *ir.Value) int32 {
	if s, ok := b.slotOf[v]; ok {
		return s
	}
	if int(b.nextSlot) >= maxSlots {
		panic(fmt.Sprintf("jit: block %q exceeds %d live values", b.blockName, maxSlots))
	}
	s := b.nextSlot
	b.nextSlot++
	b.slotOf[v] = s
	return s
}

// slotOffset returns the byte offset of slot i from regFramePtr; the frame
// grows downward.
func slotOffset(i int32) int64 { return -int64(i+1) * slotSize }

// markDirty records that v (a fixed Value) was written this block; the
// write-back happens at flushAllGlobals (block end) or emitTrap (before
// any trap call). A write also makes the slot the authoritative copy: the
// value joins the cached set so a later read comes from the slot, not from
// the now-stale global, and the flush walk knows to visit it.
func (b *Backend) markDirty(v *ir.Value) {
	if _, ok := v.Storage().(namedStorage); !ok {
		return
	}
	if !b.loaded[v] {
		b.loaded[v] = true
		b.touchedGlob = append(b.touchedGlob, v)
	}
	b.dirty[v] = true
}

// flushGlobal writes v's cached stack slot back to its canonical globalSlot
// if dirty, then clears the dirty bit (the slot's cached value is still
// valid to read from, just no longer ahead of memory).
func (b *Backend) flushGlobal(v *ir.Value) {
	if !b.dirty[v] {
		return
	}
	ns := v.Storage().(namedStorage)
	b.emitMovSlotToReg(b.slotFor(v), regScratch2)
	b.emitMovImmToReg(regScratch1, uint64(ns.slot.addr()))
	b.emitMovRegToMem(regScratch2, regScratch1, 0)
	b.dirty[v] = false
}

// flushAllGlobals writes back every fixed Value touched by the current
// block, in the order first touched (deterministic code, easier to read
// back out of a disassembly while debugging the emitter itself).
func (b *Backend) flushAllGlobals() {
	for _, v := range b.touchedGlob {
		b.flushGlobal(v)
	}
}
