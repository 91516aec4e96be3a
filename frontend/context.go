// Package frontend implements the per-guest-architecture translation
// context: the guest register file, constant caches, and the block
// disassembly loop that a guest decoder (the arm64 package) drives one
// instruction at a time, built around ir.Builder for op emission and
// backend.ValueFactory for fixed-register and constant storage.
package frontend

import (
	"strconv"

	"github.com/jsteward/khemu/backend"
	"github.com/jsteward/khemu/ir"
)

// MemReader is the minimal guest-memory surface the frontend needs to fetch
// instruction words; runtime.GuestVM implements it. Kept separate from the
// runtime package so frontend never imports it (runtime is the one that
// wires frontend + arm64 + backend together).
type MemReader interface {
	// ReadU32 reads a little-endian 32-bit word at the given guest virtual
	// address. ok is false on a fetch fault (unmapped or misaligned).
	ReadU32(addr uint64) (word uint32, ok bool)
}

// DecodeFunc decodes and lowers a single instruction word at the PC
// Context.CurrPC() currently reports, pushing IR onto ctx's Builder. A nil
// Continuation means the instruction was a straight-line one (decoding
// should continue); a non-nil one means ctx's Builder was just given a
// block terminator. The arm64 package supplies the concrete decoder.
type DecodeFunc func(ctx *Context, insn uint32) (*ir.Continuation, *ir.DisasException)

// Context is a single guest architecture's translation state: the register
// file, immediate caches, the in-progress TB builder, and cross-TB state
// (discovered static branch targets) that survives across disas_block
// calls. One Context exists per running guest thread.
type Context struct {
	*ir.Builder

	mem MemReader
	vf  backend.ValueFactory

	x   [31]*ir.Value // x0..x30, general-purpose
	xzr *ir.Value     // write target for register 31 outside the SP forms
	sp  *ir.Value
	pc  *ir.Value
	nf  *ir.Value
	zf  *ir.Value
	cf  *ir.Value
	vfl *ir.Value // overflow flag; "vf" collides with the factory field name

	immU32 map[uint32]*ir.Value
	immU64 map[uint64]*ir.Value

	// allocated tracks every Value minted since the last GetTB. Go's GC
	// collects dropped temporaries on its own, but the list still lets
	// housekeeping (e.g. reporting how many temporaries a TB used) walk this
	// TB's allocations without threading them through every Push call.
	allocated []*ir.Value

	discovered map[uint64]struct{}

	startPC uint64
	currPC  uint64
	fetchPC uint64

	directChainIdx *int
	auxChainIdx    *int
}

// NewContext builds a Context whose fixed registers and flags are realized
// through vf (the active backend) and whose instruction fetches are served
// by mem (the guest VM).
func NewContext(mem MemReader, vf backend.ValueFactory) *Context {
	c := &Context{
		Builder:    ir.NewBuilder(),
		mem:        mem,
		vf:         vf,
		immU32:     make(map[uint32]*ir.Value),
		immU64:     make(map[uint64]*ir.Value),
		discovered: make(map[uint64]struct{}),
	}
	for i := range c.x {
		c.x[i] = vf.MakeNamed(gprName(i), ir.U64)
	}
	c.xzr = ir.NewValue(ir.U64, true)
	c.xzr.SetStorage(ir.ZeroSink{})
	c.sp = vf.MakeNamed("sp", ir.U64)
	c.pc = vf.MakeNamed("pc", ir.U64)
	c.nf = vf.MakeNamed("nf", ir.U32)
	c.zf = vf.MakeNamed("zf", ir.U32)
	c.cf = vf.MakeNamed("cf", ir.U32)
	c.vfl = vf.MakeNamed("vf", ir.U32)
	return c
}

func gprName(n int) string {
	return "x" + strconv.Itoa(n)
}

// --- register file access ---

// PC returns the fixed PC register Value.
func (c *Context) PC() *ir.Value { return c.pc }

// SP returns the fixed stack-pointer register Value.
func (c *Context) SP() *ir.Value { return c.sp }

// NF, ZF, CF, VF return the four fixed NZCV flag registers.
func (c *Context) NF() *ir.Value { return c.nf }
func (c *Context) ZF() *ir.Value { return c.zf }
func (c *Context) CF() *ir.Value { return c.cf }
func (c *Context) VF() *ir.Value { return c.vfl }

// RawGPR returns the fixed Value register n writes to, outside the "SP"
// encoding: register 31 is the zero sink, so writes to it are always
// discarded by the Builder's peephole folds. Exposed for lowerings that
// push Ops directly into a destination register rather than routing
// through a temporary and WriteCPUReg.
func (c *Context) RawGPR(n uint8) *ir.Value {
	if n == 31 {
		return c.xzr
	}
	return c.x[n]
}

// gprReadSP / gprWriteSP are identical, except register 31 means SP.
func (c *Context) gprReadSP(n uint8) *ir.Value {
	if n == 31 {
		return c.sp
	}
	return c.x[n]
}

func (c *Context) gprWriteSP(n uint8) *ir.Value {
	if n == 31 {
		return c.sp
	}
	return c.x[n]
}

// ReadCPUReg returns a fresh Value holding register n's current contents:
// all 64 bits when sf is true, else the low 32 bits zero-extended. Register
// 31 reads as an immediate zero (XZR semantics) rather than any real
// register, so no Mov is emitted for it.
func (c *Context) ReadCPUReg(n uint8, sf bool) *ir.Value {
	if n == 31 {
		return c.ConstU64(0)
	}
	return c.readReg(c.x[n], sf)
}

// ReadCPURegSP is ReadCPUReg, except register 31 means SP rather than XZR.
func (c *Context) ReadCPURegSP(n uint8, sf bool) *ir.Value {
	return c.readReg(c.gprReadSP(n), sf)
}

func (c *Context) readReg(raw *ir.Value, sf bool) *ir.Value {
	rd := c.NewTemp(ir.U64)
	if sf {
		c.PushMov(rd, raw)
	} else {
		c.PushExtUlq(rd, raw)
	}
	return rd
}

// WriteCPUReg writes val into register n: the full 64 bits when sf is true,
// else the low 32 bits with the upper 32 zeroed (the standard w-register
// write behavior). Writes to register 31 are discarded.
func (c *Context) WriteCPUReg(n uint8, sf bool, val *ir.Value) {
	c.writeReg(c.RawGPR(n), sf, val)
}

// WriteCPURegSP is WriteCPUReg, except register 31 means SP.
func (c *Context) WriteCPURegSP(n uint8, sf bool, val *ir.Value) {
	c.writeReg(c.gprWriteSP(n), sf, val)
}

func (c *Context) writeReg(target *ir.Value, sf bool, val *ir.Value) {
	if sf {
		c.PushMov(target, val)
	} else {
		c.PushExtUlq(target, val)
	}
}

// --- value allocation ---

// ConstU32 returns the cached U32 constant Value for v, minting one on
// first use.
func (c *Context) ConstU32(v uint32) *ir.Value {
	if val, ok := c.immU32[v]; ok {
		return val
	}
	val := c.vf.MakeU32(v)
	c.immU32[v] = val
	c.allocated = append(c.allocated, val)
	return val
}

// ConstU64 returns the cached U64 constant Value for v, minting one on
// first use.
func (c *Context) ConstU64(v uint64) *ir.Value {
	if val, ok := c.immU64[v]; ok {
		return val
	}
	val := c.vf.MakeU64(v)
	c.immU64[v] = val
	c.allocated = append(c.allocated, val)
	return val
}

// NewTemp allocates a fresh, uncached temporary of the given type.
func (c *Context) NewTemp(ty ir.ValueType) *ir.Value {
	v := ir.NewValue(ty, false)
	c.allocated = append(c.allocated, v)
	return v
}

// Allocated returns every Value minted since the last GetTB.
func (c *Context) Allocated() []*ir.Value { return c.allocated }

// --- chain indices ---

// SetDirectChain records the just-emitted Trap(LookupTB, ...) op as the
// taken/primary edge's chain point. May be called at most once per TB.
func (c *Context) SetDirectChain() {
	if c.directChainIdx != nil {
		panic("frontend: direct chain already set for this TB")
	}
	idx := c.Builder.Len() - 1
	c.directChainIdx = &idx
}

// SetAuxChain records the just-emitted Trap(LookupTB, ...) op as the
// fall-through/secondary edge's chain point. May be called at most once.
func (c *Context) SetAuxChain() {
	if c.auxChainIdx != nil {
		panic("frontend: aux chain already set for this TB")
	}
	idx := c.Builder.Len() - 1
	c.auxChainIdx = &idx
}

// --- fetch state ---

// CurrPC returns the PC of the last-fetched instruction.
func (c *Context) CurrPC() uint64 { return c.currPC }

// NextPC returns the PC of the following instruction (CurrPC + 4).
func (c *Context) NextPC() uint64 { return c.currPC + 4 }

// --- disas_block ---

// DisasBlock decodes and lowers guest instructions starting at start until
// either a terminator is lowered, the size cap is hit, or decode returns a
// fatal error. A fetch that lands on an already-discovered static branch
// target ends the block early so block boundaries stay aligned with known
// targets.
func (c *Context) DisasBlock(decode DecodeFunc, start uint64, tbSize int) (*ir.Continuation, *ir.DisasException) {
	c.startPC = start
	c.fetchPC = start

	for c.Builder.Len() < tbSize {
		if c.fetchPC != start {
			if _, ok := c.discovered[c.fetchPC]; ok {
				c.emitBoundaryTrap(c.fetchPC)
				return ir.ContinueAt(c.fetchPC), nil
			}
		}

		insn, ok := c.mem.ReadU32(c.fetchPC)
		if !ok {
			return nil, ir.Unexpected(c.fetchPC, "fault fetching instruction")
		}
		c.currPC = c.fetchPC
		c.fetchPC += 4

		cont, err := decode(c, insn)
		if err != nil {
			c.recordDiscovered(cont)
			return nil, err
		}
		if cont != nil {
			c.recordDiscovered(cont)
			return cont, nil
		}
	}

	c.emitBoundaryTrap(c.fetchPC)
	return ir.ContinueAt(c.fetchPC), nil
}

func (c *Context) emitBoundaryTrap(pc uint64) {
	c.EndTBToAddr(c.ConstU64(pc))
}

// EndTBToAddr implements the branch-termination pattern every TB-ending
// lowering must follow: write addr to the emulated PC register, then trap
// to let the runtime look up or translate the destination. The caller is
// responsible for calling SetDirectChain and/or SetAuxChain immediately
// afterward to record which edge this trap belongs to.
func (c *Context) EndTBToAddr(addr *ir.Value) {
	c.PushMov(c.pc, addr)
	c.PushTrap(ir.LookupTB, c.pc)
}

func (c *Context) recordDiscovered(cont *ir.Continuation) {
	if cont == nil {
		return
	}
	switch cont.Kind {
	case ir.Continue:
		c.discovered[cont.ContinuePC] = struct{}{}
	case ir.Branch:
		if cont.Taken != nil {
			c.discovered[*cont.Taken] = struct{}{}
		}
		if cont.NotTaken != nil {
			c.discovered[*cont.NotTaken] = struct{}{}
		}
	}
}

// GetTB consumes the in-progress op list and returns a finished
// TranslationBlock, resetting per-TB state (the op list, chain indices, and
// the allocation list) for the next disas_block call. Discovered targets
// persist across TBs.
func (c *Context) GetTB() *ir.TranslationBlock {
	tb := &ir.TranslationBlock{
		StartPC:        c.startPC,
		Ops:            c.Builder.Take(),
		DirectChainIdx: c.directChainIdx,
		AuxChainIdx:    c.auxChainIdx,
	}
	c.directChainIdx = nil
	c.auxChainIdx = nil
	c.allocated = nil
	return tb
}
