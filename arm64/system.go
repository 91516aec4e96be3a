package arm64

import (
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// lowerExcSys dispatches the branch/exception/system sub-category's 0x6a
// slot between SVC/BRK-style exceptions and the MSR/MRS/hint system
// register space.
func lowerExcSys(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	if extract(insn, 24, 1) == 1 {
		if extract(insn, 22, 2) == 0 {
			return lowerSystem(ctx, insn)
		}
		return unallocated(ctx, insn)
	}
	return lowerExc(ctx, insn)
}

// lowerExc lowers SVC/HVC/SMC/BRK/HLT and friends (bits [23:21] select the
// family; only SVC, the one a user-mode guest actually issues, is
// implemented — the rest are privileged or debugger-only).
func lowerExc(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	opc := extract(insn, 21, 3)
	imm16 := extract(insn, 5, 16)
	ll := extract(insn, 0, 2)

	if opc == 0 && ll == 1 {
		// SVC: on Linux, imm16 is conventionally 0 and x8 carries the
		// syscall number; trap with x8. This does not end the TB in the IR,
		// but there is no syscall handler: the dispatch loop
		// (runtime.Dispatcher.resolveTrap) ends the run on a Syscall trap,
		// so the guest does not resume after it.
		_ = imm16
		nr := ctx.ReadCPUReg(8, true)
		ctx.PushTrap(ir.Syscall, nr)
		return nil, nil
	}

	return notImplemented(ctx, "exc")
}

// lowerSystem lowers the MSR(immediate)/hint/barrier encoding space.
func lowerSystem(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	l := extract(insn, 21, 1) == 1
	op0 := extract(insn, 19, 2)
	op1 := extract(insn, 16, 3)
	crn := extract(insn, 12, 4)
	crm := extract(insn, 8, 4)
	op2 := extract(insn, 5, 3)
	rt := uint8(extract(insn, 0, 5))

	if op0 == 0 {
		if l || rt != 31 {
			return unallocated(ctx, insn)
		}
		switch crn {
		case 2:
			return handleHint(ctx, insn, op1, op2, crm)
		case 3:
			return handleSync(ctx, insn, op2)
		case 4:
			return notImplemented(ctx, "handle_msr_i")
		default:
			return unallocated(ctx, insn)
		}
	}
	return notImplemented(ctx, "handle_sys")
}

// handleHint lowers the HINT space (NOP, YIELD, WFE, WFI, SEV, SEVL, and the
// reserved pauth/BTI hints) — all no-ops for a user-mode emulator with no
// concept of scheduling hints or exclusive monitors.
func handleHint(ctx *frontend.Context, insn uint32, op1, op2, crm uint32) (*ir.Continuation, *ir.DisasException) {
	if op1 != 3 {
		return unallocated(ctx, insn)
	}
	// selector identifies which hint (NOP=0, YIELD=1, WFE=2, WFI=3, SEV=4,
	// SEVL=5, everything else reserved/pauth); every one of them is a no-op
	// here, so it is computed only for documentation, not branched on.
	_ = crm<<3 | op2
	return nil, nil
}

// handleSync lowers the barrier space (CLREX, DSB, DMB, ISB). Translation
// is single-threaded and blocks execute in emission order, so every
// barrier is already satisfied and lowers to nothing.
func handleSync(ctx *frontend.Context, insn uint32, op2 uint32) (*ir.Continuation, *ir.DisasException) {
	switch op2 {
	case 2, 4, 5, 6: // CLREX, DSB, DMB, ISB
		return nil, nil
	default:
		return unallocated(ctx, insn)
	}
}
