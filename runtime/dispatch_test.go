package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsteward/khemu/backend"
	"github.com/jsteward/khemu/backend/dumpir"
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// fakeMem serves a fixed instruction word at every 4-byte-aligned address;
// enough for nopDecode (every instruction is treated as straight-line) to
// drive DisasBlock without ever faulting.
type fakeMem struct{}

func (fakeMem) ReadU32(addr uint64) (uint32, bool) {
	if addr%4 != 0 {
		return 0, false
	}
	return 0, true
}

// nopDecode is a one-op-per-instruction DecodeFunc for exercising the
// dispatch loop's translate/schedule path without needing real arm64
// encodings (arm64 imports frontend, so frontend/runtime cannot import
// arm64 back without a cycle).
func nopDecode(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
	ctx.PushMov(ctx.NewTemp(ir.U64), ctx.ConstU64(uint64(insn)))
	return nil, nil
}

// branchDecode lowers its one instruction as an unconditional branch
// terminator to a fixed destination, the same chain pattern the arm64
// branch lowerings follow: write dest to PC, trap LookupTB, set the
// direct chain.
func branchDecode(dest uint64) frontend.DecodeFunc {
	return func(ctx *frontend.Context, insn uint32) (*ir.Continuation, *ir.DisasException) {
		ctx.EndTBToAddr(ctx.ConstU64(dest))
		ctx.SetDirectChain()
		return ir.BranchTo(&dest, nil), nil
	}
}

// fakeRunnable is a backend.CodeGen + backend.Runnable test double: it
// wraps dumpir for translation (so TBs are actually assembled into
// ir.Ops) but "executes" a HostBlock by replaying a scripted trap
// sequence instead of running real host code, letting dispatch-loop tests
// exercise resolveTrap without a real JIT.
type fakeRunnable struct {
	*dumpir.Backend
	traps map[string][2]uint64 // block name -> (cause, val)
}

func newFakeRunnable() *fakeRunnable {
	return &fakeRunnable{Backend: dumpir.New(discard{}), traps: make(map[string][2]uint64)}
}

func (f *fakeRunnable) Run(blk backend.HostBlock) (ir.TrapOp, uint64) {
	cv, ok := f.traps[blk.Name()]
	if !ok {
		return ir.LookupTB, 0
	}
	return ir.TrapOp(cv[0]), cv[1]
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

var _ backend.CodeGen = (*fakeRunnable)(nil)
var _ backend.Runnable = (*fakeRunnable)(nil)

func newDispatcher(dec frontend.DecodeFunc) (*Dispatcher, *fakeRunnable) {
	cg := newFakeRunnable()
	ctx := frontend.NewContext(fakeMem{}, cg)
	return NewDispatcher(ctx, dec, cg), cg
}

func TestDispatcherTranslateReturnsContinuation(t *testing.T) {
	d, _ := newDispatcher(nopDecode)
	d.tbSize = 1

	tb, cont, err := d.translate(0x1000)
	require.Nil(t, err)
	require.Equal(t, uint64(0x1000), tb.StartPC)
	require.Equal(t, ir.Continue, cont.Kind)
	require.Equal(t, uint64(0x1004), cont.ContinuePC)
}

func TestDispatcherRunDrainsSizeCappedChain(t *testing.T) {
	d, cg := newDispatcher(nopDecode)
	d.tbSize = 1
	d.Enqueue(0x1000)

	// nopDecode never hits a real trap; script the LookupTB chain to stop
	// after a couple of hops by handing back an unrecognized cause.
	cg.traps[blockName(0x1000)] = [2]uint64{uint64(ir.LookupTB), 0x1004}
	cg.traps[blockName(0x1004)] = [2]uint64{uint64(ir.UndefOpcode), 0x1004}

	err := d.Run()
	require.Error(t, err)
	require.True(t, d.Cached(0x1000))
	require.True(t, d.Cached(0x1004))
}

func TestDispatcherSchedulesBranchTargetsToBack(t *testing.T) {
	taken := uint64(0x2000)
	d, cg := newDispatcher(branchDecode(taken))
	d.Enqueue(0x1000)
	cg.traps[blockName(0x1000)] = [2]uint64{uint64(ir.LookupTB), taken}
	cg.traps[blockName(taken)] = [2]uint64{uint64(ir.Dynamic), 0}

	err := d.Run()
	require.Error(t, err)
	require.True(t, d.Cached(0x1000))
	require.True(t, d.Cached(taken))
}

func TestDispatcherEmptyQueueIsNotAnError(t *testing.T) {
	d, _ := newDispatcher(nopDecode)
	require.NoError(t, d.Run())
}
