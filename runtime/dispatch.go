package runtime

import (
	"container/list"
	"fmt"
	"log"

	"github.com/jsteward/khemu/backend"
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
)

// DefaultTBSize is the op-count cap DisasBlock enforces before forcing a
// block boundary. Chosen to stay well under
// backend/jit's maxSlots (512 Values per emitted block): most guest
// instructions lower to a handful of ops, so this rarely bites before a
// real branch does.
const DefaultTBSize = 512

// Dispatcher is the runtime loop: a pending-PC queue, a TB cache keyed by
// start PC, and the frontend/decoder/backend triple it drives to translate
// and execute guest code. One Dispatcher exists per running guest
// "process"; the whole engine is single-threaded and single-tenant.
type Dispatcher struct {
	ctx *frontend.Context
	dec frontend.DecodeFunc
	cg  backend.CodeGen
	run backend.Runnable // nil when cg (e.g. dumpir) cannot execute blocks

	cache   map[uint64]backend.HostBlock
	pending *list.List // FIFO of uint64 guest PCs awaiting translation/execution

	tbSize int
}

// NewDispatcher builds a Dispatcher around an already-constructed frontend
// Context, the guest decoder that drives it (arm64.Decode), and a backend
// CodeGen. cg is type-asserted against backend.Runnable: a Runnable
// backend (backend/jit) actually executes translated blocks; a
// non-Runnable one (backend/dumpir) can still translate, useful for
// exercising the frontend/decoder without ever running host code.
func NewDispatcher(ctx *frontend.Context, dec frontend.DecodeFunc, cg backend.CodeGen) *Dispatcher {
	d := &Dispatcher{
		ctx:     ctx,
		dec:     dec,
		cg:      cg,
		cache:   make(map[uint64]backend.HostBlock),
		pending: list.New(),
		tbSize:  DefaultTBSize,
	}
	d.run, _ = cg.(backend.Runnable)
	return d
}

// Enqueue adds pc to the back of the pending queue. Used once, at startup,
// to seed the loop with the guest ELF's entry point.
func (d *Dispatcher) Enqueue(pc uint64) {
	d.pending.PushBack(pc)
}

// Cached reports whether start has already been translated.
func (d *Dispatcher) Cached(start uint64) bool {
	_, ok := d.cache[start]
	return ok
}

// Run drains the pending-PC queue: on a cache miss it translates (and
// schedules the statically-known successors DisasBlock discovered), on a
// cache hit it executes and processes the resulting trap, until the queue
// runs dry or a fatal condition terminates the loop. A dry queue is not an
// error: a guest sequence with no statically resolvable successor and no
// runtime trap (e.g. an indirect branch that is never executed) ends
// translation cleanly rather than failing.
func (d *Dispatcher) Run() error {
	for d.pending.Len() > 0 {
		front := d.pending.Front()
		pc := front.Value.(uint64)

		blk, ok := d.cache[pc]
		if !ok {
			tb, cont, err := d.translate(pc)
			if err != nil {
				return fmt.Errorf("khemu: %w", err)
			}
			blk = d.cg.EmitBlock(tb, blockName(pc))
			d.cache[pc] = blk
			d.schedule(front, cont)
			continue
		}

		if d.run == nil {
			return fmt.Errorf("khemu: backend %T cannot execute translated blocks", d.cg)
		}
		cause, val := d.run.Run(blk)
		d.cg.HandleTrap(cause, val)
		if err := d.resolveTrap(front, cause, val); err != nil {
			return err
		}
	}
	return nil
}

// translate runs DisasBlock once, starting a fresh TB at pc, and returns
// both the finished TranslationBlock and the Continuation it reported.
func (d *Dispatcher) translate(pc uint64) (*ir.TranslationBlock, *ir.Continuation, error) {
	logTranslation(pc)
	cont, derr := d.ctx.DisasBlock(d.dec, pc, d.tbSize)
	if derr != nil {
		return nil, nil, derr
	}
	return d.ctx.GetTB(), cont, nil
}

// schedule queues the statically-known successors of a just-translated TB
// for future translation. This runs once per translation, before the TB has ever
// executed — distinct from resolveTrap, which reacts to the TB's actual
// runtime trap. Continue's successor is inserted directly behind front
// (the block just translated, still at the head of the queue) so it is
// translated next and ready to execute "right after the block currently
// being processed"; Branch's statically-resolvable edges are appended to
// the back, to be picked up once the queue reaches them.
func (d *Dispatcher) schedule(front *list.Element, cont *ir.Continuation) {
	switch cont.Kind {
	case ir.Continue:
		d.pending.InsertAfter(cont.ContinuePC, front)
	case ir.Branch:
		if cont.Taken != nil {
			d.pending.PushBack(*cont.Taken)
		}
		if cont.NotTaken != nil {
			d.pending.PushBack(*cont.NotTaken)
		}
		// Branch(nil, nil): no static scheduling; execution relies on a
		// later runtime trap, or (if none ever fires) the queue simply
		// runs dry once this entry is popped.
	}
}

// resolveTrap processes the (cause, val) a just-executed HostBlock exited
// through. front is the queue entry for the PC that was just run, still
// un-popped by the loop.
//
// For LookupTB the pending queue is spliced so the trap's continuation
// runs before the currently-suspended iteration: removing front and
// pushing val to the new front leaves val as the next PC executed, with
// the rest of the queue intact behind it.
//
// Any other cause got its backend diagnostics in HandleTrap and then
// terminates the run: there is no guest syscall emulation layer, so
// UNDEF_OPCODE, ACCESS_FAULT, SYSCALL and DYNAMIC all end the dispatch
// loop.
func (d *Dispatcher) resolveTrap(front *list.Element, cause ir.TrapOp, val uint64) error {
	d.pending.Remove(front)
	if cause != ir.LookupTB {
		return fmt.Errorf("khemu: guest trap %s (val=%#x)", cause, val)
	}
	d.pending.PushFront(val)
	return nil
}

func blockName(pc uint64) string {
	return fmt.Sprintf("func_%x", pc)
}

// logTranslation is a small debug aid in the loader's logging style (plain
// log.Printf, no logging framework); kept separate so call sites stay
// uncluttered.
func logTranslation(pc uint64) {
	log.Printf("translating block at pc=%#x", pc)
}
