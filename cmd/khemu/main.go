// Command khemu runs a statically-linked, user-mode ARM64 ELF under the
// dynamic binary translator defined by this module: a single positional
// argument, the guest ELF path; exit code 0 on clean termination, non-zero
// with a message on stderr otherwise.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jsteward/khemu/arm64"
	"github.com/jsteward/khemu/backend/jit"
	"github.com/jsteward/khemu/frontend"
	"github.com/jsteward/khemu/ir"
	"github.com/jsteward/khemu/runtime"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stderr))
}

// doMain is separated out from main so tests can drive argument parsing
// and error paths without an os.Exit.
func doMain(args []string, stdErr io.Writer) int {
	flags := flag.NewFlagSet("khemu", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "Prints usage.")

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if help || flags.NArg() != 1 {
		printUsage(stdErr, flags)
		if help {
			return 0
		}
		return 1
	}

	if err := run(flags.Arg(0)); err != nil {
		fmt.Fprintln(stdErr, err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "usage: khemu <path-to-aarch64-elf>")
	flags.PrintDefaults()
}

// run wires together the guest address space, the ELF loader, the
// frontend/decoder pair, the jit backend, and the dispatch loop, then
// drives it to completion.
func run(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	vm, err := runtime.NewGuestVM(runtime.GuestSize)
	if err != nil {
		return err
	}

	entry, err := runtime.LoadProgram(vm, buf)
	if err != nil {
		return err
	}

	// The trap function jit.Init wants is invoked by Dispatcher.Run after
	// every executed block, via CodeGen.HandleTrap — the dispatch loop
	// itself decides how to reschedule the pending-PC queue from the
	// (cause, val) HandleTrap receives, so this hook only needs to cover
	// the backend's own diagnostics.
	cg := jit.Init(vm, func(cause ir.TrapOp, val uint64) {
		log.Printf("trap %s val=%#x", cause, val)
	})

	ctx := frontend.NewContext(vm, cg)
	disp := runtime.NewDispatcher(ctx, arm64.Decode, cg)
	disp.Enqueue(entry)

	return disp.Run()
}
