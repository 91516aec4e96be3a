package runtime

import (
	"debug/elf"
	"fmt"
	"log"
)

// LoadProgram parses buffer as a guest ELF and copies its PT_LOAD segments
// into vm, returning the entry point. Accepted guests are EM_AARCH64, of
// type EXEC or DYN, and statically linked: the presence of a dynamic
// segment is rejected before anything is copied. debug/elf exposes exactly
// the surface needed here (program headers, entry point, machine tag).
func LoadProgram(vm *GuestVM, buffer []byte) (entry uint64, err error) {
	f, err := elf.NewFile(byteReaderAt(buffer))
	if err != nil {
		return 0, fmt.Errorf("failed to parse ELF: %w", err)
	}

	if f.Machine != elf.EM_AARCH64 {
		return 0, fmt.Errorf("unsupported architecture %s", f.Machine)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return 0, fmt.Errorf("requested to load executable (EXEC or DYN) but ELF type is %s", f.Type)
	}

	for _, p := range f.Progs {
		if p.Type == elf.PT_DYNAMIC {
			return 0, fmt.Errorf("dynamically linked executable not supported yet")
		}
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		log.Printf("%s: reading %#x bytes for %#x", p.Type, p.Filesz, p.Vaddr)

		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			return 0, fmt.Errorf("failed to read segment at %#x: %w", p.Vaddr, err)
		}
		if err := vm.WriteSegment(p.Vaddr, data, p.Memsz); err != nil {
			return 0, err
		}
	}

	log.Printf("Entry point: %#x", f.Entry)
	return f.Entry, nil
}

// byteReaderAt adapts a byte slice to io.ReaderAt, the surface debug/elf's
// NewFile requires.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("runtime: read offset %d out of range", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("runtime: short read at offset %d", off)
	}
	return n, nil
}
