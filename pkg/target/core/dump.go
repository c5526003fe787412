package core

import (
	"context"
	"debug/elf"
	"fmt"
	"io"
	"runtime"

	"github.com/memscan/memscan/pkg/elfwriter"
	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/version"
)

// DumpStats describes a completed dump.
type DumpStats struct {
	Regions int
	Bytes   uint64
	// Unreadable is the number of bytes that could not be read and were
	// written as zeroes.
	Unreadable uint64
}

// Dump writes the readable regions of catalog to out as an ELF core file,
// which can later be opened with Open. Ranges that can not be read are
// zero-filled. The description is stored in the header note. out is
// closed when Dump returns.
func Dump(ctx context.Context, src target.Source, catalog *target.Catalog, out elfwriter.WriteCloserSeeker, description string) (stats DumpStats, err error) {
	defer func() {
		cerr := out.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("error writing output file: %v", cerr)
		}
	}()

	var fhdr elf.FileHeader
	fhdr.Class = elf.ELFCLASS64
	fhdr.Data = elf.ELFDATA2LSB
	fhdr.Version = elf.EV_CURRENT
	fhdr.OSABI = elf.ELFOSABI_LINUX
	fhdr.Type = elf.ET_CORE
	fhdr.Machine = machine()

	w, err := elfwriter.New(out, &fhdr)
	if err != nil {
		return stats, fmt.Errorf("error writing to output file: %v", err)
	}

	for _, rg := range catalog.Readable() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		r := &regionReader{ctx: ctx, src: src, addr: rg.Base, end: rg.End()}
		n, err := w.WriteLoad(rg.Base, progFlags(rg.Prot), r)
		if r.err != nil {
			return stats, r.err
		}
		if err != nil {
			return stats, fmt.Errorf("error writing to output file: %v", err)
		}
		stats.Regions++
		stats.Bytes += uint64(n)
		stats.Unreadable += r.unreadable
	}

	err = w.WriteNotes(elfwriter.Note{
		Type: elfwriter.HeaderNoteType,
		Name: elfwriter.HeaderNoteName,
		Data: []byte(fmt.Sprintf("%s\nmemscan %s\n", description, version.MemscanVersion.Short())),
	})
	if err == nil {
		err = w.Finish()
	}
	if err != nil {
		return stats, fmt.Errorf("error writing to output file: %v", err)
	}
	return stats, nil
}

func machine() elf.Machine {
	switch runtime.GOARCH {
	case "386":
		return elf.EM_386
	case "arm64":
		return elf.EM_AARCH64
	case "ppc64le":
		return elf.EM_PPC64
	case "riscv64":
		return elf.EM_RISCV
	}
	return elf.EM_X86_64
}

func progFlags(prot target.Protection) elf.ProgFlag {
	var flags elf.ProgFlag
	if prot&target.ProtRead != 0 {
		flags |= elf.PF_R
	}
	if prot&target.ProtWrite != 0 {
		flags |= elf.PF_W
	}
	if prot&target.ProtExec != 0 {
		flags |= elf.PF_X
	}
	return flags
}

// regionReader streams the contents of a region. Errors and short reads
// are ignored, the missing bytes are zero-filled. Only fatal errors and
// cancellation stop the stream.
type regionReader struct {
	ctx        context.Context
	src        target.Source
	addr, end  uint64
	unreadable uint64
	err        error
}

func (r *regionReader) Read(p []byte) (int, error) {
	if r.addr >= r.end {
		return 0, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return 0, err
	}
	chunk := p
	if uint64(len(chunk)) > r.end-r.addr {
		chunk = chunk[:r.end-r.addr]
	}
	n, err := r.src.ReadMemory(r.ctx, chunk, r.addr)
	if err != nil {
		if target.IsFatal(err) || r.ctx.Err() != nil {
			r.err = err
			return 0, err
		}
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}
		r.unreadable += uint64(len(chunk) - n)
	}
	r.addr += uint64(len(chunk))
	return len(chunk), nil
}
