// Package core implements a read-only target.Source backed by an ELF core
// file, either produced by the kernel or by Dump.
package core

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/memscan/memscan/pkg/elfwriter"
	"github.com/memscan/memscan/pkg/target"
)

// ErrNotCore is returned when opening an ELF file that is not a core file.
var ErrNotCore = errors.New("not a core file")

// segment is a PT_LOAD segment whose contents are stored in the file.
type segment struct {
	target.Region
	r io.ReaderAt
}

// File is an opened core file.
type File struct {
	f      *elf.File
	segs   []segment
	header string
	closed atomic.Bool
}

var _ target.Source = (*File)(nil)

// Open opens the core file at path.
func Open(path string) (*File, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", target.ErrSourceUnavailable, err)
	}
	c, err := newFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func newFile(f *elf.File) (*File, error) {
	if f.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%w: ELF type %v", ErrNotCore, f.Type)
	}
	c := &File{f: f}
	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if prog.Filesz == 0 {
				// not dumped
				continue
			}
			c.segs = append(c.segs, segment{
				Region: target.Region{
					Base:   prog.Vaddr,
					Size:   prog.Filesz,
					Prot:   protection(prog.Flags),
					Offset: prog.Off,
				},
				r: prog,
			})
		case elf.PT_NOTE:
			data := make([]byte, prog.Filesz)
			if _, err := prog.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("reading notes: %v", err)
			}
			if desc, ok := findNote(data, f.ByteOrder, elfwriter.HeaderNoteName, elfwriter.HeaderNoteType); ok {
				c.header = string(desc)
			}
		}
	}
	sort.Slice(c.segs, func(i, j int) bool { return c.segs[i].Base < c.segs[j].Base })
	return c, nil
}

func protection(flags elf.ProgFlag) target.Protection {
	// Everything stored in the file can be read, even segments that were
	// not readable in the original process.
	prot := target.ProtRead
	if flags&elf.PF_W != 0 {
		prot |= target.ProtWrite
	}
	if flags&elf.PF_X != 0 {
		prot |= target.ProtExec
	}
	return prot
}

// findNote returns the descriptor of the first note with the given owner
// and type.
func findNote(data []byte, order binary.ByteOrder, name string, typ elf.NType) ([]byte, bool) {
	align := func(n uint32) int { return int((n + 3) &^ 3) }
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:])
		descsz := order.Uint32(data[4:])
		ntype := elf.NType(order.Uint32(data[8:]))
		data = data[12:]
		if align(namesz) > len(data) {
			return nil, false
		}
		nname := string(bytes.TrimRight(data[:namesz], "\x00"))
		data = data[align(namesz):]
		if int(descsz) > len(data) {
			return nil, false
		}
		desc := data[:descsz]
		if align(descsz) <= len(data) {
			data = data[align(descsz):]
		} else {
			data = nil
		}
		if nname == name && ntype == typ {
			return desc, true
		}
	}
	return nil, false
}

// Header returns the description of the target stored by Dump, it is empty
// for cores produced by the kernel.
func (c *File) Header() string {
	return c.header
}

// Regions returns the segments stored in the file.
func (c *File) Regions(ctx context.Context) ([]target.Region, error) {
	if c.closed.Load() {
		return nil, target.ErrSourceUnavailable
	}
	r := make([]target.Region, len(c.segs))
	for i := range c.segs {
		r[i] = c.segs[i].Region
	}
	return r, nil
}

// ReadMemory reads len(buf) bytes at addr, a read can span adjacent
// segments.
func (c *File) ReadMemory(ctx context.Context, buf []byte, addr uint64) (n int, err error) {
	if c.closed.Load() {
		return 0, target.ErrSourceUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	i := sort.Search(len(c.segs), func(i int) bool { return c.segs[i].End() > addr })
	for n < len(buf) {
		if i >= len(c.segs) || c.segs[i].Base > addr {
			return n, target.ReadError(addr, len(buf)-n, target.ErrUnreadable)
		}
		seg := &c.segs[i]
		pb := buf[n:]
		if uint64(len(pb)) > seg.End()-addr {
			pb = pb[:seg.End()-addr]
		}
		pn, err := seg.r.ReadAt(pb, int64(addr-seg.Base))
		n += pn
		if err != nil && pn < len(pb) {
			return n, target.ReadError(addr, len(pb), fmt.Errorf("%w: %v", target.ErrUnreadable, err))
		}
		addr += uint64(pn)
		i++
	}
	return n, nil
}

// WriteMemory always fails, core files are read-only.
func (c *File) WriteMemory(ctx context.Context, addr uint64, data []byte) (int, error) {
	return 0, target.WriteError(addr, len(data), target.ErrUnwritable)
}

// Close closes the file.
func (c *File) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.f.Close()
}
