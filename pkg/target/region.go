package target

import (
	"fmt"
	"strings"
)

// Protection describes the access rights of a region.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec

	ProtNone Protection = 0
	ProtRW              = ProtRead | ProtWrite
	ProtAll             = ProtRead | ProtWrite | ProtExec
)

func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Region is a contiguous, uniformly protected range of the address space
// of the target.
type Region struct {
	Base uint64
	Size uint64
	Prot Protection

	// Backing describes what the region maps (a file name, "[heap]", a
	// segment index...), it is empty for anonymous memory.
	Backing string
	Offset  uint64
}

// End returns the first address after the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// FileBacked returns true if the region maps a file, like the images of
// the executable and of its shared libraries.
func (r Region) FileBacked() bool {
	return strings.HasPrefix(r.Backing, "/")
}

// Readable returns true if the region can be read.
func (r Region) Readable() bool {
	return r.Prot&ProtRead != 0
}

// Writable returns true if the region can be written.
func (r Region) Writable() bool {
	return r.Prot&ProtWrite != 0
}

// Contains returns true if the n bytes starting at addr are all inside the
// region.
func (r Region) Contains(addr uint64, n uint64) bool {
	if addr < r.Base {
		return false
	}
	return addr-r.Base <= r.Size && n <= r.Size-(addr-r.Base)
}

func (r Region) String() string {
	s := fmt.Sprintf("%#016x-%#016x %s %8d", r.Base, r.End(), r.Prot, r.Size)
	if r.Backing != "" {
		s += " " + r.Backing
	}
	return s
}
