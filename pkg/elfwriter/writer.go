// Package elfwriter streams 64bit ELF core files. Segment contents are
// copied from readers and never held in memory as a whole. Program headers
// are written after the segments, when their number is known, and section
// headers are not written at all.
package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderNoteType is the type of the note describing the dumped target.
	HeaderNoteType elf.NType = 0x4d53434e // MSCN
	// HeaderNoteName is the owner name of the header note.
	HeaderNoteName = "memscan"
)

const (
	ehsize    = 64
	phentsize = 56

	phoffPos = 0x20
	phnumPos = 0x38
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Note is an entry of a PT_NOTE segment.
type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

// Writer writes an ELF file. The first error encountered is sticky: every
// later call does nothing and Finish returns it.
type Writer struct {
	w     io.WriteSeeker
	order binary.ByteOrder
	off   int64
	err   error
	progs []elf.ProgHeader
}

// New writes the file header described by fhdr to w, which must be
// positioned at its start.
func New(w io.WriteSeeker, fhdr *elf.FileHeader) (*Writer, error) {
	if fhdr.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported ELF class %v", fhdr.Class)
	}
	var order binary.ByteOrder
	switch fhdr.Data {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported ELF data encoding %v", fhdr.Data)
	}
	if off, err := w.Seek(0, io.SeekCurrent); err != nil || off != 0 {
		return nil, errors.New("can't write halfway through a file")
	}

	hdr := make([]byte, ehsize)
	copy(hdr, elf.ELFMAG)
	hdr[elf.EI_CLASS] = byte(fhdr.Class)
	hdr[elf.EI_DATA] = byte(fhdr.Data)
	hdr[elf.EI_VERSION] = byte(fhdr.Version)
	hdr[elf.EI_OSABI] = byte(fhdr.OSABI)
	hdr[elf.EI_ABIVERSION] = fhdr.ABIVersion
	order.PutUint16(hdr[0x10:], uint16(fhdr.Type))
	order.PutUint16(hdr[0x12:], uint16(fhdr.Machine))
	order.PutUint32(hdr[0x14:], uint32(fhdr.Version))
	order.PutUint64(hdr[0x18:], fhdr.Entry)
	// e_phoff and e_phnum are patched by Finish, e_shoff stays 0
	order.PutUint16(hdr[0x34:], ehsize)
	order.PutUint16(hdr[0x36:], phentsize)
	order.PutUint16(hdr[0x3e:], uint16(elf.SHN_UNDEF))

	ew := &Writer{w: w, order: order}
	ew.write(hdr)
	return ew, ew.err
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.off
}

// WriteLoad appends a PT_LOAD segment for the memory at vaddr, copying its
// contents from r until io.EOF. Returns the size of the segment.
func (w *Writer) WriteLoad(vaddr uint64, flags elf.ProgFlag, r io.Reader) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	h := elf.ProgHeader{
		Type:  elf.PT_LOAD,
		Flags: flags,
		Off:   uint64(w.off),
		Vaddr: vaddr,
	}
	n, err := io.Copy(w.w, r)
	w.off += n
	if err != nil {
		w.err = err
	}
	h.Filesz = uint64(n)
	h.Memsz = uint64(n)
	w.progs = append(w.progs, h)
	return n, w.err
}

// WriteNotes appends a PT_NOTE segment holding notes.
func (w *Writer) WriteNotes(notes ...Note) error {
	if len(notes) == 0 {
		return w.err
	}
	w.pad(4)
	h := elf.ProgHeader{
		Type:  elf.PT_NOTE,
		Off:   uint64(w.off),
		Align: 4,
	}
	for _, note := range notes {
		var buf [12]byte
		w.order.PutUint32(buf[0:], uint32(len(note.Name)+1))
		w.order.PutUint32(buf[4:], uint32(len(note.Data)))
		w.order.PutUint32(buf[8:], uint32(note.Type))
		w.write(buf[:])
		w.write(append([]byte(note.Name), 0))
		w.pad(4)
		w.write(note.Data)
		w.pad(4)
	}
	h.Filesz = uint64(w.off) - h.Off
	w.progs = append(w.progs, h)
	return w.err
}

// Finish writes the program headers of all segments and patches the file
// header to point at them. The underlying writer is not closed.
func (w *Writer) Finish() error {
	w.pad(8)
	phoff := w.off
	for _, prog := range w.progs {
		var buf [phentsize]byte
		w.order.PutUint32(buf[0x00:], uint32(prog.Type))
		w.order.PutUint32(buf[0x04:], uint32(prog.Flags))
		w.order.PutUint64(buf[0x08:], prog.Off)
		w.order.PutUint64(buf[0x10:], prog.Vaddr)
		w.order.PutUint64(buf[0x18:], prog.Paddr)
		w.order.PutUint64(buf[0x20:], prog.Filesz)
		w.order.PutUint64(buf[0x28:], prog.Memsz)
		w.order.PutUint64(buf[0x30:], prog.Align)
		w.write(buf[:])
	}

	var u64 [8]byte
	w.order.PutUint64(u64[:], uint64(phoff))
	w.patch(phoffPos, u64[:])
	var u16 [2]byte
	w.order.PutUint16(u16[:], uint16(len(w.progs)))
	w.patch(phnumPos, u16[:])
	return w.err
}

func (w *Writer) write(buf []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(buf)
	w.off += int64(n)
	w.err = err
}

// pad writes zeroes up to the next multiple of align.
func (w *Writer) pad(align int64) {
	if rem := w.off % align; rem != 0 {
		w.write(make([]byte, align-rem))
	}
}

// patch overwrites buf at off and seeks back to the end of the file.
func (w *Writer) patch(off int64, buf []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Seek(off, io.SeekStart); err != nil {
		w.err = err
		return
	}
	if _, err := w.w.Write(buf); err != nil {
		w.err = err
		return
	}
	_, w.err = w.w.Seek(w.off, io.SeekStart)
}
