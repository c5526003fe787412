package scan

import (
	"encoding/binary"
	"sort"
)

// Candidate is an address still consistent with every predicate applied
// by a session, with the two most recent values read there.
type Candidate struct {
	Addr    uint64
	Value   Value
	Prev    Value
	HasPrev bool
}

// segment is an ordered run of candidates. Segments of a CandidateSet
// never overlap and are kept in ascending address order.
type segment interface {
	len() int
	addr(i int) uint64
	// search returns the index of the first candidate at or after addr.
	search(addr uint64) int
	// bits returns the current value of candidate i of a numeric type.
	bits(i int) uint64
	// raw returns the current value of candidate i of a byte pattern type.
	raw(i int) []byte
	candidate(i int) Candidate
	slice(i, j int) segment
	footprint() int
}

// denseSegment holds the raw memory image read by a full scan with an
// unknown initial value: every aligned offset of the image is a candidate.
type denseSegment struct {
	t     ScanType
	order binary.ByteOrder
	load  func([]byte) uint64

	base  uint64
	step  uint64
	count int
	image []byte
}

// newDenseSegment returns the candidates at base+k*step that start in the
// first span bytes of image and end inside it.
func newDenseSegment(t ScanType, order binary.ByteOrder, base, step uint64, image []byte, span int) *denseSegment {
	w := t.Width()
	count := 0
	if len(image) >= w && span > 0 {
		count = (len(image)-w)/int(step) + 1
		if limit := (span + int(step) - 1) / int(step); count > limit {
			count = limit
		}
	}
	return &denseSegment{t: t, order: order, load: loader(w, order), base: base, step: step, count: count, image: image}
}

func (s *denseSegment) len() int          { return s.count }
func (s *denseSegment) addr(i int) uint64 { return s.base + uint64(i)*s.step }

func (s *denseSegment) search(addr uint64) int {
	if addr <= s.base {
		return 0
	}
	k := (addr - s.base + s.step - 1) / s.step
	if k > uint64(s.count) {
		return s.count
	}
	return int(k)
}

func (s *denseSegment) raw(i int) []byte {
	off := uint64(i) * s.step
	return s.image[off : off+uint64(s.t.Width())]
}

func (s *denseSegment) bits(i int) uint64 {
	return s.load(s.image[uint64(i)*s.step:])
}

func (s *denseSegment) candidate(i int) Candidate {
	return Candidate{Addr: s.addr(i), Value: s.t.Decode(s.raw(i), s.order)}
}

// slice keeps only the bytes of the candidates in [i, j).
func (s *denseSegment) slice(i, j int) segment {
	start := uint64(i) * s.step
	end := start + uint64(s.t.Width())
	if j > i {
		end += uint64(j-i-1) * s.step
	}
	return &denseSegment{
		t: s.t, order: s.order, load: s.load,
		base: s.addr(i), step: s.step, count: j - i,
		image: s.image[start:end:end],
	}
}

func (s *denseSegment) footprint() int { return len(s.image) }

// sparseSegment holds typed candidates. Numeric values are kept in cur and
// prev, byte patterns in raw and rawPrev (width bytes per candidate).
type sparseSegment struct {
	t     ScanType
	width int

	addrs   []uint64
	cur     []uint64
	prev    []uint64
	rawCur  []byte
	rawPrev []byte
	hasPrev []bool
}

func newSparseSegment(t ScanType, capacity int) *sparseSegment {
	s := &sparseSegment{t: t, width: t.Width()}
	if capacity > 0 {
		s.addrs = make([]uint64, 0, capacity)
		s.hasPrev = make([]bool, 0, capacity)
	}
	return s
}

func (s *sparseSegment) len() int          { return len(s.addrs) }
func (s *sparseSegment) addr(i int) uint64 { return s.addrs[i] }

func (s *sparseSegment) search(addr uint64) int {
	return sort.Search(len(s.addrs), func(i int) bool { return s.addrs[i] >= addr })
}

func (s *sparseSegment) bits(i int) uint64 { return s.cur[i] }

func (s *sparseSegment) raw(i int) []byte {
	return s.rawCur[i*s.width : (i+1)*s.width]
}

func (s *sparseSegment) candidate(i int) Candidate {
	c := Candidate{Addr: s.addrs[i], HasPrev: s.hasPrev[i]}
	if s.t.Numeric() {
		c.Value = Value{Bits: s.cur[i]}
		if c.HasPrev {
			c.Prev = Value{Bits: s.prev[i]}
		}
		return c
	}
	c.Value = Value{Raw: append([]byte(nil), s.raw(i)...)}
	if c.HasPrev {
		c.Prev = Value{Raw: append([]byte(nil), s.rawPrev[i*s.width:(i+1)*s.width]...)}
	}
	return c
}

func (s *sparseSegment) slice(i, j int) segment {
	r := &sparseSegment{t: s.t, width: s.width, addrs: s.addrs[i:j:j], hasPrev: s.hasPrev[i:j:j]}
	if s.t.Numeric() {
		r.cur, r.prev = s.cur[i:j:j], s.prev[i:j:j]
	} else {
		r.rawCur = s.rawCur[i*s.width : j*s.width : j*s.width]
		r.rawPrev = s.rawPrev[i*s.width : j*s.width : j*s.width]
	}
	return r
}

func (s *sparseSegment) footprint() int {
	return 8*(len(s.addrs)+len(s.cur)+len(s.prev)) + len(s.rawCur) + len(s.rawPrev) + len(s.hasPrev)
}

func (s *sparseSegment) appendBits(addr, cur, prev uint64, hasPrev bool) {
	s.addrs = append(s.addrs, addr)
	s.cur = append(s.cur, cur)
	s.prev = append(s.prev, prev)
	s.hasPrev = append(s.hasPrev, hasPrev)
}

// appendRaw appends a byte pattern candidate, prev is nil if there is no
// previous value.
func (s *sparseSegment) appendRaw(addr uint64, cur, prev []byte) {
	s.addrs = append(s.addrs, addr)
	s.rawCur = append(s.rawCur, cur...)
	if prev != nil {
		s.rawPrev = append(s.rawPrev, prev...)
	} else {
		s.rawPrev = append(s.rawPrev, make([]byte, s.width)...)
	}
	s.hasPrev = append(s.hasPrev, prev != nil)
}

func (s *sparseSegment) record(i int, v Value) {
	if s.t.Numeric() {
		s.prev[i] = s.cur[i]
		s.cur[i] = v.Bits
	} else {
		copy(s.rawPrev[i*s.width:(i+1)*s.width], s.raw(i))
		copy(s.rawCur[i*s.width:(i+1)*s.width], v.Raw)
	}
	s.hasPrev[i] = true
}

// materialize converts any segment into a sparse one.
func materialize(t ScanType, seg segment) *sparseSegment {
	if s, ok := seg.(*sparseSegment); ok {
		return s
	}
	s := newSparseSegment(t, seg.len())
	for i := 0; i < seg.len(); i++ {
		if t.Numeric() {
			s.appendBits(seg.addr(i), seg.bits(i), 0, false)
		} else {
			s.appendRaw(seg.addr(i), seg.raw(i), nil)
		}
	}
	return s
}

// CandidateSet is the ordered set of candidate addresses of a session
// together with their snapshot values. Candidates are ordered by address,
// which is also the order in which scans discover them.
//
// Sets produced by a Session are never modified after they are published;
// Record is only safe on sets not shared with other goroutines.
type CandidateSet struct {
	t     ScanType
	order binary.ByteOrder
	segs  []segment
	n     int
}

// NewCandidateSet returns an empty set of candidates of type t.
func NewCandidateSet(t ScanType, order binary.ByteOrder) *CandidateSet {
	if order == nil {
		order = binary.LittleEndian
	}
	return &CandidateSet{t: t, order: order}
}

func newCandidateSet(t ScanType, order binary.ByteOrder, segs []segment) *CandidateSet {
	cs := NewCandidateSet(t, order)
	for _, seg := range segs {
		if seg == nil || seg.len() == 0 {
			continue
		}
		cs.segs = append(cs.segs, seg)
		cs.n += seg.len()
	}
	return cs
}

// Type returns the scan type of the candidates.
func (cs *CandidateSet) Type() ScanType { return cs.t }

// Len returns the number of candidates.
func (cs *CandidateSet) Len() int {
	if cs == nil {
		return 0
	}
	return cs.n
}

// Footprint returns the approximate number of bytes used by the set.
func (cs *CandidateSet) Footprint() int {
	if cs == nil {
		return 0
	}
	n := 0
	for _, seg := range cs.segs {
		n += seg.footprint()
	}
	return n
}

// Addresses returns the addresses of all candidates.
func (cs *CandidateSet) Addresses() []uint64 {
	r := make([]uint64, 0, cs.Len())
	if cs == nil {
		return r
	}
	for _, seg := range cs.segs {
		for i := 0; i < seg.len(); i++ {
			r = append(r, seg.addr(i))
		}
	}
	return r
}

// Candidates returns up to limit candidates starting at index offset. A
// negative limit returns every candidate after offset.
func (cs *CandidateSet) Candidates(offset, limit int) []Candidate {
	if cs == nil || offset >= cs.n {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 || offset+limit > cs.n {
		limit = cs.n - offset
	}
	r := make([]Candidate, 0, limit)
	for _, seg := range cs.segs {
		if len(r) == limit {
			break
		}
		if offset >= seg.len() {
			offset -= seg.len()
			continue
		}
		for i := offset; i < seg.len() && len(r) < limit; i++ {
			r = append(r, seg.candidate(i))
		}
		offset = 0
	}
	return r
}

func (cs *CandidateSet) locate(addr uint64) (int, int, bool) {
	if cs == nil {
		return 0, 0, false
	}
	k := sort.Search(len(cs.segs), func(k int) bool {
		seg := cs.segs[k]
		return seg.addr(seg.len()-1) >= addr
	})
	if k == len(cs.segs) {
		return 0, 0, false
	}
	seg := cs.segs[k]
	i := seg.search(addr)
	if i < seg.len() && seg.addr(i) == addr {
		return k, i, true
	}
	return 0, 0, false
}

// Contains returns true if addr is a candidate.
func (cs *CandidateSet) Contains(addr uint64) bool {
	_, _, ok := cs.locate(addr)
	return ok
}

// Get returns the candidate at addr.
func (cs *CandidateSet) Get(addr uint64) (Candidate, bool) {
	k, i, ok := cs.locate(addr)
	if !ok {
		return Candidate{}, false
	}
	return cs.segs[k].candidate(i), true
}

// Record stores v as the current value of the candidate at addr, the old
// current value becomes the previous one. It returns false if addr is not
// a candidate.
func (cs *CandidateSet) Record(addr uint64, v Value) bool {
	k, i, ok := cs.locate(addr)
	if !ok {
		return false
	}
	s := materialize(cs.t, cs.segs[k])
	cs.segs[k] = s
	s.record(i, v)
	return true
}
