package scan

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32Image(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func testSet() *CandidateSet {
	dense := newDenseSegment(U32, binary.LittleEndian, 0x1000, 4, u32Image(1, 2, 3, 4), 16)
	sparse := newSparseSegment(U32, 0)
	sparse.appendBits(0x2000, 10, 0, false)
	sparse.appendBits(0x2008, 11, 5, true)
	return newCandidateSet(U32, binary.LittleEndian, []segment{dense, sparse})
}

func TestDenseSegmentSpan(t *testing.T) {
	image := append(u32Image(1, 2, 3, 4), 0xaa, 0xbb, 0xcc)
	assert.Equal(t, 4, newDenseSegment(U32, binary.LittleEndian, 0x1000, 4, image, 16).len())
	assert.Equal(t, 2, newDenseSegment(U32, binary.LittleEndian, 0x1000, 4, image, 8).len())
	assert.Equal(t, 16, newDenseSegment(U32, binary.LittleEndian, 0x1000, 1, image, 16).len())
	assert.Equal(t, 0, newDenseSegment(U32, binary.LittleEndian, 0x1000, 4, image[:3], 3).len())
}

func TestCandidateSet(t *testing.T) {
	cs := testSet()
	require.Equal(t, 6, cs.Len())
	assert.Equal(t, []uint64{0x1000, 0x1004, 0x1008, 0x100c, 0x2000, 0x2008}, cs.Addresses())

	page := cs.Candidates(3, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(0x100c), page[0].Addr)
	assert.Equal(t, uint64(4), page[0].Value.Bits)
	assert.Equal(t, uint64(0x2000), page[1].Addr)
	assert.Len(t, cs.Candidates(0, -1), 6)
	assert.Nil(t, cs.Candidates(6, 1))

	assert.True(t, cs.Contains(0x1008))
	assert.False(t, cs.Contains(0x1002))
	assert.False(t, cs.Contains(0x2004))
	assert.False(t, cs.Contains(0x3000))

	c, ok := cs.Get(0x2008)
	require.True(t, ok)
	assert.Equal(t, Candidate{Addr: 0x2008, Value: Value{Bits: 11}, Prev: Value{Bits: 5}, HasPrev: true}, c)
}

func TestCandidateSetRecord(t *testing.T) {
	cs := testSet()
	require.True(t, cs.Record(0x1008, Uint(U32, 9)))

	c, ok := cs.Get(0x1008)
	require.True(t, ok)
	assert.Equal(t, uint64(9), c.Value.Bits)
	assert.Equal(t, uint64(3), c.Prev.Bits)
	assert.True(t, c.HasPrev)

	c, _ = cs.Get(0x100c)
	assert.Equal(t, uint64(4), c.Value.Bits)
	assert.False(t, c.HasPrev)

	require.True(t, cs.Record(0x1008, Uint(U32, 12)))
	c, _ = cs.Get(0x1008)
	assert.Equal(t, uint64(12), c.Value.Bits)
	assert.Equal(t, uint64(9), c.Prev.Bits)

	assert.False(t, cs.Record(0x1001, Uint(U32, 1)))
	assert.Equal(t, 6, cs.Len())
}

func TestCandidateSetBytes(t *testing.T) {
	s := newSparseSegment(Bytes(2), 0)
	s.appendRaw(0x10, []byte{1, 2}, nil)
	s.appendRaw(0x13, []byte{3, 4}, []byte{5, 6})
	cs := newCandidateSet(Bytes(2), binary.LittleEndian, []segment{s})

	c, ok := cs.Get(0x13)
	require.True(t, ok)
	assert.Equal(t, []byte{3, 4}, c.Value.Raw)
	assert.Equal(t, []byte{5, 6}, c.Prev.Raw)

	c.Value.Raw[0] = 0xff
	c, _ = cs.Get(0x13)
	assert.Equal(t, []byte{3, 4}, c.Value.Raw)

	require.True(t, cs.Record(0x10, Pattern([]byte{7, 8})))
	c, _ = cs.Get(0x10)
	assert.Equal(t, []byte{7, 8}, c.Value.Raw)
	assert.Equal(t, []byte{1, 2}, c.Prev.Raw)
}

func TestBatches(t *testing.T) {
	units := batches(testSet(), 3)
	require.Len(t, units, 3)
	assert.Equal(t, 3, units[0].len())
	assert.Equal(t, 1, units[1].len())
	assert.Equal(t, uint64(0x100c), units[1].addr(0))
	assert.Equal(t, uint64(4), units[1].bits(0))
	assert.Equal(t, 2, units[2].len())
	assert.Empty(t, batches(nil, 3))
}

func TestBatchesFootprint(t *testing.T) {
	image := append(u32Image(1, 2, 3, 4, 5, 6, 7, 8), 0xaa, 0xbb)
	dense := newDenseSegment(U32, binary.LittleEndian, 0x1000, 4, image, 32)
	set := newCandidateSet(U32, binary.LittleEndian, []segment{dense})

	units := batches(set, 3)
	require.Len(t, units, 3)
	total := 0
	for _, u := range units {
		total += u.footprint()
	}
	assert.Equal(t, 32, total)
	assert.Equal(t, 8, units[2].footprint())
	assert.Equal(t, uint64(8), units[2].bits(1))
}

func TestCoalesce(t *testing.T) {
	addrs := []uint64{0x1000, 0x1004, 0x1010, 0x2000, 0x2004}

	spans := coalesce(addrs, 4, 0x20, nil)
	assert.Equal(t, []readSpan{
		{lo: 0, hi: 3, addr: 0x1000, size: 0x14},
		{lo: 3, hi: 5, addr: 0x2000, size: 8},
	}, spans)

	assert.Len(t, coalesce(addrs, 4, 0, nil), 5)

	regionEnd := func(addr uint64) uint64 {
		if addr < 0x1008 {
			return 0x1008
		}
		return 0x3000
	}
	spans = coalesce(addrs, 4, 0x20, regionEnd)
	assert.Equal(t, []readSpan{
		{lo: 0, hi: 2, addr: 0x1000, size: 8},
		{lo: 2, hi: 3, addr: 0x1010, size: 4},
		{lo: 3, hi: 5, addr: 0x2000, size: 8},
	}, spans)
}
