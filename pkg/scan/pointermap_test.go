package scan

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscan/memscan/pkg/metrics"
	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/target/memtarget"
)

func putPtr(mt *memtarget.Target, order binary.ByteOrder, addr, v uint64) {
	b := make([]byte, 8)
	order.PutUint64(b, v)
	mt.Poke(addr, b)
}

// pointerFixture maps an image at 0x400000 holding a pointer to the heap
// object at 0x10000, which points to the object at 0x10800, which holds
// the u32 100 at offset 8:
//
//	0x400010 -> 0x10000, 0x10020 -> 0x10800, 0x10808 = 100
func pointerFixture(order binary.ByteOrder) *memtarget.Target {
	image := memtarget.NewBlock(0x400000, 0x100, target.ProtRW)
	image.Backing = "/usr/bin/game"
	heap := memtarget.NewBlock(0x10000, 0x1000, target.ProtRW)
	heap.Backing = "[heap]"
	mt := memtarget.New(heap, image)
	putPtr(mt, order, 0x400010, 0x10000)
	putPtr(mt, order, 0x10020, 0x10800)
	b := make([]byte, 4)
	order.PutUint32(b, 100)
	mt.Poke(0x10808, b)
	return mt
}

func newPointerScanner(t *testing.T, src target.Source, opts ...Option) *Scanner {
	t.Helper()
	sc, err := NewScanner(src, append([]Option{WithConfig(testConfig())}, opts...)...)
	require.NoError(t, err)
	return sc
}

func TestBuildPointerMap(t *testing.T) {
	sc := newPointerScanner(t, pointerFixture(binary.LittleEndian))
	assert.Nil(t, sc.PointerMap())

	m, res, err := sc.BuildPointerMap(context.Background(), 8)
	require.NoError(t, err)
	assert.Same(t, m, sc.PointerMap())
	assert.Equal(t, 8, m.Width())
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, res.Candidates)
	assert.Positive(t, res.BytesRead)

	assert.Equal(t, []Pointer{{0x10020, 0x10800}, {0x400010, 0x10000}}, m.Pointers(0, -1))
	assert.Equal(t, []Pointer{{0x400010, 0x10000}}, m.Pointers(1, 5))
	assert.Empty(t, m.Pointers(2, 1))

	v, ok := m.Lookup(0x10020)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x10800), v)
	_, ok = m.Lookup(0x10024)
	assert.False(t, ok)

	assert.Equal(t, []uint64{0x10020}, m.PointersTo(0x10800))
	assert.Empty(t, m.PointersTo(0x10808))
	assert.Equal(t, []uint64{0x400010}, m.StaticEntryPoints())

	sc.Reset()
	assert.Nil(t, sc.PointerMap())
}

func TestBuildPointerMapByteOrder(t *testing.T) {
	cfg := testConfig()
	cfg.ByteOrder = binary.BigEndian
	sc := newPointerScanner(t, pointerFixture(binary.BigEndian), WithConfig(cfg))
	m, _, err := sc.BuildPointerMap(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x10020}, m.PointersTo(0x10800))
}

func TestBuildPointerMapWidth(t *testing.T) {
	mt := pointerFixture(binary.LittleEndian)
	// a 4 byte pointer stored unaligned for 8 byte pointers
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, 0x10040)
	mt.Poke(0x10104, b)
	sc := newPointerScanner(t, mt)

	m, _, err := sc.BuildPointerMap(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x10104}, m.PointersTo(0x10040))

	_, _, err = sc.BuildPointerMap(context.Background(), 2)
	assert.ErrorIs(t, err, ErrPointerWidth)
	assert.Same(t, m, sc.PointerMap())
}

func TestBuildPointerMapSkipsUnreadable(t *testing.T) {
	mt := pointerFixture(binary.LittleEndian)
	mt.FailReads(0x400000, 0x100, -1, target.ErrUnreadable)
	m := metrics.NewMetrics()
	sc := newPointerScanner(t, mt, WithMetrics(m))

	pm, res, err := sc.BuildPointerMap(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, uint64(0x400000), res.SkippedRegions[0].Base)
	assert.Equal(t, []Pointer{{0x10020, 0x10800}}, pm.Pointers(0, -1))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pointers))
}

func TestBuildPointerMapCancelled(t *testing.T) {
	sc := newPointerScanner(t, pointerFixture(binary.LittleEndian))
	prev, _, err := sc.BuildPointerMap(context.Background(), 8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, res, err := sc.BuildPointerMap(ctx, 8)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Cancelled)
	assert.Nil(t, m)
	assert.Same(t, prev, sc.PointerMap())
}

func TestFindChains(t *testing.T) {
	ctx := context.Background()
	sc := newPointerScanner(t, pointerFixture(binary.LittleEndian))
	m, _, err := sc.BuildPointerMap(ctx, 8)
	require.NoError(t, err)

	opts := ChainOptions{MaxOffset: 0x100, MaxDepth: 3, EntryPoints: m.StaticEntryPoints()}
	chains, err := m.FindChains(ctx, []uint64{0x10808}, opts)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, Chain{
		Target: 0x10808,
		Links:  []Link{{0x400010, 0}, {0x10000, 0x20}, {0x10800, 8}},
	}, chains[0])
	assert.Equal(t, "0x400010 + (0) => 0x10000 + (32) => 0x10800 + (8) => 0x10808", chains[0].String())

	opts.MaxDepth = 2
	chains, err = m.FindChains(ctx, []uint64{0x10808}, opts)
	require.NoError(t, err)
	assert.Empty(t, chains, "the entry point is three links away")

	opts.MaxDepth = 3
	opts.MaxOffset = 0x10
	chains, err = m.FindChains(ctx, []uint64{0x10808}, opts)
	require.NoError(t, err)
	assert.Empty(t, chains, "the second pointer is 0x20 bytes into its object")

	opts.MaxDepth = 0
	_, err = m.FindChains(ctx, []uint64{0x10808}, opts)
	assert.Error(t, err)
}

func TestFindChainsEveryPointer(t *testing.T) {
	ctx := context.Background()
	sc := newPointerScanner(t, pointerFixture(binary.LittleEndian))
	m, _, err := sc.BuildPointerMap(ctx, 8)
	require.NoError(t, err)

	chains, err := m.FindChains(ctx, []uint64{0x10808, 0x10004}, ChainOptions{MaxOffset: 0x1000, MaxNegOffset: 0x20, MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, Chain{Target: 0x10808, Links: []Link{{0x10020, 0x7e8}}}, chains[0])
	assert.Equal(t, Chain{Target: 0x10004, Links: []Link{{0x10020, -0x1c}}}, chains[1])

	chains, err = m.FindChains(ctx, []uint64{0x10808}, ChainOptions{MaxOffset: 0x1000, MaxDepth: 3, MaxChains: 1})
	require.NoError(t, err)
	assert.Len(t, chains, 1)
}

func TestNearest(t *testing.T) {
	entries := []uint64{0x100, 0x110, 0x200}
	for _, tc := range []struct {
		addr, lo, hi uint64
		want         uint64
		ok           bool
	}{
		{0x108, 0, 0x300, 0x100, true},
		{0x10f, 0, 0x300, 0x110, true},
		{0x110, 0x110, 0x110, 0x110, true},
		{0x150, 0x140, 0x160, 0, false},
		{0x1f8, 0x1f0, 0x208, 0x200, true},
		{0x1f8, 0x100, 0x1f8, 0x110, true},
		{0x50, 0, 0x60, 0, false},
	} {
		got, ok := nearest(entries, tc.addr, tc.lo, tc.hi)
		assert.Equal(t, tc.ok, ok, "%#x", tc.addr)
		assert.Equal(t, tc.want, got, "%#x", tc.addr)
	}
	_, ok := nearest(nil, 0x100, 0, 0x200)
	assert.False(t, ok)
}
