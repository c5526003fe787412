package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memscan/memscan/pkg/target"
)

// Pointer is a value of the target that is the address of readable
// memory.
type Pointer struct {
	Addr  uint64 // where the pointer is stored
	Value uint64 // where it points to
}

// PointerMap is a snapshot of the pointers of the target, indexed both by
// the address they are stored at and by the address they point to.
type PointerMap struct {
	width   int
	workers int
	catalog *target.Catalog
	fwd     []Pointer // by Addr
	inv     []Pointer // by Value, then Addr
}

type pointerChunk struct {
	done    bool
	ptrs    []Pointer
	err     error
	retries int
	bytes   int
}

// BuildPointerMap reads every readable region of the target and records
// the width bytes values pointing into a readable region. Values are read
// at addresses aligned to width, or at every byte offset if the scanner
// is configured for unaligned scans.
//
// Regions that can not be read are skipped and reported in the result.
// The map replaces the one built before. If ctx is cancelled no map is
// returned and the previous map is kept.
func (sc *Scanner) BuildPointerMap(ctx context.Context, width int) (*PointerMap, Result, error) {
	res := Result{Kind: "pointermap"}
	if width != 4 && width != 8 {
		return nil, res, fmt.Errorf("%w: %d", ErrPointerWidth, width)
	}
	cfg := sc.Config()
	start := time.Now()
	sc.purge()

	catalog, err := sc.Regions(ctx)
	if err != nil {
		sc.finish(&res, start, err)
		return nil, res, err
	}
	regions := catalog.Readable()
	units := chunks(regions, cfg.ChunkSize)
	results := make([]pointerChunk, len(units))

	step := uint64(width)
	if cfg.Unaligned {
		step = 1
	}
	var lo, hi uint64
	if len(regions) > 0 {
		lo, hi = regions[0].Base, regions[len(regions)-1].End()
	}
	load := loader(width, cfg.ByteOrder)
	policy := cfg.retryPolicy()
	pool := sync.Pool{New: func() interface{} {
		b := make([]byte, cfg.ChunkSize+width-1)
		return &b
	}}

	err = runUnits(ctx, cfg.Workers, len(units), func(ctx context.Context, i int) error {
		u := units[i]
		n := uint64(u.size + width - 1)
		if u.end-u.base < n {
			n = u.end - u.base
		}
		bp := pool.Get().(*[]byte)
		defer pool.Put(bp)
		buf := (*bp)[:n]

		retries, err := policy.do(ctx, func(ctx context.Context) error {
			return readFull(ctx, sc.src, buf, u.base)
		})
		r := &results[i]
		r.retries = retries
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case target.IsFatal(err):
				return err
			}
			r.done, r.err = true, err
			return nil
		}
		r.done = true
		r.bytes = len(buf)

		for off := (step - u.base%step) % step; off < uint64(u.size) && off+uint64(width) <= n; off += step {
			v := load(buf[off:])
			if v < lo || v >= hi || !catalog.Contains(v, 1) {
				continue
			}
			r.ptrs = append(r.ptrs, Pointer{Addr: u.base + off, Value: v})
		}
		return nil
	})
	if err == nil && ctx.Err() != nil {
		res.Cancelled = true
		err = ctx.Err()
	}
	if err != nil {
		sc.finish(&res, start, err)
		return nil, res, err
	}

	failed := make(map[int]bool)
	for i, r := range results {
		res.Retries += r.retries
		res.BytesRead += uint64(r.bytes)
		if r.err != nil && !failed[units[i].region] {
			failed[units[i].region] = true
			res.SkippedRegions = append(res.SkippedRegions, regions[units[i].region])
			sc.log.WithError(r.err).Debugf("skipping region %v", regions[units[i].region])
		}
	}
	m := &PointerMap{width: width, workers: cfg.Workers, catalog: catalog}
	for i, r := range results {
		if !failed[units[i].region] {
			m.fwd = append(m.fwd, r.ptrs...)
		}
	}
	m.inv = make([]Pointer, len(m.fwd))
	copy(m.inv, m.fwd)
	sort.Slice(m.inv, func(i, j int) bool {
		a, b := m.inv[i], m.inv[j]
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Addr < b.Addr
	})

	sc.mu.Lock()
	sc.pointers = m
	sc.mu.Unlock()

	res.Skipped = len(res.SkippedRegions)
	res.Candidates = len(m.fwd)
	sc.finish(&res, start, nil)
	return m, res, nil
}

// PointerMap returns the last pointer map built, or nil.
func (sc *Scanner) PointerMap() *PointerMap {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.pointers
}

// Width returns the size of the pointers of the map.
func (m *PointerMap) Width() int {
	return m.width
}

// Len returns the number of pointers.
func (m *PointerMap) Len() int {
	return len(m.fwd)
}

// Catalog returns the regions the map was built from.
func (m *PointerMap) Catalog() *target.Catalog {
	return m.catalog
}

// Pointers returns up to limit pointers ordered by address, starting at
// index offset. A negative limit returns all of them.
func (m *PointerMap) Pointers(offset, limit int) []Pointer {
	if offset < 0 || offset >= len(m.fwd) {
		return nil
	}
	end := len(m.fwd)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	r := make([]Pointer, end-offset)
	copy(r, m.fwd[offset:end])
	return r
}

// Lookup returns the value of the pointer stored at addr.
func (m *PointerMap) Lookup(addr uint64) (uint64, bool) {
	i := sort.Search(len(m.fwd), func(i int) bool { return m.fwd[i].Addr >= addr })
	if i < len(m.fwd) && m.fwd[i].Addr == addr {
		return m.fwd[i].Value, true
	}
	return 0, false
}

// PointersTo returns the addresses of the pointers to addr.
func (m *PointerMap) PointersTo(addr uint64) []uint64 {
	i, j := m.pointingInto(addr, addr)
	r := make([]uint64, 0, j-i)
	for ; i < j; i++ {
		r = append(r, m.inv[i].Addr)
	}
	return r
}

// StaticEntryPoints returns the addresses of the pointers stored in file
// backed regions. Their addresses only depend on where the images are
// loaded, which makes them good starting points for pointer chains.
func (m *PointerMap) StaticEntryPoints() []uint64 {
	r := []uint64{}
	var cur target.Region
	for _, p := range m.fwd {
		if !cur.Contains(p.Addr, 1) {
			cur, _ = m.catalog.Find(p.Addr)
		}
		if cur.FileBacked() {
			r = append(r, p.Addr)
		}
	}
	return r
}

func (m *PointerMap) addresses() []uint64 {
	r := make([]uint64, len(m.fwd))
	for i, p := range m.fwd {
		r[i] = p.Addr
	}
	return r
}

// pointingInto returns the range of m.inv pointing into [lo, hi].
func (m *PointerMap) pointingInto(lo, hi uint64) (int, int) {
	i := sort.Search(len(m.inv), func(i int) bool { return m.inv[i].Value >= lo })
	j := i + sort.Search(len(m.inv)-i, func(k int) bool { return m.inv[i+k].Value > hi })
	return i, j
}

// Link is a step of a pointer chain. Base plus Offset is the address of
// the next pointer of the chain or, for the last link, of the target.
type Link struct {
	Base   uint64
	Offset int64
}

// Chain leads from an entry point to Target. The Base of the first link
// is the entry point, the Base of every other link is the value of the
// pointer the previous link leads to.
type Chain struct {
	Target uint64
	Links  []Link
}

func (c Chain) String() string {
	var b strings.Builder
	for _, l := range c.Links {
		fmt.Fprintf(&b, "%#x + (%d) => ", l.Base, l.Offset)
	}
	fmt.Fprintf(&b, "%#x", c.Target)
	return b.String()
}

// ChainOptions bounds the search of pointer chains.
type ChainOptions struct {
	// MaxOffset is the largest positive offset of a link.
	MaxOffset uint64
	// MaxNegOffset is the largest negative offset of a link, in absolute
	// value.
	MaxNegOffset uint64
	// MaxDepth is the largest number of links of a chain.
	MaxDepth int
	// EntryPoints are the sorted addresses chains can start from. By
	// default every pointer of the map is an entry point.
	EntryPoints []uint64
	// MaxChains stops the search for a target after that many chains,
	// zero does not limit it.
	MaxChains int
}

// FindChains searches the pointer chains leading to every address of
// targets. From each address the search follows the pointers to the
// memory at most opts.MaxOffset bytes below it, or opts.MaxNegOffset bytes
// above it, and records a chain each time it meets an entry point in the
// same window. Chains are returned in the order of targets.
//
// If ctx is cancelled the chains found so far are returned along with the
// context error.
func (m *PointerMap) FindChains(ctx context.Context, targets []uint64, opts ChainOptions) ([]Chain, error) {
	if opts.MaxDepth <= 0 {
		return nil, errors.New("max depth must be positive")
	}
	entries := opts.EntryPoints
	if entries == nil {
		entries = m.addresses()
	}
	found := make([][]Chain, len(targets))
	err := runUnits(ctx, m.workers, len(targets), func(ctx context.Context, i int) error {
		w := &chainWalker{m: m, opts: opts, entries: entries, target: targets[i]}
		w.walk(ctx, targets[i], 1)
		found[i] = w.out
		return nil
	})
	var r []Chain
	for _, chains := range found {
		r = append(r, chains...)
	}
	if err == nil {
		err = ctx.Err()
	}
	return r, err
}

type chainWalker struct {
	m       *PointerMap
	opts    ChainOptions
	entries []uint64
	target  uint64

	path []Link // from the target back to the current address
	out  []Chain
}

func (w *chainWalker) full() bool {
	return w.opts.MaxChains > 0 && len(w.out) >= w.opts.MaxChains
}

func (w *chainWalker) walk(ctx context.Context, addr uint64, depth int) {
	if w.full() || ctx.Err() != nil {
		return
	}
	lo := addr - w.opts.MaxOffset
	if lo > addr {
		lo = 0
	}
	hi := addr + w.opts.MaxNegOffset
	if hi < addr {
		hi = ^uint64(0)
	}

	if e, ok := nearest(w.entries, addr, lo, hi); ok {
		links := make([]Link, 0, len(w.path)+1)
		links = append(links, Link{Base: e, Offset: int64(addr - e)})
		for i := len(w.path) - 1; i >= 0; i-- {
			links = append(links, w.path[i])
		}
		w.out = append(w.out, Chain{Target: w.target, Links: links})
	}
	if depth >= w.opts.MaxDepth {
		return
	}

	i, j := w.m.pointingInto(lo, hi)
	for ; i < j && !w.full(); i++ {
		p := w.m.inv[i]
		w.path = append(w.path, Link{Base: p.Value, Offset: int64(addr - p.Value)})
		w.walk(ctx, p.Addr, depth+1)
		w.path = w.path[:len(w.path)-1]
	}
}

// nearest returns the entry point in [lo, hi] closest to addr, the lower
// one on ties.
func nearest(entries []uint64, addr, lo, hi uint64) (uint64, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i] > addr })
	var best uint64
	ok := false
	if i > 0 && entries[i-1] >= lo {
		best, ok = entries[i-1], true
	}
	if i < len(entries) && entries[i] <= hi && (!ok || entries[i]-addr < addr-best) {
		best, ok = entries[i], true
	}
	return best, ok
}
