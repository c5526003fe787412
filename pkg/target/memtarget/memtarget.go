// Package memtarget implements an in-memory target. It is used to test the
// scanner against synthetic address spaces and to simulate slow or flaky
// memory sources.
package memtarget

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memscan/memscan/pkg/target"
)

// Block is a mapped range of the in-memory target.
type Block struct {
	Base    uint64
	Data    []byte
	Prot    target.Protection
	Backing string
}

// NewBlock returns a block of size zeroed bytes.
func NewBlock(base uint64, size int, prot target.Protection) Block {
	return Block{Base: base, Data: make([]byte, size), Prot: prot}
}

func (b Block) end() uint64 { return b.Base + uint64(len(b.Data)) }

type fault struct {
	addr, size uint64
	count      int
	err        error
}

func (f *fault) overlaps(addr, n uint64) bool {
	return addr < f.addr+f.size && f.addr < addr+n
}

// Target is an in-memory target.Source.
type Target struct {
	mu      sync.RWMutex
	blocks  []Block
	faults  []*fault
	latency time.Duration
	dead    bool

	reads  int64
	writes int64
}

var _ target.Source = &Target{}

// New returns a target mapping blocks. Block data is used in place, not
// copied.
func New(blocks ...Block) *Target {
	t := &Target{}
	t.setBlocks(blocks)
	return t
}

func (t *Target) setBlocks(blocks []Block) {
	bs := make([]Block, len(blocks))
	copy(bs, blocks)
	sort.Slice(bs, func(i, j int) bool { return bs[i].Base < bs[j].Base })
	t.blocks = bs
}

// Remap replaces the layout of the target.
func (t *Target) Remap(blocks ...Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setBlocks(blocks)
}

// FailReads makes the next count reads overlapping [addr, addr+size) fail
// with err. A negative count fails them forever.
func (t *Target) FailReads(addr, size uint64, count int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = append(t.faults, &fault{addr: addr, size: size, count: count, err: err})
}

// SetLatency delays every access by d.
func (t *Target) SetLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latency = d
}

// Kill makes every following access fail with target.ErrTargetGone.
func (t *Target) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = true
}

// Reads returns the number of ReadMemory calls served so far.
func (t *Target) Reads() int64 {
	return atomic.LoadInt64(&t.reads)
}

// Writes returns the number of WriteMemory calls served so far.
func (t *Target) Writes() int64 {
	return atomic.LoadInt64(&t.writes)
}

// Regions implements target.Source.
func (t *Target) Regions(ctx context.Context) ([]target.Region, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.dead {
		return nil, target.ErrTargetGone
	}
	r := make([]target.Region, 0, len(t.blocks))
	for _, b := range t.blocks {
		r = append(r, target.Region{Base: b.Base, Size: uint64(len(b.Data)), Prot: b.Prot, Backing: b.Backing})
	}
	return r, nil
}

func (t *Target) wait(ctx context.Context) error {
	t.mu.RLock()
	d := t.latency
	t.mu.RUnlock()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return target.ErrTimeout
		}
		return ctx.Err()
	}
}

// injected returns the error of the first armed fault overlapping the
// range, consuming one of its shots.
func (t *Target) injected(addr, n uint64) error {
	for _, f := range t.faults {
		if f.count == 0 || !f.overlaps(addr, n) {
			continue
		}
		if f.count > 0 {
			f.count--
		}
		return f.err
	}
	return nil
}

// span calls fn for every block piece covering [addr, addr+n), stopping at
// the first gap.
func (t *Target) span(addr uint64, n int, fn func(b *Block, off uint64, cnt int)) int {
	done := 0
	i := sort.Search(len(t.blocks), func(i int) bool { return t.blocks[i].end() > addr })
	for ; i < len(t.blocks) && done < n; i++ {
		b := &t.blocks[i]
		cur := addr + uint64(done)
		if b.Base > cur {
			break
		}
		cnt := len(b.Data) - int(cur-b.Base)
		if cnt > n-done {
			cnt = n - done
		}
		fn(b, cur-b.Base, cnt)
		done += cnt
	}
	return done
}

// ReadMemory implements target.MemoryReader.
func (t *Target) ReadMemory(ctx context.Context, buf []byte, addr uint64) (int, error) {
	atomic.AddInt64(&t.reads, 1)
	if err := t.wait(ctx); err != nil {
		return 0, target.ReadError(addr, len(buf), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return 0, target.ReadError(addr, len(buf), target.ErrTargetGone)
	}
	if err := t.injected(addr, uint64(len(buf))); err != nil {
		return 0, target.ReadError(addr, len(buf), err)
	}
	unreadable := false
	n := t.span(addr, len(buf), func(b *Block, off uint64, cnt int) {
		if unreadable || b.Prot&target.ProtRead == 0 {
			unreadable = true
			return
		}
		copy(buf[int(b.Base+off-addr):], b.Data[off:off+uint64(cnt)])
	})
	if unreadable || n < len(buf) {
		return 0, target.ReadError(addr, len(buf), target.ErrUnreadable)
	}
	return n, nil
}

// WriteMemory implements target.MemoryReadWriter.
func (t *Target) WriteMemory(ctx context.Context, addr uint64, data []byte) (int, error) {
	atomic.AddInt64(&t.writes, 1)
	if err := t.wait(ctx); err != nil {
		return 0, target.WriteError(addr, len(data), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return 0, target.WriteError(addr, len(data), target.ErrTargetGone)
	}
	writable := true
	n := t.span(addr, len(data), func(b *Block, off uint64, cnt int) {
		if b.Prot&target.ProtWrite == 0 {
			writable = false
		}
	})
	if !writable || n < len(data) {
		return 0, target.WriteError(addr, len(data), target.ErrUnwritable)
	}
	t.span(addr, len(data), func(b *Block, off uint64, cnt int) {
		copy(b.Data[off:off+uint64(cnt)], data[int(b.Base+off-addr):])
	})
	return len(data), nil
}

// Close implements target.Source.
func (t *Target) Close() error {
	t.Kill()
	return nil
}

// Poke stores data at addr bypassing protections and injected faults, it
// panics if the range is not mapped.
func (t *Target) Poke(addr uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.span(addr, len(data), func(b *Block, off uint64, cnt int) {
		copy(b.Data[off:off+uint64(cnt)], data[int(b.Base+off-addr):])
	})
	if n < len(data) {
		panic("memtarget: poke outside of mapped memory")
	}
}
