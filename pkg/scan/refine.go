package scan

import (
	"context"
	"time"

	"github.com/memscan/memscan/pkg/target"
)

type batchResult struct {
	done bool
	seg  segment

	unmapped   int
	unreadable int
	rejected   int
	retries    int
	bytes      int
}

// batches splits the candidates of set in runs of at most size candidates.
func batches(set *CandidateSet, size int) []segment {
	var r []segment
	if set == nil {
		return r
	}
	for _, seg := range set.segs {
		for i := 0; i < seg.len(); i += size {
			j := i + size
			if j > seg.len() {
				j = seg.len()
			}
			r = append(r, seg.slice(i, j))
		}
	}
	return r
}

// Refine reads every candidate of the current generation again and keeps
// the ones satisfying p, comparing the new value with the last one read.
// See RefineAt.
func (s *Session) Refine(ctx context.Context, p Predicate) (Result, error) {
	return s.RefineAt(ctx, s.Generation(), p)
}

// RefineAt is like Refine but fails with ErrSessionStale unless gen is
// the current generation of the session.
//
// Candidates that are no longer inside a readable region, or can not be
// read, are dropped. Neighboring candidates are read with a single range
// read; if it fails they are read one at a time. If ctx is cancelled the
// candidates processed so far are updated, the others are kept as they
// were, and the context error is returned along with the result.
func (s *Session) RefineAt(ctx context.Context, gen uint64, p Predicate) (Result, error) {
	res := Result{Kind: "refine"}
	cfg := s.cfg
	e, err := Compile(s.t, p, cfg.ByteOrder)
	if err != nil {
		return res, err
	}
	if err := s.begin(StateRefining, &gen); err != nil {
		return res, err
	}
	start := time.Now()
	s.sc.purge()

	_, catalog, set := s.snapshot()
	if cfg.RevalidateRegions || catalog == nil {
		c, err := s.sc.Regions(ctx)
		if err != nil {
			s.abort(err)
			s.finish(&res, start, err)
			return res, err
		}
		catalog = c
	}

	units := batches(set, cfg.RefineBatch)
	results := make([]batchResult, len(units))
	width := s.t.Width()
	policy := cfg.refinePolicy()
	regionEnd := func(addr uint64) uint64 {
		if r, ok := catalog.Find(addr); ok {
			return r.End()
		}
		return addr
	}

	err = s.run(ctx, len(units), func(ctx context.Context, i int) error {
		seg := units[i]
		var r batchResult

		idx := make([]int, 0, seg.len())
		addrs := make([]uint64, 0, seg.len())
		for k := 0; k < seg.len(); k++ {
			addr := seg.addr(k)
			if !catalog.Contains(addr, uint64(width)) {
				r.unmapped++
				continue
			}
			idx = append(idx, k)
			addrs = append(addrs, addr)
		}

		out := newSparseSegment(s.t, len(idx))
		keep := func(k int, cur []byte) {
			if s.t.Numeric() {
				v, old := e.load(cur), seg.bits(k)
				if e.m.match(v, old) {
					out.appendBits(seg.addr(k), v, old, true)
				} else {
					r.rejected++
				}
				return
			}
			old := seg.raw(k)
			if e.matchRaw(cur, old) {
				out.appendRaw(seg.addr(k), cur, old)
			} else {
				r.rejected++
			}
		}

		var buf []byte
		for _, sp := range coalesce(addrs, width, cfg.CoalesceWindow, regionEnd) {
			if cap(buf) < sp.size {
				buf = make([]byte, sp.size)
			}
			buf = buf[:sp.size]
			n, err := policy.do(ctx, func(ctx context.Context) error {
				return readFull(ctx, s.sc.src, buf, sp.addr)
			})
			r.retries += n
			switch {
			case err == nil:
				r.bytes += sp.size
				for j := sp.lo; j < sp.hi; j++ {
					off := addrs[j] - sp.addr
					keep(idx[j], buf[off:off+uint64(width)])
				}
				continue
			case ctx.Err() != nil:
				return nil
			case target.IsFatal(err):
				return err
			case sp.hi-sp.lo == 1:
				r.unreadable++
				continue
			}

			// The range read failed, some of its candidates may still be
			// readable on their own.
			pb := buf[:width]
			for j := sp.lo; j < sp.hi; j++ {
				n, err := policy.do(ctx, func(ctx context.Context) error {
					return readFull(ctx, s.sc.src, pb, addrs[j])
				})
				r.retries += n
				switch {
				case err == nil:
					r.bytes += width
					keep(idx[j], pb)
				case ctx.Err() != nil:
					return nil
				case target.IsFatal(err):
					return err
				default:
					r.unreadable++
				}
			}
		}

		if out.len() > 0 {
			r.seg = out
		}
		r.done = true
		results[i] = r
		return nil
	})
	if err != nil {
		s.abort(err)
		s.finish(&res, start, err)
		return res, err
	}

	segs := make([]segment, 0, len(units))
	for i, r := range results {
		if !r.done {
			segs = append(segs, units[i])
			continue
		}
		res.Retries += r.retries
		res.BytesRead += uint64(r.bytes)
		res.Unmapped += r.unmapped
		res.Skipped += r.unreadable
		res.Rejected += r.rejected
		if r.seg != nil {
			segs = append(segs, r.seg)
		}
	}
	next := newCandidateSet(s.t, cfg.ByteOrder, segs)

	res.Dropped = res.Unmapped + res.Skipped + res.Rejected
	res.Candidates = next.Len()
	res.Cancelled = ctx.Err() != nil
	res.Generation = s.commit(catalog, next)
	err = nil
	if res.Cancelled {
		err = ctx.Err()
	}
	s.finish(&res, start, err)
	return res, err
}
