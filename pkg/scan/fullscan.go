package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/memscan/memscan/pkg/target"
)

// chunk is the unit of work of a full scan: size bytes at base, inside
// region.
type chunk struct {
	region int
	base   uint64
	size   int
	end    uint64 // end of the region
}

type chunkResult struct {
	done    bool
	seg     segment
	err     error
	retries int
	bytes   int
}

func chunks(regions []target.Region, size int) []chunk {
	var r []chunk
	for i, rg := range regions {
		for base := rg.Base; base < rg.End(); base += uint64(size) {
			n := uint64(size)
			if rg.End()-base < n {
				n = rg.End() - base
			}
			r = append(r, chunk{region: i, base: base, size: int(n), end: rg.End()})
			if base+uint64(size) < base {
				break
			}
		}
	}
	return r
}

// FullScan captures a new region catalog and reads every readable region,
// the values satisfying p become the candidates of the next generation.
// A full scan with an unknown initial value keeps every aligned address.
//
// Regions that can not be read, or keep failing with transient errors
// after the configured retries, are skipped and reported in the result.
// If ctx is cancelled the chunks read so far are committed, the result is
// marked as cancelled and the context error is returned.
func (s *Session) FullScan(ctx context.Context, p Predicate) (Result, error) {
	res := Result{Kind: "full"}
	if p.NeedsBaseline() {
		return res, fmt.Errorf("%w: %v needs a previous scan", ErrMissingBaseline, p.Op)
	}
	cfg := s.cfg
	e, err := Compile(s.t, p, cfg.ByteOrder)
	if err != nil {
		return res, err
	}
	if err := s.begin(StateScanning, nil); err != nil {
		return res, err
	}
	start := time.Now()
	s.sc.purge()

	catalog, err := s.sc.Regions(ctx)
	if err != nil {
		s.abort(err)
		s.finish(&res, start, err)
		return res, err
	}
	regions := catalog.Readable()
	units := chunks(regions, cfg.ChunkSize)
	results := make([]chunkResult, len(units))

	step := uint64(s.t.Align())
	if cfg.Unaligned {
		step = 1
	}
	unknown := p.Op == OpUnknownInitial
	width := s.t.Width()
	policy := cfg.retryPolicy()
	pool := sync.Pool{New: func() interface{} {
		b := make([]byte, cfg.ChunkSize+width-1)
		return &b
	}}

	err = s.run(ctx, len(units), func(ctx context.Context, i int) error {
		u := units[i]
		n := uint64(u.size + width - 1)
		if u.end-u.base < n {
			n = u.end - u.base
		}
		var buf []byte
		if unknown {
			buf = make([]byte, n)
		} else {
			bp := pool.Get().(*[]byte)
			defer pool.Put(bp)
			buf = (*bp)[:n]
		}
		retries, err := policy.do(ctx, func(ctx context.Context) error {
			return readFull(ctx, s.sc.src, buf, u.base)
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

		first := (step - u.base%step) % step
		if first >= uint64(len(buf)) {
			return nil
		}
		if unknown {
			seg := newDenseSegment(s.t, cfg.ByteOrder, u.base+first, step, buf[first:], u.size-int(first))
			if seg.len() > 0 {
				r.seg = seg
			}
			return nil
		}
		seg := newSparseSegment(s.t, 0)
		e.seed(buf, int(first), int(step), u.size, func(off int) {
			v := buf[off : off+width]
			if s.t.Numeric() {
				seg.appendBits(u.base+uint64(off), e.load(v), 0, false)
			} else {
				seg.appendRaw(u.base+uint64(off), v, nil)
			}
		})
		if seg.len() > 0 {
			r.seg = seg
		}
		return nil
	})
	if err != nil {
		s.abort(err)
		s.finish(&res, start, err)
		return res, err
	}

	failed := make(map[int]error)
	for i, r := range results {
		res.Retries += r.retries
		res.BytesRead += uint64(r.bytes)
		if r.err != nil {
			if _, ok := failed[units[i].region]; !ok {
				failed[units[i].region] = r.err
				res.SkippedRegions = append(res.SkippedRegions, regions[units[i].region])
				s.sc.log.WithError(r.err).Debugf("skipping region %v", regions[units[i].region])
			}
		}
	}
	segs := make([]segment, 0, len(results))
	for i, r := range results {
		if !r.done || r.seg == nil {
			continue
		}
		if _, ok := failed[units[i].region]; ok {
			continue
		}
		segs = append(segs, r.seg)
	}
	set := newCandidateSet(s.t, cfg.ByteOrder, segs)

	res.Skipped = len(res.SkippedRegions)
	res.Candidates = set.Len()
	res.Cancelled = ctx.Err() != nil
	res.Generation = s.commit(catalog, set)
	err = nil
	if res.Cancelled {
		err = ctx.Err()
	}
	s.finish(&res, start, err)
	return res, err
}
