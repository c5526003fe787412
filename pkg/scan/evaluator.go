package scan

import (
	"encoding/binary"
	"fmt"
	"math"
)

type number interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

// matcher tests the bits of a current value against the bits of the
// previous one.
type matcher interface {
	match(cur, prev uint64) bool
}

// typedMatcher evaluates one operator on values of type T. One is built
// per scan, so the per-value switch always takes the same branch.
type typedMatcher[T number] struct {
	op     Op
	a, b   T
	signed bool
	conv   func(uint64) T
}

func newTypedMatcher[T number](t ScanType, p Predicate, conv func(uint64) T) matcher {
	return &typedMatcher[T]{
		op:     p.Op,
		a:      conv(p.A.Bits),
		b:      conv(p.B.Bits),
		signed: t.Signed(),
		conv:   conv,
	}
}

func (m *typedMatcher[T]) match(curBits, prevBits uint64) bool {
	cur := m.conv(curBits)
	switch m.op {
	case OpEqual:
		return cur == m.a
	case OpNotEqual:
		return cur != m.a
	case OpGreater:
		return cur > m.a
	case OpLess:
		return cur < m.a
	case OpInRange:
		return cur >= m.a && cur <= m.b
	case OpChanged:
		return curBits != prevBits
	case OpUnchanged:
		return curBits == prevBits
	case OpIncreased:
		return cur > m.conv(prevBits)
	case OpDecreased:
		return cur < m.conv(prevBits)
	case OpIncreasedBy:
		return m.addsUp(m.conv(prevBits), m.a, cur)
	case OpDecreasedBy:
		return m.addsUp(cur, m.a, m.conv(prevBits))
	case OpUnknownInitial:
		return true
	}
	return false
}

// addsUp returns true if base+d == want. Unsigned sums wrap around, signed
// sums that overflow never match.
func (m *typedMatcher[T]) addsUp(base, d, want T) bool {
	sum := base + d
	if m.signed {
		var zero T
		if (d > zero && sum < base) || (d < zero && sum > base) {
			return false
		}
	}
	return sum == want
}

func numericMatcher(t ScanType, p Predicate) matcher {
	switch t.Kind {
	case KindU8:
		return newTypedMatcher(t, p, func(b uint64) uint8 { return uint8(b) })
	case KindI8:
		return newTypedMatcher(t, p, func(b uint64) int8 { return int8(b) })
	case KindU16:
		return newTypedMatcher(t, p, func(b uint64) uint16 { return uint16(b) })
	case KindI16:
		return newTypedMatcher(t, p, func(b uint64) int16 { return int16(b) })
	case KindU32:
		return newTypedMatcher(t, p, func(b uint64) uint32 { return uint32(b) })
	case KindI32:
		return newTypedMatcher(t, p, func(b uint64) int32 { return int32(b) })
	case KindU64:
		return newTypedMatcher(t, p, func(b uint64) uint64 { return b })
	case KindI64:
		return newTypedMatcher(t, p, func(b uint64) int64 { return int64(b) })
	case KindF32:
		return newTypedMatcher(t, p, func(b uint64) float32 { return math.Float32frombits(uint32(b)) })
	case KindF64:
		return newTypedMatcher(t, p, math.Float64frombits)
	}
	return nil
}

// Evaluator is a predicate compiled for one scan type and byte order.
type Evaluator struct {
	t     ScanType
	p     Predicate
	order binary.ByteOrder
	width int

	load func([]byte) uint64
	m    matcher
}

// Compile validates p and returns an evaluator for values of t stored in
// memory with the given byte order.
func Compile(t ScanType, p Predicate, order binary.ByteOrder) (*Evaluator, error) {
	if err := p.Validate(t); err != nil {
		return nil, err
	}
	if order == nil {
		order = binary.LittleEndian
	}
	e := &Evaluator{t: t, p: p, order: order, width: t.Width()}
	if t.Numeric() {
		e.load = loader(e.width, order)
		e.m = numericMatcher(t, p)
	}
	return e, nil
}

// Evaluate applies p to the current and previous values of a candidate
// of type t. prev is nil if the candidate has no previous value.
func Evaluate(t ScanType, p Predicate, cur Value, prev *Value) (bool, error) {
	e, err := Compile(t, p, binary.LittleEndian)
	if err != nil {
		return false, err
	}
	return e.Eval(cur, prev)
}

// Type returns the scan type of the evaluator.
func (e *Evaluator) Type() ScanType { return e.t }

// Predicate returns the predicate of the evaluator.
func (e *Evaluator) Predicate() Predicate { return e.p }

// Eval applies the predicate to cur and prev.
func (e *Evaluator) Eval(cur Value, prev *Value) (bool, error) {
	if e.p.NeedsBaseline() && prev == nil {
		return false, ErrMissingBaseline
	}
	if e.t.Kind == KindBytes {
		if len(cur.Raw) != e.width || (prev != nil && len(prev.Raw) != e.width) {
			return false, fmt.Errorf("%w: value is %d bytes, scan type is %d", ErrPatternLengthMismatch, len(cur.Raw), e.width)
		}
		var p []byte
		if prev != nil {
			p = prev.Raw
		}
		return e.matchRaw(cur.Raw, p), nil
	}
	var p uint64
	if prev != nil {
		p = prev.Bits
	}
	return e.m.match(cur.Bits, p), nil
}

// matchRaw evaluates a byte pattern predicate.
func (e *Evaluator) matchRaw(cur, prev []byte) bool {
	switch e.p.Op {
	case OpEqual:
		return e.maskedEqual(cur, e.p.A.Raw)
	case OpNotEqual:
		return !e.maskedEqual(cur, e.p.A.Raw)
	case OpChanged:
		return !e.maskedEqual(cur, prev)
	case OpUnchanged:
		return e.maskedEqual(cur, prev)
	case OpUnknownInitial:
		return true
	}
	return false
}

func (e *Evaluator) maskedEqual(a, b []byte) bool {
	mask := e.p.Mask
	for i := 0; i < e.width; i++ {
		if mask != nil && a[i]&mask[i] != b[i]&mask[i] {
			return false
		}
		if mask == nil && a[i] != b[i] {
			return false
		}
	}
	return true
}

// seed calls fn with the offset of every value of buf that satisfies the
// predicate. Offsets start at first and advance by step, only values that
// start before limit and end inside buf are tested.
func (e *Evaluator) seed(buf []byte, first, step, limit int, fn func(off int)) {
	if e.m == nil {
		for off := first; off < limit && off+e.width <= len(buf); off += step {
			if e.matchRaw(buf[off:off+e.width], nil) {
				fn(off)
			}
		}
		return
	}
	load, m := e.load, e.m
	for off := first; off < limit && off+e.width <= len(buf); off += step {
		if m.match(load(buf[off:]), 0) {
			fn(off)
		}
	}
}
