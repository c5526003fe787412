package scan

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	nan := math.NaN()
	u8 := func(v uint64) Value { return Uint(U8, v) }
	i8 := func(v int64) Value { return Int(I8, v) }
	f32 := func(v float64) Value { return Float(F32, v) }
	pv := func(v Value) *Value { return &v }

	for _, tc := range []struct {
		name string
		t    ScanType
		p    Predicate
		cur  Value
		prev *Value
		want bool
	}{
		{"u8 equal", U8, Equal(u8(7)), u8(7), nil, true},
		{"u8 not equal", U8, NotEqual(u8(7)), u8(7), nil, false},
		{"i8 greater than negative", I8, Greater(i8(-5)), i8(-3), nil, true},
		{"i8 less is signed", I8, Less(i8(1)), i8(-100), nil, true},
		{"u8 less is unsigned", U8, Less(u8(1)), u8(0x9c), nil, false},
		{"range inclusive low", I32, InRange(Int(I32, -5), Int(I32, 3)), Int(I32, -5), nil, true},
		{"range inclusive high", I32, InRange(Int(I32, -5), Int(I32, 3)), Int(I32, 3), nil, true},
		{"range outside", I32, InRange(Int(I32, -5), Int(I32, 3)), Int(I32, 4), nil, false},
		{"changed", U16, Changed(), Uint(U16, 1), pv(Uint(U16, 2)), true},
		{"unchanged", U16, Unchanged(), Uint(U16, 2), pv(Uint(U16, 2)), true},
		{"increased", U32, Increased(), Uint(U32, 150), pv(Uint(U32, 100)), true},
		{"not increased", U32, Increased(), Uint(U32, 100), pv(Uint(U32, 100)), false},
		{"decreased signed", I64, Decreased(), Int(I64, -2), pv(Int(I64, 1)), true},
		{"unsigned increased by wraps", U8, IncreasedBy(u8(10)), u8(4), pv(u8(250)), true},
		{"unsigned decreased by wraps", U8, DecreasedBy(u8(10)), u8(251), pv(u8(5)), true},
		{"signed increased by", I8, IncreasedBy(i8(10)), i8(110), pv(i8(100)), true},
		{"signed increased by overflow", I8, IncreasedBy(i8(10)), i8(-126), pv(i8(120)), false},
		{"signed decreased by", I8, DecreasedBy(i8(10)), i8(-110), pv(i8(-100)), true},
		{"signed decreased by overflow", I8, DecreasedBy(i8(10)), i8(126), pv(i8(-120)), false},
		{"float increased by", F64, IncreasedBy(Float(F64, 0.5)), Float(F64, 2), pv(Float(F64, 1.5)), true},
		{"nan equal", F32, Equal(f32(nan)), f32(nan), nil, false},
		{"nan not equal", F32, NotEqual(f32(nan)), f32(nan), nil, true},
		{"nan greater", F32, Greater(f32(0)), f32(nan), nil, false},
		{"nan less", F32, Less(f32(0)), f32(nan), nil, false},
		{"nan in range", F32, InRange(f32(-1e30), f32(1e30)), f32(nan), nil, false},
		{"increased from nan", F32, Increased(), f32(1), pv(f32(nan)), false},
		{"nan unchanged bits", F32, Unchanged(), f32(nan), pv(f32(nan)), true},
		{"float equal", F64, Equal(Float(F64, 1.5)), Float(F64, 1.5), nil, true},
		{"negative zero equal", F64, Equal(Float(F64, 0)), Float(F64, math.Copysign(0, -1)), nil, true},
		{"unknown initial", U64, UnknownInitial(), Uint(U64, 1), nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.t, tc.p, tc.cur, tc.prev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	_, err := Evaluate(U32, Changed(), Uint(U32, 1), nil)
	assert.ErrorIs(t, err, ErrMissingBaseline)

	_, err = Evaluate(U32, InRange(Uint(U32, 5), Uint(U32, 3)), Uint(U32, 4), nil)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Evaluate(I32, InRange(Int(I32, 3), Int(I32, -5)), Int(I32, 0), nil)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Evaluate(F64, InRange(Float(F64, math.NaN()), Float(F64, 1)), Float(F64, 0), nil)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Evaluate(Bytes(3), MatchPattern([]byte{1, 2, 3, 4}, nil), Pattern([]byte{1, 2, 3}), nil)
	assert.ErrorIs(t, err, ErrPatternLengthMismatch)

	_, err = Evaluate(Bytes(4), MatchPattern([]byte{1, 2, 3, 4}, []byte{0xff}), Pattern([]byte{1, 2, 3, 4}), nil)
	assert.ErrorIs(t, err, ErrPatternLengthMismatch)

	_, err = Evaluate(Bytes(4), MatchPattern([]byte{1, 2, 3, 4}, nil), Pattern([]byte{1, 2, 3}), nil)
	assert.ErrorIs(t, err, ErrPatternLengthMismatch)

	_, err = Evaluate(Bytes(4), Greater(Pattern([]byte{1, 2, 3, 4})), Pattern([]byte{1, 2, 3, 4}), nil)
	assert.ErrorIs(t, err, ErrInvalidPredicate)

	_, err = Evaluate(U32, Predicate{Op: OpEqual, Mask: []byte{0xff}}, Uint(U32, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidPredicate)

	_, err = Evaluate(Bytes(0), MatchPattern(nil, nil), Pattern(nil), nil)
	assert.ErrorIs(t, err, ErrValueType)
}

func TestRangeOfOneValueIsEqual(t *testing.T) {
	for _, st := range []ScanType{I16, U32, F64} {
		lo := Float(F64, 7)
		if !st.Float() {
			lo = Int(st, 7)
		}
		for v := -300; v <= 300; v++ {
			cur := Int(st, int64(v))
			if st.Float() {
				cur = Float(st, float64(v))
			}
			inRange, err := Evaluate(st, InRange(lo, lo), cur, nil)
			require.NoError(t, err)
			equal, err := Evaluate(st, Equal(lo), cur, nil)
			require.NoError(t, err)
			require.Equal(t, equal, inRange, "%v %d", st, v)
		}
	}
}

func TestPatternMask(t *testing.T) {
	pattern, mask, err := ParsePattern("de ad ?? ef")
	require.NoError(t, err)
	p := Predicate{Op: OpEqual, A: pattern, Mask: mask}

	ok, err := Evaluate(Bytes(4), p, Pattern([]byte{0xde, 0xad, 0x99, 0xef}), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(Bytes(4), p, Pattern([]byte{0xde, 0xad, 0x99, 0xee}), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "= de ad ?? ef", p.Format(Bytes(4)))
}

func TestSeed(t *testing.T) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint16(buf[2:], 0x1234)
	binary.BigEndian.PutUint16(buf[9:], 0x1234)

	e, err := Compile(U16, Equal(Uint(U16, 0x1234)), binary.BigEndian)
	require.NoError(t, err)

	var aligned, unaligned []int
	e.seed(buf, 0, 2, len(buf), func(off int) { aligned = append(aligned, off) })
	e.seed(buf, 0, 1, len(buf), func(off int) { unaligned = append(unaligned, off) })
	assert.Equal(t, []int{2}, aligned)
	assert.Equal(t, []int{2, 9}, unaligned)

	var limited []int
	e.seed(buf, 0, 1, 9, func(off int) { limited = append(limited, off) })
	assert.Equal(t, []int{2}, limited)
}
