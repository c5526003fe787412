package scan

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a value of a ScanType. Numeric values are stored as their bit
// pattern zero-extended to 64 bits, byte patterns are stored in Raw.
type Value struct {
	Bits uint64
	Raw  []byte
}

// Uint returns v as a value of the integer type t, truncated to its width.
func Uint(t ScanType, v uint64) Value {
	return Value{Bits: v & t.mask()}
}

// Int returns v as a value of the integer type t, truncated to its width.
func Int(t ScanType, v int64) Value {
	return Value{Bits: uint64(v) & t.mask()}
}

// Float returns f as a value of the floating point type t.
func Float(t ScanType, f float64) Value {
	if t.Kind == KindF32 {
		return Value{Bits: uint64(math.Float32bits(float32(f)))}
	}
	return Value{Bits: math.Float64bits(f)}
}

// Pattern returns a byte pattern value.
func Pattern(b []byte) Value {
	return Value{Raw: b}
}

// Uint returns the bits of v.
func (v Value) Uint() uint64 {
	return v.Bits
}

// Int returns v sign-extended according to the width of t.
func (v Value) Int(t ScanType) int64 {
	switch t.Width() {
	case 1:
		return int64(int8(v.Bits))
	case 2:
		return int64(int16(v.Bits))
	case 4:
		return int64(int32(v.Bits))
	}
	return int64(v.Bits)
}

// Float returns v interpreted as a float of type t.
func (v Value) Float(t ScanType) float64 {
	if t.Kind == KindF32 {
		return float64(math.Float32frombits(uint32(v.Bits)))
	}
	return math.Float64frombits(v.Bits)
}

// Equal returns true if v and o have the same bit pattern.
func (v Value) Equal(o Value) bool {
	return v.Bits == o.Bits && bytes.Equal(v.Raw, o.Raw)
}

// Format returns v formatted as a value of t.
func (v Value) Format(t ScanType) string {
	switch {
	case t.Kind == KindBytes:
		return formatPattern(v.Raw, nil)
	case t.Float():
		bits := 64
		if t.Kind == KindF32 {
			bits = 32
		}
		return strconv.FormatFloat(v.Float(t), 'g', -1, bits)
	case t.Signed():
		return strconv.FormatInt(v.Int(t), 10)
	}
	return strconv.FormatUint(v.Bits, 10)
}

// Encode returns the in-memory representation of v.
func (t ScanType) Encode(v Value, order binary.ByteOrder) []byte {
	if t.Kind == KindBytes {
		b := make([]byte, len(v.Raw))
		copy(b, v.Raw)
		return b
	}
	b := make([]byte, t.Width())
	switch len(b) {
	case 1:
		b[0] = byte(v.Bits)
	case 2:
		order.PutUint16(b, uint16(v.Bits))
	case 4:
		order.PutUint32(b, uint32(v.Bits))
	case 8:
		order.PutUint64(b, v.Bits)
	}
	return b
}

// Decode reads a value of t from the first Width() bytes of b.
func (t ScanType) Decode(b []byte, order binary.ByteOrder) Value {
	if t.Kind == KindBytes {
		raw := make([]byte, t.Size)
		copy(raw, b)
		return Value{Raw: raw}
	}
	return Value{Bits: loader(t.Width(), order)(b)}
}

// loader returns a function decoding the bits of a width bytes long value.
func loader(width int, order binary.ByteOrder) func([]byte) uint64 {
	switch width {
	case 1:
		return func(b []byte) uint64 { return uint64(b[0]) }
	case 2:
		return func(b []byte) uint64 { return uint64(order.Uint16(b)) }
	case 4:
		return func(b []byte) uint64 { return uint64(order.Uint32(b)) }
	}
	return func(b []byte) uint64 { return order.Uint64(b) }
}

// ParseValue parses s as a value of t. Integers may be written in any base
// accepted by strconv (0x, 0o, 0b prefixes). Byte patterns are parsed with
// ParsePattern and must not contain wildcards.
func ParseValue(t ScanType, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case t.Kind == KindBytes:
		v, mask, err := ParsePattern(s)
		if err != nil {
			return Value{}, err
		}
		if mask != nil {
			return Value{}, fmt.Errorf("%w: wildcards are not allowed in %q", ErrValueType, s)
		}
		return v, nil
	case t.Float():
		bits := 64
		if t.Kind == KindF32 {
			bits = 32
		}
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrValueType, err)
		}
		return Float(t, f), nil
	case t.Signed():
		n, err := strconv.ParseInt(s, 0, 8*t.Width())
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrValueType, err)
		}
		return Int(t, n), nil
	case t.Valid():
		n, err := strconv.ParseUint(s, 0, 8*t.Width())
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrValueType, err)
		}
		return Uint(t, n), nil
	}
	return Value{}, fmt.Errorf("%w: %v", ErrValueType, t)
}

// ParsePattern parses a hex byte pattern such as "de ad ?? ef" or
// "dead??ef". A "??" byte is a wildcard. The returned mask is nil when the
// pattern has no wildcards, otherwise it is 0x00 at wildcard positions and
// 0xff elsewhere.
func ParsePattern(s string) (Value, []byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" || len(s)%2 != 0 {
		return Value{}, nil, fmt.Errorf("%w: malformed byte pattern %q", ErrValueType, s)
	}
	pattern := make([]byte, len(s)/2)
	mask := make([]byte, len(s)/2)
	wildcards := false
	for i := range pattern {
		hx := s[2*i : 2*i+2]
		if hx == "??" {
			wildcards = true
			continue
		}
		if _, err := hex.Decode(pattern[i:i+1], []byte(hx)); err != nil {
			return Value{}, nil, fmt.Errorf("%w: malformed byte pattern %q", ErrValueType, s)
		}
		mask[i] = 0xff
	}
	if !wildcards {
		mask = nil
	}
	return Pattern(pattern), mask, nil
}

func formatPattern(b, mask []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if mask != nil && i < len(mask) && mask[i] == 0 {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}
