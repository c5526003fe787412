package scan

import (
	"fmt"
	"strings"
)

// Kind is the representation of the values searched by a scan.
type Kind uint8

const (
	KindU8 Kind = iota
	KindI8
	KindU16
	KindI16
	KindU32
	KindI32
	KindU64
	KindI64
	KindF32
	KindF64
	KindBytes
)

var kindNames = [...]string{
	KindU8:    "u8",
	KindI8:    "i8",
	KindU16:   "u16",
	KindI16:   "i16",
	KindU32:   "u32",
	KindI32:   "i32",
	KindU64:   "u64",
	KindI64:   "i64",
	KindF32:   "f32",
	KindF64:   "f64",
	KindBytes: "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ScanType is the width and representation of the values of a scan
// session. Size is only used by KindBytes.
type ScanType struct {
	Kind Kind
	Size int
}

var (
	U8  = ScanType{Kind: KindU8}
	I8  = ScanType{Kind: KindI8}
	U16 = ScanType{Kind: KindU16}
	I16 = ScanType{Kind: KindI16}
	U32 = ScanType{Kind: KindU32}
	I32 = ScanType{Kind: KindI32}
	U64 = ScanType{Kind: KindU64}
	I64 = ScanType{Kind: KindI64}
	F32 = ScanType{Kind: KindF32}
	F64 = ScanType{Kind: KindF64}
)

// Bytes returns the type of an n bytes long pattern.
func Bytes(n int) ScanType {
	return ScanType{Kind: KindBytes, Size: n}
}

// ParseScanType parses a type name such as "u32", "int16", "f64" or
// "bytes". The size of a byte pattern type is not part of its name and
// must be set with Bytes once the pattern is known.
func ParseScanType(s string) (ScanType, error) {
	switch strings.ToLower(s) {
	case "u8", "uint8", "byte":
		return U8, nil
	case "i8", "int8":
		return I8, nil
	case "u16", "uint16":
		return U16, nil
	case "i16", "int16":
		return I16, nil
	case "u32", "uint32":
		return U32, nil
	case "i32", "int32", "int":
		return I32, nil
	case "u64", "uint64":
		return U64, nil
	case "i64", "int64":
		return I64, nil
	case "f32", "float32", "float":
		return F32, nil
	case "f64", "float64", "double":
		return F64, nil
	case "bytes", "aob":
		return ScanType{Kind: KindBytes}, nil
	}
	return ScanType{}, fmt.Errorf("%w: unknown type %q", ErrValueType, s)
}

// Width returns the number of bytes of a value.
func (t ScanType) Width() int {
	switch t.Kind {
	case KindU8, KindI8:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	case KindBytes:
		return t.Size
	}
	return 0
}

// Align returns the natural alignment of values of the type.
func (t ScanType) Align() int {
	if t.Kind == KindBytes {
		return 1
	}
	return t.Width()
}

// Signed returns true for signed integer types.
func (t ScanType) Signed() bool {
	switch t.Kind {
	case KindI8, KindI16, KindI32, KindI64:
		return true
	}
	return false
}

// Float returns true for floating point types.
func (t ScanType) Float() bool {
	return t.Kind == KindF32 || t.Kind == KindF64
}

// Numeric returns true for every type except byte patterns.
func (t ScanType) Numeric() bool {
	return t.Kind != KindBytes
}

// Valid returns true if t is a known kind with a positive width.
func (t ScanType) Valid() bool {
	return t.Kind <= KindBytes && t.Width() > 0
}

func (t ScanType) String() string {
	if t.Kind == KindBytes {
		return fmt.Sprintf("bytes[%d]", t.Size)
	}
	return t.Kind.String()
}

// mask returns the bits of a uint64 used by values of t.
func (t ScanType) mask() uint64 {
	w := t.Width()
	if w >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(w)) - 1
}
