package scan

import (
	"fmt"
	"math"
	"strings"
)

// Op is a comparison applied by a scan.
type Op uint8

const (
	OpEqual Op = iota
	OpNotEqual
	OpGreater
	OpLess
	OpInRange
	OpChanged
	OpUnchanged
	OpIncreased
	OpDecreased
	OpIncreasedBy
	OpDecreasedBy
	OpUnknownInitial
)

var opNames = [...]string{
	OpEqual:          "=",
	OpNotEqual:       "!=",
	OpGreater:        ">",
	OpLess:           "<",
	OpInRange:        "range",
	OpChanged:        "changed",
	OpUnchanged:      "unchanged",
	OpIncreased:      "+",
	OpDecreased:      "-",
	OpIncreasedBy:    "+=",
	OpDecreasedBy:    "-=",
	OpUnknownInitial: "?",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// ParseOp parses the symbolic or word form of an operator.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "=", "==", "eq", "equal":
		return OpEqual, nil
	case "!=", "ne", "neq", "notequal":
		return OpNotEqual, nil
	case ">", "gt", "greater":
		return OpGreater, nil
	case "<", "lt", "less":
		return OpLess, nil
	case "range", "in", "between":
		return OpInRange, nil
	case "changed", "ch":
		return OpChanged, nil
	case "unchanged", "same", "un":
		return OpUnchanged, nil
	case "+", "inc", "increased":
		return OpIncreased, nil
	case "-", "dec", "decreased":
		return OpDecreased, nil
	case "+=", "incby":
		return OpIncreasedBy, nil
	case "-=", "decby":
		return OpDecreasedBy, nil
	case "?", "unknown":
		return OpUnknownInitial, nil
	}
	return 0, fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, s)
}

// NeedsBaseline returns true if op compares against the previous value.
func (op Op) NeedsBaseline() bool {
	switch op {
	case OpChanged, OpUnchanged, OpIncreased, OpDecreased, OpIncreasedBy, OpDecreasedBy:
		return true
	}
	return false
}

// Operands returns the number of constants used by op.
func (op Op) Operands() int {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpIncreasedBy, OpDecreasedBy:
		return 1
	case OpInRange:
		return 2
	}
	return 0
}

// Predicate decides whether a candidate survives a scan. A and B are the
// constants of the operator (B is only used by OpInRange). Mask is an
// optional wildcard mask for byte patterns: bytes where the mask is zero
// match anything.
type Predicate struct {
	Op   Op
	A, B Value
	Mask []byte
}

func Equal(v Value) Predicate        { return Predicate{Op: OpEqual, A: v} }
func NotEqual(v Value) Predicate     { return Predicate{Op: OpNotEqual, A: v} }
func Greater(v Value) Predicate      { return Predicate{Op: OpGreater, A: v} }
func Less(v Value) Predicate         { return Predicate{Op: OpLess, A: v} }
func InRange(lo, hi Value) Predicate { return Predicate{Op: OpInRange, A: lo, B: hi} }
func Changed() Predicate             { return Predicate{Op: OpChanged} }
func Unchanged() Predicate           { return Predicate{Op: OpUnchanged} }
func Increased() Predicate           { return Predicate{Op: OpIncreased} }
func Decreased() Predicate           { return Predicate{Op: OpDecreased} }
func IncreasedBy(d Value) Predicate  { return Predicate{Op: OpIncreasedBy, A: d} }
func DecreasedBy(d Value) Predicate  { return Predicate{Op: OpDecreasedBy, A: d} }
func UnknownInitial() Predicate      { return Predicate{Op: OpUnknownInitial} }

// MatchPattern returns a predicate matching a byte pattern, mask can be nil.
func MatchPattern(pattern, mask []byte) Predicate {
	return Predicate{Op: OpEqual, A: Pattern(pattern), Mask: mask}
}

// NeedsBaseline returns true if p compares against the previous value.
func (p Predicate) NeedsBaseline() bool {
	return p.Op.NeedsBaseline()
}

// Validate checks that p can be applied to values of t.
func (p Predicate) Validate(t ScanType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %v", ErrValueType, t)
	}
	if int(p.Op) >= len(opNames) {
		return fmt.Errorf("%w: %v", ErrInvalidPredicate, p.Op)
	}
	if t.Kind == KindBytes {
		return p.validatePattern(t)
	}
	if p.Mask != nil {
		return fmt.Errorf("%w: wildcard mask on %v", ErrInvalidPredicate, t)
	}
	if p.A.Raw != nil || p.B.Raw != nil {
		return fmt.Errorf("%w: byte pattern operand for %v", ErrValueType, t)
	}
	if p.Op != OpInRange {
		return nil
	}
	if t.Float() {
		lo, hi := p.A.Float(t), p.B.Float(t)
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return fmt.Errorf("%w: NaN bound", ErrInvalidRange)
		}
		if lo > hi {
			return fmt.Errorf("%w: %v > %v", ErrInvalidRange, p.A.Format(t), p.B.Format(t))
		}
		return nil
	}
	if (t.Signed() && p.A.Int(t) > p.B.Int(t)) || (!t.Signed() && p.A.Bits > p.B.Bits) {
		return fmt.Errorf("%w: %v > %v", ErrInvalidRange, p.A.Format(t), p.B.Format(t))
	}
	return nil
}

func (p Predicate) validatePattern(t ScanType) error {
	switch p.Op {
	case OpEqual, OpNotEqual:
		if len(p.A.Raw) != t.Size {
			return fmt.Errorf("%w: pattern is %d bytes, scan type is %d", ErrPatternLengthMismatch, len(p.A.Raw), t.Size)
		}
	case OpChanged, OpUnchanged, OpUnknownInitial:
	default:
		return fmt.Errorf("%w: %v on a byte pattern", ErrInvalidPredicate, p.Op)
	}
	if p.Mask != nil && len(p.Mask) != t.Size {
		return fmt.Errorf("%w: mask is %d bytes, scan type is %d", ErrPatternLengthMismatch, len(p.Mask), t.Size)
	}
	return nil
}

func (p Predicate) Format(t ScanType) string {
	switch p.Op.Operands() {
	case 1:
		if t.Kind == KindBytes {
			return fmt.Sprintf("%v %s", p.Op, formatPattern(p.A.Raw, p.Mask))
		}
		return fmt.Sprintf("%v %s", p.Op, p.A.Format(t))
	case 2:
		return fmt.Sprintf("%v [%s, %s]", p.Op, p.A.Format(t), p.B.Format(t))
	}
	return p.Op.String()
}
