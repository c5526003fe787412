package terminal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/cosiner/argv"

	"github.com/memscan/memscan/pkg/scan"
)

// String types are searched as byte patterns of their encoding, they only
// exist in the terminal.
const (
	typeStr      = "str"
	typeStrUTF16 = "str_utf16"
)

var errNoValue = errors.New("string and byte pattern scans need a value")

// inputTypes lists the types accepted by scan, in the order help shows them.
var inputTypes = []string{"i8", "u8", "i16", "u16", "i32", "u32", "i64", "u64", "f32", "f64", typeStr, typeStrUTF16, "bytes"}

// parseInputType returns the canonical name of a type typed by the user and
// the scan type it is searched as. The size of pattern types is zero until
// a value is parsed.
func parseInputType(name string) (string, scan.ScanType, error) {
	switch strings.ToLower(name) {
	case typeStr, "string":
		return typeStr, scan.ScanType{Kind: scan.KindBytes}, nil
	case typeStrUTF16, "wstr", "utf16":
		return typeStrUTF16, scan.ScanType{Kind: scan.KindBytes}, nil
	}
	t, err := scan.ParseScanType(name)
	if err != nil {
		return "", scan.ScanType{}, err
	}
	if t.Kind == scan.KindBytes {
		return "bytes", t, nil
	}
	return t.String(), t, nil
}

func isStringType(typename string) bool {
	return typename == typeStr || typename == typeStrUTF16
}

// scanInput is a parsed search request.
type scanInput struct {
	t scan.ScanType
	p scan.Predicate
}

// parseScanInput parses "[<op>] [<value>...]" as a predicate over values of
// typename. A missing operator means equality. For string types the whole
// input is the value unless it is a lone operator taking no value, or
// starts with "=" or "!=".
func parseScanInput(typename string, t scan.ScanType, input string, order binary.ByteOrder) (scanInput, error) {
	input = strings.TrimSpace(input)
	in := scanInput{t: t}

	op, rest := scan.OpEqual, input
	first := split2PartsBySpace(input)
	if o, err := scan.ParseOp(first[0]); err == nil {
		switch {
		case !isStringType(typename):
			op, rest = o, ""
			if len(first) > 1 {
				rest = first[1]
			}
		case o.Operands() == 0 && len(first) == 1:
			op, rest = o, ""
		case (o == scan.OpEqual || o == scan.OpNotEqual) && len(first) > 1:
			op, rest = o, first[1]
		}
	}

	switch op.Operands() {
	case 0:
		if rest != "" {
			return in, fmt.Errorf("%q does not take a value", op)
		}
		if t.Kind == scan.KindBytes && t.Size == 0 {
			return in, errNoValue
		}
		in.p = scan.Predicate{Op: op}
	case 1:
		if rest == "" {
			return in, fmt.Errorf("%q needs a value", op)
		}
		v, mask, err := parseInputValue(typename, t, rest, order)
		if err != nil {
			return in, err
		}
		if t.Kind == scan.KindBytes {
			in.t = scan.Bytes(len(v.Raw))
		}
		in.p = scan.Predicate{Op: op, A: v, Mask: mask}
	case 2:
		bounds := strings.Fields(rest)
		if len(bounds) != 2 {
			return in, fmt.Errorf("%q needs two values", op)
		}
		lo, _, err := parseInputValue(typename, t, bounds[0], order)
		if err != nil {
			return in, err
		}
		hi, _, err := parseInputValue(typename, t, bounds[1], order)
		if err != nil {
			return in, err
		}
		in.p = scan.InRange(lo, hi)
	}
	return in, in.p.Validate(in.t)
}

// parseInputValue parses s as a value of typename. Strings can be quoted
// to keep leading and trailing spaces. Wildcards are only allowed in byte
// patterns and are returned as a mask.
func parseInputValue(typename string, t scan.ScanType, s string, order binary.ByteOrder) (scan.Value, []byte, error) {
	switch typename {
	case typeStr:
		s, err := unquote(s)
		if err != nil {
			return scan.Value{}, nil, err
		}
		return scan.Pattern([]byte(s)), nil, nil
	case typeStrUTF16:
		s, err := unquote(s)
		if err != nil {
			return scan.Value{}, nil, err
		}
		return scan.Pattern(encodeUTF16(s, order)), nil, nil
	}
	if t.Kind == scan.KindBytes {
		return scan.ParsePattern(s)
	}
	v, err := scan.ParseValue(t, s)
	return v, nil, err
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strconv.Unquote(s)
	}
	if s == "" {
		return "", errNoValue
	}
	return s, nil
}

func encodeUTF16(s string, order binary.ByteOrder) []byte {
	words := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(words))
	for i, w := range words {
		order.PutUint16(b[2*i:], w)
	}
	return b
}

// formatInputValue formats v the way the user typed it.
func formatInputValue(typename string, t scan.ScanType, v scan.Value, order binary.ByteOrder) string {
	switch typename {
	case typeStr:
		return strconv.Quote(string(v.Raw))
	case typeStrUTF16:
		words := make([]uint16, len(v.Raw)/2)
		for i := range words {
			words[i] = order.Uint16(v.Raw[2*i:])
		}
		return strconv.Quote(string(utf16.Decode(words)))
	}
	return v.Format(t)
}

// parseAddress parses a hexadecimal address, the 0x prefix is optional.
func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}
