package scan

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScanType(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want ScanType
	}{
		{"u8", U8},
		{"int16", I16},
		{"U32", U32},
		{"i64", I64},
		{"float", F32},
		{"double", F64},
		{"aob", ScanType{Kind: KindBytes}},
	} {
		got, err := ParseScanType(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseScanType("u128")
	assert.ErrorIs(t, err, ErrValueType)
}

func TestScanTypeLayout(t *testing.T) {
	assert.Equal(t, 4, U32.Width())
	assert.Equal(t, 4, U32.Align())
	assert.Equal(t, 8, F64.Width())
	assert.True(t, I16.Signed())
	assert.False(t, U16.Signed())
	assert.True(t, F32.Float())
	assert.Equal(t, 3, Bytes(3).Width())
	assert.Equal(t, 1, Bytes(3).Align())
	assert.False(t, Bytes(0).Valid())
	assert.Equal(t, "bytes[3]", Bytes(3).String())
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(I8, "-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xff), v.Bits)
	assert.Equal(t, int64(-1), v.Int(I8))

	v, err = ParseValue(U16, "0x10")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v.Bits)

	v, err = ParseValue(F32, "1.5")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v.Float(F32))

	v, err = ParseValue(Bytes(2), "ca fe")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, v.Raw)

	_, err = ParseValue(U8, "256")
	assert.ErrorIs(t, err, ErrValueType)
	_, err = ParseValue(I32, "ten")
	assert.ErrorIs(t, err, ErrValueType)
	_, err = ParseValue(Bytes(2), "ca ??")
	assert.ErrorIs(t, err, ErrValueType)
}

func TestParsePattern(t *testing.T) {
	v, mask, err := ParsePattern("de ad ?? ef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0x00, 0xef}, v.Raw)
	assert.Equal(t, []byte{0xff, 0xff, 0x00, 0xff}, mask)

	v, mask, err = ParsePattern("DEAD")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, v.Raw)
	assert.Nil(t, mask)

	_, _, err = ParsePattern("abc")
	assert.ErrorIs(t, err, ErrValueType)
	_, _, err = ParsePattern("zz")
	assert.ErrorIs(t, err, ErrValueType)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "-2", Int(I16, -2).Format(I16))
	assert.Equal(t, "65534", Int(U16, -2).Format(U16))
	assert.Equal(t, "1.25", Float(F64, 1.25).Format(F64))
	assert.Equal(t, "0.1", Float(F32, 0.1).Format(F32))
	assert.Equal(t, "01 ff", Pattern([]byte{1, 0xff}).Format(Bytes(2)))
}

func TestEncode(t *testing.T) {
	assert.Equal(t, []byte{100, 0, 0, 0}, U32.Encode(Uint(U32, 100), binary.LittleEndian))
	assert.Equal(t, []byte{0, 0, 0, 100}, U32.Encode(Uint(U32, 100), binary.BigEndian))
	assert.Equal(t, []byte{0xfe}, I8.Encode(Int(I8, -2), binary.LittleEndian))

	v := I16.Decode([]byte{0xfe, 0xff}, binary.LittleEndian)
	assert.Equal(t, int64(-2), v.Int(I16))
}
