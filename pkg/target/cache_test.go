package target_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/target/memtarget"
)

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	blk := memtarget.NewBlock(0x1000, 0x400, target.ProtRW)
	for i := range blk.Data {
		blk.Data[i] = byte(i)
	}
	mt := memtarget.New(blk)
	src := target.NewCachedSource(mt, 4, 0x100)
	cs, ok := src.(*target.CachedSource)
	require.True(t, ok)

	buf := make([]byte, 8)
	_, err := src.ReadMemory(ctx, buf, 0x10fc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfc, 0xfd, 0xfe, 0xff, 0x00, 0x01, 0x02, 0x03}, buf)
	assert.Equal(t, 2, cs.Len())
	reads := mt.Reads()

	_, err = src.ReadMemory(ctx, buf, 0x1100)
	require.NoError(t, err)
	assert.Equal(t, reads, mt.Reads(), "served from the cache")

	_, err = src.WriteMemory(ctx, 0x1102, []byte{0xaa})
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Len())
	_, err = src.ReadMemory(ctx, buf, 0x1100)
	require.NoError(t, err)
	assert.Equal(t, byte(0xaa), buf[2])

	cs.Purge()
	assert.Equal(t, 0, cs.Len())
}

func TestCachedSourceBypass(t *testing.T) {
	mt := memtarget.New(memtarget.NewBlock(0x1000, 0x1000, target.ProtRW))
	src := target.NewCachedSource(mt, 4, 0x100)

	_, err := src.ReadMemory(context.Background(), make([]byte, 0x800), 0x1000)
	require.NoError(t, err)
	assert.Equal(t, 0, src.(*target.CachedSource).Len())
	assert.Same(t, mt, target.NewCachedSource(mt, 0, 0x100))
}

func TestCachedSourcePartialPage(t *testing.T) {
	ctx := context.Background()
	mt := memtarget.New(memtarget.NewBlock(0x1000, 0x80, target.ProtRW))
	src := target.NewCachedSource(mt, 4, 0x100)

	_, err := src.ReadMemory(ctx, make([]byte, 4), 0x1010)
	require.NoError(t, err)

	mt.FailReads(0x1000, 0x80, 1, target.ErrTimeout)
	_, err = src.ReadMemory(ctx, make([]byte, 4), 0x1010)
	assert.ErrorIs(t, err, target.ErrTimeout)
	_, err = src.ReadMemory(ctx, make([]byte, 4), 0x1010)
	assert.NoError(t, err)
}

func TestUncached(t *testing.T) {
	ctx := context.Background()
	mt := memtarget.New(memtarget.NewBlock(0x1000, 0x100, target.ProtRW))
	src := target.NewCachedSource(mt, 4, 0x100)

	buf := make([]byte, 1)
	_, err := src.ReadMemory(ctx, buf, 0x1000)
	require.NoError(t, err)
	mt.Poke(0x1000, []byte{7})

	_, err = src.ReadMemory(ctx, buf, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[0], "cached")
	_, err = target.Uncached(src).ReadMemory(ctx, buf, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, byte(7), buf[0])

	assert.Same(t, mt, target.Uncached(mt))
}
