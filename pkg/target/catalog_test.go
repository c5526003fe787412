package target_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/target/memtarget"
)

func TestNewCatalog(t *testing.T) {
	c, err := target.NewCatalog(3, []target.Region{
		{Base: 0x3000, Size: 0x1000, Prot: target.ProtRead},
		{Base: 0x1000, Size: 0x1000, Prot: target.ProtRW},
		{Base: 0x2000, Size: 0x800, Prot: target.ProtNone},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.Version())
	require.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(0x1000), c.Regions()[0].Base)
	assert.Equal(t, uint64(0x3000), c.Regions()[2].Base)
	assert.Len(t, c.Readable(), 2)
	assert.Equal(t, uint64(0x2800), c.TotalSize())
	assert.Equal(t, uint64(0x2000), c.ReadableSize())

	r, ok := c.Find(0x2400)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), r.Base)
	_, ok = c.Find(0x2800)
	assert.False(t, ok)
	_, ok = c.Find(0x4000)
	assert.False(t, ok)

	assert.True(t, c.Contains(0x1ffc, 4))
	assert.False(t, c.Contains(0x1ffe, 4), "crosses into the next region")
	assert.False(t, c.Contains(0x2000, 4), "not readable")
	assert.True(t, c.Contains(0x3000, 0x1000))
}

func TestNewCatalogInvalid(t *testing.T) {
	_, err := target.NewCatalog(1, []target.Region{{Base: 0x1000, Size: 0}})
	assert.ErrorIs(t, err, target.ErrInvalidRegion)

	_, err = target.NewCatalog(1, []target.Region{
		{Base: 0x1000, Size: 0x1000},
		{Base: 0x1800, Size: 0x1000},
	})
	assert.ErrorIs(t, err, target.ErrInvalidRegion)

	_, err = target.NewCatalog(1, []target.Region{{Base: ^uint64(0) - 0xff, Size: 0x1000}})
	assert.ErrorIs(t, err, target.ErrInvalidRegion)
}

type failingSource struct {
	target.Source
	err error
}

func (s failingSource) Regions(context.Context) ([]target.Region, error) {
	return nil, s.err
}

func TestEnumerate(t *testing.T) {
	ctx := context.Background()
	mt := memtarget.New(memtarget.NewBlock(0x1000, 0x100, target.ProtRW))

	c1, err := target.Enumerate(ctx, mt, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c1.Version())

	mt.Remap(memtarget.NewBlock(0x1000, 0x100, target.ProtRW), memtarget.NewBlock(0x2000, 0x100, target.ProtRead))
	c2, err := target.Enumerate(ctx, mt, c1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c2.Version())
	assert.Equal(t, 2, c2.Len())
	assert.Equal(t, 1, c1.Len(), "catalogs are snapshots")

	_, err = target.Enumerate(ctx, failingSource{mt, errors.New("permission denied")}, c2)
	assert.ErrorIs(t, err, target.ErrSourceUnavailable)

	mt.Kill()
	_, err = target.Enumerate(ctx, mt, c2)
	assert.ErrorIs(t, err, target.ErrTargetGone)
}

func TestRegion(t *testing.T) {
	r := target.Region{Base: 0x1000, Size: 0x100, Prot: target.ProtRead | target.ProtExec, Backing: "/bin/true"}
	assert.Equal(t, "r-x", r.Prot.String())
	assert.Equal(t, uint64(0x1100), r.End())
	assert.True(t, r.Contains(0x10fc, 4))
	assert.False(t, r.Contains(0x10fd, 4))
	assert.False(t, r.Contains(0xfff, 1))
	assert.False(t, r.Writable())
	assert.Contains(t, r.String(), "/bin/true")
}

func TestErrorClassification(t *testing.T) {
	err := target.ReadError(0x1000, 4, target.ErrTimeout)
	assert.True(t, target.IsTransient(err))
	assert.False(t, target.IsFatal(err))
	assert.Contains(t, err.Error(), "0x1000")

	var ae *target.AccessError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "read", ae.Op)

	assert.True(t, target.IsTransient(context.DeadlineExceeded))
	assert.False(t, target.IsTransient(target.ErrUnreadable))
	assert.True(t, target.IsFatal(target.WriteError(0, 1, target.ErrTargetGone)))
	assert.False(t, target.IsTransient(nil))
}
