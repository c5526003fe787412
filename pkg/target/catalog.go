package target

import (
	"context"
	"fmt"
	"sort"
)

// Catalog is a snapshot of the region layout of a target. It is never
// modified after creation: a new layout is captured with Enumerate and
// replaces the old catalog as a whole.
type Catalog struct {
	version uint64
	regions []Region
}

// NewCatalog validates regions and returns a catalog ordered by base
// address. Zero-length and overlapping regions are rejected with
// ErrInvalidRegion.
func NewCatalog(version uint64, regions []Region) (*Catalog, error) {
	rs := make([]Region, len(regions))
	copy(rs, regions)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Base < rs[j].Base })

	for i := range rs {
		if rs[i].Size == 0 {
			return nil, fmt.Errorf("%w: zero-length region at %#x", ErrInvalidRegion, rs[i].Base)
		}
		if rs[i].End() < rs[i].Base {
			return nil, fmt.Errorf("%w: region at %#x wraps around the address space", ErrInvalidRegion, rs[i].Base)
		}
		if i > 0 && rs[i].Base < rs[i-1].End() {
			return nil, fmt.Errorf("%w: region at %#x overlaps region at %#x", ErrInvalidRegion, rs[i].Base, rs[i-1].Base)
		}
	}
	return &Catalog{version: version, regions: rs}, nil
}

// Enumerate captures the current region layout of src. The version of the
// returned catalog is one more than the version of prev, prev can be nil.
func Enumerate(ctx context.Context, src Source, prev *Catalog) (*Catalog, error) {
	regions, err := src.Regions(ctx)
	if err != nil {
		if IsFatal(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: enumerating regions: %v", ErrSourceUnavailable, err)
	}
	var version uint64 = 1
	if prev != nil {
		version = prev.version + 1
	}
	return NewCatalog(version, regions)
}

// Version returns the version of the catalog.
func (c *Catalog) Version() uint64 {
	return c.version
}

// Len returns the number of regions.
func (c *Catalog) Len() int {
	return len(c.regions)
}

// Regions returns all regions ordered by address. The returned slice must
// not be modified.
func (c *Catalog) Regions() []Region {
	return c.regions
}

// Readable returns the readable regions ordered by address.
func (c *Catalog) Readable() []Region {
	r := make([]Region, 0, len(c.regions))
	for _, rg := range c.regions {
		if rg.Readable() {
			r = append(r, rg)
		}
	}
	return r
}

// Find returns the region containing addr.
func (c *Catalog) Find(addr uint64) (Region, bool) {
	i := sort.Search(len(c.regions), func(i int) bool { return c.regions[i].End() > addr })
	if i < len(c.regions) && c.regions[i].Base <= addr {
		return c.regions[i], true
	}
	return Region{}, false
}

// Contains returns true if the n bytes at addr are inside a single
// readable region.
func (c *Catalog) Contains(addr, n uint64) bool {
	r, ok := c.Find(addr)
	return ok && r.Readable() && r.Contains(addr, n)
}

// TotalSize returns the sum of the sizes of all regions.
func (c *Catalog) TotalSize() uint64 {
	var sz uint64
	for _, r := range c.regions {
		sz += r.Size
	}
	return sz
}

// ReadableSize returns the sum of the sizes of the readable regions.
func (c *Catalog) ReadableSize() uint64 {
	var sz uint64
	for _, r := range c.regions {
		if r.Readable() {
			sz += r.Size
		}
	}
	return sz
}
