package target

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru"
)

const DefaultPageSize = 0x1000

// reads of more than bypassPages pages are not cached
const bypassPages = 4

// CachedSource is a Source that keeps recently read pages of a slower
// source in memory. Cached pages are only dropped by writes, eviction or
// Purge: whoever owns the cache decides when the data it holds is stale.
type CachedSource struct {
	Source
	pageSize uint64
	pages    *lru.Cache
}

// NewCachedSource returns a page cache of at most pages pages in front of
// src. If pages is not positive src is returned unchanged. pageSize must
// be a power of two. Large bulk reads bypass the cache.
func NewCachedSource(src Source, pages int, pageSize uint64) Source {
	if pages <= 0 {
		return src
	}
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		pageSize = DefaultPageSize
	}
	cache, err := lru.New(pages)
	if err != nil {
		return src
	}
	return &CachedSource{Source: src, pageSize: pageSize, pages: cache}
}

func (c *CachedSource) pageOf(addr uint64) uint64 {
	return addr &^ (c.pageSize - 1)
}

// ReadMemory implements MemoryReader.ReadMemory.
func (c *CachedSource) ReadMemory(ctx context.Context, buf []byte, addr uint64) (int, error) {
	if uint64(len(buf)) > bypassPages*c.pageSize {
		return c.Source.ReadMemory(ctx, buf, addr)
	}
	n := 0
	for n < len(buf) {
		cur := addr + uint64(n)
		page := c.pageOf(cur)
		data, err := c.page(ctx, page)
		if err != nil {
			if !errors.Is(err, ErrUnreadable) {
				return n, err
			}
			// Partially mapped page, the rest of the read goes straight to
			// the underlying source.
			m, err := c.Source.ReadMemory(ctx, buf[n:], cur)
			return n + m, err
		}
		n += copy(buf[n:], data[cur-page:])
	}
	return n, nil
}

func (c *CachedSource) page(ctx context.Context, page uint64) ([]byte, error) {
	if v, ok := c.pages.Get(page); ok {
		return v.([]byte), nil
	}
	data := make([]byte, c.pageSize)
	if _, err := c.Source.ReadMemory(ctx, data, page); err != nil {
		return nil, err
	}
	c.pages.Add(page, data)
	return data, nil
}

// WriteMemory implements MemoryReadWriter.WriteMemory, pages touched by
// the write are removed from the cache.
func (c *CachedSource) WriteMemory(ctx context.Context, addr uint64, data []byte) (int, error) {
	if len(data) > 0 {
		for page := c.pageOf(addr); page < addr+uint64(len(data)); page += c.pageSize {
			c.pages.Remove(page)
		}
	}
	return c.Source.WriteMemory(ctx, addr, data)
}

// Purge drops every cached page.
func (c *CachedSource) Purge() {
	c.pages.Purge()
}

// Len returns the number of cached pages.
func (c *CachedSource) Len() int {
	return c.pages.Len()
}

// Uncached returns the source below the page cache of src, or src itself
// if it is not cached. Reads that must observe the current memory of the
// target, as opposed to the snapshot of a scan, go through it.
func Uncached(src Source) Source {
	if c, ok := src.(*CachedSource); ok {
		return c.Source
	}
	return src
}

// Purger is implemented by sources that cache target memory.
type Purger interface {
	Purge()
}
