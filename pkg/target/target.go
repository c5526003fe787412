// Package target describes the memory of the program being scanned. A
// target could be a local process, a core file, a virtual machine guest or
// a DMA device; the scanner only ever talks to it through Source.
package target

import (
	"context"
	"errors"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory reads len(buf) bytes starting at addr. A short read returns
	// the number of bytes read together with a non-nil error.
	ReadMemory(ctx context.Context, buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also modify the memory of
// the target.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(ctx context.Context, addr uint64, data []byte) (written int, err error)
}

// Source is the memory of a target: its mapped regions plus byte range
// reads and writes. Implementations must allow concurrent ReadMemory calls;
// callers serialize WriteMemory.
type Source interface {
	MemoryReadWriter
	// Regions enumerates the mapped regions of the target.
	Regions(ctx context.Context) ([]Region, error)
	Close() error
}

var (
	// ErrSourceUnavailable is returned when the target handle is invalid
	// or has been closed.
	ErrSourceUnavailable = errors.New("memory source unavailable")

	// ErrUnreadable is returned when a range of memory can not be read.
	ErrUnreadable = errors.New("memory unreadable")

	// ErrUnwritable is returned when a range of memory can not be written.
	ErrUnwritable = errors.New("memory unwritable")

	// ErrTimeout is returned when a single access to the target did not
	// complete in time. It is always transient.
	ErrTimeout = errors.New("memory access timed out")

	// ErrTargetGone is returned after the target exited or was detached.
	ErrTargetGone = errors.New("target gone")

	// ErrInvalidRegion is returned for zero-length or overlapping regions.
	ErrInvalidRegion = errors.New("invalid region")
)

// AccessError is returned by sources for a failed read or write.
type AccessError struct {
	Op   string
	Addr uint64
	Len  int
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s %#x (%d bytes): %v", e.Op, e.Addr, e.Len, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// ReadError wraps err in an AccessError for a read of n bytes at addr.
func ReadError(addr uint64, n int, err error) error {
	return &AccessError{Op: "read", Addr: addr, Len: n, Err: err}
}

// WriteError wraps err in an AccessError for a write of n bytes at addr.
func WriteError(addr uint64, n int, err error) error {
	return &AccessError{Op: "write", Addr: addr, Len: n, Err: err}
}

// IsTransient returns true if retrying the access that produced err may
// succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsFatal returns true if err means the target can not be accessed anymore.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTargetGone) || errors.Is(err, ErrSourceUnavailable)
}
