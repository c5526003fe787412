package native

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/memscan/memscan/pkg/logflags"
	"github.com/memscan/memscan/pkg/target"
)

// Process is a running local process. Memory is read with
// process_vm_readv; writes to read-only mappings go through
// /proc/<pid>/mem, which ignores page protections.
type Process struct {
	pid      int
	mem      *os.File
	writable bool
	closed   atomic.Bool
	log      logflags.Logger
}

var _ target.Source = (*Process)(nil)

// Attach opens the memory of process pid. The process keeps running, the
// scanner tolerates values changing under it.
func Attach(pid int) (*Process, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, fmt.Errorf("%w: could not attach to pid %d: %v", target.ErrSourceUnavailable, pid, err)
	}
	memPath := fmt.Sprintf("/proc/%d/mem", pid)
	writable := true
	mem, err := os.OpenFile(memPath, os.O_RDWR, 0)
	if err != nil {
		writable = false
		mem, err = os.Open(memPath)
		if err != nil {
			return nil, fmt.Errorf("%w: could not attach to pid %d: %v", target.ErrSourceUnavailable, pid, err)
		}
	}
	p := &Process{pid: pid, mem: mem, writable: writable, log: logflags.TargetLogger()}
	p.log.Debugf("attached to pid %d (writable: %v)", pid, writable)
	return p, nil
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.pid
}

// Regions reads the memory map of the process.
func (p *Process) Regions(ctx context.Context) ([]target.Region, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	smapsbuf, err := os.ReadFile(fmt.Sprintf("/proc/%d/smaps", p.pid))
	if err != nil {
		// Older versions of Linux don't have smaps but have maps which is in a similar format.
		smapsbuf, err = os.ReadFile(fmt.Sprintf("/proc/%d/maps", p.pid))
		if err != nil {
			if !p.alive() {
				return nil, target.ErrTargetGone
			}
			return nil, err
		}
	}
	if len(smapsbuf) == 0 && !p.alive() {
		return nil, target.ErrTargetGone
	}
	return parseMaps(string(smapsbuf))
}

// ReadMemory reads len(buf) bytes at addr.
func (p *Process) ReadMemory(ctx context.Context, buf []byte, addr uint64) (int, error) {
	if err := p.check(ctx); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := processVMRead(p.pid, addr, buf)
	if err == unix.ENOSYS {
		n, err = unix.Pread(int(p.mem.Fd()), buf, int64(addr))
	}
	if err != nil {
		return 0, target.ReadError(addr, len(buf), p.mapErrno(err, target.ErrUnreadable))
	}
	if n < len(buf) {
		return n, target.ReadError(addr+uint64(n), len(buf)-n, target.ErrUnreadable)
	}
	return n, nil
}

// WriteMemory writes data at addr.
func (p *Process) WriteMemory(ctx context.Context, addr uint64, data []byte) (int, error) {
	if err := p.check(ctx); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := processVMWrite(p.pid, addr, data)
	if err == nil && n == len(data) {
		return n, nil
	}
	if err != nil && err != unix.EFAULT && err != unix.ENOSYS {
		return 0, target.WriteError(addr, len(data), p.mapErrno(err, target.ErrUnwritable))
	}
	if !p.writable {
		return n, target.WriteError(addr, len(data), target.ErrUnwritable)
	}
	// Read-only mapping, retry through /proc/<pid>/mem.
	p.log.Debugf("process_vm_writev at %#x failed, writing through /proc/%d/mem", addr, p.pid)
	m, err := unix.Pwrite(int(p.mem.Fd()), data[n:], int64(addr)+int64(n))
	if err != nil {
		return n, target.WriteError(addr+uint64(n), len(data)-n, p.mapErrno(err, target.ErrUnwritable))
	}
	n += m
	if n < len(data) {
		return n, target.WriteError(addr+uint64(n), len(data)-n, target.ErrUnwritable)
	}
	return n, nil
}

// Close releases the process, it does not kill it.
func (p *Process) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.mem.Close()
}

func (p *Process) check(ctx context.Context) error {
	if p.closed.Load() {
		return target.ErrSourceUnavailable
	}
	return ctx.Err()
}

func (p *Process) alive() bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", p.pid))
	return err == nil
}

// mapErrno converts the errno returned by a memory access into a target
// error, fallback is used for bad addresses.
func (p *Process) mapErrno(err error, fallback error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%w: %v", fallback, err)
	}
	switch errno {
	case unix.ESRCH:
		return target.ErrTargetGone
	case unix.EFAULT, unix.EIO, unix.ENOMEM:
		if !p.alive() {
			return target.ErrTargetGone
		}
		return fmt.Errorf("%w: %v", fallback, errno)
	case unix.EINTR, unix.EAGAIN:
		return fmt.Errorf("%w: %v", target.ErrTimeout, errno)
	case unix.EPERM, unix.EACCES, unix.EBADF:
		return fmt.Errorf("%w: %v", target.ErrSourceUnavailable, errno)
	}
	return fmt.Errorf("%w: %v", fallback, errno)
}

// processVMRead calls process_vm_readv
func processVMRead(pid int, addr uint64, data []byte) (int, error) {
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	return unix.ProcessVMReadv(pid, local, remote, 0)
}

// processVMWrite calls process_vm_writev
func processVMWrite(pid int, addr uint64, data []byte) (int, error) {
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	return unix.ProcessVMWritev(pid, local, remote, 0)
}
