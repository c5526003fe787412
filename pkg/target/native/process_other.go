//go:build !linux

package native

import (
	"context"
	"fmt"
	"runtime"

	"github.com/memscan/memscan/pkg/target"
)

// Process is a running local process.
type Process struct {
	pid int
}

var _ target.Source = (*Process)(nil)

// Attach returns ErrSourceUnavailable, local processes can only be scanned
// on linux.
func Attach(pid int) (*Process, error) {
	return nil, fmt.Errorf("%w: attaching to a process is not supported on %s", target.ErrSourceUnavailable, runtime.GOOS)
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Regions(ctx context.Context) ([]target.Region, error) {
	return nil, target.ErrSourceUnavailable
}

func (p *Process) ReadMemory(ctx context.Context, buf []byte, addr uint64) (int, error) {
	return 0, target.ErrSourceUnavailable
}

func (p *Process) WriteMemory(ctx context.Context, addr uint64, data []byte) (int, error) {
	return 0, target.ErrSourceUnavailable
}

func (p *Process) Close() error { return nil }
