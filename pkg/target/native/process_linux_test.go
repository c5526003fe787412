package native

import (
	"context"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/memscan/memscan/pkg/target"
)

var selfValue = []byte("memscan!")

func TestAttachSelf(t *testing.T) {
	p, err := Attach(os.Getpid())
	if err != nil {
		t.Skipf("can not attach to self: %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	regions, err := p.Regions(ctx)
	require.NoError(t, err)
	c, err := target.NewCatalog(1, regions)
	require.NoError(t, err)

	addr := uint64(uintptr(unsafe.Pointer(&selfValue[0])))
	r, ok := c.Find(addr)
	require.True(t, ok)
	assert.True(t, r.Readable())

	buf := make([]byte, 8)
	_, err = p.ReadMemory(ctx, buf, addr)
	if err != nil && target.IsFatal(err) {
		t.Skipf("process_vm_readv not permitted: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, "memscan!", string(buf))

	_, err = p.WriteMemory(ctx, addr, []byte("MEM"))
	require.NoError(t, err)
	assert.Equal(t, "MEMscan!", string(selfValue))

	_, err = p.ReadMemory(ctx, buf, 0)
	assert.ErrorIs(t, err, target.ErrUnreadable)

	require.NoError(t, p.Close())
	_, err = p.ReadMemory(ctx, buf, addr)
	assert.ErrorIs(t, err, target.ErrSourceUnavailable)
}

func TestAttachMissing(t *testing.T) {
	_, err := Attach(1 << 30)
	assert.ErrorIs(t, err, target.ErrSourceUnavailable)
}

func TestMapErrno(t *testing.T) {
	p := &Process{pid: os.Getpid()}
	assert.ErrorIs(t, p.mapErrno(unix.ESRCH, target.ErrUnreadable), target.ErrTargetGone)
	assert.ErrorIs(t, p.mapErrno(unix.EFAULT, target.ErrUnreadable), target.ErrUnreadable)
	assert.ErrorIs(t, p.mapErrno(unix.EFAULT, target.ErrUnwritable), target.ErrUnwritable)
	assert.True(t, target.IsTransient(p.mapErrno(unix.EAGAIN, target.ErrUnreadable)))
	assert.True(t, target.IsFatal(p.mapErrno(unix.EPERM, target.ErrUnreadable)))
}
