package starbind

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/memscan/memscan/pkg/target"
)

type bufWriter struct {
	bytes.Buffer
}

func (w *bufWriter) Echo(string) {}
func (w *bufWriter) Flush()      {}

type fakeContext struct {
	cmds     []string
	regions  []target.Region
	cands    []Candidate
	session  *SessionInfo
	registry map[string]func(string) error
}

func (c *fakeContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	if c.registry == nil {
		c.registry = map[string]func(string) error{}
	}
	c.registry[name] = cmdfn
}

func (c *fakeContext) CallCommand(cmdstr string) error {
	c.cmds = append(c.cmds, cmdstr)
	return nil
}

func (c *fakeContext) Session() (SessionInfo, bool) {
	if c.session == nil {
		return SessionInfo{}, false
	}
	return *c.session, true
}

func (c *fakeContext) Candidates(start, limit int) ([]Candidate, error) {
	if start >= len(c.cands) {
		return nil, nil
	}
	end := start + limit
	if end > len(c.cands) {
		end = len(c.cands)
	}
	return c.cands[start:end], nil
}

func (c *fakeContext) Regions(all bool) ([]target.Region, error) {
	if all {
		return c.regions, nil
	}
	var r []target.Region
	for _, rg := range c.regions {
		if rg.Readable() {
			r = append(r, rg)
		}
	}
	return r, nil
}

func (c *fakeContext) MaxPrint() int { return 2 }

func run(t *testing.T, ctx Context, script string) string {
	t.Helper()
	out := new(bufWriter)
	env := New(ctx, out)
	_, err := env.Execute("test.star", script, "main", nil)
	require.NoError(t, err)
	return strings.TrimSpace(out.String())
}

func TestConvRegions(t *testing.T) {
	ctx := &fakeContext{regions: []target.Region{
		{Base: 0x1000, Size: 0x1000, Prot: target.ProtRead | target.ProtWrite, Backing: "[heap]"},
		{Base: 0x3000, Size: 0x2000, Prot: target.ProtNone},
	}}
	out := run(t, ctx, `
def main():
    rs = regions()
    print(len(rs), rs[0].Base, rs[0].Size, rs[0].Backing, rs[0].Prot)
    print(len(regions(all=True)))
    for r in regions(True):
        print("0x%x" % r.Base)
`)
	assert.Equal(t, "1 4096 4096 [heap] rw-\n2\n0x1000\n0x3000", out)
}

func TestConvValues(t *testing.T) {
	env := New(&fakeContext{}, new(bufWriter))
	assert.Equal(t, starlark.MakeUint64(7), env.toStarlark(uint32(7)))
	assert.Equal(t, starlark.MakeInt64(-3), env.toStarlark(int8(-3)))
	assert.Equal(t, starlark.Float(1.5), env.toStarlark(float32(1.5)))
	assert.Equal(t, starlark.Bool(true), env.toStarlark(true))
	assert.Equal(t, starlark.None, env.toStarlark(nil))
	assert.Equal(t, starlark.None, env.toStarlark((*target.Region)(nil)))
	assert.Equal(t, starlark.String("r-x"), env.toStarlark(target.ProtRead|target.ProtExec))

	v := env.toStarlark(target.Region{Base: 0x10, Size: 0x10, Prot: target.ProtRead})
	s, ok := v.(starlark.HasAttrs)
	require.True(t, ok)
	assert.Contains(t, s.AttrNames(), "Base")
	_, err := s.Attr("Missing")
	assert.Error(t, err)
}

func TestBuiltins(t *testing.T) {
	ctx := &fakeContext{
		session: &SessionInfo{Type: "u32", Generation: 2, Count: 3, State: "idle"},
		cands: []Candidate{
			{Index: 0, Addr: 0x1000, Value: "100", Prev: "99"},
			{Index: 1, Addr: 0x1010, Value: "100"},
			{Index: 2, Addr: 0x1020, Value: "100"},
		},
	}
	out := run(t, ctx, `
def main():
    memscan_command("scan", "u32", "100")
    s = session()
    print(s["type"], s["generation"], s["count"], s["state"])
    cs = candidates()
    print(len(cs), "0x%x" % cs[0]["addr"], cs[0]["value"], cs[0]["prev"], cs[1]["prev"])
    print(len(candidates(10, 1)))
`)
	assert.Equal(t, []string{"scan u32 100"}, ctx.cmds)
	assert.Equal(t, "u32 2 3 idle\n2 0x1000 100 99 None\n2", out)
}

func TestNoSession(t *testing.T) {
	out := run(t, &fakeContext{}, `
def main():
    print(session())
`)
	assert.Equal(t, "None", out)
}

func TestCommandGlobals(t *testing.T) {
	ctx := &fakeContext{}
	run(t, ctx, `
def command_raw(args):
    "raw arguments"
    memscan_command("next", args)

def command_pair(a, b):
    memscan_command("scan", "u32", "range", str(a), str(b))
`)
	require.Contains(t, ctx.registry, "raw")
	require.Contains(t, ctx.registry, "pair")
	require.NoError(t, ctx.registry["raw"]("changed"))
	require.NoError(t, ctx.registry["pair"]("1, 5"))
	assert.Equal(t, []string{"next changed", "scan u32 range 1 5"}, ctx.cmds)
}

func TestReadWriteFile(t *testing.T) {
	path := t.TempDir() + "/f.txt"
	out := run(t, &fakeContext{}, `
def main():
    write_file("`+path+`", "hello")
    print(read_file("`+path+`"))
`)
	assert.Equal(t, "hello", out)
}

func TestCancel(t *testing.T) {
	env := New(&fakeContext{}, new(bufWriter))
	thread := env.newThread()
	require.NoError(t, isCancelled(thread))
	env.Cancel()
	assert.Error(t, isCancelled(thread))
}
