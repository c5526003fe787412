package terminal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStarFile(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.star")
	require.NoError(t, os.WriteFile(path, []byte(src), 0600))
	return path
}

func TestStarlarkSource(t *testing.T) {
	ft := newFakeTerminal(t)
	path := writeStarFile(t, `
def command_hundreds(args):
    "Searches the value 100."
    memscan_command("scan", "u32", "100")

def main():
    memscan_command("hundreds")
    s = session()
    print("session", s["type"], s["count"], s["generation"] > 0)
    for c in candidates():
        print("candidate", c["index"], "0x%x" % c["addr"], c["value"], c["prev"])
`)

	out := ft.MustExec("source " + path)
	assert.Contains(t, out, "Matches found: 3\n")
	assert.Contains(t, out, "session u32 3 True\n")
	assert.Contains(t, out, "candidate 0 0x10010 100 None\n")
	assert.Contains(t, out, "candidate 2 0x10100 100 None\n")

	out = ft.MustExec("help hundreds")
	assert.Contains(t, out, "Searches the value 100.")

	ft.MustExec("reset")
	out = ft.MustExec("hundreds")
	assert.Contains(t, out, "Matches found: 3\n")
}

func TestStarlarkRefine(t *testing.T) {
	ft := newFakeTerminal(t)
	ft.MustExec("u32 100")
	ft.mem.Poke(heapBase+0x40, u32(5))

	path := writeStarFile(t, `
def main():
    memscan_command("changed")
    for c in candidates(limit=1):
        print(c["value"], c["prev"])
    print(session()["generation"])
`)
	out := ft.MustExec("source " + path)
	assert.Contains(t, out, "5 100\n")
	assert.Contains(t, out, "2\n")
}

func TestStarlarkRegions(t *testing.T) {
	ft := newFakeTerminal(t)
	path := writeStarFile(t, `
def main():
    for r in regions():
        print("0x%x" % r.Base, r.Size, r.Prot, r.Backing)
`)
	out := ft.MustExec("source " + path)
	assert.Equal(t, "0x10000 4096 rw- [heap]\n", out)
}

func TestStarlarkNoSession(t *testing.T) {
	ft := newFakeTerminal(t)
	path := writeStarFile(t, `
def main():
    print(session())
    candidates()
`)
	_, err := ft.Exec("source " + path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scan in progress")
}

func TestStarlarkCommandError(t *testing.T) {
	ft := newFakeTerminal(t)
	path := writeStarFile(t, `
def main():
    memscan_command("scan", "u32")
`)
	_, err := ft.Exec("source " + path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script.star:3:")
}
