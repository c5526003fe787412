package cmds

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscan/memscan/pkg/config"
	"github.com/memscan/memscan/pkg/metrics"
)

func newTestRoot(t *testing.T) *cobra.Command {
	t.Helper()
	t.Setenv("MEMSCAN_CONFIG_DIR", t.TempDir())
	return New(true)
}

func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	cmd, _, err := root.Find([]string{name})
	require.NoError(t, err)
	require.Equal(t, name, cmd.Name())
	return cmd
}

func TestCommandTree(t *testing.T) {
	root := newTestRoot(t)
	for _, name := range []string{"attach", "core", "version", "commands", "log"} {
		findCommand(t, root, name)
	}

	attach := findCommand(t, root, "attach")
	assert.EqualError(t, attach.PersistentPreRunE(attach, nil), "you must provide a PID")
	assert.NoError(t, attach.PersistentPreRunE(attach, []string{"1"}))

	core := findCommand(t, root, "core")
	assert.EqualError(t, core.PersistentPreRunE(core, nil), "you must provide a core file")
	assert.NoError(t, core.PersistentPreRunE(core, []string{"core.1"}))
}

func TestApplyFlags(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.ParseFlags([]string{"--workers", "3", "--refine-retries", "1", "--unaligned", "--byte-order", "big"}))

	five := 5
	c := &config.Config{Retries: &five, ByteOrder: "little"}
	require.NoError(t, applyFlags(root, c))

	require.NotNil(t, c.Workers)
	assert.Equal(t, 3, *c.Workers)
	require.NotNil(t, c.RefineRetries)
	assert.Equal(t, 1, *c.RefineRetries)
	assert.True(t, c.Unaligned)
	assert.Equal(t, "big", c.ByteOrder)

	// flags left alone keep the configuration file values
	require.NotNil(t, c.Retries)
	assert.Equal(t, 5, *c.Retries)
	assert.Nil(t, c.ChunkSize)
	assert.Nil(t, c.CachePages)
}

func TestApplyFlagsByteOrder(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.ParseFlags([]string{"--byte-order", "middle"}))
	c := &config.Config{}
	assert.Error(t, applyFlags(root, c))
	assert.Equal(t, "", c.ByteOrder)
}

func TestCoreDescription(t *testing.T) {
	assert.Equal(t, "core /tmp/core", coreDescription("/tmp/core", ""))
	assert.Equal(t, "core /tmp/core (pid 42)", coreDescription("/tmp/core", "pid 42\nmemscan 0.1.0\n"))
}

func TestCommandsSubcommand(t *testing.T) {
	root := newTestRoot(t)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"commands"})
	require.NoError(t, root.Execute())
	out := buf.String()
	assert.Contains(t, out, "# Commands\n")
	assert.Contains(t, out, "# Scan input\n")
	assert.Contains(t, out, "## scan\n")
}

func TestHideUnusedFlags(t *testing.T) {
	root := newTestRoot(t)

	core := findCommand(t, root, "core")
	hideUnusedFlags(core)
	assert.True(t, root.PersistentFlags().Lookup("cache-pages").Hidden)
	assert.False(t, root.PersistentFlags().Lookup("workers").Hidden)

	root = newTestRoot(t)
	version := findCommand(t, root, "version")
	hideUnusedFlags(version)
	assert.True(t, version.Flags().Lookup("verbose").Hidden)
	assert.True(t, root.PersistentFlags().Lookup("workers").Hidden)

	root = newTestRoot(t)
	hideUnusedFlags(findCommand(t, root, "attach"))
	root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		assert.False(t, f.Hidden, f.Name)
	})
}

func TestServeMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	m.SetCandidates(7)

	addr, stop, err := serveMetrics("127.0.0.1:0", m)
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "memscan_candidates 7")
}
