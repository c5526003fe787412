package starbind

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	lines   []string
	prompts []string
	history []string
}

func (r *scriptedReader) Prompt(prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) AppendHistory(item string) {
	r.history = append(r.history, item)
}

func TestInteract(t *testing.T) {
	ctx := &fakeContext{}
	out := new(bufWriter)
	env := New(ctx, out)

	r := &scriptedReader{lines: []string{
		"1 + 2",
		"def command_again(args):",
		"    memscan_command(\"changed\")",
		"",
		"Limit = 10",
		"undefined_name",
		"exit",
		"never read",
	}}
	require.NoError(t, env.Interact(r))

	assert.Contains(t, out.String(), "3\n")
	assert.Contains(t, out.String(), "undefined: undefined_name")
	assert.Equal(t, []string{">>> ", ">>> ", "... ", "... ", ">>> ", ">>> ", ">>> "}, r.prompts)
	assert.Equal(t, []string{"never read"}, r.lines)
	assert.NotContains(t, r.history, "")

	// globals and commands outlive the session
	require.Contains(t, ctx.registry, "again")
	require.NoError(t, ctx.registry["again"](""))
	assert.Equal(t, []string{"changed"}, ctx.cmds)
	assert.Contains(t, env.env, "Limit")
}

func TestInteractEOF(t *testing.T) {
	env := New(&fakeContext{}, new(bufWriter))
	r := &scriptedReader{lines: []string{"x = 1"}}
	require.NoError(t, env.Interact(r))
	assert.Equal(t, []string{">>> ", ">>> "}, r.prompts)
}
