package starbind

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
)

// LineReader reads the lines of an interactive session. It is satisfied
// by *liner.State.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// REPL executes a read, eval, print loop on the terminal. Globals defined
// during the session are exported to the environment when it ends, a
// command_ function defined at the prompt becomes a terminal command.
func (env *Env) REPL() error {
	rl := liner.NewLiner()
	defer rl.Close()
	rl.SetCtrlCAborts(true)
	return env.Interact(rl)
}

// Interact runs a read, eval, print loop reading statements from r until
// it returns io.EOF or the user types exit.
func (env *Env) Interact(r LineReader) error {
	thread := env.newThread()
	globals := starlark.StringDict{}
	for k, v := range env.env {
		globals[k] = v
	}

	for {
		if err := isCancelled(thread); err != nil {
			return err
		}
		err := env.evalNext(r, thread, globals)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(globals)
}

// evalNext reads one statement, which can span multiple lines, and
// evaluates it. Errors of the statement are printed, only errors reading
// input are returned.
func (env *Env) evalNext(r LineReader, thread *starlark.Thread, globals starlark.StringDict) error {
	defer env.out.Flush()

	prompt := normalPrompt
	var readErr error
	readline := func() ([]byte, error) {
		line, err := r.Prompt(prompt)
		if err != nil {
			readErr = err
			return nil, err
		}
		env.out.Echo(prompt + line)
		if prompt == normalPrompt && strings.TrimSpace(line) == exitCommand {
			readErr = io.EOF
			return nil, io.EOF
		}
		if line != "" {
			r.AppendHistory(line)
		}
		prompt = extraPrompt
		return []byte(line + "\n"), nil
	}

	f, err := syntax.ParseCompoundStmt("<stdin>", readline)
	if readErr != nil {
		return readErr
	}
	if err != nil {
		env.printError(err)
		return nil
	}

	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			v, err := starlark.EvalExpr(thread, stmt.X, globals)
			if err != nil {
				env.printError(err)
				return nil
			}
			if v != starlark.None {
				fmt.Fprintln(env.out, v)
			}
			return nil
		}
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		env.printError(err)
		return nil
	}
	// globals are not frozen, later statements can rebind them
	res, err := prog.Init(thread, globals)
	if err != nil {
		env.printError(err)
	}
	for k, v := range res {
		globals[k] = v
	}
	return nil
}

func (env *Env) printError(err error) {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		fmt.Fprintln(env.out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(env.out, err)
}
