package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"

	"github.com/memscan/memscan/pkg/config"
	"github.com/memscan/memscan/pkg/logflags"
	"github.com/memscan/memscan/pkg/scan"
	"github.com/memscan/memscan/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".memscan_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the terminal running memscan.
type Term struct {
	scanner  *scan.Scanner
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *transcriptWriter
	InitFile string
	// Target describes the target, it is stored in core dumps.
	Target      string
	starlarkEnv *starbind.Env
	log         logflags.Logger

	// typename is the type searched by the current session as the user
	// typed it, strings are searched as byte patterns.
	typename string

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New returns a new Term.
func New(scanner *scan.Scanner, conf *config.Config) *Term {
	cmds := ScanCommands()
	if conf == nil {
		conf = &config.Config{}
	}
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		// translates the escape codes for the windows console
		w = colorable.NewColorableStdout()
	}

	t := &Term{
		scanner: scanner,
		conf:    conf,
		prompt:  "(memscan) ",
		cmds:    cmds,
		dumb:    dumb,
		stdout:  newTranscriptWriter(w),
		log:     logflags.TerminalLogger(),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	t.stdout.CloseTranscript()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		if !t.interrupt() {
			fmt.Fprintln(os.Stderr, "received SIGINT, nothing to interrupt")
		}
	}
}

// scanContext returns the context of a command that can be interrupted
// with SIGINT. done must be called when the command returns.
func (t *Term) scanContext() (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()
	return ctx, func() {
		t.cancelMu.Lock()
		t.cancel = nil
		t.cancelMu.Unlock()
		cancel()
	}
}

// interrupt cancels the running command, it returns false if nothing was
// running.
func (t *Term) interrupt() bool {
	t.cancelMu.Lock()
	defer t.cancelMu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

// Run begins running memscan in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	// Interrupt the running scan on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(func(line string) (c []string) {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}
		t.stdout.Echo(t.currentPrompt() + cmdstr + "\n")

		err = t.cmds.Call(cmdstr, t)
		t.stdout.Flush()
		t.stdout.pw.Reset()
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.log.WithError(err).Debugf("command %q failed", cmdstr)
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.colorize(prefix, ansiBlue), str)
}

// colorize wraps s in the escape codes of color, unless the terminal is dumb.
func (t *Term) colorize(s string, color int) string {
	if t.dumb {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

// currentPrompt shows the type searched by the current session.
func (t *Term) currentPrompt() string {
	if s := t.scanner.Session(); s != nil && t.typename != "" {
		return "[" + t.typename + "] " + t.prompt
	}
	return t.prompt
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.currentPrompt())
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if s := t.scanner.Session(); s != nil && s.Err() != nil && !errors.Is(s.Err(), scan.ErrSessionStale) {
		return 1, s.Err()
	}
	return 0, nil
}

// maxPrint returns the number of candidates printed after a scan.
func (t *Term) maxPrint() int {
	return t.conf.GetMaxPrint()
}
