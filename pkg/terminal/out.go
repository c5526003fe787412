package terminal

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
)

// transcriptWriter writes the output of commands to the terminal, through
// an optional pager, and copies it to the transcript file when one is
// open.
type transcriptWriter struct {
	pw *pagingWriter

	fileOnly bool
	file     *bufio.Writer
	fh       io.Closer
}

func newTranscriptWriter(w io.Writer) *transcriptWriter {
	return &transcriptWriter{pw: &pagingWriter{w: w}}
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	if !w.fileOnly {
		if n, err := w.pw.Write(p); err != nil {
			return n, err
		}
	}
	if w.file != nil {
		return w.file.Write(p)
	}
	return len(p), nil
}

// Echo writes str to the transcript file only, used for the prompt and
// the commands typed by the user.
func (w *transcriptWriter) Echo(str string) {
	if w.file != nil {
		w.file.WriteString(str)
	}
}

// Flush flushes the transcript file.
func (w *transcriptWriter) Flush() {
	if w.file != nil {
		w.file.Flush()
	}
}

// TranscribeTo starts copying the output to fh, closing the previous
// transcript file. With fileOnly the terminal output is suppressed.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	w.CloseTranscript()
	w.fh = fh
	w.file = bufio.NewWriter(fh)
	w.fileOnly = fileOnly
}

// CloseTranscript stops the transcript and restores the terminal output.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	ferr := w.file.Flush()
	err := w.fh.Close()
	w.file, w.fh, w.fileOnly = nil, nil, false
	if ferr != nil {
		return ferr
	}
	return err
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

// pagingWriter writes to w. Between PageMaybe and Reset it holds back the
// output and, once it does not fit the window anymore, sends it to a
// pager instead.
type pagingWriter struct {
	mode pagingWriterMode
	w    io.Writer

	pager  string
	cancel func()

	// window size and the position of the output written so far
	lines, columns int
	line, col      int
	buf            []byte

	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
}

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.advance(p) {
			return w.w.Write(p)
		}
		if err := w.startPager(); err != nil {
			w.mode = pagingWriterNormal
			w.buf = nil
			return w.w.Write(p)
		}
		return len(p), nil
	case pagingWriterPaging:
		n, err := w.cmdStdin.Write(p)
		if err != nil && w.cancel != nil {
			// the user quit the pager
			w.cancel()
			w.cancel = nil
		}
		return n, err
	default:
		return w.w.Write(p)
	}
}

// advance moves the output position past p, reports whether the output
// overflowed the window.
func (w *pagingWriter) advance(p []byte) bool {
	for _, ch := range p {
		if ch == '\n' || w.col >= w.columns {
			w.line++
			w.col = 0
		}
		if ch != '\n' {
			w.col++
		}
	}
	return w.line >= w.lines
}

func (w *pagingWriter) startPager() error {
	cmd := exec.Command(w.pager)
	cmd.Stdout = w.w
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if w.col > 0 {
		w.w.Write([]byte("\n"))
	}
	w.w.Write([]byte("Sending output to pager...\n"))
	w.cmd, w.cmdStdin = cmd, stdin
	w.mode = pagingWriterPaging
	_, err = stdin.Write(w.buf)
	w.buf = nil
	return err
}

// Reset waits for the pager, if one was started, and returns to writing
// directly to w.
func (w *pagingWriter) Reset() {
	if w.cmd != nil {
		w.cmdStdin.Close()
		w.cmd.Wait()
	}
	*w = pagingWriter{w: w.w}
}

// PageMaybe starts holding back the output for a pager, if the output is
// a terminal or MEMSCAN_PAGER is set. cancel is called the first time a
// write to the pager fails.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal {
		return
	}
	pager := os.Getenv("MEMSCAN_PAGER")
	if pager == "" {
		stdout, _ := w.w.(*os.File)
		if stdout == nil || !isatty.IsTerminal(stdout.Fd()) {
			return
		}
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
		if pager = os.Getenv("PAGER"); pager == "" {
			pager = "more"
		}
	}
	lines, columns, ok := windowSize()
	if !ok {
		return
	}
	w.pageWith(pager, lines, columns, cancel)
}

func (w *pagingWriter) pageWith(pager string, lines, columns int, cancel func()) {
	w.mode = pagingWriterMaybe
	w.pager = pager
	w.cancel = cancel
	w.lines, w.columns = lines, columns
	w.line, w.col = 0, 0
}
