//go:build !windows

package terminal

import (
	"golang.org/x/sys/unix"
)

// windowSize returns the size of the terminal attached to stdout.
func windowSize() (lines, columns int, ok bool) {
	ws, err := unix.IoctlGetWinsize(unix.Stdout, unix.TIOCGWINSZ)
	if err != nil || ws.Row == 0 || ws.Col == 0 {
		return 0, 0, false
	}
	return int(ws.Row), int(ws.Col), true
}
