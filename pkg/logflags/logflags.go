// Package logflags decides which parts of memscan produce debug output and
// where that output goes.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

var scanner = false
var targetLayer = false
var terminal = false

var logOut io.WriteCloser

// Scanner returns true if the scan package should log.
func Scanner() bool {
	return scanner
}

// ScannerLogger returns a logger for the scan package.
func ScannerLogger() Logger {
	return componentLogger("scanner", scanner)
}

// Target returns true if the memory sources should log their accesses.
func Target() bool {
	return targetLayer
}

// TargetLogger returns a logger for the memory sources.
func TargetLogger() Logger {
	return componentLogger("target", targetLayer)
}

// Terminal returns true if the terminal should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal.
func TerminalLogger() Logger {
	return componentLogger("terminal", terminal)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets memscan flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "memscan-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "scanner"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "scanner":
			scanner = true
		case "target":
			targetLayer = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
