// Package native implements target.Source for local processes.
package native

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/memscan/memscan/pkg/target"
)

// unreadableMappings are special kernel mappings that can not be read
// through process_vm_readv even when their permissions say otherwise.
var unreadableMappings = map[string]bool{
	"[vvar]":        true,
	"[vvar_vclock]": true,
	"[vsyscall]":    true,
}

// parseMaps parses the contents of /proc/<pid>/smaps or /proc/<pid>/maps.
// Mappings flagged as pure PFN ranges, "don't dump" or I/O are skipped.
func parseMaps(smaps string) ([]target.Region, error) {
	const VmFlagsPrefix = "VmFlags:"

	smapsLines := strings.Split(smaps, "\n")
	r := make([]target.Region, 0)

smapsLinesLoop:
	for i := 0; i < len(smapsLines); {
		line := smapsLines[i]
		if line == "" {
			i++
			continue
		}
		start, end, perm, offset, dev, filename, err := parseSmapsHeaderLine(i+1, line)
		if err != nil {
			return nil, err
		}
		var vmflags []string
		for i++; i < len(smapsLines); i++ {
			line := smapsLines[i]
			if line == "" || line[0] < 'A' || line[0] > 'Z' {
				break
			}
			if strings.HasPrefix(line, VmFlagsPrefix) {
				vmflags = strings.Fields(line[len(VmFlagsPrefix):])
			}
		}

		for i := range vmflags {
			switch vmflags[i] {
			case "pf", "dd", "io":
				continue smapsLinesLoop
			}
		}
		if end <= start {
			continue
		}
		if strings.HasPrefix(dev, "00:") {
			offset = 0
		}

		var prot target.Protection
		if perm[0] == 'r' && !unreadableMappings[filename] {
			prot |= target.ProtRead
		}
		if perm[1] == 'w' {
			prot |= target.ProtWrite
		}
		if perm[2] == 'x' {
			prot |= target.ProtExec
		}

		r = append(r, target.Region{
			Base:    start,
			Size:    end - start,
			Prot:    prot,
			Backing: filename,
			Offset:  offset,
		})
	}
	return r, nil
}

func parseSmapsHeaderLine(lineno int, in string) (start, end uint64, perm string, offset uint64, dev, filename string, err error) {
	fields := strings.SplitN(in, " ", 6)
	if len(fields) < 5 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	perm = fields[1]
	if len(perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	dev = fields[3]

	// fields[4] -> inode

	if len(fields) == 6 {
		filename = strings.TrimLeft(fields[5], " ")
	}
	return
}
