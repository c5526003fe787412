// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/memscan/memscan/pkg/scan"
	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/target/core"
)

// writeInterval is the pause between the writes of "write -c".
const writeInterval = 10 * time.Millisecond

// offsetscan defaults
const (
	defaultPointerWidth = 8
	defaultChainDepth   = 3
	defaultChainOffset  = 0x400
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the memscan terminal.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// ScanCommands returns a Commands struct with default commands defined.
func ScanCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"scan", "s"}, group: scanCmds, cmdFn: scanCmd, helpMsg: `Starts a new search.

	scan <type> [<op>] <value> [<value>]

Scans all readable memory of the target for values of the given type and starts a new session, discarding the current one. Types are i8, u8, i16, u16, i32, u32, i64, u64, f32, f64, str (UTF-8 string), str_utf16 and bytes (hex byte pattern, "??" matches any byte).

Operators are =, !=, <, >, range (two values) and ? (any value, to search values that are not known yet). Without an operator the search is for values equal to the given one.

	scan u32 100
	scan i16 range -10 10
	scan f32 ?
	scan bytes 48 8b ?? 24
	scan str "hello world"

Typing "<type> <value>" without the scan command does the same.`},
		{aliases: []string{"next", "n", "refine"}, group: scanCmds, cmdFn: nextCmd, helpMsg: `Narrows the candidates of the current session.

	next [<op>] <value> [<value>]

Reads the current value of every candidate and keeps the candidates satisfying the operator. On top of the operators accepted by scan the following compare with the last value read:

	changed, unchanged
	+ (increased), - (decreased)
	+= <delta> (increased by), -= <delta> (decreased by)

Typing a value without the next command refines with equality.`},
		{aliases: []string{"list", "ls", "print", "p"}, group: scanCmds, cmdFn: listCmd, helpMsg: `Prints the candidates of the current session.

	list [-live] [-n <count>] [<start>]

Prints count candidates (max-print by default) starting at index start. The values shown are the ones read by the last scan, with -live they are read again.`},
		{aliases: []string{"reset", "r"}, group: scanCmds, cmdFn: resetCmd, helpMsg: "Discards the current session and its candidates."},
		{aliases: []string{"status"}, group: scanCmds, cmdFn: statusCmd, helpMsg: "Prints the state of the current session."},
		{aliases: []string{"pointermap", "pm"}, group: scanCmds, cmdFn: pointerMapCmd, helpMsg: `Builds a pointer map of the target.

	pointermap [-width <4|8>]

Reads all readable memory and records every value of the given size (8 by default) that is the address of readable memory. The map is used by offsetscan and replaces the previous one.`},
		{aliases: []string{"offsetscan", "os"}, group: scanCmds, cmdFn: offsetScanCmd, helpMsg: `Searches pointer chains leading to addresses.

	offsetscan [-static] [-depth <n>] [-max-offset <n>] [-max-neg-offset <n>] [-from <address>] [<address>|#<index>...]

Prints the chains of pointers that lead to the given addresses, or to all candidates of the current session, starting from the address of a pointer. A chain is printed as

	<entry> + (<offset>) => <base> + (<offset>) => ... => <address>

where every base is the value of the pointer stored at the previous base plus offset.

	-static		chains start from pointers stored in file backed regions only
	-depth		largest number of links of a chain (default 3)
	-max-offset	largest positive offset of a link (default 0x400)
	-max-neg-offset	largest negative offset of a link (default 0)
	-from		only print chains starting at address

A pointer map is built first if there is none, see pointermap.`},
		{aliases: []string{"write", "w", "wr"}, group: dataCmds, cmdFn: writeCmd, helpMsg: `Writes a value.

	write [-c] <index>|*|<address> <value>

Writes value to the candidate with the given index, to all candidates (*) or to an address (0x prefixed). The value is of the type of the current session. With -c the value is written again and again until interrupted with Ctrl-C.`},
		{aliases: []string{"examine", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

Examine memory:

	examine [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of bytes (default 1) and must be less than or equal to 1000.
Address is the memory location of the target to examine, a candidate index can be used prefixing it with #.

For example:

    x -fmt hex -count 20 -size 1 0xc00008af38
    x -count 4 -size 4 #0`},
		{aliases: []string{"regions"}, group: dataCmds, cmdFn: regionsCmd, helpMsg: `Prints the memory regions of the target.

	regions [-all]

Only readable regions are printed unless -all is specified.`},
		{aliases: []string{"dump"}, group: dataCmds, cmdFn: dumpCmd, helpMsg: `Creates a core dump of the target.

	dump <output file>

The readable memory of the target is written as an ELF core file, which can be scanned later with "memscan core". Memory that can not be read is written as zeroes.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. Scan parameters apply to the next session.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of memscan commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of commands is appended to the specified output file. If -t is specified and the output file exists it is truncated. If -x is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit memscan."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// find looks up the command function for the given command name.
func (c *Commands) find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return nil
}

// Call takes a command to execute. Input that is not a command is scan
// input.
func (c *Commands) Call(cmdstr string, t *Term) error {
	cmdstr = strings.TrimSpace(cmdstr)
	if cmdstr == "" {
		return nil
	}
	vals := split2PartsBySpace(cmdstr)
	var args string
	if len(vals) > 1 {
		args = vals[1]
	}
	if fn := c.find(vals[0]); fn != nil {
		return fn(t, args)
	}
	return t.scanInput(cmdstr)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var (
	noCmdError   = errors.New("command not available")
	errNoSession = errors.New("no scan in progress, start one with \"scan <type> <value>\"")
)

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Anything not in this list is scan input: \"<type> <value>\" starts a search, a value refines it.")
	fmt.Fprintf(t.stdout, "Available types: %s\n", strings.Join(inputTypes, ", "))
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func scanCmd(t *Term, args string) error {
	v := split2PartsBySpace(args)
	if v[0] == "" {
		return errors.New("wrong number of arguments: scan <type> [<op>] <value>")
	}
	var rest string
	if len(v) > 1 {
		rest = v[1]
	}
	return t.fullScan(v[0], rest)
}

func nextCmd(t *Term, args string) error {
	s, err := t.session()
	if err != nil {
		return err
	}
	if args == "" {
		return errors.New("wrong number of arguments: next [<op>] <value>")
	}
	return t.refine(s, args)
}

// scanInput handles input that is not a command, as a new search if it
// starts with a type, as a refine of the current session otherwise.
func (t *Term) scanInput(line string) error {
	s := t.scanner.Session()
	if s == nil || t.typename == "" || s.State() == scan.StateClosed {
		v := split2PartsBySpace(line)
		if _, _, err := parseInputType(v[0]); err != nil {
			return fmt.Errorf("%w: %q, type 'help' for the list of commands", noCmdError, v[0])
		}
		var rest string
		if len(v) > 1 {
			rest = v[1]
		}
		return t.fullScan(v[0], rest)
	}
	return t.refine(s, line)
}

func (t *Term) session() (*scan.Session, error) {
	s := t.scanner.Session()
	if s == nil || t.typename == "" {
		return nil, errNoSession
	}
	return s, nil
}

func (t *Term) fullScan(typename, input string) error {
	name, st, err := parseInputType(typename)
	if err != nil {
		return err
	}
	in, err := parseScanInput(name, st, input, t.scanner.Config().ByteOrder)
	if err != nil {
		return err
	}
	s, err := t.scanner.StartSession(in.t)
	if err != nil {
		return err
	}
	t.typename = name

	ctx, done := t.scanContext()
	defer done()
	res, err := s.FullScan(ctx, in.p)
	return t.scanDone(ctx, s, res, err)
}

func (t *Term) refine(s *scan.Session, input string) error {
	in, err := parseScanInput(t.typename, s.Type(), input, s.Config().ByteOrder)
	if err != nil {
		return err
	}
	ctx, done := t.scanContext()
	defer done()
	res, err := s.Refine(ctx, in.p)
	return t.scanDone(ctx, s, res, err)
}

// scanDone prints the result of a scan followed by the first candidates.
func (t *Term) scanDone(ctx context.Context, s *scan.Session, res scan.Result, err error) error {
	if err != nil && !res.Cancelled {
		return err
	}
	fmt.Fprintf(t.stdout, "Matches found: %d\n", res.Candidates)
	details := fmt.Sprintf("generation %d, %s read in %v", res.Generation, formatSize(res.BytesRead), res.Duration.Round(time.Microsecond))
	if res.Retries > 0 {
		details += fmt.Sprintf(", %d retries", res.Retries)
	}
	fmt.Fprintf(t.stdout, "(%s)\n", details)
	switch res.Kind {
	case "full":
		if res.Skipped > 0 {
			fmt.Fprintln(t.stdout, t.colorize(fmt.Sprintf("%d regions could not be read:", res.Skipped), ansiYellow))
			for _, rg := range res.SkippedRegions {
				fmt.Fprintf(t.stdout, "\t%v\n", rg)
			}
		}
	case "refine":
		if res.Dropped > 0 {
			fmt.Fprintf(t.stdout, "%d dropped: %d rejected, %d unreadable, %d unmapped\n", res.Dropped, res.Rejected, res.Skipped, res.Unmapped)
		}
	}
	if res.Cancelled {
		fmt.Fprintln(t.stdout, t.colorize("scan interrupted, the candidates are incomplete", ansiRed))
		return nil
	}
	return t.printCandidates(ctx, s, 0, t.maxPrint(), false)
}

// printCandidates prints limit candidates of s starting at index start.
// With live the values are read from the target.
func (t *Term) printCandidates(ctx context.Context, s *scan.Session, start, limit int, live bool) error {
	st, order := s.Type(), s.Config().ByteOrder
	cands := s.Candidates(start, limit)
	n := s.Len()
	if len(cands) < n {
		fmt.Fprintf(t.stdout, "Printing candidates %d-%d of %d\n", start, start+len(cands)-1, n)
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		val := formatInputValue(t.typename, st, c.Value, order)
		if live {
			v, err := s.ReadValue(ctx, c.Addr)
			switch {
			case err == nil:
				val = formatInputValue(t.typename, st, v, order)
			case target.IsFatal(err):
				w.Flush()
				return err
			default:
				val = t.colorize("unreadable", ansiRed)
			}
		}
		line := fmt.Sprintf("[%d]\t%s:\t%s", start+i, t.colorize(fmt.Sprintf("%#x", c.Addr), ansiBlue), val)
		if c.HasPrev && !c.Prev.Equal(c.Value) {
			line += fmt.Sprintf("\t(was %s)", formatInputValue(t.typename, st, c.Prev, order))
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func listCmd(t *Term, args string) error {
	s, err := t.session()
	if err != nil {
		return err
	}
	v := strings.Fields(args)
	count, start, live := t.maxPrint(), 0, false
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-live":
			live = true
		case "-n":
			i++
			if i >= len(v) {
				return errors.New("expected argument after -n")
			}
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return errors.New("count must be a positive integer")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			start, err = strconv.Atoi(v[i])
			if err != nil || start < 0 {
				return fmt.Errorf("invalid start index %q", v[i])
			}
		}
	}

	ctx, done := t.scanContext()
	defer done()
	t.stdout.pw.PageMaybe(done)
	fmt.Fprintf(t.stdout, "Matches found: %d\n", s.Len())
	return t.printCandidates(ctx, s, start, count, live)
}

func resetCmd(t *Term, args string) error {
	t.scanner.Reset()
	t.typename = ""
	return nil
}

func statusCmd(t *Term, args string) error {
	s := t.scanner.Session()
	if s == nil || t.typename == "" {
		fmt.Fprintln(t.stdout, "No scan in progress.")
		return nil
	}
	t.Println("Type:        ", t.typename)
	t.Println("State:       ", s.State().String())
	t.Println("Generation:  ", strconv.FormatUint(s.Generation(), 10))
	t.Println("Candidates:  ", fmt.Sprintf("%d (%s)", s.Len(), formatSize(uint64(s.Footprint()))))
	if c := s.Catalog(); c != nil {
		t.Println("Regions:     ", fmt.Sprintf("%d (%s readable)", c.Len(), formatSize(c.ReadableSize())))
	}
	if err := s.Err(); err != nil {
		t.Println("Error:       ", err.Error())
	}
	return nil
}

func writeCmd(t *Term, args string) error {
	continuous := false
	if v := split2PartsBySpace(args); v[0] == "-c" && len(v) > 1 {
		continuous = true
		args = v[1]
	}
	v := split2PartsBySpace(args)
	if len(v) != 2 || v[1] == "" {
		return errors.New("wrong number of arguments: write [-c] <index>|*|<address> <value>")
	}
	s, err := t.session()
	if err != nil {
		return err
	}
	val, mask, err := parseInputValue(t.typename, s.Type(), v[1], s.Config().ByteOrder)
	if err != nil {
		return err
	}
	if mask != nil {
		return errors.New("wildcards can not be written")
	}

	var (
		addrs []uint64
		write = s.WriteCandidate
	)
	switch {
	case v[0] == "*":
		addrs = s.Addresses()
	case strings.HasPrefix(v[0], "0x"):
		addr, err := parseAddress(v[0])
		if err != nil {
			return err
		}
		addrs = []uint64{addr}
		write = s.WriteValue
	default:
		idx, err := strconv.Atoi(v[0])
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid candidate index %q", v[0])
		}
		cands := s.Candidates(idx, 1)
		if len(cands) == 0 {
			return fmt.Errorf("no candidate with index %d", idx)
		}
		addrs = []uint64{cands[0].Addr}
	}
	if len(addrs) == 0 {
		return errors.New("no candidates")
	}

	ctx, done := t.scanContext()
	defer done()

	writeAll := func() (failed int, err error) {
		for _, addr := range addrs {
			if err := write(ctx, addr, val); err != nil {
				if target.IsFatal(err) || ctx.Err() != nil {
					return failed, err
				}
				t.log.WithError(err).Debugf("write at %#x failed", addr)
				failed++
			}
		}
		return failed, nil
	}

	fmt.Fprintf(t.stdout, "Writing %s to %d addresses\n", formatInputValue(t.typename, s.Type(), val, s.Config().ByteOrder), len(addrs))
	if continuous {
		fmt.Fprintln(t.stdout, "Writing continuously, press Ctrl-C to stop.")
	}
	for {
		failed, err := writeAll()
		if err != nil {
			if continuous && ctx.Err() != nil {
				break
			}
			return err
		}
		if failed > 0 {
			fmt.Fprintln(t.stdout, t.colorize(fmt.Sprintf("%d writes failed", failed), ansiYellow))
			if failed == len(addrs) {
				return errors.New("write failed")
			}
		}
		if !continuous {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(writeInterval):
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintln(t.stdout, "Write done")
	return nil
}

func examineMemoryCmd(t *Term, args string) error {
	v := strings.FieldsFunc(args, func(c rune) bool {
		return c == ' '
	})

	var (
		address uint64
		hasAddr bool
		err     error
		ok      bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = t.parseLocation(v[i])
			if err != nil {
				return err
			}
			hasAddr = true
		}
	}

	if count*size > 1000 {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to 1000 bytes")
	}

	if !hasAddr {
		return fmt.Errorf("no address specified")
	}

	ctx, done := t.scanContext()
	defer done()
	memArea := make([]byte, count*size)
	n, err := target.Uncached(t.scanner.Source()).ReadMemory(ctx, memArea, address)
	if n > 0 {
		fmt.Fprint(t.stdout, prettyExamineMemory(address, memArea[:n], t.scanner.Config().ByteOrder, priFmt, size))
	}
	return err
}

// parseLocation parses an address or the index of a candidate prefixed
// with #.
func (t *Term) parseLocation(s string) (uint64, error) {
	if !strings.HasPrefix(s, "#") {
		addr, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("convert address into uint64 type failed, %s", err)
		}
		return addr, nil
	}
	sess, err := t.session()
	if err != nil {
		return 0, err
	}
	idx, err := strconv.Atoi(s[1:])
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid candidate index %q", s)
	}
	cands := sess.Candidates(idx, 1)
	if len(cands) == 0 {
		return 0, fmt.Errorf("no candidate with index %d", idx)
	}
	return cands[0].Addr, nil
}

// prettyExamineMemory formats memArea as rows of size bytes long numbers.
func prettyExamineMemory(address uint64, memArea []byte, order binary.ByteOrder, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size

		addrLen int
		addrFmt string
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	// Use the length of the last address for all rows.
	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", address+uint64(l)))
	}
	addrFmt = "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, address)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(memArea) {
				fmt.Fprintf(w, colFormat, loadUint(memArea[offset:offset+colBytes], order))
			}
		}
		fmt.Fprintln(w, "")
		address += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

// loadUint decodes a number of up to 8 bytes.
func loadUint(b []byte, order binary.ByteOrder) uint64 {
	var buf [8]byte
	if order == binary.BigEndian {
		copy(buf[8-len(b):], b)
		return binary.BigEndian.Uint64(buf[:])
	}
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func regionsCmd(t *Term, args string) error {
	all := false
	switch args {
	case "":
	case "-all":
		all = true
	default:
		return fmt.Errorf("unknown option %q", args)
	}
	ctx, done := t.scanContext()
	defer done()
	c, err := t.scanner.Regions(ctx)
	if err != nil {
		return err
	}
	regions := c.Readable()
	if all {
		regions = c.Regions()
	}
	t.stdout.pw.PageMaybe(done)
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, rg := range regions {
		fmt.Fprintf(w, "%s-%#x\t%v\t%s\t%s\n", t.colorize(fmt.Sprintf("%#x", rg.Base), ansiBlue), rg.End(), rg.Prot, formatSize(rg.Size), rg.Backing)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%d regions, %s readable\n", c.Len(), formatSize(c.ReadableSize()))
	return nil
}

func dumpCmd(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(words) != 1 {
		return fmt.Errorf("wrong number of arguments: dump <output file>")
	}
	ctx, done := t.scanContext()
	defer done()
	c, err := t.scanner.Regions(ctx)
	if err != nil {
		return err
	}
	fh, err := os.Create(words[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Dumping %d regions (%s)...\n", len(c.Readable()), formatSize(c.ReadableSize()))
	stats, err := core.Dump(ctx, target.Uncached(t.scanner.Source()), c, fh, t.Target)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(t.stdout, "canceled")
			return nil
		}
		return fmt.Errorf("error dumping: %v", err)
	}
	fmt.Fprintf(t.stdout, "Dumped %d regions, %s\n", stats.Regions, formatSize(stats.Bytes))
	if stats.Unreadable > 0 {
		fmt.Fprintf(t.stdout, "Core dump could be incomplete, %s could not be read\n", formatSize(stats.Unreadable))
	}
	return nil
}

// formatSize formats a number of bytes.
func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	for _, arg := range words {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits memscan.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func pointerMapCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	width := defaultPointerWidth
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-width":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -width")
			}
			if width, err = strconv.Atoi(v[i]); err != nil {
				return fmt.Errorf("width must be 4 or 8")
			}
		default:
			return fmt.Errorf("unknown option %q", v[i])
		}
	}
	ctx, done := t.scanContext()
	defer done()
	_, err = t.buildPointerMap(ctx, width)
	return err
}

// buildPointerMap builds a pointer map and prints its summary. Returns nil
// and no error if it was interrupted.
func (t *Term) buildPointerMap(ctx context.Context, width int) (*scan.PointerMap, error) {
	m, res, err := t.scanner.BuildPointerMap(ctx, width)
	if res.Cancelled {
		fmt.Fprintln(t.stdout, t.colorize("pointer map interrupted", ansiRed))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(t.stdout, "Pointers found: %d\n", m.Len())
	fmt.Fprintf(t.stdout, "(%s read in %v)\n", formatSize(res.BytesRead), res.Duration.Round(time.Microsecond))
	if res.Skipped > 0 {
		fmt.Fprintln(t.stdout, t.colorize(fmt.Sprintf("%d regions could not be read:", res.Skipped), ansiYellow))
		for _, rg := range res.SkippedRegions {
			fmt.Fprintf(t.stdout, "\t%v\n", rg)
		}
	}
	return m, nil
}

func offsetScanCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	opts := scan.ChainOptions{MaxOffset: defaultChainOffset, MaxDepth: defaultChainDepth}
	static := false
	var from *uint64
	var targets []uint64

	next := func(i int) (string, error) {
		if i >= len(v) {
			return "", fmt.Errorf("expected argument after %s", v[i-1])
		}
		return v[i], nil
	}
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-static":
			static = true
		case "-depth":
			i++
			arg, err := next(i)
			if err != nil {
				return err
			}
			if opts.MaxDepth, err = strconv.Atoi(arg); err != nil || opts.MaxDepth <= 0 {
				return fmt.Errorf("depth must be a positive integer")
			}
		case "-max-offset", "-max-neg-offset":
			opt := v[i]
			i++
			arg, err := next(i)
			if err != nil {
				return err
			}
			n, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return fmt.Errorf("%s: %v", opt, err)
			}
			if opt == "-max-offset" {
				opts.MaxOffset = n
			} else {
				opts.MaxNegOffset = n
			}
		case "-from":
			i++
			arg, err := next(i)
			if err != nil {
				return err
			}
			addr, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return fmt.Errorf("-from: %v", err)
			}
			from = &addr
		default:
			if strings.HasPrefix(v[i], "-") {
				return fmt.Errorf("unknown option %q", v[i])
			}
			addr, err := t.parseLocation(v[i])
			if err != nil {
				return err
			}
			targets = append(targets, addr)
		}
	}

	if len(targets) == 0 {
		s, err := t.session()
		if err != nil {
			return err
		}
		if targets = s.Addresses(); len(targets) == 0 {
			return errors.New("no candidates to search chains for")
		}
	}

	ctx, done := t.scanContext()
	defer done()
	m := t.scanner.PointerMap()
	if m == nil {
		if m, err = t.buildPointerMap(ctx, defaultPointerWidth); m == nil {
			return err
		}
	}
	if static {
		opts.EntryPoints = m.StaticEntryPoints()
	}

	start := time.Now()
	chains, err := m.FindChains(ctx, targets, opts)
	if err != nil && ctx.Err() == nil {
		return err
	}
	if from != nil {
		kept := chains[:0]
		for _, c := range chains {
			if c.Links[0].Base == *from {
				kept = append(kept, c)
			}
		}
		chains = kept
	}
	fmt.Fprintf(t.stdout, "Matches found: %d in %v\n", len(chains), time.Since(start).Round(time.Microsecond))
	if ctx.Err() != nil {
		fmt.Fprintln(t.stdout, t.colorize("search interrupted, the matches are incomplete", ansiRed))
	}
	if limit := t.maxPrint(); len(chains) > limit {
		fmt.Fprintf(t.stdout, "Printing first %d matches\n", limit)
		chains = chains[:limit]
	}
	for _, c := range chains {
		fmt.Fprintln(t.stdout, c)
	}
	return nil
}
