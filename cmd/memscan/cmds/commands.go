package cmds

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memscan/memscan/pkg/config"
	"github.com/memscan/memscan/pkg/logflags"
	"github.com/memscan/memscan/pkg/metrics"
	"github.com/memscan/memscan/pkg/scan"
	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/target/core"
	"github.com/memscan/memscan/pkg/target/native"
	"github.com/memscan/memscan/pkg/terminal"
	"github.com/memscan/memscan/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// metricsAddr is the address of the prometheus metrics endpoint, empty
	// disables it.
	metricsAddr string

	// scanner tunables, they override the configuration file when set.
	chunkSize     int
	workers       int
	retries       int
	refineRetries int
	cachePages    int
	unaligned     bool
	byteOrder     string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const memscanCommandLongDesc = `Memscan searches the memory of a live process for values.

A search starts with a full scan of every readable region of the target for
values of a given type, then narrows the candidates with refine scans as the
values change in the target. Found addresses can be examined and written.

The target can be a running process (memscan attach) or a core file written
by the dump command or by the kernel (memscan core).`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main memscan root command.
	rootCommand = &cobra.Command{
		Use:   "memscan",
		Short: "Memscan searches the memory of a running process.",
		Long:  memscanCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'memscan help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'memscan help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal.")
	rootCommand.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serves prometheus metrics of the scans at http://<addr>/metrics.")

	rootCommand.PersistentFlags().IntVar(&chunkSize, "chunk-size", scan.DefaultChunkSize, "Size of the reads of a full scan.")
	rootCommand.PersistentFlags().IntVar(&workers, "workers", 0, "Number of concurrent reads, 0 means one per CPU.")
	rootCommand.PersistentFlags().IntVar(&retries, "retries", scan.DefaultRetries, "Number of retries of reads failing with a transient error.")
	rootCommand.PersistentFlags().IntVar(&refineRetries, "refine-retries", scan.DefaultRefineRetries, "Number of retries of candidate reads during a refine.")
	rootCommand.PersistentFlags().IntVar(&cachePages, "cache-pages", config.DefaultCachePages, "Number of pages kept by the read cache, 0 disables it.")
	rootCommand.PersistentFlags().BoolVar(&unaligned, "unaligned", false, "Scan every byte offset instead of the natural alignment of the type.")
	rootCommand.PersistentFlags().StringVar(&byteOrder, "byte-order", "little", "Byte order of the target, little or big.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and begin scanning.",
		Long: `Attach to an already running process and begin scanning its memory.

The process is not stopped, values can change while they are scanned. Reading
the memory of another process requires the same permissions as ptrace.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <core>",
		Short: "Scan a core dump.",
		Long: `Scan a core dump.

The core command opens an ELF core file, written by the dump command or by the
kernel, and scans the memory stored in it. Writes change the file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a core file")
			}
			return nil
		},
		Run: coreCmd,
	}
	rootCommand.AddCommand(coreCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Memscan\n%s\n", version.MemscanVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	// 'commands' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "commands",
		Short: "Prints the documentation of the terminal commands as markdown.",
		Run: func(cmd *cobra.Command, args []string) {
			terminal.ScanCommands().WriteMarkdown(cmd.OutOrStdout())
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	scanner		Log full scans and refines
	target		Log reads and writes of the memory source
	terminal	Log failed terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	if !docCall {
		help := rootCommand.HelpFunc()
		rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
			hideUnusedFlags(cmd)
			help(cmd, args)
		})
	}

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(cmd, func() (target.Source, string, error) {
		p, err := native.Attach(pid)
		if err != nil {
			return nil, "", err
		}
		return p, fmt.Sprintf("pid %d", pid), nil
	}))
}

func coreCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, func() (target.Source, string, error) {
		f, err := core.Open(args[0])
		if err != nil {
			return nil, "", err
		}
		return f, coreDescription(args[0], f.Header()), nil
	}))
}

// coreDescription describes a core file, keeping the description of the
// target it was dumped from.
func coreDescription(path, header string) string {
	if i := strings.Index(header, "\n"); i >= 0 {
		header = header[:i]
	}
	if header == "" {
		return "core " + path
	}
	return fmt.Sprintf("core %s (%s)", path, header)
}

// applyFlags copies the scanner flags set on the command line over the
// configuration file.
func applyFlags(cmd *cobra.Command, conf *config.Config) error {
	flags := cmd.Flags()
	setInt := func(name string, v int, dst **int) {
		if flags.Changed(name) {
			*dst = &v
		}
	}
	setInt("chunk-size", chunkSize, &conf.ChunkSize)
	setInt("workers", workers, &conf.Workers)
	setInt("retries", retries, &conf.Retries)
	setInt("refine-retries", refineRetries, &conf.RefineRetries)
	setInt("cache-pages", cachePages, &conf.CachePages)
	if flags.Changed("unaligned") {
		conf.Unaligned = unaligned
	}
	if flags.Changed("byte-order") {
		if _, err := config.ParseByteOrder(byteOrder); err != nil {
			return err
		}
		conf.ByteOrder = byteOrder
	}
	return nil
}

// serveMetrics starts the prometheus endpoint, the server is stopped by
// the returned function.
func serveMetrics(addr string, m *metrics.Metrics) (net.Addr, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't start metrics listener: %s", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	return listener.Addr(), func() { srv.Close() }, nil
}

func execute(cmd *cobra.Command, open func() (target.Source, string, error)) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if err := applyFlags(cmd, conf); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cfg, err := conf.ScanConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	src, description, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer src.Close()
	src = target.NewCachedSource(src, conf.GetCachePages(), uint64(os.Getpagesize()))

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.NewMetrics()
		addr, stop, err := serveMetrics(metricsAddr, m)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer stop()
		fmt.Fprintf(os.Stderr, "metrics served at http://%s/metrics\n", addr)
	}

	scanner, err := scan.NewScanner(src,
		scan.WithConfig(cfg),
		scan.WithLogger(logflags.ScannerLogger()),
		scan.WithMetrics(m))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	term := terminal.New(scanner, conf)
	term.InitFile = initFile
	term.Target = description
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
