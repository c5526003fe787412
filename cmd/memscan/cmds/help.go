package cmds

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagUsed reports whether the flag name, parsed for every command, is
// used by cmd. Flags that are not used are hidden from its help.
func flagUsed(cmd *cobra.Command, name string) bool {
	switch cmd.Name() {
	case "attach":
		return true
	case "core":
		// cores are read only and already in memory
		return name != "cache-pages" && name != "refine-retries"
	}
	return false
}

// hideUnusedFlags hides the flags cmd does not use before its help is
// printed. The flags are shared with the other commands, which can not
// print their help afterwards.
func hideUnusedFlags(cmd *cobra.Command) {
	for _, fs := range []*pflag.FlagSet{cmd.LocalFlags(), cmd.InheritedFlags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			if !flagUsed(cmd, f.Name) {
				f.Hidden = true
			}
		})
	}
}
