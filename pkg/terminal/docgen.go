package terminal

import (
	"fmt"
	"io"
	"strings"
)

// WriteMarkdown writes the documentation of the terminal commands.
func (commands *Commands) WriteMarkdown(w io.Writer) {
	fmt.Fprint(w, "# Configuration and Command History\n\n")
	fmt.Fprint(w, "If `$MEMSCAN_CONFIG_DIR` is set, then configuration and command history files are located in that directory. ")
	fmt.Fprint(w, "Otherwise, they are located in `$HOME/.config/memscan`.\n\n")
	fmt.Fprint(w, "The configuration file `config.yml` contains all the configurable options and their default values. ")
	fmt.Fprintf(w, "The command history is stored in `%s`.\n\n", historyFile)

	fmt.Fprint(w, "# Scan input\n\n")
	fmt.Fprint(w, "Input that is not a command is scan input: `<type> [<op>] <value>` starts a search, `[<op>] <value>` refines the current one.\n\n")
	fmt.Fprint(w, "Type | Description\n")
	fmt.Fprint(w, "-----|------------\n")
	for _, name := range inputTypes {
		fmt.Fprintf(w, "%s | %s\n", name, inputTypeDescription(name))
	}
	fmt.Fprint(w, "\n")

	fmt.Fprint(w, "# Commands\n")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(w, "\n## %s\n\n", cgd.description)

		fmt.Fprint(w, "Command | Description\n")
		fmt.Fprint(w, "--------|------------\n")
		for _, cmd := range commands.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			fmt.Fprintf(w, "[%s](#%s) | %s\n", cmd.aliases[0], cmd.aliases[0], h)
		}
		fmt.Fprint(w, "\n")

	}

	for _, cmd := range commands.cmds {
		fmt.Fprintf(w, "## %s\n%s\n\n", cmd.aliases[0], cmd.helpMsg)
		if len(cmd.aliases) > 1 {
			fmt.Fprint(w, "Aliases:")
			for _, alias := range cmd.aliases[1:] {
				fmt.Fprintf(w, " %s", alias)
			}
			fmt.Fprint(w, "\n")
		}
		fmt.Fprint(w, "\n")
	}
}

func inputTypeDescription(name string) string {
	switch name {
	case typeStr:
		return "UTF-8 string"
	case typeStrUTF16:
		return "UTF-16 string, in the byte order of the target"
	case "bytes":
		return "hex byte pattern, `??` matches any byte"
	case "f32", "f64":
		return name[1:] + " bit floating point number"
	}
	if name[0] == 'i' {
		return name[1:] + " bit signed integer"
	}
	return name[1:] + " bit unsigned integer"
}
