package main

import (
	"github.com/memscan/memscan/cmd/memscan/cmds"
	"github.com/memscan/memscan/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.MemscanVersion.Build = Build
	}
	cmds.New(false).Execute()
}
