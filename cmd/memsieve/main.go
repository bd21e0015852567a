package main

import (
	"os"

	"github.com/memsieve/memsieve/cmd/memsieve/cmds"
	"github.com/memsieve/memsieve/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.MemsieveVersion.Build = Build
	}
	// cobra already printed the error
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
