package main

import (
	"os"

	"github.com/pktdbg/pktdbg/cmd/pktdbg/cmds"
	"github.com/pktdbg/pktdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.PktdbgVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
