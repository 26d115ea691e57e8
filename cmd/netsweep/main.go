// Command netsweep is the entry point for the network sweep CLI.
package main

import (
	"github.com/netsweep/netsweep/cmd/cli"
)

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
