// TurnWeave is a deterministic turn-resolution engine for state-driven
// interactive narrative.
package main

import (
	"fmt"
	"os"

	"github.com/nathoo/turnweave/cli"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
