// Engram - versioned agent memory with human audit
// Addressable memory for autonomous agents, reviewable edit by edit
package main

import (
	"fmt"
	"os"

	"github.com/mnemohq/engram/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
