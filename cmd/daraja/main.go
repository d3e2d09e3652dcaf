// Command daraja is a sandbox for the query engine: it seeds a small
// music library into one or more configured backends and exposes query,
// explain and stats subcommands over it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
