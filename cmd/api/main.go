package main

import (
	"os"

	"github.com/xpanvictor/vera/cmd/api/commands"
)

// Entry point for the bridge. With no subcommand it serves.
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
