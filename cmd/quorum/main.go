package main

import (
	"os"

	"github.com/moolen/quorum/cmd/quorum/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
