package main

import (
	"os"

	"github.com/voxwire/voxwire/cmd/voxwire/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
