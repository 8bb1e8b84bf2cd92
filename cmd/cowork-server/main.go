package main

import (
	"os"

	"github.com/cowork-ai/cowork/cmd/cowork-server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
