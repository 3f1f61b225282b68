package main

import (
	"os"

	"github.com/rustyeddy/blockkit/cmd/blockkit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
