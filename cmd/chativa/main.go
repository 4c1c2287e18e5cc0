package main

import (
	"os"

	"github.com/chativa/chativa/cmd/chativa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
