package main

import (
	"os"

	"github.com/veldtlabs/tokenforge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
