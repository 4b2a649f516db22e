// Package main provides stackctl, the command-line client of the stackform server.
package main

import (
	"os"

	"github.com/yaroslav/stackform/cmd/stackctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
