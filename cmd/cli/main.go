// Package main is the entry point for the vmplane CLI.
// The CLI is the developer terminal tool for interacting with the vmplane API.
package main

import (
	"os"

	"vmplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
