// Package main is the entry point for the docsmcp CLI.
package main

import (
	"os"

	"github.com/docsmcp/docsmcp/cmd/docsmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
