// Package main provides the entry point for the kbvault CLI.
package main

import (
	"os"

	"github.com/kbvault/kbvault/cmd/kbvault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
