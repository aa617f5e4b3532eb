// Package main provides the entry point for the storefind CLI.
package main

import (
	"os"

	"github.com/storefind/storefind/cmd/storefind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
