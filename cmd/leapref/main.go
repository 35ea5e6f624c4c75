// Package main provides the leapref command-line tool.
package main

import (
	"os"

	"github.com/leapstack-labs/leapref/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
