// Package main is the Kioku CLI entry point.
package main

import (
	"os"

	"github.com/hyperjump/kioku/cmd/kioku/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
