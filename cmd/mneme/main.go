// Package main is the mneme CLI entry point.
package main

import (
	"os"

	"github.com/hyperjump/mneme/cmd/mneme/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
