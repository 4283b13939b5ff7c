// Package main is the entry point for the chunconv application.
package main

import (
	"os"

	"github.com/chunmedia/chunconv/cmd/chunconv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
