// Package main provides the ChurchHouse command line client. It drives the
// same collection views as the desktop server against a local store.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
