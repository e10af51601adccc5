// Package cli provides the command-line interface for CortexFund
package cli

import (
	"fmt"
	"os"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

// Run starts the CLI application
func Run() {
	rootCmd := NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
