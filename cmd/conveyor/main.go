package main

import (
	"fmt"
	"os"

	"github.com/Alanimdeo/conveyor/internal/cmd"
)

// Version is injected at build time via -ldflags
var Version = "dev"

func main() {
	cmd.Version = Version

	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
