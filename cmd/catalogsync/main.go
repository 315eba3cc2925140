// Package main provides the entry point for catalogsync.
package main

import (
	"fmt"
	"os"

	"github.com/livinlefevreloca/catalogsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
