// Package main is the entry point for cauth.
package main

import (
	"fmt"
	"os"

	"github.com/agent-island/cauth/cmd/cauth/cmd"
)

func main() {
	os.Exit(run())
}

// run executes the root command and maps its error to cauth's exit-code
// contract (spec.md §7): 0 on success, 2 for a usage error, 1 for anything
// else, printing "cauth: {message}" to stderr the same way
// original_source/main.rs's run() surfaces errors.
func run() int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "cauth: %s\n", err.Error())
	if cmd.IsUsageError(err) {
		return 2
	}
	return 1
}
