// Package main provides the entry point for the jobworker daemon: one
// process per worker instance, running at most one job at a time.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
