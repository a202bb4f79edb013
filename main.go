// Package main is the entry point for the samza-runloop container process.
package main

import (
	"fmt"
	"os"

	"github.com/chrisbu/samza-runloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
