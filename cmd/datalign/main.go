// Package main provides the datalign command-line interface.
package main

import (
	"os"

	"github.com/datalign/datalign/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
