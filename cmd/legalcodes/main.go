// Package main provides the entry point for the legalcodes CLI.
package main

import (
	"os"

	"github.com/qter21/legal-codes-search-api/cmd/legalcodes/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
