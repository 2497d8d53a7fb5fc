// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/winnowdata/winnow/cmd"
)

func main() {
	// Store credentials typically live in a .env next to the operator;
	// absence is fine, the AWS chain takes over.
	_ = godotenv.Load()

	rc := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rc.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
