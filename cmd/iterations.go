// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/winnowdata/winnow/ctl"
)

func newIterationsCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewIterationsCommand(nil)
	ccmd := &cobra.Command{
		Use:   "iterations",
		Short: "Compute training iterations from local shard token counts",
		Long: `
Sums an exact token-count column across every local shard and reports
how many optimization steps one pass over the corpus takes, as JSON.
`,
		RunE: func(c *cobra.Command, args []string) error {
			cmd.SetLogger(runLogger(c, stderr))
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.StringVar(&cmd.DataDir, "data-dir", cmd.DataDir, "directory of shard files")
	flags.StringVar(&cmd.Glob, "glob", cmd.Glob, "shard filename glob")
	flags.StringVar(&cmd.TokenColumn, "token-col", cmd.TokenColumn, "exact token count column")
	flags.IntVar(&cmd.TotalBatchSize, "total-batch-size", cmd.TotalBatchSize, "tokens per optimization step")
	return ccmd
}
