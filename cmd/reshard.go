// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/winnowdata/winnow/ctl"
)

func newReshardCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewReshardCommand(nil)
	ccmd := &cobra.Command{
		Use:   "reshard",
		Short: "Re-rank local shards by composite quality score",
		Long: `
Globally orders already-downloaded shards by composite quality score and
rewrites them as fixed-size shards, best documents first. With
--top-percent below 100, only the top slice is kept, selected by a
disk-backed external sort that never loads the corpus into memory.
`,
		RunE: func(c *cobra.Command, args []string) error {
			cmd.SetLogger(runLogger(c, stderr))
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.StringVar(&cmd.DataDir, "data-dir", cmd.DataDir, "directory of shard files to reshard")
	flags.StringSliceVar(&cmd.SortKeys, "sort-keys", cmd.SortKeys, "quality columns combined into the composite score")
	flags.Float64Var(&cmd.TopPercent, "top-percent", cmd.TopPercent, "keep only the top X% rows by composite score")
	flags.IntVar(&cmd.RowsPerShard, "rows-per-shard", cmd.RowsPerShard, "rows per output shard")
	flags.StringVar(&cmd.MemoryLimit, "duckdb-memory-limit", cmd.MemoryLimit, "external sort engine memory limit for top-percent mode")
	flags.IntVar(&cmd.Threads, "duckdb-threads", cmd.Threads, "external sort engine thread cap for top-percent mode")
	return ccmd
}
