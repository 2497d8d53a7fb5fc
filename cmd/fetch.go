// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/winnowdata/winnow/ctl"
)

func newFetchCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewFetchCommand(nil)
	ccmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download corpus shards and sort them by quality",
		Long: `
Downloads every parquet object in the dataset into the local shard
layout, drops oversized columns, and then globally sorts the corpus by
composite quality score so the best documents land in the first shards.
`,
		RunE: func(c *cobra.Command, args []string) error {
			cmd.SetLogger(runLogger(c, stderr))
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.StringVar(&cmd.Bucket, "bucket", "", "object store bucket holding the dataset")
	flags.StringVar(&cmd.Region, "region", "", "object store region")
	flags.StringVar(&cmd.Endpoint, "endpoint", "", "custom S3 endpoint (for S3-compatible stores)")
	flags.StringVar(&cmd.Prefix, "prefix", "", "optional object key prefix to limit the listing")
	flags.StringVar(&cmd.DataDir, "data-dir", cmd.DataDir, "output directory for shard files")
	flags.IntVarP(&cmd.Workers, "workers", "w", cmd.Workers, "parallel download workers")
	flags.IntVarP(&cmd.NumFiles, "num-files", "n", cmd.NumFiles, "max objects to download, -1 = all")
	flags.StringVar(&cmd.DownloadMode, "download-mode", cmd.DownloadMode, "download mode: 'sdk' (per-object) or 'bulk' (s5cmd + local transform)")
	flags.StringSliceVar(&cmd.DropColumns, "drop-columns", cmd.DropColumns, "columns removed from every shard at ingestion")
	flags.StringSliceVar(&cmd.SortKeys, "sort-keys", cmd.SortKeys, "quality columns combined into the composite score")
	flags.BoolVar(&cmd.SkipSort, "skip-sort", false, "skip the sorting step (download only)")
	flags.Float64Var(&cmd.TopPercent, "top-percent", cmd.TopPercent, "keep only the top X% rows by composite score (memory-safe external sort)")
	flags.IntVar(&cmd.RowsPerShard, "rows-per-shard", cmd.RowsPerShard, "rows per output shard after sorting")
	flags.StringVar(&cmd.MemoryLimit, "duckdb-memory-limit", cmd.MemoryLimit, "external sort engine memory limit for top-percent mode")
	flags.IntVar(&cmd.Threads, "duckdb-threads", cmd.Threads, "external sort engine thread cap for top-percent mode")
	return ccmd
}
