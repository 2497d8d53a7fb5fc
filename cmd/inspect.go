// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/winnowdata/winnow/ctl"
)

func newInspectCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewInspectCommand(nil)
	ccmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the remote dataset",
		Long: `
Lists the dataset objects in the remote store and prints the object
count and total size without downloading anything.
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
	return ccmd
}
