// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/winnowdata/winnow/ctl"
)

func newShardInfoCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewShardInfoCommand(nil)
	ccmd := &cobra.Command{
		Use:   "shard-info <path>",
		Short: "Show schema and sample rows of a local shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cmd.SetLogger(runLogger(c, stderr))
			cmd.Path = args[0]
			return cmd.Run(context.Background())
		},
	}
	return ccmd
}
