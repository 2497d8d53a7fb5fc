// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"

	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/shard"
)

// sampleRows is how many rows ShardInfoCommand prints at most.
const sampleRows = 10

// textPreview truncates long cell values in the sample output.
const textPreview = 48

// ShardInfoCommand displays the schema and a few sample rows of a local
// shard file.
type ShardInfoCommand struct {
	// Path to the shard file.
	Path string

	stdout  io.Writer
	logDest logger.Logger
}

// NewShardInfoCommand returns a new instance of ShardInfoCommand.
func NewShardInfoCommand(logdest logger.Logger) *ShardInfoCommand {
	if logdest == nil {
		logdest = logger.StderrLogger
	}
	return &ShardInfoCommand{
		stdout:  os.Stdout,
		logDest: logdest,
	}
}

// SetLogger replaces the log destination once flags are parsed.
func (cmd *ShardInfoCommand) SetLogger(l logger.Logger) {
	cmd.logDest = l
}

// Run prints schema and sample data from the shard.
func (cmd *ShardInfoCommand) Run(ctx context.Context) error {
	tbl, err := shard.ReadTable(ctx, cmd.Path)
	if err != nil {
		return err
	}
	defer tbl.Release()

	fmt.Fprintf(cmd.stdout, "name: %v\n", cmd.Path)
	schema := tbl.Schema()
	for i, field := range schema.Fields() {
		fmt.Fprintf(cmd.stdout, "%d. name: %v type: %v nullable: %v\n", i, field.Name, field.Type, field.Nullable)
	}
	numRows := int(tbl.NumRows())
	fmt.Fprintf(cmd.stdout, "rows: %d\n", numRows)
	if numRows > sampleRows {
		numRows = sampleRows
	}

	fmt.Fprintln(cmd.stdout, "sample:")
	for _, field := range schema.Fields() {
		fmt.Fprintf(cmd.stdout, "%v\t", field.Name)
	}
	fmt.Fprintln(cmd.stdout, "")
	for row := 0; row < numRows; row++ {
		for col := 0; col < int(tbl.NumCols()); col++ {
			fmt.Fprintf(cmd.stdout, "%v\t", cellValue(tbl.Column(col), row))
		}
		fmt.Fprintln(cmd.stdout, "")
	}
	return nil
}

// cellValue renders one cell of a chunked column for the sample dump.
func cellValue(col *arrow.Column, row int) string {
	for _, chunk := range col.Data().Chunks() {
		if row >= chunk.Len() {
			row -= chunk.Len()
			continue
		}
		if chunk.IsNull(row) {
			return "null"
		}
		switch c := chunk.(type) {
		case *array.String:
			return preview(c.Value(row))
		case *array.LargeString:
			return preview(c.Value(row))
		case *array.Float64:
			return fmt.Sprintf("%.4f", c.Value(row))
		case *array.Int64:
			return fmt.Sprintf("%d", c.Value(row))
		default:
			if m, ok := c.(interface{ GetOneForMarshal(int) interface{} }); ok {
				return fmt.Sprintf("%v", m.GetOneForMarshal(row))
			}
			return fmt.Sprintf("%v", c)
		}
	}
	return ""
}

func preview(s string) string {
	if len(s) <= textPreview {
		return s
	}
	return s[:textPreview] + "..."
}
