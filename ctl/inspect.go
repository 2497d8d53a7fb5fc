// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/store"
)

// InspectCommand summarizes the remote dataset without downloading it:
// object count, total bytes, total GiB.
type InspectCommand struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string

	// Store overrides the S3 store, for tests.
	Store store.Store

	stdout  io.Writer
	logDest logger.Logger
}

// NewInspectCommand returns a new instance of InspectCommand.
func NewInspectCommand(logdest logger.Logger) *InspectCommand {
	if logdest == nil {
		logdest = logger.StderrLogger
	}
	return &InspectCommand{
		stdout:  os.Stdout,
		logDest: logdest,
	}
}

// SetLogger replaces the log destination once flags are parsed.
func (cmd *InspectCommand) SetLogger(l logger.Logger) {
	cmd.logDest = l
}

// Run lists the dataset and prints one summary line.
func (cmd *InspectCommand) Run(ctx context.Context) error {
	st := cmd.Store
	if st == nil {
		if cmd.Bucket == "" {
			return errors.New("must set a bucket to inspect")
		}
		s3st, err := store.OpenS3(cmd.Bucket, store.S3Options{Region: cmd.Region, Endpoint: cmd.Endpoint})
		if err != nil {
			return err
		}
		st = s3st
	}
	objects, err := st.List(ctx, cmd.Prefix)
	if err != nil {
		return err
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	_, err = fmt.Fprintf(cmd.stdout, "object_count=%d total_bytes=%d total_gib=%.2f\n",
		len(objects), total, float64(total)/(1<<30))
	return err
}
