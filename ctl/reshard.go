// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/rank"
)

// ReshardCommand re-ranks an already-downloaded shard directory. The
// remote store is never touched; this is a purely local transform.
type ReshardCommand struct {
	DataDir      string
	SortKeys     []string
	TopPercent   float64
	RowsPerShard int
	MemoryLimit  string
	Threads      int

	logDest logger.Logger
}

// NewReshardCommand returns a new instance of ReshardCommand.
func NewReshardCommand(logdest logger.Logger) *ReshardCommand {
	if logdest == nil {
		logdest = logger.StderrLogger
	}
	return &ReshardCommand{
		DataDir: DefaultDataDir(),
		SortKeys: []string{
			"pedagogical_structure_average",
			"factual_accuracy_average",
			"lesson_engagement_average",
		},
		TopPercent:   100,
		RowsPerShard: rank.DefaultRowsPerShard,
		MemoryLimit:  "4GB",
		Threads:      4,
		logDest:      logdest,
	}
}

// SetLogger replaces the log destination once flags are parsed.
func (cmd *ReshardCommand) SetLogger(l logger.Logger) {
	cmd.logDest = l
}

// Run executes the reshard pass.
func (cmd *ReshardCommand) Run(ctx context.Context) error {
	if cmd.TopPercent <= 0 || cmd.TopPercent > 100 {
		return errors.Errorf("top-percent must be in (0, 100], got %v", cmd.TopPercent)
	}
	if len(cmd.SortKeys) == 0 {
		return errors.New("must define at least one sort key")
	}
	if _, err := os.Stat(cmd.DataDir); err != nil {
		return errors.Wrapf(err, "data dir %s", cmd.DataDir)
	}

	eng := rank.NewEngine(cmd.DataDir, cmd.SortKeys, cmd.logDest)
	eng.RowsPerShard = cmd.RowsPerShard

	var err error
	if cmd.TopPercent < 100 {
		err = eng.ReshardTopPercent(ctx, cmd.TopPercent, rank.TopKOptions{
			MemoryLimit: cmd.MemoryLimit,
			Threads:     cmd.Threads,
		})
	} else {
		err = eng.Reshard(ctx)
	}
	if err != nil {
		return err
	}

	files, err := winnow.DiscoverShards(cmd.DataDir)
	if err != nil {
		return err
	}
	return errors.Wrap(winnow.CheckContiguous(files), "verifying output shards")
}
