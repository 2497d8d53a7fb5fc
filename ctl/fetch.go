// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package ctl holds the operational commands behind the winnow binary.
// Each command is a struct whose exported fields are its configuration
// surface; thin cobra wrappers in the cmd package bind flags onto them.
package ctl

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/fetch"
	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/rank"
	"github.com/winnowdata/winnow/shard"
	"github.com/winnowdata/winnow/store"
)

// Download modes for FetchCommand.
const (
	ModeSDK  = "sdk"
	ModeBulk = "bulk"
)

// FetchCommand downloads the dataset into local shards and, unless
// told otherwise, runs the quality reshard afterwards.
type FetchCommand struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string

	DataDir      string
	Workers      int
	NumFiles     int
	DownloadMode string
	DropColumns  []string

	SortKeys     []string
	SkipSort     bool
	TopPercent   float64
	RowsPerShard int
	MemoryLimit  string
	Threads      int

	// Store overrides the S3 store, for tests.
	Store store.Store

	stdout  io.Writer
	logDest logger.Logger
}

// NewFetchCommand returns a FetchCommand with the defaults the original
// corpus build used.
func NewFetchCommand(logdest logger.Logger) *FetchCommand {
	if logdest == nil {
		logdest = logger.StderrLogger
	}
	return &FetchCommand{
		DataDir:      DefaultDataDir(),
		Workers:      8,
		NumFiles:     -1,
		DownloadMode: ModeSDK,
		DropColumns:  []string{"embedding"},
		SortKeys: []string{
			"pedagogical_structure_average",
			"factual_accuracy_average",
			"lesson_engagement_average",
		},
		TopPercent:   100,
		RowsPerShard: rank.DefaultRowsPerShard,
		MemoryLimit:  "4GB",
		Threads:      4,
		stdout:       os.Stdout,
		logDest:      logdest,
	}
}

// SetLogger replaces the log destination. The CLI layer calls this once
// flags are parsed and the verbosity is known.
func (cmd *FetchCommand) SetLogger(l logger.Logger) {
	cmd.logDest = l
}

// DefaultDataDir is where downstream training readers expect shards.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "base_data")
	}
	return filepath.Join(home, ".cache", "nanochat", "base_data")
}

// Run executes the fetch stage and the optional reshard stage.
func (cmd *FetchCommand) Run(ctx context.Context) error {
	if cmd.TopPercent <= 0 || cmd.TopPercent > 100 {
		return errors.Errorf("top-percent must be in (0, 100], got %v", cmd.TopPercent)
	}
	if cmd.DownloadMode != ModeSDK && cmd.DownloadMode != ModeBulk {
		return errors.Errorf("download-mode must be %q or %q, got %q", ModeSDK, ModeBulk, cmd.DownloadMode)
	}
	st := cmd.Store
	if st == nil {
		if cmd.Bucket == "" {
			return errors.New("must set a bucket to fetch from")
		}
		s3st, err := store.OpenS3(cmd.Bucket, store.S3Options{Region: cmd.Region, Endpoint: cmd.Endpoint})
		if err != nil {
			return err
		}
		st = s3st
	}

	cmd.logDest.Infof("listing objects in s3://%s/%s", cmd.Bucket, cmd.Prefix)
	objects, err := st.List(ctx, cmd.Prefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return errors.Errorf("no parquet objects found in s3://%s/%s (check credentials and bucket)", cmd.Bucket, cmd.Prefix)
	}
	cmd.logDest.Infof("found %d parquet objects", len(objects))
	if cmd.NumFiles > 0 && cmd.NumFiles < len(objects) {
		objects = objects[:cmd.NumFiles]
		cmd.logDest.Infof("limiting to first %d objects", len(objects))
	}

	existing, existingBytes := cmd.countExisting(len(objects))
	cmd.logDest.Infof("already downloaded: %d/%d (%.1f GB)", existing, len(objects), float64(existingBytes)/1e9)

	if existing < len(objects) {
		f := fetch.NewFetcher(st, cmd.DataDir, cmd.logDest)
		f.Workers = cmd.Workers
		f.DropColumns = cmd.DropColumns

		var summary winnow.Summary
		fetched := false
		if cmd.DownloadMode == ModeBulk {
			s, ok, err := f.BulkFetch(ctx, objects, cmd.Bucket, cmd.Prefix)
			if err != nil {
				return err
			}
			if ok {
				summary, fetched = s, true
			}
		}
		if !fetched {
			summary, err = f.FetchAll(ctx, objects)
			if err != nil {
				return err
			}
		}
		cmd.logDest.Infof("download complete: %s", summary)
		if err := json.NewEncoder(cmd.stdout).Encode(summary); err != nil {
			return errors.Wrap(err, "writing fetch summary")
		}
	} else {
		cmd.logDest.Infof("all shards already downloaded")
	}

	if cmd.SkipSort {
		cmd.logDest.Infof("skipping sort step; shards retain metadata")
		return cmd.verify()
	}

	eng := rank.NewEngine(cmd.DataDir, cmd.SortKeys, cmd.logDest)
	eng.RowsPerShard = cmd.RowsPerShard
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
	return cmd.verify()
}

// countExisting counts already-complete shard slots for the first n
// indices.
func (cmd *FetchCommand) countExisting(n int) (int, int64) {
	count := 0
	var nbytes int64
	for i := 0; i < n; i++ {
		info, err := os.Stat(winnow.ShardPath(cmd.DataDir, i))
		if err == nil && info.Size() > 0 {
			count++
			nbytes += info.Size()
		}
	}
	return count, nbytes
}

// verify reports the final state of the shard directory.
func (cmd *FetchCommand) verify() error {
	files, err := winnow.DiscoverShards(cmd.DataDir)
	if err != nil {
		return err
	}
	report := struct {
		Shards  int      `json:"shards"`
		Columns []string `json:"columns,omitempty"`
		Bytes   int64    `json:"bytes"`
	}{Shards: len(files)}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return errors.Wrapf(err, "stat %s", f)
		}
		report.Bytes += info.Size()
	}
	if len(files) > 0 {
		schema, err := shard.ReadSchema(files[0])
		if err != nil {
			return err
		}
		for _, field := range schema.Fields() {
			report.Columns = append(report.Columns, field.Name)
		}
	}
	cmd.logDest.Infof("final shard count: %d (%.1f GB), first shard columns: %v",
		report.Shards, float64(report.Bytes)/1e9, report.Columns)
	return errors.Wrap(json.NewEncoder(cmd.stdout).Encode(report), "writing verification report")
}
