// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package fetch downloads remote dataset objects into the local shard
// layout. Each object maps 1:1 to a shard index by its position in the
// listing; fetching is idempotent and per-object retryable, so an
// interrupted run can simply be re-run.
package fetch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/shard"
	"github.com/winnowdata/winnow/store"
)

// Status classifies the result of fetching one source object.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Outcome is the per-object fetch result. It is used only for
// accounting and operator output, never persisted.
type Outcome struct {
	Index  int
	Key    string
	Status Status
	Reason string
	Bytes  int64
}

// errEmptyShard marks an object whose table is empty after column
// projection. Structural, not transient: it is reported as a warning
// and never retried.
var errEmptyShard = errors.New("empty table after column projection")

// Fetcher downloads objects into a shard directory. Exported fields may
// be adjusted between NewFetcher and the first FetchAll call.
type Fetcher struct {
	// Workers is the width of the download pool.
	Workers int

	// MaxRetries is the per-object attempt budget for transient
	// failures. Backoff between attempts is 2^attempt seconds.
	MaxRetries int

	// DropColumns are removed from every table before it is persisted.
	DropColumns []string

	// ProgressEvery controls how often (in completed downloads) a
	// progress line is logged.
	ProgressEvery int

	// BulkTool is the external copier BulkFetch shells out to.
	// Defaults to DefaultBulkTool.
	BulkTool string

	st   store.Store
	dir  string
	log  logger.Logger
	drop map[string]struct{}

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewFetcher returns a Fetcher writing to dir with default settings.
func NewFetcher(st store.Store, dir string, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NopLogger
	}
	return &Fetcher{
		Workers:       8,
		MaxRetries:    3,
		ProgressEvery: 25,
		st:            st,
		dir:           dir,
		log:           log,
		sleep:         time.Sleep,
	}
}

// job is one unit of pool work. Either a remote key to download or,
// on the bulk path, a staged local file to transform.
type job struct {
	index int
	obj   winnow.SourceObject
	raw   string
}

// FetchAll downloads every object into its shard slot. Per-object
// failures are recorded, not fatal; the returned summary carries the
// final outcome counts.
func (f *Fetcher) FetchAll(ctx context.Context, objects []winnow.SourceObject) (winnow.Summary, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return winnow.Summary{}, errors.Wrapf(err, "creating data directory %s", f.dir)
	}
	f.drop = dropSet(f.DropColumns)

	jobs := make([]job, len(objects))
	for i, obj := range objects {
		jobs[i] = job{index: i, obj: obj}
	}
	stats := winnow.NewRunStats()
	f.run(ctx, jobs, f.fetchOne, stats, len(objects))
	return stats.Snapshot(), nil
}

// run feeds jobs through a bounded worker pool and aggregates outcomes
// in a single consumer, so accounting needs no locks beyond the
// stats counters themselves.
func (f *Fetcher) run(ctx context.Context, jobs []job, do func(context.Context, job) Outcome, stats *winnow.RunStats, total int) {
	workers := f.Workers
	if workers < 1 {
		workers = 1
	}
	jobch := make(chan job)
	results := make(chan Outcome)

	eg := &errgroup.Group{}
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for j := range jobch {
				results <- do(ctx, j)
			}
			return nil
		})
	}
	go func() {
		defer close(jobch)
		for _, j := range jobs {
			select {
			case jobch <- j:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		_ = eg.Wait()
		close(results)
	}()

	for out := range results {
		f.record(stats, out, total)
	}
}

// record folds one outcome into the run stats and emits operator
// output. Completion order is unconstrained; progress is by count.
func (f *Fetcher) record(stats *winnow.RunStats, out Outcome, total int) {
	switch out.Status {
	case StatusDone:
		stats.AddDone(out.Bytes)
	case StatusSkipped:
		stats.AddSkipped(out.Bytes)
	case StatusWarning:
		stats.AddWarning()
		f.log.Warnf("[%05d] %s: %s", out.Index, out.Key, out.Reason)
	case StatusError:
		stats.AddError()
		f.log.Errorf("[%05d] %s: %s", out.Index, out.Key, out.Reason)
	}

	s := stats.Snapshot()
	every := f.ProgressEvery
	if every < 1 {
		every = 25
	}
	if out.Status == StatusDone && s.Done%uint64(every) == 0 {
		rate := s.Rate()
		eta := "inf"
		if rate > 0 {
			remaining := float64(uint64(total)-s.Completed()) / rate
			eta = fmt.Sprintf("%.0f min", remaining/60)
		}
		f.log.Infof("progress: %d/%d shards | %.1f GB | %.1f shards/s | ETA: %s",
			s.Completed(), total, float64(s.Bytes)/1e9, rate, eta)
	}
}

// fetchOne downloads and transforms a single object. Shard presence
// with non-zero size is the completion marker, so an existing shard is
// a no-op skip.
func (f *Fetcher) fetchOne(ctx context.Context, j job) Outcome {
	out := Outcome{Index: j.index, Key: j.obj.Key}
	dst := winnow.ShardPath(f.dir, j.index)

	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		out.Status = StatusSkipped
		out.Bytes = info.Size()
		return out
	}

	tmp := dst + winnow.TmpSuffix
	retries := f.MaxRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		nbytes, err := f.tryFetch(ctx, j.obj.Key, dst, tmp)
		if err == nil {
			out.Status = StatusDone
			out.Bytes = nbytes
			return out
		}
		// A shard file is either fully absent or fully valid, never
		// truncated: the tmp sibling goes away before anything else.
		_ = os.Remove(tmp)

		if errors.Cause(err) == errEmptyShard {
			out.Status = StatusWarning
			out.Reason = err.Error()
			return out
		}
		if attempt < retries-1 {
			f.sleep(time.Duration(1<<uint(attempt+1)) * time.Second)
			continue
		}
		out.Status = StatusError
		out.Reason = fmt.Sprintf("after %d attempts: %v", retries, err)
	}
	return out
}

// tryFetch performs one download+transform attempt, writing through a
// tmp sibling and renaming into place on success.
func (f *Fetcher) tryFetch(ctx context.Context, key, dst, tmp string) (int64, error) {
	data, err := f.st.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	tbl, err := shard.ReadTableBytes(ctx, data)
	if err != nil {
		return 0, err
	}
	defer tbl.Release()

	return f.persist(shard.DropColumns(tbl, f.drop), dst, tmp)
}

// persist writes the projected table through tmp and renames it over
// dst, returning the final on-disk size.
func (f *Fetcher) persist(tbl arrow.Table, dst, tmp string) (int64, error) {
	if tbl.NumRows() == 0 {
		return 0, errEmptyShard
	}
	if err := shard.WriteTable(tbl, tmp); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, errors.Wrapf(err, "renaming %s into place", tmp)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", dst)
	}
	return info.Size(), nil
}

func dropSet(cols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	return set
}
