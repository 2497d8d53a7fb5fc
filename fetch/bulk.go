// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/shard"
)

// DefaultBulkTool is the external high-throughput copier used by
// BulkFetch when none is configured.
const DefaultBulkTool = "s5cmd"

// bulkStageDir is the staging directory for raw objects, created under
// the data directory and removed when the transform pass finishes.
const bulkStageDir = "_bulk_raw"

// BulkFetch stages all raw objects with one external bulk transfer and
// then applies the column-projection transform locally with the worker
// pool. It returns ok=false, without error, when the bulk tool is
// missing or the transfer fails; the caller falls back to FetchAll and
// the externally observable contract stays identical.
func (f *Fetcher) BulkFetch(ctx context.Context, objects []winnow.SourceObject, bucket, prefix string) (winnow.Summary, bool, error) {
	tool := f.BulkTool
	if tool == "" {
		tool = DefaultBulkTool
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		f.log.Infof("%s not found in PATH; falling back to per-object download", tool)
		return winnow.Summary{}, false, nil
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return winnow.Summary{}, false, errors.Wrapf(err, "creating data directory %s", f.dir)
	}
	rawDir := filepath.Join(f.dir, bulkStageDir)
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		return winnow.Summary{}, false, errors.Wrapf(err, "creating staging directory %s", rawDir)
	}

	src := bulkSource(bucket, prefix)
	f.log.Infof("starting %s bulk transfer of %s to %s", tool, src, rawDir)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "cp", src, rawDir+string(os.PathSeparator))
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		f.log.Warnf("%s failed (%v: %s); falling back to per-object download", tool, err, strings.TrimSpace(stderr.String()))
		_ = os.RemoveAll(rawDir)
		return winnow.Summary{}, false, nil
	}

	f.drop = dropSet(f.DropColumns)
	jobs := make([]job, 0, len(objects))
	for i, obj := range objects {
		jobs = append(jobs, job{index: i, obj: obj, raw: f.resolveRaw(rawDir, prefix, obj.Key)})
	}
	stats := winnow.NewRunStats()
	f.run(ctx, jobs, f.transformOne, stats, len(objects))

	_ = os.RemoveAll(rawDir)
	return stats.Snapshot(), true, nil
}

// bulkSource builds the wildcard source argument for the bulk copier.
func bulkSource(bucket, prefix string) string {
	if prefix == "" {
		return fmt.Sprintf("s3://%s/*", bucket)
	}
	return fmt.Sprintf("s3://%s/%s*", bucket, prefix)
}

// resolveRaw maps an object key to its staged path. Bulk copiers differ
// in how much of the key they preserve, so fall back to the bare
// basename when the prefix-relative path is absent.
func (f *Fetcher) resolveRaw(rawDir, prefix, key string) string {
	rel := key
	if prefix != "" && strings.HasPrefix(rel, prefix) {
		rel = strings.TrimLeft(strings.TrimPrefix(rel, prefix), "/")
	}
	path := filepath.Join(rawDir, filepath.FromSlash(rel))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	alt := filepath.Join(rawDir, filepath.Base(key))
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return path
}

// transformOne projects one staged file into its shard slot. Local
// transforms get a single attempt; a re-run of the whole stage is the
// retry path, and the idempotent skip makes that cheap.
func (f *Fetcher) transformOne(ctx context.Context, j job) Outcome {
	out := Outcome{Index: j.index, Key: j.obj.Key}
	dst := winnow.ShardPath(f.dir, j.index)

	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		out.Status = StatusSkipped
		out.Bytes = info.Size()
		return out
	}

	tmp := dst + winnow.TmpSuffix
	nbytes, err := f.transformLocal(ctx, j.raw, dst, tmp)
	if err == nil {
		out.Status = StatusDone
		out.Bytes = nbytes
		return out
	}
	_ = os.Remove(tmp)
	if errors.Cause(err) == errEmptyShard {
		out.Status = StatusWarning
		out.Reason = err.Error()
		return out
	}
	out.Status = StatusError
	out.Reason = fmt.Sprintf("%v (%s)", err, j.raw)
	return out
}

func (f *Fetcher) transformLocal(ctx context.Context, raw, dst, tmp string) (int64, error) {
	data, err := os.ReadFile(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "reading staged object %s", raw)
	}
	tbl, err := shard.ReadTableBytes(ctx, data)
	if err != nil {
		return 0, err
	}
	defer tbl.Release()

	return f.persist(shard.DropColumns(tbl, f.drop), dst, tmp)
}
