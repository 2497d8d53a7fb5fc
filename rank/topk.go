// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package rank

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/shard"
)

const (
	// spillDir holds the external engine's spill files during a
	// top-percent pass.
	spillDir = "_duckdb_tmp"

	// stageDir receives new shards until the final replace step.
	stageDir = "_top_shards_tmp"
)

// TopKOptions bound the external sort engine's resources.
type TopKOptions struct {
	// MemoryLimit is passed to the engine verbatim, e.g. "4GB".
	MemoryLimit string

	// Threads caps the engine's internal parallelism.
	Threads int
}

// ReshardTopPercent keeps only the top topPercent of documents by
// composite score, using a disk-backed external sort so the corpus
// never has to fit in memory. Output shards carry two columns, score
// and text, so the cut threshold stays auditable.
//
// The original shards are deleted only after the full top-K stream has
// been written; any earlier failure leaves them untouched and discards
// the staging directory.
func (e *Engine) ReshardTopPercent(ctx context.Context, topPercent float64, opts TopKOptions) error {
	if topPercent <= 0 || topPercent > 100 {
		return errors.Errorf("top-percent must be in (0, 100], got %v", topPercent)
	}
	files, err := winnow.DiscoverShards(e.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no shards found in %s", e.dir)
	}

	// One schema check before the long scan.
	schema, err := shard.ReadSchema(files[0])
	if err != nil {
		return err
	}
	if err := shard.ValidateColumns(schema, append([]string{TextColumn}, e.MetricColumns...)); err != nil {
		return err
	}

	spill := filepath.Join(e.dir, spillDir)
	stage := filepath.Join(e.dir, stageDir)
	if err := os.MkdirAll(spill, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", spill)
	}
	if err := os.RemoveAll(stage); err != nil {
		return errors.Wrapf(err, "clearing %s", stage)
	}
	if err := os.MkdirAll(stage, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", stage)
	}

	e.log.Infof("selecting top %.2f%% by composite score: %s", topPercent, strings.Join(e.MetricColumns, " + "))
	written, err := e.streamTopK(ctx, files, spill, stage, topPercent, opts)
	if err != nil {
		_ = os.RemoveAll(stage)
		_ = os.RemoveAll(spill)
		return err
	}

	// Replace: everything below is the only destructive part of the
	// pass, and it runs only after the stream is fully on disk.
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return errors.Wrapf(err, "removing old shard %s", f)
		}
	}
	staged, err := winnow.DiscoverShards(stage)
	if err != nil {
		return err
	}
	for _, f := range staged {
		if err := os.Rename(f, filepath.Join(e.dir, filepath.Base(f))); err != nil {
			return errors.Wrapf(err, "moving %s into place", f)
		}
	}
	_ = os.RemoveAll(stage)
	_ = os.RemoveAll(spill)

	e.log.Infof("done: %d shards written with columns [score text], %d rows", len(staged), written)
	return nil
}

// streamTopK runs the external query and writes each batch straight to
// a staged shard. A single forward pass; nothing beyond one batch is
// ever materialized in process memory.
func (e *Engine) streamTopK(ctx context.Context, files []string, spill, stage string, topPercent float64, opts TopKOptions) (int64, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, errors.Wrap(err, "opening duckdb")
	}
	defer db.Close()

	pragmas := []string{
		fmt.Sprintf("PRAGMA temp_directory='%s'", sqlQuote(spill)),
	}
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", sqlQuote(opts.MemoryLimit)))
	}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return 0, errors.Wrapf(err, "configuring duckdb (%s)", p)
		}
	}

	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + sqlQuote(filepath.ToSlash(f)) + "'"
	}
	exprs := make([]string, len(e.MetricColumns))
	for i, c := range e.MetricColumns {
		exprs[i] = fmt.Sprintf("coalesce(CAST(%s AS DOUBLE), 0.0)", quoteIdent(c))
	}
	base := fmt.Sprintf("SELECT %s AS text, (%s) / %d AS score FROM parquet_scan([%s], union_by_name=true)",
		quoteIdent(TextColumn), strings.Join(exprs, " + "), len(e.MetricColumns), strings.Join(quoted, ", "))

	var total int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS t", base)).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "counting rows")
	}
	if total == 0 {
		return 0, errors.New("no rows found after scan")
	}
	k := int64(math.Ceil(float64(total) * topPercent / 100.0))
	if k < 1 {
		k = 1
	}
	e.log.Infof("total rows: %d", total)
	e.log.Infof("rows kept: %d", k)

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT score, text FROM (%s) AS t ORDER BY score DESC LIMIT %d", base, k))
	if err != nil {
		return 0, errors.Wrap(err, "running top-k query")
	}
	defer rows.Close()

	rps := e.RowsPerShard
	if rps < 1 {
		rps = DefaultRowsPerShard
	}
	scores := make([]float64, 0, rps)
	texts := make([]string, 0, rps)
	shardIdx := 0
	var written int64

	flush := func() error {
		if len(scores) == 0 {
			return nil
		}
		if err := writeScoreTextShard(winnow.ShardPath(stage, shardIdx), scores, texts); err != nil {
			return err
		}
		written += int64(len(scores))
		shardIdx++
		if shardIdx%250 == 0 {
			e.log.Infof("  wrote %d shards (%d rows)", shardIdx, written)
		}
		scores = scores[:0]
		texts = texts[:0]
		return nil
	}

	for rows.Next() {
		var score float64
		var text string
		if err := rows.Scan(&score, &text); err != nil {
			return 0, errors.Wrap(err, "scanning top-k row")
		}
		scores = append(scores, score)
		texts = append(texts, text)
		if len(scores) == rps {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "streaming top-k rows")
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return written, nil
}

// writeScoreTextShard emits one staged (score, text) shard.
func writeScoreTextShard(path string, scores []float64, texts []string) error {
	mem := memory.NewGoAllocator()
	sb := array.NewFloat64Builder(mem)
	defer sb.Release()
	sb.AppendValues(scores, nil)
	scoreArr := sb.NewArray()
	defer scoreArr.Release()

	tb := array.NewLargeStringBuilder(mem)
	defer tb.Release()
	for _, t := range texts {
		tb.Append(t)
	}
	textArr := tb.NewArray()
	defer textArr.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: TextColumn, Type: arrow.BinaryTypes.LargeString},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{scoreArr, textArr}, int64(len(scores)))
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	return shard.WriteTable(tbl, path)
}

func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
