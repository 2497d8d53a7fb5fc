// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package rank

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pkg/errors"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/shard"
)

// TextColumn is the document payload column every shard must carry.
const TextColumn = "text"

// DefaultRowsPerShard matches the shard size downstream consumers read.
const DefaultRowsPerShard = 14000

// Engine rewrites a shard directory in quality order. It owns the
// directory exclusively for the duration of a pass.
type Engine struct {
	// MetricColumns are averaged into the composite score.
	MetricColumns []string

	// RowsPerShard is the target size of every emitted shard; the last
	// one may be shorter.
	RowsPerShard int

	dir string
	log logger.Logger
}

// NewEngine returns an Engine over dir scoring by metricColumns.
func NewEngine(dir string, metricColumns []string, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger
	}
	return &Engine{
		MetricColumns: metricColumns,
		RowsPerShard:  DefaultRowsPerShard,
		dir:           dir,
		log:           log,
	}
}

// Reshard globally sorts every document by composite score, descending,
// and rewrites the directory as fixed-size text-only shards with the
// best documents in shard_00000. The whole corpus is held in memory;
// for selective retention or corpora past memory, use
// ReshardTopPercent.
//
// Ties keep their original (shard, row) order, so repeated runs over
// the same input produce identical output.
func (e *Engine) Reshard(ctx context.Context) error {
	files, err := winnow.DiscoverShards(e.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no shards found in %s", e.dir)
	}

	// Fail fast on one schema before scanning the whole directory.
	schema, err := shard.ReadSchema(files[0])
	if err != nil {
		return err
	}
	if err := shard.ValidateColumns(schema, append([]string{TextColumn}, e.MetricColumns...)); err != nil {
		return err
	}

	e.log.Infof("sorting by composite score: %s", strings.Join(e.MetricColumns, " + "))
	e.log.Infof("reading %d shards", len(files))

	var texts []string
	var scores []float64
	for i, f := range files {
		tbl, err := shard.ReadTable(ctx, f)
		if err != nil {
			return err
		}
		s, err := Scores(tbl, e.MetricColumns)
		if err != nil {
			tbl.Release()
			return errors.Wrapf(err, "scoring %s", f)
		}
		t, err := textValues(tbl)
		if err != nil {
			tbl.Release()
			return errors.Wrapf(err, "reading text of %s", f)
		}
		tbl.Release()
		scores = append(scores, s...)
		texts = append(texts, t...)
		if (i+1)%500 == 0 {
			e.log.Infof("  read %d/%d shards", i+1, len(files))
		}
	}
	total := len(texts)
	if total == 0 {
		return errors.Errorf("no rows found across %d shards", len(files))
	}
	e.log.Infof("total rows: %d", total)

	// Stable sort on a permutation keeps ties in original order.
	order := make([]int, total)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	var mean float64
	for _, s := range scores {
		mean += s
	}
	if total > 0 {
		mean /= float64(total)
	}
	e.log.Infof("composite score range: %.2f to %.2f, mean %.2f",
		scores[order[total-1]], scores[order[0]], mean)
	e.log.Infof("top-10%% threshold: %.2f | top-25%%: %.2f | median: %.2f",
		scores[order[total/10]], scores[order[total/4]], scores[order[total/2]])

	// The ranking is complete and held in memory; from here on the
	// directory is rewritten wholesale.
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return errors.Wrapf(err, "removing old shard %s", f)
		}
	}

	rps := e.RowsPerShard
	if rps < 1 {
		rps = DefaultRowsPerShard
	}
	numShards := (total + rps - 1) / rps
	e.log.Infof("writing %d sorted shards", numShards)
	for i := 0; i < numShards; i++ {
		start := i * rps
		end := start + rps
		if end > total {
			end = total
		}
		if err := writeTextShard(winnow.ShardPath(e.dir, i), texts, order[start:end]); err != nil {
			return err
		}
	}
	e.log.Infof("done: %d sorted shards written (text-only, highest quality first)", numShards)
	return nil
}

// textValues extracts the text column. Both narrow and wide offset
// encodings are accepted; per-shard chunks stay under the narrow-offset
// limit, so reading never overflows regardless of corpus size.
func textValues(tbl arrow.Table) ([]string, error) {
	idx, err := shard.ColumnIndex(tbl.Schema(), TextColumn)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, tbl.NumRows())
	for _, chunk := range tbl.Column(idx).Data().Chunks() {
		switch c := chunk.(type) {
		case *array.String:
			for i := 0; i < c.Len(); i++ {
				if c.IsNull(i) {
					out = append(out, "")
					continue
				}
				out = append(out, c.Value(i))
			}
		case *array.LargeString:
			for i := 0; i < c.Len(); i++ {
				if c.IsNull(i) {
					out = append(out, "")
					continue
				}
				out = append(out, c.Value(i))
			}
		default:
			return nil, errors.Errorf("text column has type %s, want string", chunk.DataType())
		}
	}
	return out, nil
}

// writeTextShard emits one text-only shard. Output text uses 64-bit
// offsets so a concatenated corpus past the 32-bit addressable range
// can never overflow an emitted column.
func writeTextShard(path string, texts []string, rows []int) error {
	mem := memory.NewGoAllocator()
	b := array.NewLargeStringBuilder(mem)
	defer b.Release()
	for _, r := range rows {
		b.Append(texts[r])
	}
	arr := b.NewArray()
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: TextColumn, Type: arrow.BinaryTypes.LargeString},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(len(rows)))
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	return shard.WriteTable(tbl, path)
}
