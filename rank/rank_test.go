// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package rank_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/winnowdata/winnow"
	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/rank"
	"github.com/winnowdata/winnow/shard"
)

// writeSourceShard writes a parquet shard with a text column and the
// given metric columns.
func writeSourceShard(t *testing.T, path string, texts []string, metrics map[string][]float64) {
	t.Helper()
	mem := memory.NewGoAllocator()

	fields := []arrow.Field{{Name: "text", Type: arrow.BinaryTypes.String}}
	tb := array.NewStringBuilder(mem)
	defer tb.Release()
	tb.AppendValues(texts, nil)
	arrays := []arrow.Array{tb.NewArray()}

	// Deterministic column order for a stable schema.
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	for _, name := range names {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
		fb := array.NewFloat64Builder(mem)
		fb.AppendValues(metrics[name], nil)
		arrays = append(arrays, fb.NewArray())
		fb.Release()
	}

	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, arrays, int64(len(texts)))
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()
	require.NoError(t, shard.WriteTable(tbl, path))
}

// readTexts returns the text column of every shard in dir, in shard
// index order.
func readTexts(t *testing.T, dir string) [][]string {
	t.Helper()
	paths, err := winnow.DiscoverShards(dir)
	require.NoError(t, err)
	var out [][]string
	for _, p := range paths {
		tbl, err := shard.ReadTable(context.Background(), p)
		require.NoError(t, err)
		idx, err := shard.ColumnIndex(tbl.Schema(), "text")
		require.NoError(t, err)
		var texts []string
		for _, chunk := range tbl.Column(idx).Data().Chunks() {
			switch a := chunk.(type) {
			case *array.String:
				for i := 0; i < a.Len(); i++ {
					texts = append(texts, a.Value(i))
				}
			case *array.LargeString:
				for i := 0; i < a.Len(); i++ {
					texts = append(texts, a.Value(i))
				}
			default:
				t.Fatalf("unexpected text chunk type %T", chunk)
			}
		}
		tbl.Release()
		out = append(out, texts)
	}
	return out
}

func TestScores(t *testing.T) {
	mem := memory.NewGoAllocator()

	tb := array.NewStringBuilder(mem)
	defer tb.Release()
	tb.AppendValues([]string{"a", "b"}, nil)

	ab := array.NewFloat64Builder(mem)
	defer ab.Release()
	ab.AppendValues([]float64{0, 4.0}, []bool{false, true})

	bb := array.NewFloat64Builder(mem)
	defer bb.Release()
	bb.AppendValues([]float64{2.0, 2.0}, nil)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "alpha", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "beta", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{tb.NewArray(), ab.NewArray(), bb.NewArray()}, 2)
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	scores, err := rank.Scores(tbl, []string{"alpha", "beta"})
	require.NoError(t, err)
	// Row 0: null alpha counts as zero, (0 + 2) / 2.
	require.Equal(t, []float64{1.0, 3.0}, scores)

	_, err = rank.Scores(tbl, []string{"alpha", "absent"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "absent")

	_, err = rank.Scores(tbl, nil)
	require.Error(t, err)
}

func TestReshardGlobalOrder(t *testing.T) {
	dir := t.TempDir()
	// Interleave high and low scores across the two source shards so a
	// per-shard sort would get the global order wrong.
	writeSourceShard(t, winnow.ShardPath(dir, 0),
		[]string{"p90", "p10", "p70"},
		map[string][]float64{"alpha": {9.0, 1.0, 7.0}})
	writeSourceShard(t, winnow.ShardPath(dir, 1),
		[]string{"p100", "p40", "p80"},
		map[string][]float64{"alpha": {10.0, 4.0, 8.0}})

	e := rank.NewEngine(dir, []string{"alpha"}, logger.NewLogfLogger(t))
	e.RowsPerShard = 4
	require.NoError(t, e.Reshard(context.Background()))

	shards := readTexts(t, dir)
	require.Len(t, shards, 2)
	require.Equal(t, []string{"p100", "p90", "p80", "p70"}, shards[0])
	require.Equal(t, []string{"p40", "p10"}, shards[1])

	paths, err := winnow.DiscoverShards(dir)
	require.NoError(t, err)
	require.NoError(t, winnow.CheckContiguous(paths))

	// Output shards carry only the text column.
	schema, err := shard.ReadSchema(paths[0])
	require.NoError(t, err)
	require.Equal(t, 1, len(schema.Fields()))
	require.Equal(t, "text", schema.Field(0).Name)
}

func TestReshardTieOrderStable(t *testing.T) {
	dir := t.TempDir()
	writeSourceShard(t, winnow.ShardPath(dir, 0),
		[]string{"first", "second"},
		map[string][]float64{"alpha": {5.0, 5.0}})
	writeSourceShard(t, winnow.ShardPath(dir, 1),
		[]string{"third"},
		map[string][]float64{"alpha": {5.0}})

	e := rank.NewEngine(dir, []string{"alpha"}, logger.NewLogfLogger(t))
	require.NoError(t, e.Reshard(context.Background()))

	shards := readTexts(t, dir)
	require.Len(t, shards, 1)
	require.Equal(t, []string{"first", "second", "third"}, shards[0])
}

func TestReshardMissingMetricLeavesInputs(t *testing.T) {
	dir := t.TempDir()
	writeSourceShard(t, winnow.ShardPath(dir, 0),
		[]string{"a", "b"},
		map[string][]float64{"alpha": {1.0, 2.0}})

	before, err := os.Stat(winnow.ShardPath(dir, 0))
	require.NoError(t, err)

	e := rank.NewEngine(dir, []string{"nope"}, logger.NewLogfLogger(t))
	err = e.Reshard(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope")

	after, err := os.Stat(winnow.ShardPath(dir, 0))
	require.NoError(t, err)
	require.Equal(t, before.Size(), after.Size())
}

func TestReshardNoShards(t *testing.T) {
	e := rank.NewEngine(t.TempDir(), []string{"alpha"}, logger.NewLogfLogger(t))
	require.Error(t, e.Reshard(context.Background()))
}

func TestReshardTopPercentBadPercent(t *testing.T) {
	e := rank.NewEngine(t.TempDir(), []string{"alpha"}, logger.NewLogfLogger(t))
	for _, pct := range []float64{0, -1, 100.5} {
		require.Error(t, e.ReshardTopPercent(context.Background(), pct, rank.TopKOptions{}))
	}
}

func TestReshardTopPercent(t *testing.T) {
	dir := t.TempDir()
	// 100 rows split over 4 shards, scores 0..99.
	n := 0
	for s := 0; s < 4; s++ {
		var texts []string
		var alpha []float64
		for i := 0; i < 25; i++ {
			texts = append(texts, fmt.Sprintf("doc%03d", n))
			alpha = append(alpha, float64(n))
			n++
		}
		writeSourceShard(t, winnow.ShardPath(dir, s), texts, map[string][]float64{"alpha": alpha})
	}

	e := rank.NewEngine(dir, []string{"alpha"}, logger.NewLogfLogger(t))
	e.RowsPerShard = 7
	require.NoError(t, e.ReshardTopPercent(context.Background(), 10, rank.TopKOptions{MemoryLimit: "512MB", Threads: 2}))

	paths, err := winnow.DiscoverShards(dir)
	require.NoError(t, err)
	require.NoError(t, winnow.CheckContiguous(paths))

	// k = ceil(100 * 10 / 100) = 10 rows survive, all with scores
	// above the cut line.
	var total int
	for _, p := range paths {
		tbl, err := shard.ReadTable(context.Background(), p)
		require.NoError(t, err)
		require.Equal(t, []string{"score", "text"}, fieldNames(tbl.Schema()))
		idx, err := shard.ColumnIndex(tbl.Schema(), "score")
		require.NoError(t, err)
		for _, chunk := range tbl.Column(idx).Data().Chunks() {
			fa, ok := chunk.(*array.Float64)
			require.True(t, ok)
			for i := 0; i < fa.Len(); i++ {
				require.GreaterOrEqual(t, fa.Value(i), 90.0)
				total++
			}
		}
		tbl.Release()
	}
	require.Equal(t, 10, total)

	// No staging or spill residue.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, ent := range entries {
		require.False(t, ent.IsDir(), "leftover directory %s", ent.Name())
	}
}

func TestReshardTopPercentAbortLeavesInputs(t *testing.T) {
	dir := t.TempDir()
	writeSourceShard(t, winnow.ShardPath(dir, 0),
		[]string{"a"},
		map[string][]float64{"alpha": {1.0}})

	e := rank.NewEngine(dir, []string{"missing"}, logger.NewLogfLogger(t))
	require.Error(t, e.ReshardTopPercent(context.Background(), 50, rank.TopKOptions{}))

	_, err := os.Stat(winnow.ShardPath(dir, 0))
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(winnow.ShardPath(dir, 0)), entries[0].Name())
}

func TestReshardTopPercentCorruptShardLeavesInputs(t *testing.T) {
	dir := t.TempDir()
	writeSourceShard(t, winnow.ShardPath(dir, 0),
		[]string{"a", "b"},
		map[string][]float64{"alpha": {1.0, 2.0}})
	// Valid shard first, garbage second: the fail-fast schema check
	// only reads the first shard, so this failure surfaces while the
	// external engine is already scanning.
	garbage := []byte("this is not a parquet file")
	if err := os.WriteFile(winnow.ShardPath(dir, 1), garbage, 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(winnow.ShardPath(dir, 0))
	require.NoError(t, err)

	e := rank.NewEngine(dir, []string{"alpha"}, logger.NewLogfLogger(t))
	require.Error(t, e.ReshardTopPercent(context.Background(), 50, rank.TopKOptions{}))

	// Both originals survive untouched and no staging residue remains.
	after, err := os.ReadFile(winnow.ShardPath(dir, 0))
	require.NoError(t, err)
	require.Equal(t, before, after)
	corrupt, err := os.ReadFile(winnow.ShardPath(dir, 1))
	require.NoError(t, err)
	require.Equal(t, garbage, corrupt)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}
