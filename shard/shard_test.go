// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package shard_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/winnowdata/winnow/shard"
)

// testTable builds a small document table: text plus one nullable
// metric plus an embedding-like column.
func testTable(t *testing.T, texts []string, metric []float64, valid []bool) arrow.Table {
	t.Helper()
	mem := memory.NewGoAllocator()

	tb := array.NewStringBuilder(mem)
	defer tb.Release()
	tb.AppendValues(texts, nil)
	textArr := tb.NewArray()

	mb := array.NewFloat64Builder(mem)
	defer mb.Release()
	mb.AppendValues(metric, valid)
	metricArr := mb.NewArray()

	eb := array.NewFloat64Builder(mem)
	defer eb.Release()
	for range texts {
		eb.Append(0.5)
	}
	embArr := eb.NewArray()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "quality", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "embedding", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{textArr, metricArr, embArr}, int64(len(texts)))
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}

func TestWriteReadRoundtrip(t *testing.T) {
	ctx := context.Background()
	tbl := testTable(t, []string{"alpha", "beta", "gamma"}, []float64{1, 2, 3}, nil)
	defer tbl.Release()

	path := filepath.Join(t.TempDir(), "shard_00000.parquet")
	require.NoError(t, shard.WriteTable(tbl, path))

	got, err := shard.ReadTable(ctx, path)
	require.NoError(t, err)
	defer got.Release()

	require.Equal(t, int64(3), got.NumRows())
	require.True(t, got.Schema().HasField("text"))
	require.True(t, got.Schema().HasField("quality"))
	require.True(t, got.Schema().HasField("embedding"))
}

func TestReadSchema(t *testing.T) {
	tbl := testTable(t, []string{"a"}, []float64{1}, nil)
	defer tbl.Release()

	path := filepath.Join(t.TempDir(), "shard_00000.parquet")
	require.NoError(t, shard.WriteTable(tbl, path))

	schema, err := shard.ReadSchema(path)
	require.NoError(t, err)
	require.True(t, schema.HasField("quality"))
	require.False(t, schema.HasField("nope"))
}

func TestDropColumns(t *testing.T) {
	tbl := testTable(t, []string{"a", "b"}, []float64{1, 2}, nil)
	defer tbl.Release()

	out := shard.DropColumns(tbl, map[string]struct{}{"embedding": {}})
	require.False(t, out.Schema().HasField("embedding"))
	require.True(t, out.Schema().HasField("text"))
	require.True(t, out.Schema().HasField("quality"))
	require.Equal(t, int64(2), out.NumRows())

	// Preserved columns keep their values.
	texts := out.Column(0).Data().Chunks()[0].(*array.String)
	require.Equal(t, "a", texts.Value(0))
	require.Equal(t, "b", texts.Value(1))
}

func TestDropColumnsNoMatch(t *testing.T) {
	tbl := testTable(t, []string{"a"}, []float64{1}, nil)
	defer tbl.Release()

	out := shard.DropColumns(tbl, map[string]struct{}{"missing": {}})
	require.Equal(t, tbl.Schema().String(), out.Schema().String())
}

func TestValidateColumns(t *testing.T) {
	tbl := testTable(t, []string{"a"}, []float64{1}, nil)
	defer tbl.Release()

	require.NoError(t, shard.ValidateColumns(tbl.Schema(), []string{"text", "quality"}))

	err := shard.ValidateColumns(tbl.Schema(), []string{"text", "absent_col"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "absent_col")
	require.Contains(t, err.Error(), "text")
}

func TestColumnIndex(t *testing.T) {
	tbl := testTable(t, []string{"a"}, []float64{1}, nil)
	defer tbl.Release()

	idx, err := shard.ColumnIndex(tbl.Schema(), "quality")
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	_, err = shard.ColumnIndex(tbl.Schema(), "nope")
	require.Error(t, err)
}
