// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package rank orders the corpus by composite document quality and
// rewrites it into fixed-size shards, either with a full in-memory sort
// or with a memory-bounded external top-K pass.
package rank

import (
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/pkg/errors"

	"github.com/winnowdata/winnow/shard"
)

// Scores computes one composite score per document: the arithmetic mean
// of the named metric columns with nulls treated as zero. It is pure
// and order-preserving; a missing column fails before any row work.
func Scores(tbl arrow.Table, cols []string) ([]float64, error) {
	if len(cols) == 0 {
		return nil, errors.New("no metric columns configured")
	}
	if err := shard.ValidateColumns(tbl.Schema(), cols); err != nil {
		return nil, err
	}

	n := int(tbl.NumRows())
	sums := make([]float64, n)
	for _, name := range cols {
		idx, err := shard.ColumnIndex(tbl.Schema(), name)
		if err != nil {
			return nil, err
		}
		row := 0
		for _, chunk := range tbl.Column(idx).Data().Chunks() {
			vals, ok := chunk.(*array.Float64)
			if !ok {
				return nil, errors.Errorf("metric column %q has type %s, want float64", name, chunk.DataType())
			}
			for i := 0; i < vals.Len(); i++ {
				if !vals.IsNull(i) {
					sums[row] += vals.Value(i)
				}
				row++
			}
		}
		if row != n {
			return nil, errors.Errorf("metric column %q has %d rows, table has %d", name, row, n)
		}
	}
	for i := range sums {
		sums[i] /= float64(len(cols))
	}
	return sums, nil
}
