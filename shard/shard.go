// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package shard reads and writes the local parquet shard files that
// make up the corpus. Every shard is self-describing and
// zstd-compressed; schema checks happen here, once, before any caller
// commits to scanning a whole directory.
package shard

import (
	"bytes"
	"context"
	"os"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/pkg/errors"
)

// writeChunkSize is the arrow chunk size handed to the parquet writer.
const writeChunkSize = 4096

// ReadTable loads a shard file fully into an arrow table. The caller
// owns the table and should Release it.
func ReadTable(ctx context.Context, path string) (arrow.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening shard %s", path)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parquet %s", path)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, errors.Wrapf(err, "opening arrow reader for %s", path)
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return tbl, nil
}

// ReadTableBytes decodes a parquet object held in memory, as delivered
// by the object store.
func ReadTableBytes(ctx context.Context, data []byte) (arrow.Table, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "reading parquet buffer")
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, errors.Wrap(err, "opening arrow reader")
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "decoding parquet buffer")
	}
	return tbl, nil
}

// ReadSchema returns a shard's arrow schema without loading any row
// data.
func ReadSchema(path string) (*arrow.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening shard %s", path)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parquet %s", path)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, errors.Wrapf(err, "opening arrow reader for %s", path)
	}
	schema, err := reader.Schema()
	if err != nil {
		return nil, errors.Wrapf(err, "reading schema of %s", path)
	}
	return schema, nil
}

// WriteTable persists a table as one zstd-compressed shard file at
// path. The write is not atomic; callers that need crash safety write
// to a tmp sibling and rename.
func WriteTable(tbl arrow.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	// pqarrow.WriteTable closes the sink itself; closing f again on
	// success would always fail with os.ErrClosed.
	if err := pqarrow.WriteTable(tbl, f, writeChunkSize, props, pqarrow.DefaultWriterProps()); err != nil {
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = errors.Wrapf(err, "also failed to close %s: %v", path, cerr)
		}
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// DropColumns returns a view of tbl without the named columns. Column
// order is otherwise preserved. If nothing matches, tbl itself is
// returned.
func DropColumns(tbl arrow.Table, drop map[string]struct{}) arrow.Table {
	schema := tbl.Schema()
	var fields []arrow.Field
	var cols []arrow.Column
	dropped := false
	for i, field := range schema.Fields() {
		if _, ok := drop[field.Name]; ok {
			dropped = true
			continue
		}
		fields = append(fields, field)
		cols = append(cols, *tbl.Column(i))
	}
	if !dropped {
		return tbl
	}
	return array.NewTable(arrow.NewSchema(fields, nil), cols, tbl.NumRows())
}

// ValidateColumns fails fast when any required column is missing from
// the schema, naming both the missing and the available columns.
func ValidateColumns(schema *arrow.Schema, required []string) error {
	var missing []string
	for _, name := range required {
		if !schema.HasField(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	available := make([]string, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		available = append(available, f.Name)
	}
	return errors.Errorf("missing required columns %v; shard schema has %v", missing, available)
}

// ColumnIndex returns the position of a named column, or an error
// naming the schema's columns.
func ColumnIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return 0, errors.Errorf("column %q not in shard schema", name)
	}
	return indices[0], nil
}
