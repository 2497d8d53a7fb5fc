// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package winnow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/winnowdata/winnow"
)

func TestShardFilename(t *testing.T) {
	if got, want := winnow.ShardFilename(0), "shard_00000.parquet"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := winnow.ShardFilename(12345), "shard_12345.parquet"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseShardIndex(t *testing.T) {
	tests := []struct {
		name string
		idx  int
		ok   bool
	}{
		{"shard_00000.parquet", 0, true},
		{"shard_00042.parquet", 42, true},
		{"shard_00042.parquet.tmp", 0, false},
		{"shard_abc.parquet", 0, false},
		{"other_00001.parquet", 0, false},
		{"shard_00001.csv", 0, false},
	}
	for _, tt := range tests {
		idx, ok := winnow.ParseShardIndex(tt.name)
		if ok != tt.ok || idx != tt.idx {
			t.Errorf("ParseShardIndex(%q) = (%d, %v), want (%d, %v)", tt.name, idx, ok, tt.idx, tt.ok)
		}
	}
}

func TestDiscoverShards(t *testing.T) {
	td := t.TempDir()
	for _, name := range []string{
		"shard_00001.parquet",
		"shard_00000.parquet",
		"shard_00002.parquet.tmp",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(td, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := winnow.DiscoverShards(td)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 shards, got %d: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "shard_00000.parquet" || filepath.Base(paths[1]) != "shard_00001.parquet" {
		t.Errorf("unexpected order: %v", paths)
	}
}

func TestDiscoverShardsMissingDir(t *testing.T) {
	if _, err := winnow.DiscoverShards(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestCheckContiguous(t *testing.T) {
	ok := []string{"shard_00000.parquet", "shard_00001.parquet", "shard_00002.parquet"}
	if err := winnow.CheckContiguous(ok); err != nil {
		t.Errorf("contiguous set rejected: %v", err)
	}

	gap := []string{"shard_00000.parquet", "shard_00002.parquet"}
	if err := winnow.CheckContiguous(gap); err == nil {
		t.Error("expected gap to be rejected")
	}

	dup := []string{"a/shard_00000.parquet", "b/shard_00000.parquet"}
	if err := winnow.CheckContiguous(dup); err == nil {
		t.Error("expected duplicate to be rejected")
	}
}

func TestRunStats(t *testing.T) {
	stats := winnow.NewRunStats()
	stats.AddDone(100)
	stats.AddDone(50)
	stats.AddSkipped(25)
	stats.AddWarning()
	stats.AddError()

	s := stats.Snapshot()
	if s.Done != 2 || s.Skipped != 1 || s.Warnings != 1 || s.Errors != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.Bytes != 175 {
		t.Errorf("bytes = %d, want 175", s.Bytes)
	}
	if s.Completed() != 5 {
		t.Errorf("completed = %d, want 5", s.Completed())
	}
}
