// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0

// Package winnow holds the shared data model for the shard ingestion and
// quality-ranked resharding pipeline: source objects, the on-disk shard
// naming scheme, and run accounting.
package winnow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ShardExt is the file extension of every shard in a data directory.
const ShardExt = ".parquet"

// shardPrefix is the filename prefix of every shard.
const shardPrefix = "shard_"

// TmpSuffix marks in-flight shard writes. A file carrying it is never a
// valid shard; it is renamed into place only once fully written.
const TmpSuffix = ".tmp"

// SourceObject identifies one remote object in the dataset listing. The
// listing is enumerated once per run, sorted by Key, and a source's
// position in it assigns its shard index.
type SourceObject struct {
	Key  string
	Size int64
}

// ShardFilename returns the canonical filename for a shard index,
// e.g. "shard_00042.parquet".
func ShardFilename(index int) string {
	return fmt.Sprintf("%s%05d%s", shardPrefix, index, ShardExt)
}

// ShardPath returns the full path of the shard with the given index
// inside dir.
func ShardPath(dir string, index int) string {
	return filepath.Join(dir, ShardFilename(index))
}

// ParseShardIndex extracts the index from a shard filename. It reports
// false for anything that is not a shard file, including tmp siblings.
func ParseShardIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, shardPrefix) || !strings.HasSuffix(name, ShardExt) {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, shardPrefix), ShardExt)
	idx, err := strconv.Atoi(mid)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// DiscoverShards returns the sorted full paths of all shard files in dir.
// Tmp siblings and unrelated files are ignored. A missing directory is an
// error; an empty directory yields an empty slice.
func DiscoverShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading shard directory %s", dir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ParseShardIndex(entry.Name()); !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CheckContiguous verifies that the given shard paths cover indices
// 0..N-1 with no gaps and no duplicates.
func CheckContiguous(paths []string) error {
	seen := make(map[int]string, len(paths))
	for _, p := range paths {
		idx, ok := ParseShardIndex(filepath.Base(p))
		if !ok {
			return errors.Errorf("not a shard file: %s", p)
		}
		if prev, dup := seen[idx]; dup {
			return errors.Errorf("duplicate shard index %d: %s and %s", idx, prev, p)
		}
		seen[idx] = p
	}
	for i := 0; i < len(paths); i++ {
		if _, ok := seen[i]; !ok {
			return errors.Errorf("missing shard index %d (have %d shards)", i, len(paths))
		}
	}
	return nil
}
