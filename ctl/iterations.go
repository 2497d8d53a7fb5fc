// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"

	"github.com/winnowdata/winnow/logger"
	"github.com/winnowdata/winnow/shard"
)

// IterationsCommand computes how many optimization steps a full pass
// over the local shards takes, from an exact token-count column.
type IterationsCommand struct {
	DataDir        string
	Glob           string
	TokenColumn    string
	TotalBatchSize int

	stdout  io.Writer
	logDest logger.Logger
}

// NewIterationsCommand returns a new instance of IterationsCommand.
func NewIterationsCommand(logdest logger.Logger) *IterationsCommand {
	if logdest == nil {
		logdest = logger.StderrLogger
	}
	return &IterationsCommand{
		DataDir:        DefaultDataDir(),
		Glob:           "shard_*.parquet",
		TokenColumn:    "token_count",
		TotalBatchSize: 524288,
		stdout:         os.Stdout,
		logDest:        logdest,
	}
}

// SetLogger replaces the log destination once flags are parsed.
func (cmd *IterationsCommand) SetLogger(l logger.Logger) {
	cmd.logDest = l
}

type iterationsReport struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	Files          int    `json:"files"`
	Rows           int64  `json:"rows,omitempty"`
	TokenColumn    string `json:"token_col"`
	Tokens         int64  `json:"tokens,omitempty"`
	TotalBatchSize int    `json:"total_batch_size"`
	NumIterations  int64  `json:"num_iterations"`
}

// Run sums the token column across every shard and reports iteration
// counts as JSON.
func (cmd *IterationsCommand) Run(ctx context.Context) error {
	if cmd.TotalBatchSize <= 0 {
		return errors.New("total-batch-size must be > 0")
	}
	pattern := filepath.ToSlash(filepath.Join(cmd.DataDir, cmd.Glob))
	files, err := filepath.Glob(filepath.Join(cmd.DataDir, cmd.Glob))
	if err != nil {
		return errors.Wrapf(err, "globbing %s", pattern)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return errors.Errorf("no parquet files matched %s", pattern)
	}

	// Schema check on one shard before the full scan.
	schema, err := shard.ReadSchema(files[0])
	if err != nil {
		return err
	}
	if !schema.HasField(cmd.TokenColumn) {
		available := make([]string, 0, len(schema.Fields()))
		for _, f := range schema.Fields() {
			available = append(available, f.Name)
		}
		report := iterationsReport{
			Status:         "missing_token_col",
			Message:        fmt.Sprintf("column %q not found; first shard has %v", cmd.TokenColumn, available),
			Files:          len(files),
			TokenColumn:    cmd.TokenColumn,
			TotalBatchSize: cmd.TotalBatchSize,
		}
		if err := cmd.write(report); err != nil {
			return err
		}
		return errors.Errorf("token column %q not found", cmd.TokenColumn)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return errors.Wrap(err, "opening duckdb")
	}
	defer db.Close()

	scan := fmt.Sprintf("read_parquet('%s', union_by_name=true)", strings.ReplaceAll(pattern, "'", "''"))
	var rows int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", scan)).Scan(&rows); err != nil {
		return errors.Wrap(err, "counting rows")
	}
	var tokens sql.NullInt64
	q := fmt.Sprintf("SELECT SUM(COALESCE(CAST(%s AS BIGINT), 0)) FROM %s", quoteIdent(cmd.TokenColumn), scan)
	if err := db.QueryRowContext(ctx, q).Scan(&tokens); err != nil {
		return errors.Wrap(err, "summing tokens")
	}

	report := iterationsReport{
		Status:         "ok",
		Files:          len(files),
		Rows:           rows,
		TokenColumn:    cmd.TokenColumn,
		Tokens:         tokens.Int64,
		TotalBatchSize: cmd.TotalBatchSize,
	}
	if tokens.Int64 > 0 {
		report.NumIterations = int64(math.Ceil(float64(tokens.Int64) / float64(cmd.TotalBatchSize)))
	}
	return cmd.write(report)
}

// quoteIdent quotes a SQL identifier, doubling any embedded quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (cmd *IterationsCommand) write(report iterationsReport) error {
	enc := json.NewEncoder(cmd.stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(report), "writing report")
}
