// Copyright 2025 Winnow Data.
// SPDX-License-Identifier: Apache-2.0
package winnow

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RunStats accumulates per-run fetch accounting. Counters are atomic so
// they can be bumped from worker goroutines and read by a reporter at
// the same time.
type RunStats struct {
	done     uint64
	skipped  uint64
	warnings uint64
	errs     uint64
	bytes    uint64

	start time.Time
}

// NewRunStats returns a RunStats with its clock started.
func NewRunStats() *RunStats {
	return &RunStats{start: time.Now()}
}

func (r *RunStats) AddDone(nbytes int64) {
	atomic.AddUint64(&r.done, 1)
	atomic.AddUint64(&r.bytes, uint64(nbytes))
}

func (r *RunStats) AddSkipped(nbytes int64) {
	atomic.AddUint64(&r.skipped, 1)
	atomic.AddUint64(&r.bytes, uint64(nbytes))
}

func (r *RunStats) AddWarning() {
	atomic.AddUint64(&r.warnings, 1)
}

func (r *RunStats) AddError() {
	atomic.AddUint64(&r.errs, 1)
}

// Snapshot returns a point-in-time copy of the counters for reporting.
// Individual loads are atomic; the set as a whole is advisory, which is
// all progress output needs.
func (r *RunStats) Snapshot() Summary {
	return Summary{
		Done:     atomic.LoadUint64(&r.done),
		Skipped:  atomic.LoadUint64(&r.skipped),
		Warnings: atomic.LoadUint64(&r.warnings),
		Errors:   atomic.LoadUint64(&r.errs),
		Bytes:    atomic.LoadUint64(&r.bytes),
		Elapsed:  time.Since(r.start),
	}
}

// Summary is a view of a run's accounting, suitable for structured
// output.
type Summary struct {
	Done     uint64        `json:"done"`
	Skipped  uint64        `json:"skipped"`
	Warnings uint64        `json:"warnings"`
	Errors   uint64        `json:"errors"`
	Bytes    uint64        `json:"bytes"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Completed is the number of sources accounted for, by any outcome.
func (s Summary) Completed() uint64 {
	return s.Done + s.Skipped + s.Warnings + s.Errors
}

// Rate is shards fetched per second since the run started.
func (s Summary) Rate() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Done) / secs
}

func (s Summary) String() string {
	return fmt.Sprintf("done=%d skipped=%d warnings=%d errors=%d bytes=%.1fGB elapsed=%s",
		s.Done, s.Skipped, s.Warnings, s.Errors, float64(s.Bytes)/1e9, s.Elapsed.Truncate(time.Millisecond))
}
