// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package count implements disk-based counting of canonical k-mers:
// the input is scanned in one or more passes, k-mers are hashed into
// on-disk partitions sized to the memory budget, and every partition is
// sorted and reduced to the k-mers whose multiplicity reaches the
// solidity threshold. Multiplicities are 32-bit and saturate instead
// of wrapping.
package count

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"github.com/ysard/dskmer/dskmer/kmer"
)

// Error kinds surfaced by the engine. Wrapped errors carry detail;
// test with errors.Is.
var (
	// ErrInvalidConfig marks configuration rejected before any I/O.
	ErrInvalidConfig = errors.New("count: invalid configuration")

	// ErrResourceExhausted marks an infeasible pass/partition plan or
	// exhausted disk space.
	ErrResourceExhausted = errors.New("count: resource budget exhausted")

	// ErrInternal marks a violated invariant, e.g., a corrupt
	// partition file or runaway partition splitting.
	ErrInternal = errors.New("count: internal error")
)

// CountingOptions parameterizes one counting run.
type CountingOptions struct {
	// K is the k-mer size, in [1, 128].
	K int

	// MinCount is the solidity threshold: only k-mers occurring at
	// least MinCount times are emitted. Must be ≥ 1.
	MinCount int

	// MaxMemory bounds the memory used for sorting, in MiB.
	// 0 means the default of 1000.
	MaxMemory int

	// MaxDisk bounds the temporary data written per pass, in MiB.
	// 0 means unbounded (a single pass).
	MaxDisk int

	// Threads is the number of partition-reducing workers.
	// 0 means the number of CPUs.
	Threads int

	// TempPrefix prefixes all temporary partition files; it may
	// contain a directory. Empty means "tmp.".
	TempPrefix string

	// MaxOpenFiles caps the number of simultaneously open partition
	// files. 0 means the default of 30.
	MaxOpenFiles int

	// HistogramFile, when non-empty, receives a tab-delimited
	// count-multiplicity histogram.
	HistogramFile string

	// SummaryFile, when non-empty, receives a TOML run summary.
	SummaryFile string

	// Verbose enables the progress bar.
	Verbose bool

	// OnProgress, when non-nil, is called after each reduced
	// partition with the number of finished and total partitions.
	OnProgress func(done, total int)
}

// DefaultMaxOpenFiles is the default cap on simultaneously open
// partition files, well below common file-descriptor limits.
const DefaultMaxOpenFiles = 30

const defaultMaxMemory = 1000 // MiB

func applyDefaults(opt *CountingOptions) {
	if opt.Threads == 0 {
		opt.Threads = runtime.NumCPU()
	}
	if opt.TempPrefix == "" {
		opt.TempPrefix = "tmp."
	}
	if opt.MaxOpenFiles == 0 {
		opt.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if opt.MaxMemory == 0 {
		opt.MaxMemory = defaultMaxMemory
	}
}

// CheckCountingOptions checks the important options.
func CheckCountingOptions(opt *CountingOptions) error {
	if opt.K < 1 || opt.K > kmer.MaxK {
		return errors.Wrapf(ErrInvalidConfig, "invalid k value: %d, valid range: [1, %d]", opt.K, kmer.MaxK)
	}
	if opt.MinCount < 1 {
		return errors.Wrapf(ErrInvalidConfig, "invalid solidity threshold: %d, should be >= 1", opt.MinCount)
	}
	if opt.MaxMemory < 1 {
		return errors.Wrapf(ErrInvalidConfig, "invalid memory budget: %d MiB, should be >= 1", opt.MaxMemory)
	}
	if opt.MaxDisk < 0 {
		return errors.Wrapf(ErrInvalidConfig, "invalid disk budget: %d MiB, should be >= 0", opt.MaxDisk)
	}
	if opt.Threads < 1 {
		return errors.Wrapf(ErrInvalidConfig, "invalid number of threads: %d, should be >= 1", opt.Threads)
	}
	if opt.MaxOpenFiles < 2 {
		return errors.Wrapf(ErrInvalidConfig, "invalid max open files: %d, should be >= 2", opt.MaxOpenFiles)
	}
	if opt.TempPrefix == "" {
		return errors.Wrapf(ErrInvalidConfig, "empty temporary file prefix")
	}
	return nil
}

func (opt *CountingOptions) String() string {
	return fmt.Sprintf("k=%d minCount=%d maxMemory=%dMiB maxDisk=%dMiB threads=%d",
		opt.K, opt.MinCount, opt.MaxMemory, opt.MaxDisk, opt.Threads)
}
