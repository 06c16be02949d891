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

package count

import (
	"github.com/pkg/errors"
)

// writerBufTotal is the aggregate byte budget for the partition
// writer's in-memory buffers, reserved out of the memory budget.
const writerBufTotal = 8 << 20

// plan is the pass/partition layout derived from the bank estimate and
// the resource budgets.
type plan struct {
	volume       uint64 // estimated bytes of k-mer data over the whole run
	passes       int
	partitions   int // per pass
	memPerWorker uint64
	recordSize   int
}

// computePlan derives the number of passes and partitions such that
// every pass writes at most the disk budget and every partition fits
// into one worker's share of the memory budget. It fails with
// ErrResourceExhausted instead of exceeding either budget.
func computePlan(est BankEstimate, recordSize int, opt *CountingOptions) (plan, error) {
	pl := plan{recordSize: recordSize}

	mem := uint64(opt.MaxMemory) << 20
	reserve := uint64(writerBufTotal)
	if reserve > mem/2 {
		reserve = mem / 2
	}
	mem -= reserve

	pl.memPerWorker = mem / uint64(opt.Threads)
	if pl.memPerWorker < uint64(recordSize) {
		return pl, errors.Wrapf(ErrResourceExhausted,
			"memory budget of %d MiB is too small for %d workers", opt.MaxMemory, opt.Threads)
	}

	pl.volume = est.TotalBases * uint64(recordSize)

	pl.passes = 1
	if opt.MaxDisk > 0 {
		disk := uint64(opt.MaxDisk) << 20
		pl.passes = int((pl.volume + disk - 1) / disk)
		if pl.passes < 1 {
			pl.passes = 1
		}
	}

	perPass := (pl.volume + uint64(pl.passes) - 1) / uint64(pl.passes)
	pl.partitions = int((perPass + pl.memPerWorker - 1) / pl.memPerWorker)
	if pl.partitions < 1 {
		pl.partitions = 1
	}
	if pl.partitions > opt.MaxOpenFiles {
		pl.partitions = opt.MaxOpenFiles
		if perPass/uint64(pl.partitions) > pl.memPerWorker {
			return pl, errors.Wrapf(ErrResourceExhausted,
				"no feasible plan: %d bytes per pass over %d partitions exceeds %d bytes per worker",
				perPass, pl.partitions, pl.memPerWorker)
		}
	}

	return pl, nil
}
