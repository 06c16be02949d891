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
	"testing"

	"github.com/pkg/errors"
)

func TestComputePlan(t *testing.T) {
	opt := func(mem, disk, threads, maxFiles int) *CountingOptions {
		return &CountingOptions{
			K: 21, MinCount: 1,
			MaxMemory: mem, MaxDisk: disk,
			Threads: threads, MaxOpenFiles: maxFiles,
			TempPrefix: "tmp.",
		}
	}

	// empty bank: minimal plan
	pl, err := computePlan(BankEstimate{}, 8, opt(1000, 0, 4, 30))
	if err != nil {
		t.Fatal(err)
	}
	if pl.passes != 1 || pl.partitions != 1 {
		t.Errorf("empty bank: plan %d x %d, want 1 x 1", pl.passes, pl.partitions)
	}

	// unbounded disk: a single pass
	pl, err = computePlan(BankEstimate{TotalBases: 100 << 20}, 8, opt(1000, 0, 4, 30))
	if err != nil {
		t.Fatal(err)
	}
	if pl.passes != 1 {
		t.Errorf("unbounded disk: %d passes, want 1", pl.passes)
	}
	if pl.volume != 800<<20 {
		t.Errorf("volume = %d, want %d", pl.volume, uint64(800)<<20)
	}

	// disk budget splits the volume into passes
	pl, err = computePlan(BankEstimate{TotalBases: 100 << 20}, 8, opt(1000, 300, 4, 30))
	if err != nil {
		t.Fatal(err)
	}
	if pl.passes != 3 {
		t.Errorf("disk-bounded: %d passes, want 3", pl.passes)
	}

	// every partition must fit into one worker's memory share:
	// 800 MiB volume, (64-8) MiB / 4 workers = 14 MiB per worker
	pl, err = computePlan(BankEstimate{TotalBases: 100 << 20}, 8, opt(64, 0, 4, 100))
	if err != nil {
		t.Fatal(err)
	}
	if perPart := pl.volume / uint64(pl.partitions); perPart > pl.memPerWorker {
		t.Errorf("partition bytes %d exceed worker budget %d", perPart, pl.memPerWorker)
	}

	// the open-file cap makes small budgets infeasible
	_, err = computePlan(BankEstimate{TotalBases: 1 << 40}, 8, opt(1, 0, 1, 30))
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("got %v, want ErrResourceExhausted", err)
	}

	// with enough memory per worker the plan stays under the cap:
	// 1 GiB volume, 56 MiB per worker -> 19 partitions
	pl, err = computePlan(BankEstimate{TotalBases: 1 << 27}, 8, opt(64, 0, 1, 30))
	if err != nil {
		t.Fatal(err)
	}
	if pl.partitions > 30 {
		t.Errorf("%d partitions exceed the open-file cap", pl.partitions)
	}
}

func TestCheckCountingOptions(t *testing.T) {
	valid := func() *CountingOptions {
		return &CountingOptions{
			K: 21, MinCount: 2, MaxMemory: 100,
			Threads: 2, MaxOpenFiles: 30, TempPrefix: "tmp.",
		}
	}

	if err := CheckCountingOptions(valid()); err != nil {
		t.Errorf("valid options rejected: %s", err)
	}

	mutations := []func(*CountingOptions){
		func(o *CountingOptions) { o.K = 0 },
		func(o *CountingOptions) { o.K = 129 },
		func(o *CountingOptions) { o.MinCount = 0 },
		func(o *CountingOptions) { o.MaxMemory = 0 },
		func(o *CountingOptions) { o.MaxDisk = -1 },
		func(o *CountingOptions) { o.Threads = 0 },
		func(o *CountingOptions) { o.MaxOpenFiles = 1 },
		func(o *CountingOptions) { o.TempPrefix = "" },
	}
	for i, mutate := range mutations {
		o := valid()
		mutate(o)
		if err := CheckCountingOptions(o); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("mutation %d: got %v, want ErrInvalidConfig", i, err)
		}
	}
}
