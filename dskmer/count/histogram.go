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
	"fmt"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// maxHistogramCount is the largest multiplicity tallied separately;
// higher counts are clamped into the last bin.
const maxHistogramCount = 10000

// Histogram tallies how many distinct k-mers occur with each
// multiplicity. A nil *Histogram is a no-op sink, so callers need not
// branch on whether one was configured.
type Histogram struct {
	max    uint32
	counts []uint64 // index 1..max
}

// NewHistogram creates a histogram for multiplicities up to max.
func NewHistogram(max int) *Histogram {
	return &Histogram{max: uint32(max), counts: make([]uint64, max+1)}
}

// Record tallies one distinct k-mer with multiplicity c.
func (h *Histogram) Record(c uint32) {
	if h == nil {
		return
	}
	if c > h.max {
		c = h.max
	}
	h.counts[c]++
}

// Merge adds another histogram, e.g., a per-partition accumulator.
func (h *Histogram) Merge(o *Histogram) {
	if h == nil || o == nil {
		return
	}
	for i, v := range o.counts {
		h.counts[i] += v
	}
}

// WriteFile writes the non-empty bins as tab-delimited
// "multiplicity<TAB>distinct-kmers" lines.
func (h *Histogram) WriteFile(file string) error {
	outfh, err := xopen.Wopen(file)
	if err != nil {
		return errors.Wrapf(err, "writing histogram file")
	}
	defer outfh.Close()

	for c := uint32(1); c <= h.max; c++ {
		if h.counts[c] == 0 {
			continue
		}
		fmt.Fprintf(outfh, "%d\t%d\n", c, h.counts[c])
	}
	return outfh.Flush()
}
