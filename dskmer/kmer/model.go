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

package kmer

import "fmt"

// Model rolls a length-k window over a sequence and yields one canonical
// k-mer per valid window advance. Both strands are maintained
// incrementally, so advancing by one base is O(1) for any width.
// A Model is owned by a single goroutine.
type Model[K Value[K]] struct {
	k      int
	mask   K
	shift  uint // bit offset of the high base: 2*(k-1)
	fwd    K
	rc     K
	filled int
}

// NewModel creates a Model for length-k k-mers.
// k must satisfy 1 ≤ k ≤ 32*words(K).
func NewModel[K Value[K]](k int) (*Model[K], error) {
	var zero K
	if k < 1 || k > zero.Words()*32 {
		return nil, fmt.Errorf("kmer: invalid k value: %d, valid range: [1, %d]", k, zero.Words()*32)
	}
	m := &Model[K]{k: k, shift: uint(k-1) << 1}
	m.mask = zero.MaskFor(k)
	return m, nil
}

// K returns the configured k-mer size.
func (m *Model[K]) K() int { return m.k }

// Reset invalidates the window, e.g., at a sequence boundary.
func (m *Model[K]) Reset() {
	var zero K
	m.fwd, m.rc = zero, zero
	m.filled = 0
}

// Feed advances the window by one base. It returns the canonical k-mer
// of the current window and true once k valid bases have accumulated.
// A base outside ACGTacgt invalidates the window; emission resumes
// after k further valid bases.
func (m *Model[K]) Feed(base byte) (K, bool) {
	code := base2code[base]
	if code == invalidCode {
		m.Reset()
		var zero K
		return zero, false
	}

	m.fwd = m.fwd.PushLow(code, m.mask)
	m.rc = m.rc.PushHigh(code^2, m.shift)
	if m.filled < m.k {
		m.filled++
		if m.filled < m.k {
			var zero K
			return zero, false
		}
	}

	if m.fwd.Cmp(m.rc) <= 0 {
		return m.fwd, true
	}
	return m.rc, true
}
