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

// BankEstimate sizes a sequence collection before any counting starts.
// TotalBases may be an upper bound; the planner only uses it for sizing.
type BankEstimate struct {
	Sequences  uint64
	TotalBases uint64
	MaxSeqLen  uint64
}

// Bank is a source of raw DNA sequences. The engine calls Estimate once
// before planning and Iterate once per pass, so Iterate must be
// restartable. The byte slice handed to the callback is only valid
// during the call.
type Bank interface {
	Estimate() (BankEstimate, error)
	Iterate(fn func(seq []byte) error) error
}

// MemoryBank is a Bank over in-process sequences, mainly for tests and
// embedded use.
type MemoryBank struct {
	seqs [][]byte
}

// NewMemoryBank creates a MemoryBank from sequence strings.
func NewMemoryBank(seqs ...string) *MemoryBank {
	b := &MemoryBank{seqs: make([][]byte, 0, len(seqs))}
	for _, s := range seqs {
		b.seqs = append(b.seqs, []byte(s))
	}
	return b
}

// Estimate returns exact sizes.
func (b *MemoryBank) Estimate() (BankEstimate, error) {
	var est BankEstimate
	est.Sequences = uint64(len(b.seqs))
	for _, s := range b.seqs {
		est.TotalBases += uint64(len(s))
		if uint64(len(s)) > est.MaxSeqLen {
			est.MaxSeqLen = uint64(len(s))
		}
	}
	return est, nil
}

// Iterate visits all sequences in order.
func (b *MemoryBank) Iterate(fn func(seq []byte) error) error {
	for _, s := range b.seqs {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}
