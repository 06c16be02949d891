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

package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/ysard/dskmer/dskmer/count"
)

// estimateRecords is the number of records sampled by Estimate before
// extrapolating from file sizes.
const estimateRecords = 1024

// fastxBank adapts a set of FASTA/Q files to the counting engine's
// sequence bank. Iterate re-opens the files, so it is restartable
// once per pass.
type fastxBank struct {
	files []string
	est   *count.BankEstimate
}

func newFastxBank(files []string) *fastxBank {
	return &fastxBank{files: files}
}

// Estimate samples up to estimateRecords records. If the sample covers
// all files the estimate is exact; otherwise the total file size
// stands in for the base count. For uncompressed files that is an
// upper bound; for compressed files it can be below the base count.
func (b *fastxBank) Estimate() (count.BankEstimate, error) {
	if b.est != nil {
		return *b.est, nil
	}
	var est count.BankEstimate

	var totalSize uint64
	for _, file := range b.files {
		fi, err := os.Stat(file)
		if err != nil {
			return est, errors.Wrapf(err, "checking sequence file")
		}
		totalSize += uint64(fi.Size())
	}

	var nSeqs, bases, maxLen uint64
	complete := true
sampling:
	for _, file := range b.files {
		reader, err := fastx.NewDefaultReader(file)
		if err != nil {
			return est, errors.Wrapf(err, "reading sequence file %s", file)
		}
		for {
			record, err := reader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				return est, errors.Wrapf(err, "reading sequence file %s", file)
			}
			nSeqs++
			l := uint64(len(record.Seq.Seq))
			bases += l
			if l > maxLen {
				maxLen = l
			}
			if nSeqs == estimateRecords {
				complete = false
				break sampling
			}
		}
	}

	est.Sequences = nSeqs
	est.TotalBases = bases
	est.MaxSeqLen = maxLen
	if !complete && nSeqs > 0 {
		est.TotalBases = totalSize
		est.Sequences = totalSize / (bases / nSeqs)
	}
	b.est = &est
	return est, nil
}

// Iterate streams the plain sequence bytes of all records.
func (b *fastxBank) Iterate(fn func(seq []byte) error) error {
	for _, file := range b.files {
		reader, err := fastx.NewDefaultReader(file)
		if err != nil {
			return errors.Wrapf(err, "reading sequence file %s", file)
		}
		for {
			record, err := reader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				return errors.Wrapf(err, "reading sequence file %s", file)
			}
			if err = fn(record.Seq.Seq); err != nil {
				return err
			}
		}
	}
	return nil
}
