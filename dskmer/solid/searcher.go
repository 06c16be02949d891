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

package solid

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/ysard/dskmer/dskmer/util"
)

// Searcher provides point lookups of k-mer counts in a solid k-mer
// file via its anchor index, without loading the records into memory.
// Only single-word files (k ≤ 32) carry an index. A Searcher is owned
// by a single goroutine.
type Searcher struct {
	K int // k-mer size

	fh *os.File // file handle of the data file

	// Indexes holds, per section, anchor k-mers alternating with
	// their absolute file offsets. Sections are ascending internally
	// but unordered relative to each other.
	Indexes [][]uint64

	maxKmer uint64
	buf     []byte
}

// NewSearcher creates a Searcher for the given solid k-mer file,
// reading its anchor index from file + ".idx".
func NewSearcher(file string) (*Searcher, error) {
	k, indexes, err := ReadIndex(filepath.Clean(file) + IndexFileExt)
	if err != nil {
		return nil, errors.Wrapf(err, "reading solid k-mer index file")
	}

	fh, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading solid k-mer file")
	}

	scr := &Searcher{
		K:       k,
		fh:      fh,
		Indexes: indexes,

		maxKmer: 1<<(uint(k)<<1) - 1,
		buf:     make([]byte, 64),
	}
	return scr, nil
}

// Close closes the underlying data file.
func (scr *Searcher) Close() error {
	return scr.fh.Close()
}

// Search queries the count of one canonical k-mer.
func (scr *Searcher) Search(kmer uint64) (count uint32, found bool, err error) {
	if kmer > scr.maxKmer {
		return 0, false, fmt.Errorf("solid: invalid kmer for k=%d: %d", scr.K, kmer)
	}

	var last, begin, middle, end int
	var i int
	var offset uint64 // offset in the data file

	var first bool    // the first pair decodes its k-mer from the anchor
	var lastPair bool // check if this is the last pair of the section
	var hasKmer2 bool // check if there's a kmer2

	var _offset uint64 // offset of the previous k-mer
	var ctrlByte byte
	var sizes [2]uint8
	var nBytes int
	var nReaded, nDecoded int
	var kmer1, kmer2 uint64
	var c1, c2 uint64
	buf := scr.buf

	for _, index := range scr.Indexes {
		if len(index) < 2 || kmer < index[0] {
			continue
		}

		// -----------------------------------------------------
		// find the nearest anchor before the query

		last = len(index) - 2
		if len(index) == 2 || kmer >= index[last] {
			i = last
		} else {
			begin, end = 0, last
			for {
				middle = begin + (end-begin)>>1
				if middle&1 > 0 {
					middle--
				}
				if kmer < index[middle] {
					end = middle // new end
				} else {
					begin = middle // new start
				}
				if begin+2 == end {
					i = begin
					break
				}
			}
		}
		offset = index[i+1]

		// -----------------------------------------------------
		// check pair by pair

		r := scr.fh
		if _, err = r.Seek(int64(offset), 0); err != nil {
			return 0, false, err
		}

		first = true
		for {
			// read the control byte of the k-mer pair
			if _, err = io.ReadFull(r, buf[:1]); err != nil {
				return 0, false, err
			}
			ctrlByte = buf[0]

			lastPair = ctrlByte&128 > 0 // 1<<7
			hasKmer2 = ctrlByte&64 == 0 // 1<<6

			ctrlByte &= 63

			// parse the control byte
			sizes = util.CtrlByte2ByteLengths[ctrlByte]
			nBytes = int(sizes[0] + sizes[1])

			// read encoded bytes
			nReaded, err = io.ReadFull(r, buf[:nBytes])
			if err != nil {
				return 0, false, err
			}
			if nReaded < nBytes {
				return 0, false, ErrBrokenFile
			}

			kmer1, kmer2, nDecoded = util.Uint64s2(ctrlByte, buf[:nBytes])
			if nDecoded == 0 {
				return 0, false, ErrBrokenFile
			}

			if first {
				kmer1 = index[i] // from the index
				first = false
			} else {
				kmer1 += _offset
			}
			kmer2 += kmer1
			_offset = kmer2

			// ------------------ counts -------------------

			if _, err = io.ReadFull(r, buf[:1]); err != nil {
				return 0, false, err
			}
			ctrlByte = buf[0]

			sizes = util.CtrlByte2ByteLengths[ctrlByte]
			nBytes = int(sizes[0] + sizes[1])

			nReaded, err = io.ReadFull(r, buf[:nBytes])
			if err != nil {
				return 0, false, err
			}
			if nReaded < nBytes {
				return 0, false, ErrBrokenFile
			}

			c1, c2, nDecoded = util.Uint64s2(ctrlByte, buf[:nBytes])
			if nDecoded == 0 {
				return 0, false, ErrBrokenFile
			}

			if kmer1 == kmer {
				return uint32(c1), true, nil
			}
			if kmer1 > kmer { // passed the query in this section
				break
			}
			if hasKmer2 {
				if kmer2 == kmer {
					return uint32(c2), true, nil
				}
				if kmer2 > kmer {
					break
				}
			}
			if lastPair {
				break
			}
		}
	}

	return 0, false, nil
}
