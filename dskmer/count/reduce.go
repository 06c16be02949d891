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
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts"
	"github.com/ysard/dskmer/dskmer/kmer"
)

const (
	// maxSplitDepth caps the recursive splitting of partitions that
	// overflow their memory share despite planning.
	maxSplitDepth = 16

	maxSubPartitions = 8

	// readChunkRecords is the batch size for streaming a partition
	// file into memory; cancellation is checked between batches.
	readChunkRecords = 4096
)

type countRec[K kmer.Value[K]] struct {
	kmer  K
	count uint32
}

type kmerSlice[K kmer.Value[K]] []K

func (s kmerSlice[K]) Len() int           { return len(s) }
func (s kmerSlice[K]) Less(i, j int) bool { return s[i].Cmp(s[j]) < 0 }
func (s kmerSlice[K]) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

type reduceResult[K kmer.Value[K]] struct {
	recs     []countRec[K]
	distinct uint64
	total    uint64
}

// reducePartition loads one partition file, sorts it, reduces runs of
// equal k-mers and removes the file. K-mers with multiplicity ≥
// minCount are returned in ascending order; every run is recorded in
// hist (which may be nil). A partition larger than memBudget is split
// into sub-partitions with a salted rehash and reduced recursively.
func reducePartition[K kmer.Value[K]](ctx context.Context, path string, minCount uint32, memBudget uint64, hist *Histogram, depth int) (reduceResult[K], error) {
	var res reduceResult[K]
	var zero K
	recordSize := zero.Words() * 8

	fi, err := os.Stat(path)
	if err != nil {
		return res, errors.Wrapf(err, "opening partition file")
	}
	size := fi.Size()
	if size%int64(recordSize) != 0 {
		return res, errors.Wrapf(ErrInternal, "partition file %s: size %d is not a multiple of the %d-byte record", path, size, recordSize)
	}
	if size == 0 {
		os.Remove(path)
		return res, nil
	}

	if uint64(size) > memBudget && size > int64(recordSize) {
		if depth >= maxSplitDepth {
			return res, errors.Wrapf(ErrInternal, "partition %s still exceeds the memory budget after %d splits", path, depth)
		}
		return splitPartition[K](ctx, path, minCount, memBudget, hist, depth)
	}

	arr, err := readPartition[K](ctx, path, int(size)/recordSize, recordSize)
	if err != nil {
		return res, err
	}
	os.Remove(path)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	sorts.Quicksort(kmerSlice[K](arr))
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.total = uint64(len(arr))
	cur := arr[0]
	var cnt uint32 = 1
	for _, x := range arr[1:] {
		if x == cur {
			if cnt < math.MaxUint32 {
				cnt++
			}
			continue
		}
		res.distinct++
		hist.Record(cnt)
		if cnt >= minCount {
			res.recs = append(res.recs, countRec[K]{cur, cnt})
		}
		cur, cnt = x, 1
	}
	res.distinct++
	hist.Record(cnt)
	if cnt >= minCount {
		res.recs = append(res.recs, countRec[K]{cur, cnt})
	}

	return res, nil
}

func readPartition[K kmer.Value[K]](ctx context.Context, path string, n, recordSize int) ([]K, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening partition file")
	}
	defer fh.Close()

	var zero K
	arr := make([]K, n)
	chunk := make([]byte, readChunkRecords*recordSize)
	var i int
	for i < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := n - i
		if m > readChunkRecords {
			m = readChunkRecords
		}
		if _, err := io.ReadFull(fh, chunk[:m*recordSize]); err != nil {
			return nil, errors.Wrapf(err, "reading partition file %s", path)
		}
		for j := 0; j < m; j++ {
			arr[i] = zero.FromBytes(chunk[j*recordSize:])
			i++
		}
	}
	return arr, nil
}

// splitPartition rehashes an oversized partition into sub-partitions
// with a depth-derived salt, reduces them recursively, and merges the
// sorted results so the caller still sees one ascending stream.
func splitPartition[K kmer.Value[K]](ctx context.Context, path string, minCount uint32, memBudget uint64, hist *Histogram, depth int) (reduceResult[K], error) {
	var res reduceResult[K]
	var zero K
	recordSize := zero.Words() * 8

	fi, err := os.Stat(path)
	if err != nil {
		return res, errors.Wrapf(err, "opening partition file")
	}
	sub := int((uint64(fi.Size()) + memBudget - 1) / memBudget)
	if sub < 2 {
		sub = 2
	} else if sub > maxSubPartitions {
		sub = maxSubPartitions
	}
	salt := uint64(depth + 1)

	// spill into sub-partition files
	subPaths := make([]string, sub)
	fhs := make([]*os.File, sub)
	bufs := make([][]byte, sub)
	closeAll := func() {
		for _, fh := range fhs {
			if fh != nil {
				fh.Close()
			}
		}
	}
	for i := 0; i < sub; i++ {
		subPaths[i] = fmt.Sprintf("%s.s%d", path, i)
		if fhs[i], err = os.Create(subPaths[i]); err != nil {
			closeAll()
			return res, errors.Wrapf(err, "creating sub-partition file")
		}
		bufs[i] = make([]byte, 0, 64<<10)
	}

	fh, err := os.Open(path)
	if err != nil {
		closeAll()
		return res, errors.Wrapf(err, "opening partition file")
	}
	chunk := make([]byte, readChunkRecords*recordSize)
	var rerr error
	for rerr == nil {
		if rerr = ctx.Err(); rerr != nil {
			break
		}
		var nr int
		nr, rerr = io.ReadFull(fh, chunk)
		if rerr == io.ErrUnexpectedEOF {
			rerr = nil
		} else if rerr == io.EOF {
			rerr = nil
			break
		} else if rerr != nil {
			rerr = errors.Wrapf(rerr, "reading partition file %s", path)
			break
		}
		for off := 0; off+recordSize <= nr; off += recordSize {
			x := zero.FromBytes(chunk[off:])
			i := int(x.Hash(salt) % uint64(sub))
			bufs[i] = append(bufs[i], chunk[off:off+recordSize]...)
			if len(bufs[i]) >= 64<<10 {
				if _, err := fhs[i].Write(bufs[i]); err != nil {
					rerr = wrapWriteErr(err, subPaths[i])
					break
				}
				bufs[i] = bufs[i][:0]
			}
		}
		if nr < len(chunk) {
			break
		}
	}
	fh.Close()
	for i := 0; i < sub && rerr == nil; i++ {
		if len(bufs[i]) > 0 {
			if _, err := fhs[i].Write(bufs[i]); err != nil {
				rerr = wrapWriteErr(err, subPaths[i])
			}
		}
	}
	closeAll()
	if rerr != nil {
		for _, p := range subPaths {
			os.Remove(p)
		}
		return res, rerr
	}
	os.Remove(path)

	subResults := make([]reduceResult[K], sub)
	for i := 0; i < sub; i++ {
		subResults[i], err = reducePartition[K](ctx, subPaths[i], minCount, memBudget, hist, depth+1)
		if err != nil {
			for _, p := range subPaths[i:] {
				os.Remove(p)
			}
			return res, err
		}
	}

	return mergeResults(subResults), nil
}

// mergeResults merges ascending solid streams of sub-partitions into
// one ascending stream. Sub-partitions are disjoint, so no run spans
// two of them.
func mergeResults[K kmer.Value[K]](subs []reduceResult[K]) reduceResult[K] {
	var res reduceResult[K]
	var n int
	for _, s := range subs {
		res.distinct += s.distinct
		res.total += s.total
		n += len(s.recs)
	}
	res.recs = make([]countRec[K], 0, n)

	idx := make([]int, len(subs))
	for len(res.recs) < n {
		best := -1
		for i, s := range subs {
			if idx[i] >= len(s.recs) {
				continue
			}
			if best < 0 || s.recs[idx[i]].kmer.Cmp(subs[best].recs[idx[best]].kmer) < 0 {
				best = i
			}
		}
		res.recs = append(res.recs, subs[best].recs[idx[best]])
		idx[best]++
	}
	return res
}
