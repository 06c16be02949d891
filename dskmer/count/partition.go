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
	"os"
	"syscall"

	"github.com/pkg/errors"
	"github.com/ysard/dskmer/dskmer/kmer"
)

func partitionPath(prefix string, pass, bucket int) string {
	return fmt.Sprintf("%spartition.p%d.q%d", prefix, pass, bucket)
}

func wrapWriteErr(err error, path string) error {
	if errors.Is(err, syscall.ENOSPC) {
		return errors.Wrapf(ErrResourceExhausted, "writing %s: no space left on device", path)
	}
	return errors.Wrapf(err, "writing partition file %s", path)
}

// partitionWriter routes canonical k-mers of one pass into bucket
// files. A k-mer with hash h belongs to bucket h%Q and pass (h/Q)%P,
// so every k-mer of the run is spilled in exactly one pass.
// Headerless raw little-endian records; single producer, no locking.
type partitionWriter[K kmer.Value[K]] struct {
	prefix  string
	pass    int
	passes  uint64
	buckets uint64

	fhs     []*os.File
	bufs    [][]byte
	scratch []byte
	written uint64
}

func newPartitionWriter[K kmer.Value[K]](prefix string, pass, passes, buckets int) (*partitionWriter[K], error) {
	bufCap := writerBufTotal / buckets
	if bufCap < 4<<10 {
		bufCap = 4 << 10
	} else if bufCap > 1<<20 {
		bufCap = 1 << 20
	}

	w := &partitionWriter[K]{
		prefix:  prefix,
		pass:    pass,
		passes:  uint64(passes),
		buckets: uint64(buckets),
		fhs:     make([]*os.File, buckets),
		bufs:    make([][]byte, buckets),
	}
	for q := 0; q < buckets; q++ {
		fh, err := os.Create(partitionPath(prefix, pass, q))
		if err != nil {
			w.discard()
			return nil, errors.Wrapf(err, "creating partition file")
		}
		w.fhs[q] = fh
		w.bufs[q] = make([]byte, 0, bufCap)
	}
	return w, nil
}

// Write routes one canonical k-mer, dropping those belonging to
// other passes.
func (w *partitionWriter[K]) Write(x K) error {
	h := x.Hash(0)
	if int(h/w.buckets%w.passes) != w.pass {
		return nil
	}
	q := h % w.buckets

	w.scratch = x.AppendBytes(w.scratch[:0])
	if len(w.bufs[q])+len(w.scratch) > cap(w.bufs[q]) {
		if err := w.flush(int(q)); err != nil {
			return err
		}
	}
	w.bufs[q] = append(w.bufs[q], w.scratch...)
	w.written++
	return nil
}

func (w *partitionWriter[K]) flush(q int) error {
	if len(w.bufs[q]) == 0 {
		return nil
	}
	if _, err := w.fhs[q].Write(w.bufs[q]); err != nil {
		return wrapWriteErr(err, w.fhs[q].Name())
	}
	w.bufs[q] = w.bufs[q][:0]
	return nil
}

// Close flushes and closes all bucket files. The files stay on disk
// for the reducers.
func (w *partitionWriter[K]) Close() error {
	var firstErr error
	for q := range w.fhs {
		if err := w.flush(q); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.fhs[q].Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing partition file")
		}
	}
	return firstErr
}

// discard closes and removes all bucket files, for error paths.
func (w *partitionWriter[K]) discard() {
	for q, fh := range w.fhs {
		if fh == nil {
			continue
		}
		fh.Close()
		os.Remove(partitionPath(w.prefix, w.pass, q))
	}
}
