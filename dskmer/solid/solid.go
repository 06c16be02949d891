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

// Package solid reads and writes binary files of ⟨k-mer, count⟩
// records. K-mers of up to 32 bases are stored as pairs of
// group-varint deltas with a sparse anchor index for point lookups;
// wider k-mers fall back to fixed-width records.
package solid

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/ysard/dskmer/dskmer/kmer"
	"github.com/ysard/dskmer/dskmer/util"
)

// MainVersion is used for checking compatibility.
const MainVersion int64 = 0

// MinorVersion is less important.
const MinorVersion int64 = 1

// Magic number of the binary data file.
var Magic = [8]byte{'.', 'd', 's', 'k', 'm', 'e', 'r', 's'}

// MagicIdx is the magic number of the anchor index file.
var MagicIdx = [8]byte{'.', 'd', 's', 'k', 'm', 'e', 'r', 'i'}

// IndexFileExt is appended to the data file name for the anchor index.
const IndexFileExt = ".idx"

// FlagVarint marks the group-varint delta encoding of single-word
// k-mers; without it records are fixed-width.
const FlagVarint int64 = 1

// DefaultIndexInterval is the number of record pairs between anchors.
const DefaultIndexInterval = 512

var be = binary.BigEndian

// ErrInvalidFileFormat means an invalid binary format.
var ErrInvalidFileFormat = errors.New("solid: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("solid: broken file")

// Header contains metadata shared by the data and index files.
type Header struct {
	MainVersion  int64
	MinorVersion int64
	K            int
	Flags        int64
}

func (h Header) String() string {
	return fmt.Sprintf("solid k-mer file v%d.%d, k=%d", h.MainVersion, h.MinorVersion, h.K)
}

type pendingRec struct {
	kmer  uint64
	count uint32
}

// Writer writes ⟨k-mer, count⟩ records. It implements the counting
// engine's sink: records arrive as ascending runs announced by
// StartSection, and each run becomes one independently searchable
// section. Close finalizes the data file and, for single-word k-mers,
// the anchor index.
type Writer struct {
	Header
	file        string
	fh          *os.File
	w           *bufio.Writer
	wroteHeader bool

	words  int
	varint bool

	// varint encoding state
	offset   uint64 // absolute offset of the next byte in the file
	prev     uint64 // previous written k-mer, deltas wrap around
	queue    []pendingRec
	pairs    int // pairs written in the current section
	index    [][]uint64
	interval int

	n   uint64 // records written
	buf []byte
}

// New creates a Writer for length-k k-mers at file.
func New(file string, k int) (*Writer, error) {
	if k < 1 || k > kmer.MaxK {
		return nil, fmt.Errorf("solid: invalid k value: %d, valid range: [1, %d]", k, kmer.MaxK)
	}
	fh, err := os.Create(file)
	if err != nil {
		return nil, errors.Wrapf(err, "creating solid k-mer file")
	}

	words := kmer.WordsFor(k)
	w := &Writer{
		Header: Header{MainVersion: MainVersion, MinorVersion: MinorVersion, K: k},
		file:   file,
		fh:     fh,
		w:      bufio.NewWriter(fh),

		words:    words,
		varint:   words == 1,
		interval: DefaultIndexInterval,
		buf:      make([]byte, 64),
	}
	if w.varint {
		w.Flags |= FlagVarint
		w.queue = make([]pendingRec, 0, 4)
	}
	return w, nil
}

// N returns the number of records written so far.
func (w *Writer) N() uint64 { return w.n }

func (w *Writer) writeHeader() error {
	if _, err := w.w.Write(Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w.w, be, [4]int64{MainVersion, MinorVersion, int64(w.K), w.Flags}); err != nil {
		return err
	}
	w.offset = 8 + 32
	w.wroteHeader = true
	return nil
}

// StartSection finalizes the previous ascending run. The engine calls
// it before the first record of each partition.
func (w *Writer) StartSection() error {
	if !w.varint {
		return nil
	}
	return w.endSection()
}

// Append writes one record. Within a section k-mers must be ascending;
// code is the little-endian word representation and is not retained.
func (w *Writer) Append(code []uint64, count uint32) error {
	if !w.wroteHeader {
		if err := w.writeHeader(); err != nil {
			return err
		}
	}

	if !w.varint {
		for i := w.words - 1; i >= 0; i-- {
			be.PutUint64(w.buf[(w.words-1-i)<<3:], code[i])
		}
		be.PutUint32(w.buf[w.words<<3:], count)
		if _, err := w.w.Write(w.buf[:w.words<<3+4]); err != nil {
			return err
		}
		w.n++
		return nil
	}

	w.queue = append(w.queue, pendingRec{code[0], count})
	if len(w.queue) == 4 {
		// with two records still queued, this pair cannot be the
		// last one of its section
		if err := w.writePair(w.queue[0], w.queue[1], true, false); err != nil {
			return err
		}
		w.queue[0], w.queue[1] = w.queue[2], w.queue[3]
		w.queue = w.queue[:2]
	}
	return nil
}

func (w *Writer) writePair(r1, r2 pendingRec, hasKmer2, last bool) error {
	if w.pairs == 0 {
		w.index = append(w.index, make([]uint64, 0, 64))
	}
	if w.pairs%w.interval == 0 {
		sec := len(w.index) - 1
		w.index[sec] = append(w.index[sec], r1.kmer, w.offset)
	}

	delta1 := r1.kmer - w.prev // wrapping
	var delta2, c2 uint64
	if hasKmer2 {
		delta2 = r2.kmer - r1.kmer
		c2 = uint64(r2.count)
	}

	ctrl, n := util.PutUint64s(w.buf[1:], delta1, delta2)
	if !hasKmer2 {
		ctrl |= 64
	}
	if last {
		ctrl |= 128
	}
	w.buf[0] = ctrl
	if _, err := w.w.Write(w.buf[:n+1]); err != nil {
		return err
	}
	w.offset += uint64(n) + 1

	ctrl, n = util.PutUint64s(w.buf[1:], uint64(r1.count), c2)
	w.buf[0] = ctrl
	if _, err := w.w.Write(w.buf[:n+1]); err != nil {
		return err
	}
	w.offset += uint64(n) + 1

	w.pairs++
	if hasKmer2 {
		w.prev = r2.kmer
		w.n += 2
	} else {
		w.prev = r1.kmer
		w.n++
	}
	return nil
}

func (w *Writer) endSection() error {
	var err error
	switch len(w.queue) {
	case 0:
	case 1:
		err = w.writePair(w.queue[0], pendingRec{}, false, true)
	case 2:
		err = w.writePair(w.queue[0], w.queue[1], true, true)
	case 3:
		if err = w.writePair(w.queue[0], w.queue[1], true, false); err == nil {
			err = w.writePair(w.queue[2], pendingRec{}, false, true)
		}
	}
	if err != nil {
		return err
	}
	w.queue = w.queue[:0]
	w.pairs = 0
	return nil
}

// Flush finalizes the current section and flushes buffered bytes.
func (w *Writer) Flush() error {
	if !w.wroteHeader {
		if err := w.writeHeader(); err != nil {
			return err
		}
	}
	if w.varint {
		if err := w.endSection(); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

// Close flushes, writes the anchor index and closes the file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.fh.Close()
		return err
	}
	if err := w.fh.Close(); err != nil {
		return err
	}
	if !w.varint {
		return nil
	}
	return w.writeIndex()
}

func (w *Writer) writeIndex() error {
	fh, err := os.Create(w.file + IndexFileExt)
	if err != nil {
		return errors.Wrapf(err, "creating solid k-mer index file")
	}
	bw := bufio.NewWriter(fh)

	bw.Write(MagicIdx[:])
	binary.Write(bw, be, [4]int64{MainVersion, MinorVersion, int64(w.K), int64(len(w.index))})
	for _, sec := range w.index {
		binary.Write(bw, be, int64(len(sec)))
		if err := binary.Write(bw, be, sec); err != nil {
			fh.Close()
			return errors.Wrapf(err, "writing solid k-mer index file")
		}
	}
	if err := bw.Flush(); err != nil {
		fh.Close()
		return errors.Wrapf(err, "writing solid k-mer index file")
	}
	return fh.Close()
}

// ReadIndex loads an anchor index file: per section a flat slice
// alternating anchor k-mer and absolute file offset.
func ReadIndex(file string) (k int, indexes [][]uint64, err error) {
	fh, err := os.Open(file)
	if err != nil {
		return 0, nil, err
	}
	defer fh.Close()
	r := bufio.NewReader(fh)

	var m [8]byte
	if _, err = io.ReadFull(r, m[:]); err != nil {
		return 0, nil, err
	}
	if m != MagicIdx {
		return 0, nil, ErrInvalidFileFormat
	}
	var meta [4]int64
	if err = binary.Read(r, be, &meta); err != nil {
		return 0, nil, err
	}
	k = int(meta[2])
	indexes = make([][]uint64, meta[3])
	for i := range indexes {
		var n int64
		if err = binary.Read(r, be, &n); err != nil {
			return 0, nil, err
		}
		sec := make([]uint64, n)
		if err = binary.Read(r, be, sec); err != nil {
			return 0, nil, err
		}
		indexes[i] = sec
	}
	return k, indexes, nil
}

// Reader streams the records of a solid k-mer file.
type Reader struct {
	Header
	r     *bufio.Reader
	words int

	prev    uint64
	hasPend bool
	pend    pendingRec

	buf  []byte
	code []uint64
}

// NewReader reads the header and returns a Reader.
func NewReader(r io.Reader) (*Reader, error) {
	reader := &Reader{r: bufio.NewReader(r), buf: make([]byte, 64)}
	if err := reader.readHeader(); err != nil {
		return nil, err
	}
	reader.words = kmer.WordsFor(reader.K)
	reader.code = make([]uint64, reader.words)
	return reader, nil
}

func (reader *Reader) readHeader() error {
	var m [8]byte
	if _, err := io.ReadFull(reader.r, m[:]); err != nil {
		return err
	}
	if m != Magic {
		return ErrInvalidFileFormat
	}
	var meta [4]int64
	if err := binary.Read(reader.r, be, &meta); err != nil {
		return err
	}
	reader.MainVersion = meta[0]
	reader.MinorVersion = meta[1]
	reader.K = int(meta[2])
	reader.Flags = meta[3]
	if reader.K < 1 || reader.K > kmer.MaxK {
		return ErrInvalidFileFormat
	}
	return nil
}

// Read returns the next record. The code slice is reused between
// calls; io.EOF marks the end of the file.
func (reader *Reader) Read() (code []uint64, count uint32, err error) {
	if reader.Flags&FlagVarint == 0 {
		n := reader.words<<3 + 4
		if _, err = io.ReadFull(reader.r, reader.buf[:n]); err != nil {
			if err == io.ErrUnexpectedEOF {
				err = ErrBrokenFile
			}
			return nil, 0, err
		}
		for i := 0; i < reader.words; i++ {
			reader.code[i] = be.Uint64(reader.buf[(reader.words-1-i)<<3:])
		}
		return reader.code, be.Uint32(reader.buf[reader.words<<3:]), nil
	}

	if reader.hasPend {
		reader.hasPend = false
		reader.code[0] = reader.pend.kmer
		return reader.code, reader.pend.count, nil
	}

	ctrlByte, err := reader.r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	hasKmer2 := ctrlByte&64 == 0
	ctrlByte &= 63

	sizes := util.CtrlByte2ByteLengths[ctrlByte]
	nBytes := int(sizes[0] + sizes[1])
	if _, err = io.ReadFull(reader.r, reader.buf[:nBytes]); err != nil {
		return nil, 0, ErrBrokenFile
	}
	delta1, delta2, nDecoded := util.Uint64s2(ctrlByte, reader.buf[:nBytes])
	if nDecoded == 0 {
		return nil, 0, ErrBrokenFile
	}
	kmer1 := reader.prev + delta1 // wrapping
	kmer2 := kmer1 + delta2

	if ctrlByte, err = reader.r.ReadByte(); err != nil {
		return nil, 0, ErrBrokenFile
	}
	sizes = util.CtrlByte2ByteLengths[ctrlByte]
	nBytes = int(sizes[0] + sizes[1])
	if _, err = io.ReadFull(reader.r, reader.buf[:nBytes]); err != nil {
		return nil, 0, ErrBrokenFile
	}
	c1, c2, nDecoded := util.Uint64s2(ctrlByte, reader.buf[:nBytes])
	if nDecoded == 0 {
		return nil, 0, ErrBrokenFile
	}

	if hasKmer2 {
		reader.prev = kmer2
		reader.hasPend = true
		reader.pend = pendingRec{kmer2, uint32(c2)}
	} else {
		reader.prev = kmer1
	}
	reader.code[0] = kmer1
	return reader.code, uint32(c1), nil
}
