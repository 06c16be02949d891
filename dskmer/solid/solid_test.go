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
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

type rec struct {
	kmer  uint64
	count uint32
}

// randSections builds sections of ascending distinct k-mers, the shape
// the counting engine produces.
func randSections(r *rand.Rand, k int, sizes []int) [][]rec {
	maxKmer := uint64(1)<<(uint(k)<<1) - 1
	sections := make([][]rec, len(sizes))
	for i, n := range sizes {
		seen := make(map[uint64]bool, n)
		recs := make([]rec, 0, n)
		for len(recs) < n {
			x := r.Uint64() & maxKmer
			if seen[x] {
				continue
			}
			seen[x] = true
			recs = append(recs, rec{x, uint32(r.Intn(1000) + 1)})
		}
		sort.Slice(recs, func(a, b int) bool { return recs[a].kmer < recs[b].kmer })
		sections[i] = recs
	}
	return sections
}

func writeSections(t *testing.T, file string, k int, sections [][]rec) {
	t.Helper()
	w, err := New(file, k)
	if err != nil {
		t.Fatal(err)
	}
	code := make([]uint64, 1)
	for _, sec := range sections {
		if len(sec) == 0 {
			continue
		}
		if err = w.StartSection(); err != nil {
			t.Fatal(err)
		}
		for _, r := range sec {
			code[0] = r.kmer
			if err = w.Append(code, r.count); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, file string) ([]rec, int) {
	t.Helper()
	fh, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	reader, err := NewReader(fh)
	if err != nil {
		t.Fatal(err)
	}
	var recs []rec
	for {
		code, count, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatal(err)
		}
		recs = append(recs, rec{code[0], count})
	}
	return recs, reader.K
}

func TestWriteReadRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	dir := t.TempDir()

	// section sizes cover empty, odd, even and pair-buffer edge cases
	for _, sizes := range [][]int{
		{1},
		{2},
		{3},
		{4},
		{5},
		{0},
		{0, 1, 2, 3, 4, 5},
		{7, 0, 1, 64},
		{2000},
	} {
		file := filepath.Join(dir, "roundtrip.dsks")
		sections := randSections(r, 21, sizes)
		writeSections(t, file, 21, sections)

		var want []rec
		for _, sec := range sections {
			want = append(want, sec...)
		}

		got, k := readAll(t, file)
		if k != 21 {
			t.Fatalf("k = %d, want 21", k)
		}
		if len(got) != len(want) {
			t.Fatalf("sizes %v: %d records, want %d", sizes, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("sizes %v: record %d = %+v, want %+v", sizes, i, got[i], want[i])
			}
		}
	}
}

func TestWriteReadFixedWidth(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "wide.dsks")

	const k = 40 // two words
	w, err := New(file, k)
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]uint64{
		{0x0123456789ABCDEF, 0x11}, // low word, high word
		{0xFFFFFFFFFFFFFFFF, 0x00},
		{0x0000000000000001, 0xFF},
	}
	for i, words := range want {
		if err = w.StartSection(); err != nil {
			t.Fatal(err)
		}
		if err = w.Append(words[:], uint32(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}

	// fixed-width files carry no anchor index
	if _, err = os.Stat(file + IndexFileExt); !os.IsNotExist(err) {
		t.Errorf("unexpected index file for k=%d", k)
	}

	fh, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	reader, err := NewReader(fh)
	if err != nil {
		t.Fatal(err)
	}
	if reader.K != k || reader.Flags&FlagVarint != 0 {
		t.Fatalf("header: k=%d flags=%d", reader.K, reader.Flags)
	}
	for i, words := range want {
		code, count, err := reader.Read()
		if err != nil {
			t.Fatal(err)
		}
		if code[0] != words[0] || code[1] != words[1] {
			t.Errorf("record %d: code %#x %#x, want %#x %#x", i, code[0], code[1], words[0], words[1])
		}
		if count != uint32(i+1) {
			t.Errorf("record %d: count %d, want %d", i, count, i+1)
		}
	}
	if _, _, err = reader.Read(); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestSearcher(t *testing.T) {
	r := rand.New(rand.NewSource(13))
	dir := t.TempDir()
	file := filepath.Join(dir, "search.dsks")

	// sections large enough for several anchors each
	sections := randSections(r, 15, []int{3000, 1, 1500, 2})
	writeSections(t, file, 15, sections)

	scr, err := NewSearcher(file)
	if err != nil {
		t.Fatal(err)
	}
	defer scr.Close()
	if scr.K != 15 {
		t.Fatalf("searcher k = %d, want 15", scr.K)
	}

	present := make(map[uint64]uint32)
	for _, sec := range sections {
		for _, rc := range sec {
			present[rc.kmer] = rc.count
		}
	}

	for x, want := range present {
		count, found, err := scr.Search(x)
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatalf("k-mer %#x not found", x)
		}
		if count != want {
			t.Fatalf("count of %#x = %d, want %d", x, count, want)
		}
	}

	// absent queries
	maxKmer := uint64(1)<<30 - 1
	for i := 0; i < 1000; i++ {
		x := r.Uint64() & maxKmer
		if _, ok := present[x]; ok {
			continue
		}
		_, found, err := scr.Search(x)
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatalf("absent k-mer %#x found", x)
		}
	}

	// out-of-range query
	if _, _, err = scr.Search(maxKmer + 1); err == nil {
		t.Error("out-of-range query accepted")
	}
}

func TestReaderRejectsForeignFiles(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte("clearly not a solid k-mer file"))); err != ErrInvalidFileFormat {
		t.Errorf("got %v, want ErrInvalidFileFormat", err)
	}
}
