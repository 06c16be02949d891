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

import (
	"math/rand"
	"testing"
)

// testModelRolls checks that the rolling model yields, at every
// position, the same canonical k-mer as building the window from
// scratch.
func testModelRolls[K Value[K]](t *testing.T, k, n int) {
	r := rand.New(rand.NewSource(int64(k * 7)))
	s := randSeq(r, n)

	m, err := NewModel[K](k)
	if err != nil {
		t.Fatal(err)
	}

	var yields int
	for i, b := range s {
		x, ok := m.Feed(b)
		if i < k-1 {
			if ok {
				t.Fatalf("k=%d: window yielded before filling at position %d", k, i)
			}
			continue
		}
		if !ok {
			t.Fatalf("k=%d: filled window did not yield at position %d", k, i)
		}
		yields++

		window := s[i-k+1 : i+1]
		if want := Canonical(build[K](t, window), k); x != want {
			t.Errorf("k=%d: rolling canonical differs from direct at position %d (%s)", k, i, window)
		}
	}
	if yields != n-k+1 {
		t.Errorf("k=%d: %d yields, want %d", k, yields, n-k+1)
	}
}

func TestModelRolls(t *testing.T) {
	testModelRolls[Kmer64](t, 9, 200)
	testModelRolls[Kmer64](t, 32, 200)
	testModelRolls[Kmer128](t, 33, 200)
	testModelRolls[Kmer128](t, 64, 200)
	testModelRolls[Kmer192](t, 65, 300)
	testModelRolls[Kmer256](t, 127, 300)
}

func TestModelInvalidBases(t *testing.T) {
	m, err := NewModel[Kmer64](4)
	if err != nil {
		t.Fatal(err)
	}

	var yields int
	for _, b := range []byte("ACGTNACGTNNACG") {
		if _, ok := m.Feed(b); ok {
			yields++
		}
	}
	// one window before the first N, one after it, none at the tail
	if yields != 2 {
		t.Errorf("%d yields, want 2", yields)
	}
}

func TestModelCaseFolding(t *testing.T) {
	upper, err := NewModel[Kmer64](5)
	if err != nil {
		t.Fatal(err)
	}
	lower, err := NewModel[Kmer64](5)
	if err != nil {
		t.Fatal(err)
	}

	s := []byte("GATTACA")
	for i := range s {
		xu, oku := upper.Feed(s[i])
		xl, okl := lower.Feed(s[i] | 0x20)
		if oku != okl || xu != xl {
			t.Fatalf("case folding differs at position %d", i)
		}
	}
}

func TestNewModelRange(t *testing.T) {
	if _, err := NewModel[Kmer64](0); err == nil {
		t.Error("k=0 accepted")
	}
	if _, err := NewModel[Kmer64](33); err == nil {
		t.Error("k=33 accepted for a 64-bit k-mer")
	}
	if _, err := NewModel[Kmer256](129); err == nil {
		t.Error("k=129 accepted for a 256-bit k-mer")
	}
	if _, err := NewModel[Kmer256](128); err != nil {
		t.Errorf("k=128 rejected: %s", err)
	}
}
