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

// Package kmer provides fixed-width integer k-mer values for k up to 128,
// with 2-bit packed bases (A/C/T/G = 0/1/2/3) and a rolling model that
// extracts canonical k-mers from raw sequences.
package kmer

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Value is the fixed-width unsigned integer a k-mer is packed into.
// Kmer64, Kmer128, Kmer192 and Kmer256 implement it for k up to
// 32, 64, 96 and 128 respectively. All methods are value methods;
// the zero value is usable, e.g., for calling MaskFor.
type Value[K any] interface {
	comparable

	// Cmp compares two values as wide unsigned integers,
	// returning -1, 0 or 1.
	Cmp(other K) int

	// Hash returns a well-avalanched hash of the value.
	// A non-zero salt derives an independent hash family,
	// used for splitting pathological partitions.
	Hash(salt uint64) uint64

	// PushLow appends a 2-bit base code at the low end:
	// (x<<2 | code) & mask.
	PushLow(code uint8, mask K) K

	// PushHigh shifts the value right by one base and sets code
	// at bit offset shift (= 2*(k-1)), maintaining the
	// reverse-complement strand of a rolling window.
	PushHigh(code uint8, shift uint) K

	// MaskFor returns the mask covering the low 2*k bits.
	MaskFor(k int) K

	// Words returns the number of 64-bit words of the width.
	Words() int

	// Word returns the i-th 64-bit word, word 0 being the lowest.
	Word(i int) uint64

	// AppendBytes appends the little-endian raw bytes of the value
	// (always Words()*8 bytes) to buf.
	AppendBytes(buf []byte) []byte

	// FromBytes decodes a value written by AppendBytes.
	FromBytes(b []byte) K
}

// WordsFor returns the number of 64-bit words needed for length-k k-mers.
func WordsFor(k int) int {
	return (k + 31) / 32
}

// MaxK is the largest k-mer size any Value type supports.
const MaxK = 128

const invalidCode uint8 = 255

// base2code maps sequence characters to 2-bit codes,
// folding case; everything outside ACGTacgt is invalid.
var base2code [256]uint8

var code2base = [4]byte{'A', 'C', 'T', 'G'}

func init() {
	for i := range base2code {
		base2code[i] = invalidCode
	}
	base2code['A'], base2code['a'] = 0, 0
	base2code['C'], base2code['c'] = 1, 1
	base2code['T'], base2code['t'] = 2, 2
	base2code['G'], base2code['g'] = 3, 3
}

// Decode returns the DNA string of a k-mer given as little-endian words,
// e.g., the code slice handed to a counting sink.
func Decode(words []uint64, k int) string {
	buf := make([]byte, k)
	for i := 0; i < k; i++ {
		c := words[i>>5] >> ((uint(i) & 31) << 1) & 3
		buf[k-1-i] = code2base[c]
	}
	return string(buf)
}

// EncodeCanonical packs a DNA sequence of length ≤ 32 into the canonical
// (min of forward and reverse complement) 2-bit representation.
func EncodeCanonical(s []byte) (uint64, error) {
	k := len(s)
	if k < 1 || k > 32 {
		return 0, fmt.Errorf("kmer: invalid k-mer length: %d", k)
	}
	m, err := NewModel[Kmer64](k)
	if err != nil {
		return 0, err
	}
	var x Kmer64
	var ok bool
	for _, b := range s {
		if x, ok = m.Feed(b); !ok && m.filled == 0 {
			return 0, fmt.Errorf("kmer: invalid base %q in %q", b, s)
		}
	}
	if !ok {
		return 0, fmt.Errorf("kmer: invalid k-mer: %q", s)
	}
	return uint64(x), nil
}

// RevComp returns the reverse complement of a length-k value.
func RevComp[K Value[K]](x K, k int) K {
	var rc, zero K
	mask := zero.MaskFor(k)
	for i := 0; i < k; i++ {
		code := uint8(x.Word(i>>5) >> ((uint(i) & 31) << 1) & 3)
		rc = rc.PushLow(code^2, mask)
	}
	return rc
}

// Canonical returns min(x, RevComp(x)) under unsigned integer ordering.
func Canonical[K Value[K]](x K, k int) K {
	rc := RevComp(x, k)
	if x.Cmp(rc) <= 0 {
		return x
	}
	return rc
}

func hashWords(b []byte, salt uint64) uint64 {
	if salt == 0 {
		return xxhash.Sum64(b)
	}
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], salt)
	return xxhash.Sum64(append(b, s[:]...))
}

// ------------------------------------------------------------------
// Kmer64: k in [1, 32]

type Kmer64 uint64

func (x Kmer64) Cmp(y Kmer64) int {
	if x < y {
		return -1
	}
	if x > y {
		return 1
	}
	return 0
}

func (x Kmer64) Hash(salt uint64) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(x))
	if salt == 0 {
		return xxhash.Sum64(b[:8])
	}
	binary.LittleEndian.PutUint64(b[8:], salt)
	return xxhash.Sum64(b[:])
}

func (x Kmer64) PushLow(code uint8, mask Kmer64) Kmer64 {
	return (x<<2 | Kmer64(code)) & mask
}

func (x Kmer64) PushHigh(code uint8, shift uint) Kmer64 {
	return x>>2 | Kmer64(code)<<shift
}

func (Kmer64) MaskFor(k int) Kmer64 {
	if k >= 32 {
		return ^Kmer64(0)
	}
	return 1<<(uint(k)<<1) - 1
}

func (Kmer64) Words() int { return 1 }

func (x Kmer64) Word(i int) uint64 { return uint64(x) }

func (x Kmer64) AppendBytes(buf []byte) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(x))
}

func (Kmer64) FromBytes(b []byte) Kmer64 {
	return Kmer64(binary.LittleEndian.Uint64(b))
}

// ------------------------------------------------------------------
// Kmer128: k in [1, 64]

// Kmer128 is a 128-bit k-mer, word 0 being the low word.
type Kmer128 [2]uint64

func (x Kmer128) Cmp(y Kmer128) int {
	if x[1] != y[1] {
		if x[1] < y[1] {
			return -1
		}
		return 1
	}
	if x[0] != y[0] {
		if x[0] < y[0] {
			return -1
		}
		return 1
	}
	return 0
}

func (x Kmer128) Hash(salt uint64) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], x[0])
	binary.LittleEndian.PutUint64(b[8:], x[1])
	return hashWords(b[:], salt)
}

func (x Kmer128) PushLow(code uint8, mask Kmer128) Kmer128 {
	return Kmer128{
		(x[0]<<2 | uint64(code)) & mask[0],
		(x[1]<<2 | x[0]>>62) & mask[1],
	}
}

func (x Kmer128) PushHigh(code uint8, shift uint) Kmer128 {
	r := Kmer128{x[0]>>2 | x[1]<<62, x[1] >> 2}
	r[shift>>6] |= uint64(code) << (shift & 63)
	return r
}

func (Kmer128) MaskFor(k int) Kmer128 {
	var m Kmer128
	bits := uint(k) << 1
	for i := range m {
		switch {
		case bits >= 64:
			m[i] = ^uint64(0)
			bits -= 64
		case bits > 0:
			m[i] = 1<<bits - 1
			bits = 0
		}
	}
	return m
}

func (Kmer128) Words() int { return 2 }

func (x Kmer128) Word(i int) uint64 { return x[i] }

func (x Kmer128) AppendBytes(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, x[0])
	return binary.LittleEndian.AppendUint64(buf, x[1])
}

func (Kmer128) FromBytes(b []byte) Kmer128 {
	return Kmer128{
		binary.LittleEndian.Uint64(b),
		binary.LittleEndian.Uint64(b[8:]),
	}
}

// ------------------------------------------------------------------
// Kmer192: k in [1, 96]

// Kmer192 is a 192-bit k-mer, word 0 being the low word.
type Kmer192 [3]uint64

func (x Kmer192) Cmp(y Kmer192) int {
	for i := 2; i >= 0; i-- {
		if x[i] != y[i] {
			if x[i] < y[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (x Kmer192) Hash(salt uint64) uint64 {
	var b [24]byte
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint64(b[i<<3:], x[i])
	}
	return hashWords(b[:], salt)
}

func (x Kmer192) PushLow(code uint8, mask Kmer192) Kmer192 {
	return Kmer192{
		(x[0]<<2 | uint64(code)) & mask[0],
		(x[1]<<2 | x[0]>>62) & mask[1],
		(x[2]<<2 | x[1]>>62) & mask[2],
	}
}

func (x Kmer192) PushHigh(code uint8, shift uint) Kmer192 {
	r := Kmer192{
		x[0]>>2 | x[1]<<62,
		x[1]>>2 | x[2]<<62,
		x[2] >> 2,
	}
	r[shift>>6] |= uint64(code) << (shift & 63)
	return r
}

func (Kmer192) MaskFor(k int) Kmer192 {
	var m Kmer192
	bits := uint(k) << 1
	for i := range m {
		switch {
		case bits >= 64:
			m[i] = ^uint64(0)
			bits -= 64
		case bits > 0:
			m[i] = 1<<bits - 1
			bits = 0
		}
	}
	return m
}

func (Kmer192) Words() int { return 3 }

func (x Kmer192) Word(i int) uint64 { return x[i] }

func (x Kmer192) AppendBytes(buf []byte) []byte {
	for i := 0; i < 3; i++ {
		buf = binary.LittleEndian.AppendUint64(buf, x[i])
	}
	return buf
}

func (Kmer192) FromBytes(b []byte) Kmer192 {
	return Kmer192{
		binary.LittleEndian.Uint64(b),
		binary.LittleEndian.Uint64(b[8:]),
		binary.LittleEndian.Uint64(b[16:]),
	}
}

// ------------------------------------------------------------------
// Kmer256: k in [1, 128]

// Kmer256 is a 256-bit k-mer, word 0 being the low word.
type Kmer256 [4]uint64

func (x Kmer256) Cmp(y Kmer256) int {
	for i := 3; i >= 0; i-- {
		if x[i] != y[i] {
			if x[i] < y[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (x Kmer256) Hash(salt uint64) uint64 {
	var b [32]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(b[i<<3:], x[i])
	}
	return hashWords(b[:], salt)
}

func (x Kmer256) PushLow(code uint8, mask Kmer256) Kmer256 {
	return Kmer256{
		(x[0]<<2 | uint64(code)) & mask[0],
		(x[1]<<2 | x[0]>>62) & mask[1],
		(x[2]<<2 | x[1]>>62) & mask[2],
		(x[3]<<2 | x[2]>>62) & mask[3],
	}
}

func (x Kmer256) PushHigh(code uint8, shift uint) Kmer256 {
	r := Kmer256{
		x[0]>>2 | x[1]<<62,
		x[1]>>2 | x[2]<<62,
		x[2]>>2 | x[3]<<62,
		x[3] >> 2,
	}
	r[shift>>6] |= uint64(code) << (shift & 63)
	return r
}

func (Kmer256) MaskFor(k int) Kmer256 {
	var m Kmer256
	bits := uint(k) << 1
	for i := range m {
		switch {
		case bits >= 64:
			m[i] = ^uint64(0)
			bits -= 64
		case bits > 0:
			m[i] = 1<<bits - 1
			bits = 0
		}
	}
	return m
}

func (Kmer256) Words() int { return 4 }

func (x Kmer256) Word(i int) uint64 { return x[i] }

func (x Kmer256) AppendBytes(buf []byte) []byte {
	for i := 0; i < 4; i++ {
		buf = binary.LittleEndian.AppendUint64(buf, x[i])
	}
	return buf
}

func (Kmer256) FromBytes(b []byte) Kmer256 {
	return Kmer256{
		binary.LittleEndian.Uint64(b),
		binary.LittleEndian.Uint64(b[8:]),
		binary.LittleEndian.Uint64(b[16:]),
		binary.LittleEndian.Uint64(b[24:]),
	}
}
