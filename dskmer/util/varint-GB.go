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

package util

import "math/bits"

// CtrlByte2ByteLengths maps a control byte to the byte lengths of the
// two encoded uint64s. Only the low 6 bits of a control byte are
// meaningful here; callers must mask out any flag bits first.
var CtrlByte2ByteLengths [64][2]uint8

func init() {
	for i := 0; i < 64; i++ {
		CtrlByte2ByteLengths[i] = [2]uint8{uint8(i>>3) + 1, uint8(i&7) + 1}
	}
}

func byteLength(v uint64) int {
	n := (bits.Len64(v) + 7) >> 3
	if n == 0 {
		n = 1
	}
	return n
}

// PutUint64s encodes two uint64s into buf with a variant of Group Varint
// (Stream VByte with 8 lengths). Each value takes its minimum number of
// big-endian bytes (1-8), recorded in the returned control byte:
// bits 3-5 for the first value, bits 0-2 for the second, each length-1.
// buf must have a capacity of at least 16 bytes.
func PutUint64s(buf []byte, v1, v2 uint64) (ctrl byte, n int) {
	n1 := byteLength(v1)
	n2 := byteLength(v2)
	ctrl = byte((n1-1)<<3 | (n2 - 1))

	j := 0
	for i := n1 - 1; i >= 0; i-- {
		buf[j] = byte(v1 >> (uint(i) << 3))
		j++
	}
	for i := n2 - 1; i >= 0; i-- {
		buf[j] = byte(v2 >> (uint(i) << 3))
		j++
	}
	return ctrl, n1 + n2
}

// Uint64s decodes two uint64s from buf according to the control byte.
// The second returned value is the number of decoded uint64s,
// 0 for insufficient bytes in buf.
func Uint64s(ctrl byte, buf []byte) (values [2]uint64, nDecoded int) {
	sizes := CtrlByte2ByteLengths[ctrl]
	n1, n2 := int(sizes[0]), int(sizes[1])
	if len(buf) < n1+n2 {
		return values, 0
	}

	var v uint64
	for i := 0; i < n1; i++ {
		v = v<<8 | uint64(buf[i])
	}
	values[0] = v

	v = 0
	for i := n1; i < n1+n2; i++ {
		v = v<<8 | uint64(buf[i])
	}
	values[1] = v

	return values, 2
}

// Uint64s2 is Uint64s returning the two values separately,
// avoiding the array copy on the hot path.
func Uint64s2(ctrl byte, buf []byte) (v1, v2 uint64, nDecoded int) {
	sizes := CtrlByte2ByteLengths[ctrl]
	n1, n2 := int(sizes[0]), int(sizes[1])
	if len(buf) < n1+n2 {
		return 0, 0, 0
	}

	for i := 0; i < n1; i++ {
		v1 = v1<<8 | uint64(buf[i])
	}
	for i := n1; i < n1+n2; i++ {
		v2 = v2<<8 | uint64(buf[i])
	}
	return v1, v2, 2
}

// Uint64sOld is the byte-switch-free implementation kept for benchmarks.
func Uint64sOld(ctrl byte, buf []byte) (values [2]uint64, nDecoded int) {
	n1 := int(ctrl>>3) + 1
	n2 := int(ctrl&7) + 1
	if len(buf) < n1+n2 {
		return values, 0
	}

	for i := 0; i < n1; i++ {
		values[0] = values[0]<<8 | uint64(buf[i])
	}
	for i := n1; i < n1+n2; i++ {
		values[1] = values[1]<<8 | uint64(buf[i])
	}
	return values, 2
}
