// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "encoding/binary"

// bufEncoder is the write-side mirror of bufDecoder: it appends
// fixed-width fields to a growing byte slice in a chosen byte order.
type bufEncoder struct {
	buf   []byte
	order binary.ByteOrder
}

func newBufEncoder(order binary.ByteOrder) *bufEncoder {
	return &bufEncoder{order: order}
}

func (b *bufEncoder) bytes(x []byte) {
	b.buf = append(b.buf, x...)
}

func (b *bufEncoder) u16(x uint16) {
	var tmp [2]byte
	b.order.PutUint16(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) u32(x uint32) {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) i32(x int32) { b.u32(uint32(x)) }

func (b *bufEncoder) u64(x uint64) {
	var tmp [8]byte
	b.order.PutUint64(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) u64s(xs []uint64) {
	for _, x := range xs {
		b.u64(x)
	}
}

func (b *bufEncoder) u32If(cond bool, x uint32) {
	if cond {
		b.u32(x)
	}
}

func (b *bufEncoder) i32If(cond bool, x int32) {
	if cond {
		b.i32(x)
	}
}

func (b *bufEncoder) u64If(cond bool, x uint64) {
	if cond {
		b.u64(x)
	}
}

func (b *bufEncoder) cstring(s string) {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
}

// lenString writes a u32 length (aligned to 8 bytes, like perf's string
// encoding) followed by the NUL-terminated string padded to that length.
func (b *bufEncoder) lenString(s string) {
	n := len(s) + 1
	padded := (n + 7) &^ 7
	b.u32(uint32(padded))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, make([]byte, padded-len(s))...)
}

func (b *bufEncoder) stringList(strs []string) {
	b.u32(uint32(len(strs)))
	for _, s := range strs {
		b.lenString(s)
	}
}
