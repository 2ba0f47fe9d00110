// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/perffile"
)

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func TestDecodeSampleBasicFields(t *testing.T) {
	format := perffile.SampleFormatIP | perffile.SampleFormatTID | perffile.SampleFormatTime |
		perffile.SampleFormatID | perffile.SampleFormatCPU | perffile.SampleFormatPeriod

	var body []byte
	body = appendU64(body, 0xdeadbeef)  // IP
	body = appendU32(body, 100)         // pid
	body = appendU32(body, 101)         // tid
	body = appendU64(body, 123456789)   // time
	body = appendU64(body, 7)           // id
	body = appendU32(body, 3)           // cpu
	body = appendU32(body, 0)           // res
	body = appendU64(body, 1000)        // period

	s, ok := decodeSample(body, format, 0)
	require.True(t, ok)
	require.EqualValues(t, 0xdeadbeef, s.IP)
	require.EqualValues(t, 100, s.PID)
	require.EqualValues(t, 101, s.TID)
	require.EqualValues(t, 123456789, s.Time)
	require.EqualValues(t, 7, s.ID)
	require.EqualValues(t, 3, s.CPU)
	require.EqualValues(t, 1000, s.Period)
}

func TestDecodeSampleCallchain(t *testing.T) {
	format := perffile.SampleFormatCallchain

	var body []byte
	body = appendU64(body, 3) // nr
	body = appendU64(body, 0x1000)
	body = appendU64(body, 0x2000)
	body = appendU64(body, 0x3000)

	s, ok := decodeSample(body, format, 0)
	require.True(t, ok)
	require.Equal(t, []uint64{0x1000, 0x2000, 0x3000}, s.Callchain)
}

func TestDecodeSampleRegsAndStack(t *testing.T) {
	const regsMask = 0b101 // two registers requested

	format := perffile.SampleFormatRegsUser | perffile.SampleFormatStackUser

	var body []byte
	body = appendU64(body, 1)       // abi != 0
	body = appendU64(body, 0xaaaa)  // reg 0
	body = appendU64(body, 0xbbbb)  // reg 1
	body = appendU64(body, 4)       // stack size
	body = append(body, []byte{1, 2, 3, 4}...)
	body = appendU64(body, 4) // dyn_size

	s, ok := decodeSample(body, format, regsMask)
	require.True(t, ok)
	require.Equal(t, []uint64{0xaaaa, 0xbbbb}, s.Regs)
	require.Equal(t, []byte{1, 2, 3, 4}, s.Stack)
}

func TestDecodeSampleTruncatedIsRejected(t *testing.T) {
	format := perffile.SampleFormatIP
	_, ok := decodeSample([]byte{1, 2, 3}, format, 0)
	require.False(t, ok)
}

func TestPopcountU64(t *testing.T) {
	require.Equal(t, 0, popcountU64(0))
	require.Equal(t, 1, popcountU64(1))
	require.Equal(t, 2, popcountU64(0b101))
	require.Equal(t, 64, popcountU64(^uint64(0)))
}
