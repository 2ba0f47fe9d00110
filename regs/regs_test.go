// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchFromABI(t *testing.T) {
	require.Equal(t, ARM, ArchFromABI(true, ARM64))
	require.Equal(t, ARM64, ArchFromABI(false, ARM64))
	require.Equal(t, X86_64, ArchFromABI(true, X86_64))
}

func TestRegSetAt(t *testing.T) {
	// Mask selects bits 6 (rbp) and 7 (rsp); packed in ascending order.
	rs := RegSet{
		Arch:   X86_64,
		Mask:   1<<6 | 1<<7,
		Values: []uint64{0xbeef, 0xf00d},
	}
	bp, ok := rs.At(6)
	require.True(t, ok)
	require.Equal(t, uint64(0xbeef), bp)

	sp, ok := rs.At(7)
	require.True(t, ok)
	require.Equal(t, uint64(0xf00d), sp)

	_, ok = rs.At(8)
	require.False(t, ok)
}

func TestPCSPFP(t *testing.T) {
	idxPC, _ := IndexOf(X86_64, RegPC)
	idxSP, _ := IndexOf(X86_64, RegSP)
	rs := RegSet{
		Arch:   X86_64,
		Mask:   1<<uint(idxPC) | 1<<uint(idxSP),
		Values: nil,
	}
	rs.Values = make([]uint64, 2)
	// Packed order follows ascending bit position: idxPC(8) > idxSP(7), so
	// SP is packed first.
	rs.Values[0] = 0x1000 // sp
	rs.Values[1] = 0x2000 // pc

	pc, ok := PC(rs)
	require.True(t, ok)
	require.Equal(t, uint64(0x2000), pc)

	sp, ok := SP(rs)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), sp)

	_, ok = LR(rs)
	require.False(t, ok, "x86_64 has no link register")
}

func TestRemapUser32(t *testing.T) {
	aarch32 := make([]uint64, 16)
	aarch32[0] = 1  // r0
	aarch32[11] = 2 // fp
	aarch32[13] = 3 // sp
	aarch32[14] = 4 // lr
	aarch32[15] = 5 // pc

	out := RemapUser32(aarch32)
	rs := RegSet{Arch: ARM64, Values: out, Mask: ^uint64(0)}

	pc, _ := PC(rs)
	sp, _ := SP(rs)
	lr, _ := LR(rs)
	fp, _ := FP(rs)
	require.Equal(t, uint64(5), pc)
	require.Equal(t, uint64(3), sp)
	require.Equal(t, uint64(4), lr)
	require.Equal(t, uint64(2), fp)
}
