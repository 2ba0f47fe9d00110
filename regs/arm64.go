// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

// PERF_REG_ARM64_* from arch/arm64/include/uapi/asm/perf_regs.h.
const (
	perfRegARM64X29 = 29 // frame pointer
	perfRegARM64LR  = 30 // link register (x30)
	perfRegARM64SP  = 31
	perfRegARM64PC  = 32
)

func arm64Index(r Reg) (int, bool) {
	switch r {
	case RegPC:
		return perfRegARM64PC, true
	case RegSP:
		return perfRegARM64SP, true
	case RegLR:
		return perfRegARM64LR, true
	case RegFP:
		return perfRegARM64X29, true
	}
	return 0, false
}

// RemapUser32 translates the aarch32 PERF_REG_ARM_* register set captured
// when an ARM64 host samples an aarch32 (32-bit) process into the 64-bit
// logical layout consumed by the rest of the unwinder.
//
// The aarch32 and aarch64 kernel register enumerations are unrelated
// (aarch32 numbers r0..r15 in AAPCS order; aarch64 numbers x0..x30 plus sp
// and pc separately), so this is not a simple bit shift: each aarch32
// slot is moved to the aarch64 slot holding the equivalent architectural
// register. The arm_regs variant of this remap used by the reference
// implementation differs ad-hoc between kernel versions (Open Question in
// SPEC_FULL.md); this implementation re-derives the mapping from the
// AAPCS32 <-> AAPCS64 calling convention rather than reproducing it.
func RemapUser32(aarch32 []uint64) []uint64 {
	// PERF_REG_ARM_* indices, from arch/arm/include/uapi/asm/perf_regs.h.
	const (
		armR0  = 0
		armFP  = 11 // r11, AAPCS32 frame pointer
		armSP  = 13 // r13
		armLR  = 14 // r14
		armPC  = 15 // r15
	)
	out := make([]uint64, 33) // enough for PERF_REG_ARM64_MAX
	cp := func(aarch64Idx, aarch32Idx int) {
		if aarch32Idx < len(aarch32) {
			out[aarch64Idx] = aarch32[aarch32Idx]
		}
	}
	for i := 0; i < 11 && armR0+i < len(aarch32); i++ {
		cp(i, armR0+i)
	}
	cp(perfRegARM64X29, armFP)
	cp(perfRegARM64SP, armSP)
	cp(perfRegARM64LR, armLR)
	cp(perfRegARM64PC, armPC)
	return out
}
