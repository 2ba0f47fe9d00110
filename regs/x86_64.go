// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

// PERF_REG_X86_* from arch/x86/include/uapi/asm/perf_regs.h. Only the
// subset the unwinder needs is named; the rest of the 27-register x86_64
// layout is irrelevant to CFI stepping.
const (
	perfRegX86RAX = 0
	perfRegX86RBX = 3
	perfRegX86RCX = 1
	perfRegX86RDX = 2
	perfRegX86RSI = 4
	perfRegX86RDI = 5
	perfRegX86RBP = 6
	perfRegX86RSP = 7
	perfRegX86RIP = 8
)

func x86_64Index(r Reg) (int, bool) {
	switch r {
	case RegPC:
		return perfRegX86RIP, true
	case RegSP:
		return perfRegX86RSP, true
	case RegFP:
		return perfRegX86RBP, true
	case RegLR:
		// x86_64 has no link register; the return address lives on
		// the stack, recovered by CFI stepping instead.
		return 0, false
	}
	return 0, false
}
