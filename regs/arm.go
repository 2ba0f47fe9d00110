// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

// PERF_REG_ARM_* from arch/arm/include/uapi/asm/perf_regs.h.
const (
	perfRegARMFP = 11
	perfRegARMSP = 13
	perfRegARMLR = 14
	perfRegARMPC = 15
)

func armIndex(r Reg) (int, bool) {
	switch r {
	case RegPC:
		return perfRegARMPC, true
	case RegSP:
		return perfRegARMSP, true
	case RegLR:
		return perfRegARMLR, true
	case RegFP:
		return perfRegARMFP, true
	}
	return 0, false
}
