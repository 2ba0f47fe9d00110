// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs describes the architecture-specific register layouts used
// by the sampling profiler's unwinder and bridges the kernel's
// perf_regs.h numbering to a small set of logical registers the rest of
// the profiler cares about.
package regs

import "fmt"

// An ArchType identifies the instruction-set architecture a sample was
// taken on.
type ArchType int

const (
	Unknown ArchType = iota
	X86_64
	ARM64
	ARM
)

func (a ArchType) String() string {
	switch a {
	case X86_64:
		return "x86_64"
	case ARM64:
		return "arm64"
	case ARM:
		return "arm"
	default:
		return "unknown"
	}
}

// A Reg is a logical register independent of any architecture's kernel
// numbering. Not every architecture defines every logical register.
type Reg int

const (
	RegPC Reg = iota
	RegSP
	RegLR
	RegFP
)

func (r Reg) String() string {
	switch r {
	case RegPC:
		return "pc"
	case RegSP:
		return "sp"
	case RegLR:
		return "lr"
	case RegFP:
		return "fp"
	default:
		return fmt.Sprintf("reg%d", int(r))
	}
}

// A RegSet is a snapshot of a sample's PERF_SAMPLE_REGS_USER payload: the
// raw kernel-ordered register values plus the validity mask that
// accompanied them (see perffile.RecordSample.Regs/RegsABI).
type RegSet struct {
	Arch   ArchType
	Values []uint64 // packed in ascending order of the set bits of Mask
	Mask   uint64   // bit i set iff Values corresponds to a requested register
}

// Valid reports whether perfIdx was included in the sampled register set.
func (r RegSet) Valid(perfIdx int) bool {
	if perfIdx < 0 || perfIdx >= 64 {
		return false
	}
	return r.Mask&(1<<uint(perfIdx)) != 0
}

// At returns the value of the kernel register numbered perfIdx.
//
// Values in the kernel's PERF_SAMPLE_REGS_USER payload only include the
// registers whose bit is set in Mask, packed in ascending bit order, so
// this walks the mask to find the packed offset rather than indexing
// directly by perfIdx.
func (r RegSet) At(perfIdx int) (uint64, bool) {
	if !r.Valid(perfIdx) {
		return 0, false
	}
	pos := popcount(r.Mask & ((1 << uint(perfIdx)) - 1))
	if pos >= len(r.Values) {
		return 0, false
	}
	return r.Values[pos], true
}

func popcount(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

// ArchFromABI selects the effective architecture for a sample given the
// sample's misc.abi32 flag and the host's native architecture. A 64-bit
// host sampling a 32-bit (aarch32) process on an ARM64 host reports
// ARM, not ARM64; everything else matches the host architecture.
func ArchFromABI(abi32 bool, hostArch ArchType) ArchType {
	if abi32 && hostArch == ARM64 {
		return ARM
	}
	return hostArch
}

// IndexOf returns the kernel PERF_REG_* bit position of the given logical
// register for arch, or false if arch does not define it.
func IndexOf(arch ArchType, r Reg) (int, bool) {
	switch arch {
	case X86_64:
		return x86_64Index(r)
	case ARM64:
		return arm64Index(r)
	case ARM:
		return armIndex(r)
	default:
		return 0, false
	}
}

// PC, SP, LR, FP extract the named logical register from rs for its
// architecture.
func PC(rs RegSet) (uint64, bool) { return extract(rs, RegPC) }
func SP(rs RegSet) (uint64, bool) { return extract(rs, RegSP) }
func LR(rs RegSet) (uint64, bool) { return extract(rs, RegLR) }
func FP(rs RegSet) (uint64, bool) { return extract(rs, RegFP) }

func extract(rs RegSet, r Reg) (uint64, bool) {
	idx, ok := IndexOf(rs.Arch, r)
	if !ok {
		return 0, false
	}
	return rs.At(idx)
}
