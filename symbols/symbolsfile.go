// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symbols generalizes perfsession.symbolize.go's per-filename
// DWARF func/line table into the spec's SymbolsFile abstraction (§3, §4.7):
// a sorted function-symbol table plus lazily-indexed unwind-table
// geometry, looked up by a central Registry instead of the teacher's
// session-scoped map so Mapping/DfxFrame can hold a stable index instead
// of a pointer (§9 Design Notes).
package symbols

import (
	"sort"

	"github.com/go-perfcore/perfcore/perffile"
)

// Symbol is one function symbol in a SymbolsFile (§3).
type Symbol struct {
	FuncVAddr      uint64
	Size           uint64
	Name           string
	DemangledName  string
	Module         string
}

// UnwindFormat identifies which unwind-table encoding a module carries.
type UnwindFormat int

const (
	UnwindFormatNone UnwindFormat = iota
	UnwindFormatEhFrame
	UnwindFormatArmExidx
)

// UnwindSectionInfo records the file geometry of a module's unwind
// table, resolved lazily (only once the unwinder actually needs to step
// through this module) per §4.2 Table discovery.
type UnwindSectionInfo struct {
	Format UnwindFormat

	// SectionVAddr and SectionOffset are the containing section's
	// runtime address and file offset; SectionSize is its length.
	SectionVAddr, SectionOffset, SectionSize uint64

	// HdrVAddr/HdrOffset/HdrSize describe .eh_frame_hdr, when present,
	// for faster FDE lookup. Zero if absent (exidx tables don't use a
	// separate header section).
	HdrVAddr, HdrOffset, HdrSize uint64
}

// SymbolsFile is one loaded module: an executable, a shared library, the
// kernel, or an opaque JS-VM region.
type SymbolsFile struct {
	Path      string
	BuildID   perffile.BuildID
	Is32Bit   bool

	// TextExecVAddr/TextExecFileOffset are the .text section's runtime
	// address and file offset (§4.7 step 3). Kernel/opaque files leave
	// these zero; the symbolizer treats that as an identity transform.
	TextExecVAddr     uint64
	TextExecFileOffset uint64

	// Opaque is true for kernel pseudo-files, modules, and ArkTS/hap
	// regions that have no backing ELF unwind/symbol data of their
	// own — the symbolizer echoes the containing map's name instead.
	Opaque bool

	symbols []Symbol // sorted by FuncVAddr ascending (invariant #2)
	unwind  *UnwindSectionInfo

	// elfPath is set when unwind indexing needs to reopen the backing
	// file lazily; empty for pseudo-files.
	elfPath string
}

// Symbols returns the sorted symbol table.
func (s *SymbolsFile) Symbols() []Symbol { return s.symbols }

// Lookup returns the symbol whose range [FuncVAddr, FuncVAddr+Size)
// contains vaddr, or, failing that, the immediately-lesser symbol plus
// inRange=false (§3 SymbolsFile invariant).
func (s *SymbolsFile) Lookup(vaddr uint64) (sym *Symbol, inRange bool) {
	n := len(s.symbols)
	if n == 0 {
		return nil, false
	}
	i := sort.Search(n, func(i int) bool {
		return s.symbols[i].FuncVAddr > vaddr
	})
	if i == 0 {
		return nil, false
	}
	cand := &s.symbols[i-1]
	if vaddr < cand.FuncVAddr+cand.Size {
		return cand, true
	}
	return cand, false
}

// UnwindInfo returns the unwind-table geometry Load recorded, or nil if
// the module has no .eh_frame/.ARM.exidx section or was not loaded from
// an ELF file.
func (s *SymbolsFile) UnwindInfo() *UnwindSectionInfo {
	return s.unwind
}
