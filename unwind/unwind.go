// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"github.com/go-perfcore/perfcore/regs"
	"github.com/go-perfcore/perfcore/symbols"
)

// StackMode selects how a target's call stacks are reconstructed,
// mirroring set_stack's two supported modes (§4.1, §4.2).
type StackMode int

const (
	StackModeDwarf StackMode = iota
	StackModeFp
)

// A Frame is one reconstructed stack level.
type Frame struct {
	PC, SP uint64
}

const maxTableBytes = 4 << 20 // sanity bound on a single module's unwind section

// dwarfCol maps a logical register to the DWARF register number used in
// CFI expressions for arch. Only the handful CFI steps ever reference
// (SP, the frame-pointer register, and the link register where the ISA
// has one) are covered.
func dwarfCol(arch regs.ArchType, r regs.Reg) int {
	switch arch {
	case regs.X86_64:
		switch r {
		case regs.RegSP:
			return 7
		case regs.RegFP:
			return 6
		}
	case regs.ARM64:
		switch r {
		case regs.RegSP:
			return 31
		case regs.RegFP:
			return 29
		case regs.RegLR:
			return 30
		}
	case regs.ARM:
		switch r {
		case regs.RegSP:
			return 13
		case regs.RegFP:
			return 11
		case regs.RegLR:
			return 14
		}
	}
	return -1
}

func seedRegfile(arch regs.ArchType, rs regs.RegSet) map[int]uint64 {
	file := make(map[int]uint64)
	if sp, ok := regs.SP(rs); ok {
		if c := dwarfCol(arch, regs.RegSP); c >= 0 {
			file[c] = sp
		}
	}
	if fp, ok := regs.FP(rs); ok {
		if c := dwarfCol(arch, regs.RegFP); c >= 0 {
			file[c] = fp
		}
	}
	if lr, ok := regs.LR(rs); ok {
		if c := dwarfCol(arch, regs.RegLR); c >= 0 {
			file[c] = lr
		}
	}
	return file
}

func readWord(acc MemoryAccessor, pid int, addr uint64) (uint64, bool) {
	if buf, ok := acc.ReadStack(addr, 8); ok {
		return le64(buf), true
	}
	if buf, ok := acc.ReadMemory(pid, addr, 8); ok {
		return le64(buf), true
	}
	return 0, false
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// unwinder walks physical stack frames one step() at a time, in the
// explicit init/valid/next shape used for stack walking across the
// corpus rather than a recursive descent.
type unwinder struct {
	acc     MemoryAccessor
	pid     int
	arch    regs.ArchType
	mode    StackMode
	regfile map[int]uint64
	frame   Frame
	ok      bool
}

func (u *unwinder) init(acc MemoryAccessor, pid int, arch regs.ArchType, mode StackMode, rs regs.RegSet) {
	u.acc, u.pid, u.arch, u.mode = acc, pid, arch, mode
	u.regfile = seedRegfile(arch, rs)
	pc, _ := regs.PC(rs)
	sp, _ := regs.SP(rs)
	u.frame = Frame{PC: pc, SP: sp}
	u.ok = pc != 0
}

func (u *unwinder) valid() bool { return u.ok }

func (u *unwinder) next() {
	prev := u.frame
	var nf Frame
	var err error
	if u.mode == StackModeFp {
		nf, err = u.stepFP()
	} else {
		nf, err = u.stepDwarf()
	}
	if err != nil || nf.PC == 0 || nf == prev {
		u.ok = false
		return
	}
	u.frame = nf
}

// stepFP implements the cheap frame-pointer fallback: [FP] -> saved FP,
// [FP+wordsize] -> return address (§4.2).
func (u *unwinder) stepFP() (Frame, error) {
	fpCol := dwarfCol(u.arch, regs.RegFP)
	fp, ok := u.regfile[fpCol]
	if !ok || fp == 0 {
		return Frame{}, errNoFrame
	}
	savedFP, ok := readWord(u.acc, u.pid, fp)
	if !ok {
		return Frame{}, errReadFailed
	}
	retAddr, ok := readWord(u.acc, u.pid, fp+8)
	if !ok {
		return Frame{}, errReadFailed
	}
	u.regfile[fpCol] = savedFP
	return Frame{PC: retAddr, SP: fp + 16}, nil
}

// stepDwarf executes one CFI or EHABI step depending on the owning
// module's advertised unwind format (§4.2 Table discovery + Step
// algorithm).
func (u *unwinder) stepDwarf() (Frame, error) {
	lookupPC := u.frame.PC
	if lookupPC > 0 {
		lookupPC-- // land inside the calling instruction (non-signal frames)
	}

	info, ok := u.acc.FindUnwindTable(lookupPC)
	if !ok {
		return Frame{}, errNoFrame
	}
	size := info.TableLen
	if size == 0 || size > maxTableBytes {
		return Frame{}, errNoFrame
	}
	table, ok := u.acc.ReadMemory(u.pid, info.TableVAddr, int(size))
	if !ok {
		return Frame{}, errReadFailed
	}

	switch info.Format {
	case symbols.UnwindFormatEhFrame:
		return u.stepEhFrame(table, info.TableVAddr, lookupPC)
	case symbols.UnwindFormatArmExidx:
		return u.stepExidx(table, info.TableVAddr, lookupPC)
	default:
		return Frame{}, errNoFrame
	}
}

func (u *unwinder) stepEhFrame(table []byte, tableAddr, pc uint64) (Frame, error) {
	f, err := findFDE(table, tableAddr, pc)
	if err != nil {
		return Frame{}, errNoFrame
	}
	row, err := runCFA(f, pc)
	if err != nil {
		return Frame{}, err
	}

	cfaBase, ok := u.regfile[row.CFARegister]
	if !ok {
		return Frame{}, errNoFrame
	}
	cfa := cfaBase + uint64(row.CFAOffset)

	next := make(map[int]uint64, len(u.regfile))
	for k, v := range u.regfile {
		next[k] = v
	}
	for reg, ru := range row.Rules {
		switch ru.Kind {
		case ruleOffset:
			addr := cfa + uint64(ru.Offset)
			w, ok := readWord(u.acc, u.pid, addr)
			if !ok {
				continue
			}
			next[reg] = w
		case ruleValOffset:
			next[reg] = cfa + uint64(ru.Offset)
		case ruleRegister:
			if v, ok := u.regfile[ru.Reg]; ok {
				next[reg] = v
			}
		case ruleSameValue:
			if v, ok := u.regfile[reg]; ok {
				next[reg] = v
			}
		}
	}
	if spCol := dwarfCol(u.arch, regs.RegSP); spCol >= 0 {
		next[spCol] = cfa
	}

	raCol := int(f.CIE.ReturnAddressRegister)
	retPC, ok := next[raCol]
	if !ok {
		return Frame{}, errNoFrame
	}
	u.regfile = next
	return Frame{PC: retPC, SP: cfa}, nil
}

func (u *unwinder) stepExidx(table []byte, tableAddr, pc uint64) (Frame, error) {
	entry, err := findExidxEntry(table, tableAddr, pc)
	if err != nil {
		return Frame{}, errNoFrame
	}

	var vregs [16]uint64
	vregs[13] = u.frame.SP
	if col := dwarfCol(u.arch, regs.RegFP); col >= 0 {
		vregs[11], vregs[7] = u.regfile[col], u.regfile[col]
	}
	if col := dwarfCol(u.arch, regs.RegLR); col >= 0 {
		vregs[14] = u.regfile[col]
	}

	read := func(addr uint64) (uint32, bool) {
		w, ok := readWord(u.acc, u.pid, addr)
		return uint32(w), ok
	}
	next, err := exidxStep(entry, vregs, read)
	if err != nil {
		return Frame{}, err
	}

	spCol, fpCol, lrCol := dwarfCol(u.arch, regs.RegSP), dwarfCol(u.arch, regs.RegFP), dwarfCol(u.arch, regs.RegLR)
	if spCol >= 0 {
		u.regfile[spCol] = next[13]
	}
	if fpCol >= 0 {
		u.regfile[fpCol] = next[11]
	}
	if lrCol >= 0 {
		u.regfile[lrCol] = next[14]
	}
	return Frame{PC: next[14], SP: next[13]}, nil
}

type stepError string

func (e stepError) Error() string { return string(e) }

const (
	errNoFrame    = stepError("unwind: no unwind info at pc")
	errReadFailed = stepError("unwind: memory read out of range")
)

// Unwind reconstructs up to maxFrames (pc, sp) pairs starting from the
// sampled register set, per the §4.2 step algorithm: emit the initial
// frame, then repeatedly execute one CFI/EHABI/FP step until a step
// fails, the PC goes to zero, a (pc, sp) repeat is detected (loop
// guard), or maxFrames is reached. A step failure other than a
// structural decode panic (there are none; all paths return errors)
// stops the unwind silently and returns the frames gathered so far.
func Unwind(acc MemoryAccessor, pid int, arch regs.ArchType, rs regs.RegSet, mode StackMode, maxFrames int) []Frame {
	var u unwinder
	frames := make([]Frame, 0, maxFrames)
	for u.init(acc, pid, arch, mode, rs); u.valid() && len(frames) < maxFrames; u.next() {
		frames = append(frames, u.frame)
	}
	return frames
}
