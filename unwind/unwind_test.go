// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/procvirt"
	"github.com/go-perfcore/perfcore/regs"
	"github.com/go-perfcore/perfcore/symbols"
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// buildEhFrame assembles a two-entry (one CIE, one FDE) .eh_frame table
// describing the standard x86-64 push-rbp/mov-rbp,rsp prologue, with
// absolute (non-pcrel) pointer encodings to keep the test independent of
// the table's load address.
func buildEhFrame(pcBegin, pcRange uint64) []byte {
	var table bytes.Buffer

	cieBody := []byte{1, 0} // version 1, empty augmentation string
	cieBody = append(cieBody, uleb(1)...)     // code alignment factor
	cieBody = append(cieBody, sleb(-8)...)    // data alignment factor
	cieBody = append(cieBody, uleb(16)...)    // return address register (rip)
	cieBody = append(cieBody, 0x0c, 0x07, 0x08)       // def_cfa r7(rsp), 8
	cieBody = append(cieBody, 0x90)                    // offset r16
	cieBody = append(cieBody, uleb(1)...)              // factor 1 -> -8

	cieStart := table.Len()
	binary.Write(&table, binary.LittleEndian, uint32(4+len(cieBody)))
	binary.Write(&table, binary.LittleEndian, uint32(0)) // CIE id
	table.Write(cieBody)

	fdeIDPos := table.Len() + 4 // the CIE-pointer field follows the FDE's 4-byte length
	fdeBody := make([]byte, 0, 32)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], pcBegin)
	fdeBody = append(fdeBody, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], pcRange)
	fdeBody = append(fdeBody, tmp[:]...)
	fdeBody = append(fdeBody,
		0x41,       // advance_loc 1 (past "push rbp")
		0x0e, 0x10, // def_cfa_offset 16
		0x86, 0x02, // offset r6, factor 2 -> -16
		0x43,       // advance_loc 3 (past "mov rbp, rsp")
		0x0d, 0x06, // def_cfa_register r6
	)

	cieOffset := uint32(fdeIDPos - cieStart)
	binary.Write(&table, binary.LittleEndian, uint32(4+len(fdeBody)))
	binary.Write(&table, binary.LittleEndian, cieOffset)
	table.Write(fdeBody)

	return table.Bytes()
}

type fakeAccessor struct {
	table      []byte
	tableAddr  uint64
	mem        map[uint64]uint64
	info       *UnwindTableInfo
}

func (f *fakeAccessor) ReadStack(addr uint64, n int) ([]byte, bool) { return nil, false }

func (f *fakeAccessor) ReadMemory(pid int, addr uint64, n int) ([]byte, bool) {
	if addr == f.tableAddr && n == len(f.table) {
		return f.table, true
	}
	if n == 8 {
		if v, ok := f.mem[addr]; ok {
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, v)
			return buf, true
		}
	}
	return nil, false
}

func (f *fakeAccessor) ReadReg(idx int) (uint64, bool) { return 0, false }

func (f *fakeAccessor) FindUnwindTable(pc uint64) (*UnwindTableInfo, bool) { return f.info, f.info != nil }

func (f *fakeAccessor) GetMapping(pc uint64) (*procvirt.Mapping, bool) { return nil, false }

func TestUnwindDwarfStepsOneFrame(t *testing.T) {
	const pcBegin, pcRange = 0x401000, 0x100
	table := buildEhFrame(pcBegin, pcRange)
	const tableAddr = 0x500000

	rbp := uint64(0x7000)
	cfa := rbp + 16
	callerPC := uint64(0x400777)
	callerRBP := uint64(0x6000)

	acc := &fakeAccessor{
		table:     table,
		tableAddr: tableAddr,
		mem: map[uint64]uint64{
			cfa - 8:  callerPC,
			cfa - 16: callerRBP,
		},
		info: &UnwindTableInfo{Format: symbols.UnwindFormatEhFrame, TableVAddr: tableAddr, TableLen: uint64(len(table))},
	}

	rs := regs.RegSet{
		Arch:   regs.X86_64,
		Mask:   1<<6 | 1<<7 | 1<<8,
		Values: []uint64{rbp, 0 /* rsp unused by this row */, pcBegin + 5},
	}

	frames := Unwind(acc, 1, regs.X86_64, rs, StackModeDwarf, 8)
	require.Len(t, frames, 2)
	require.Equal(t, Frame{PC: pcBegin + 5, SP: 0}, frames[0])
	require.Equal(t, callerPC, frames[1].PC)
	require.Equal(t, cfa, frames[1].SP)
}

func TestUnwindStopsOnTableMiss(t *testing.T) {
	acc := &fakeAccessor{info: nil}
	rs := regs.RegSet{Arch: regs.X86_64, Mask: 1 << 8, Values: []uint64{0x401000}}
	frames := Unwind(acc, 1, regs.X86_64, rs, StackModeDwarf, 8)
	require.Len(t, frames, 1)
}

func TestFPFallbackOneFrame(t *testing.T) {
	fp := uint64(0x8000)
	savedFP := uint64(0x9000)
	retAddr := uint64(0x402000)

	acc := &fakeAccessor{mem: map[uint64]uint64{
		fp:     savedFP,
		fp + 8: retAddr,
	}}
	rs := regs.RegSet{
		Arch:   regs.X86_64,
		Mask:   1<<6 | 1<<8,
		Values: []uint64{fp, 0x401234},
	}
	frames := Unwind(acc, 1, regs.X86_64, rs, StackModeFp, 8)
	require.Len(t, frames, 2)
	require.Equal(t, retAddr, frames[1].PC)
	require.Equal(t, fp+16, frames[1].SP)
}

func TestExidxOpcodeVspAdjust(t *testing.T) {
	// Compact entry: 0x00 -> vsp += 0*4+4 = 4; then Finish.
	entry := &exidxEntry{Data: 0x80000000 | 0x00b000} // opcodes byte2=0x00,byte1=0xb0,byte0=0x00 packed big-endian in low 24 bits
	vregs := [16]uint64{13: 0x1000}
	out, err := exidxStep(entry, vregs, func(uint64) (uint32, bool) { return 0, false })
	require.NoError(t, err)
	require.Equal(t, uint64(0x1004), out[13])
}
