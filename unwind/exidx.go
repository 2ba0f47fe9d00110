// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import "fmt"

// exidxEntry is one 8-byte .ARM.exidx table row: a prel31 offset to the
// covered function, followed either by the single word
// EXIDX_CANTUNWIND, a prel31 pointer to out-of-line unwind bytecode in
// .ARM.extab, or (the common case for -funwind-tables output) a compact
// "personality 0" entry with up to 3 inline bytecode bytes.
type exidxEntry struct {
	FuncOffset uint64 // runtime address of the covered function
	Data       uint32
}

const exidxCantUnwind = 0x00000001

// findExidxEntry binary-searches a .ARM.exidx table (loaded at
// tableRuntimeAddr, entries sorted by FuncOffset) for the entry covering
// pc.
func findExidxEntry(table []byte, tableRuntimeAddr, pc uint64) (*exidxEntry, error) {
	const entrySize = 8
	n := len(table) / entrySize
	if n == 0 {
		return nil, fmt.Errorf("exidx: empty table")
	}
	decode := func(i int) *exidxEntry {
		off := i * entrySize
		word0 := le32(table[off:])
		word1 := le32(table[off+4:])
		entryAddr := tableRuntimeAddr + uint64(off)
		return &exidxEntry{FuncOffset: prel31(word0, entryAddr), Data: word1}
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if decode(mid).FuncOffset <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return nil, fmt.Errorf("exidx: pc 0x%x before first entry", pc)
	}
	return decode(lo - 1), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// prel31 sign-extends a 31-bit PC-relative offset and adds it to the
// runtime address the field itself was loaded at (EHABI §5).
func prel31(word uint32, fieldAddr uint64) uint64 {
	v := word & 0x7fffffff
	if v&0x40000000 != 0 {
		v |= 0x80000000 // sign-extend bit 30 into bit 31
	}
	return fieldAddr + uint64(int32(v))
}

// exidxStep executes one EHABI personality-0 compact unwind entry against
// a virtual register file vregs[0..15] (r13=SP, r14=LR, r15=PC), reading
// popped words through readWord. It returns the updated register file.
// Unsupported forms (out-of-line extab entries, personalities other than
// 0, reserved opcodes) fail the step, matching the CFI interpreter's
// "unsupported → stop" contract (§4.2).
func exidxStep(entry *exidxEntry, vregs [16]uint64, readWord func(addr uint64) (uint32, bool)) ([16]uint64, error) {
	if entry.Data == exidxCantUnwind {
		return vregs, fmt.Errorf("exidx: EXIDX_CANTUNWIND")
	}
	if entry.Data&0x80000000 == 0 {
		return vregs, fmt.Errorf("exidx: out-of-line extab entries unsupported")
	}
	personality := (entry.Data >> 24) & 0x7f
	if personality != 0 {
		return vregs, fmt.Errorf("exidx: personality %d unsupported", personality)
	}

	pop := func(vsp uint64) (uint64, uint32, error) {
		w, ok := readWord(vsp)
		if !ok {
			return vsp, 0, fmt.Errorf("exidx: stack read failed at 0x%x", vsp)
		}
		return vsp + 4, w, nil
	}

	opcodes := []byte{byte(entry.Data >> 16), byte(entry.Data >> 8), byte(entry.Data)}
	r := &cfiReader{buf: opcodes}
	vsp := vregs[13]
	finished := false

	for !r.done() && !finished {
		op, _ := r.u8()
		switch {
		case op&0xc0 == 0x00: // vsp = vsp + (op&0x3f)*4 + 4
			vsp += uint64(op&0x3f)*4 + 4
		case op&0xc0 == 0x40: // vsp = vsp - (op&0x3f)*4 - 4
			vsp -= uint64(op&0x3f)*4 + 4
		case op == 0xb0: // Finish
			finished = true
		case op == 0x9d, op == 0x9f:
			return vregs, fmt.Errorf("exidx: reserved opcode 0x%x", op)
		case op&0xf0 == 0x90: // vsp = r[op&0x0f]
			vsp = vregs[op&0x0f]
		case op&0xf0 == 0xa0: // pop r4..r[4+nnn](, r14)
			count := int(op & 0x07)
			for i := 0; i <= count; i++ {
				var w uint32
				var err error
				vsp, w, err = pop(vsp)
				if err != nil {
					return vregs, err
				}
				vregs[4+i] = uint64(w)
			}
			if op&0x08 != 0 {
				var w uint32
				var err error
				vsp, w, err = pop(vsp)
				if err != nil {
					return vregs, err
				}
				vregs[14] = uint64(w)
			}
		case op&0xf0 == 0x80:
			next, ok := r.u8()
			if !ok {
				return vregs, fmt.Errorf("exidx: truncated register-pop mask")
			}
			mask := (uint16(op&0x0f) << 8) | uint16(next)
			for i := 0; i < 12; i++ { // r4-r15
				if mask&(1<<uint(i)) != 0 {
					var w uint32
					var err error
					vsp, w, err = pop(vsp)
					if err != nil {
						return vregs, err
					}
					vregs[4+i] = uint64(w)
				}
			}
		case op == 0xb1: // pop under mask, r0-r3
			mask, ok := r.u8()
			if !ok {
				return vregs, fmt.Errorf("exidx: truncated b1 mask")
			}
			for i := 0; i < 4; i++ {
				if mask&(1<<uint(i)) != 0 {
					var w uint32
					var err error
					vsp, w, err = pop(vsp)
					if err != nil {
						return vregs, err
					}
					vregs[i] = uint64(w)
				}
			}
		case op == 0xb2: // vsp += uleb128*4 + 0x204
			n, ok := r.uleb128()
			if !ok {
				return vregs, fmt.Errorf("exidx: truncated b2 operand")
			}
			vsp += n*4 + 0x204
		case op == 0xb3 || op == 0xc8 || op == 0xc9:
			// VFP register save forms: length-only skip, no GPR effect.
			r.u8()
		default:
			return vregs, fmt.Errorf("exidx: unsupported opcode 0x%x", op)
		}
	}
	vregs[13] = vsp
	return vregs, nil
}
