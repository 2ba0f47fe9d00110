// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import "fmt"

type ruleKind int

const (
	ruleUndefined ruleKind = iota
	ruleSameValue
	ruleOffset    // value = *(CFA + Offset)
	ruleValOffset // value = CFA + Offset
	ruleRegister  // value = oldRegfile[Reg]
)

type rule struct {
	Kind   ruleKind
	Reg    int
	Offset int64
}

// cfaRow is one row of the CFI table: how to compute the CFA and how to
// recover each tracked register from it.
type cfaRow struct {
	CFARegister int
	CFAOffset   int64
	Rules       map[int]rule
}

func (r *cfaRow) clone() *cfaRow {
	cp := &cfaRow{CFARegister: r.CFARegister, CFAOffset: r.CFAOffset, Rules: make(map[int]rule, len(r.Rules))}
	for k, v := range r.Rules {
		cp.Rules[k] = v
	}
	return cp
}

// execInstrs interprets a CFI program, stopping once location advances
// past targetPC (so the FDE pass lands exactly on the row governing pc,
// per the bounded DW_CFA_* opcode set in use: advance_loc{,1,2,4}, offset,
// restore, nop, def_cfa{,_register,_offset}, offset_extended{,_sf},
// restore_extended, same_value, register, remember_state, restore_state,
// def_cfa_{sf,offset_sf}, val_offset).
func execInstrs(instrs []byte, c *cie, row *cfaRow, initial *cfaRow, startLoc, targetPC uint64) (*cfaRow, error) {
	loc := startLoc
	r := &cfiReader{buf: instrs}
	var stack []*cfaRow

	for !r.done() {
		if loc > targetPC {
			break
		}
		op, ok := r.u8()
		if !ok {
			break
		}
		hi, lo := op&0xc0, int(op&0x3f)
		switch hi {
		case 0x40: // DW_CFA_advance_loc
			loc += uint64(lo) * c.CodeAlignFactor
			continue
		case 0x80: // DW_CFA_offset
			off, ok := r.uleb128()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated offset operand")
			}
			row.Rules[lo] = rule{Kind: ruleOffset, Offset: int64(off) * c.DataAlignFactor}
			continue
		case 0xc0: // DW_CFA_restore
			if initial != nil {
				if ir, ok := initial.Rules[lo]; ok {
					row.Rules[lo] = ir
				} else {
					delete(row.Rules, lo)
				}
			}
			continue
		}

		switch op {
		case 0x00: // nop
		case 0x02: // advance_loc1
			d, ok := r.u8()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated advance_loc1")
			}
			loc += uint64(d) * c.CodeAlignFactor
		case 0x03: // advance_loc2
			d, ok := r.u16()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated advance_loc2")
			}
			loc += uint64(d) * c.CodeAlignFactor
		case 0x04: // advance_loc4
			d, ok := r.u32()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated advance_loc4")
			}
			loc += uint64(d) * c.CodeAlignFactor
		case 0x0c: // def_cfa
			reg, ok1 := r.uleb128()
			off, ok2 := r.uleb128()
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("cfi: truncated def_cfa")
			}
			row.CFARegister, row.CFAOffset = int(reg), int64(off)
		case 0x0d: // def_cfa_register
			reg, ok := r.uleb128()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated def_cfa_register")
			}
			row.CFARegister = int(reg)
		case 0x0e: // def_cfa_offset
			off, ok := r.uleb128()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated def_cfa_offset")
			}
			row.CFAOffset = int64(off)
		case 0x05: // offset_extended
			reg, ok1 := r.uleb128()
			off, ok2 := r.uleb128()
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("cfi: truncated offset_extended")
			}
			row.Rules[int(reg)] = rule{Kind: ruleOffset, Offset: int64(off) * c.DataAlignFactor}
		case 0x0b: // restore_extended
			reg, ok := r.uleb128()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated restore_extended")
			}
			if initial != nil {
				if ir, ok := initial.Rules[int(reg)]; ok {
					row.Rules[int(reg)] = ir
				} else {
					delete(row.Rules, int(reg))
				}
			}
		case 0x08: // same_value
			reg, ok := r.uleb128()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated same_value")
			}
			row.Rules[int(reg)] = rule{Kind: ruleSameValue}
		case 0x09: // register
			reg, ok1 := r.uleb128()
			reg2, ok2 := r.uleb128()
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("cfi: truncated register")
			}
			row.Rules[int(reg)] = rule{Kind: ruleRegister, Reg: int(reg2)}
		case 0x0f: // remember_state
			stack = append(stack, row.clone())
		case 0x10: // restore_state
			if n := len(stack); n > 0 {
				row = stack[n-1]
				stack = stack[:n-1]
			}
		case 0x0a: // def_cfa_expression
			return nil, fmt.Errorf("cfi: def_cfa_expression unsupported")
		case 0x11: // offset_extended_sf
			reg, ok1 := r.uleb128()
			off, ok2 := r.sleb128()
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("cfi: truncated offset_extended_sf")
			}
			row.Rules[int(reg)] = rule{Kind: ruleOffset, Offset: off * c.DataAlignFactor}
		case 0x12: // def_cfa_sf
			reg, ok1 := r.uleb128()
			off, ok2 := r.sleb128()
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("cfi: truncated def_cfa_sf")
			}
			row.CFARegister, row.CFAOffset = int(reg), off*c.DataAlignFactor
		case 0x13: // def_cfa_offset_sf
			off, ok := r.sleb128()
			if !ok {
				return nil, fmt.Errorf("cfi: truncated def_cfa_offset_sf")
			}
			row.CFAOffset = off * c.DataAlignFactor
		case 0x14: // val_offset
			reg, ok1 := r.uleb128()
			off, ok2 := r.uleb128()
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("cfi: truncated val_offset")
			}
			row.Rules[int(reg)] = rule{Kind: ruleValOffset, Offset: int64(off) * c.DataAlignFactor}
		default:
			return nil, fmt.Errorf("cfi: unsupported opcode 0x%x", op)
		}
	}
	return row, nil
}

// runCFA evaluates f's CIE initial program followed by its own
// instructions up through pc, returning the resulting row.
func runCFA(f *fde, pc uint64) (*cfaRow, error) {
	initRow := &cfaRow{Rules: make(map[int]rule)}
	initRow, err := execInstrs(f.CIE.Initial, f.CIE, initRow, nil, 0, ^uint64(0))
	if err != nil {
		return nil, err
	}
	row := initRow.clone()
	return execInstrs(f.Instrs, f.CIE, row, initRow, f.PCBegin, pc)
}
