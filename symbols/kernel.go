// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbols

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LoadKallsyms builds the kernel pseudo-SymbolsFile from /proc/kallsyms
// (§4.4 Kernel and service spaces). Every sample addr >= the lowest
// symbol's address that doesn't resolve in any process map falls back to
// this file.
//
// kptr_restrict gates real addresses: when it is set, every address
// reads back as zero and this returns a file with no usable symbols
// (not an error — the kernel itself chose to hide them).
func LoadKallsyms(path string) (*SymbolsFile, error) {
	if path == "" {
		path = "/proc/kallsyms"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var syms []Symbol
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil || addr == 0 {
			continue
		}
		// kallsyms type letters: only function symbols (text,
		// weak text) are interesting to the unwinder/symbolizer.
		switch fields[1] {
		case "t", "T", "w", "W":
		default:
			continue
		}
		name := fields[2]
		module := ""
		if len(fields) > 3 {
			module = strings.Trim(fields[3], "[]")
		}
		syms = append(syms, Symbol{FuncVAddr: addr, Name: name, DemangledName: name, Module: module})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].FuncVAddr < syms[j].FuncVAddr })
	for i := range syms {
		if i+1 < len(syms) {
			syms[i].Size = syms[i+1].FuncVAddr - syms[i].FuncVAddr
		}
	}

	return &SymbolsFile{
		Path:    path,
		Opaque:  true,
		symbols: syms,
	}, nil
}

// LoadModules parses /proc/modules into one SymbolsFile per loadable
// kernel module (§4.4), each a single synthetic symbol spanning the
// module's load size — modules don't carry their own symbol tables
// here, only the base address a kernel-space pc can be attributed to.
func LoadModules(path string) ([]*SymbolsFile, error) {
	if path == "" {
		path = "/proc/modules"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var out []*SymbolsFile
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		name := fields[0]
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		addrField := strings.TrimPrefix(fields[5], "0x")
		addr, err := strconv.ParseUint(addrField, 16, 64)
		if err != nil {
			continue
		}
		out = append(out, &SymbolsFile{
			Path:   "[" + name + "]",
			Opaque: true,
			symbols: []Symbol{{
				FuncVAddr:     addr,
				Size:          size,
				Name:          name,
				DemangledName: name,
				Module:        name,
			}},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
