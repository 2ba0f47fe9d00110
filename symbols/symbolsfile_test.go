// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbols

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFile() *SymbolsFile {
	return &SymbolsFile{
		symbols: []Symbol{
			{FuncVAddr: 0x1000, Size: 0x10, Name: "a"},
			{FuncVAddr: 0x1020, Size: 0x20, Name: "b"},
			{FuncVAddr: 0x1100, Size: 0x10, Name: "c"},
		},
	}
}

func TestLookupInRange(t *testing.T) {
	sf := newTestFile()
	sym, inRange := sf.Lookup(0x1025)
	require.True(t, inRange)
	require.Equal(t, "b", sym.Name)
}

func TestLookupGap(t *testing.T) {
	sf := newTestFile()
	sym, inRange := sf.Lookup(0x1090)
	require.False(t, inRange)
	require.Equal(t, "b", sym.Name)
}

func TestLookupBeforeFirst(t *testing.T) {
	sf := newTestFile()
	sym, inRange := sf.Lookup(0x10)
	require.False(t, inRange)
	require.Nil(t, sym)
}

func TestIsOpaque(t *testing.T) {
	require.True(t, IsOpaque("[anon:ArkTS Code:foo]"))
	require.True(t, IsOpaque("[anon:JSVM_JIT]"))
	require.True(t, IsOpaque("/data/app/foo.hap"))
	require.False(t, IsOpaque("/usr/lib/libc.so.6"))
}

func TestLoadOpaqueEchoesMapName(t *testing.T) {
	sf := LoadOpaque("[anon:ArkTS Code:bundle]")
	sym, inRange := sf.Lookup(0x4000)
	require.True(t, inRange)
	require.Equal(t, "[anon:ArkTS Code:bundle]", sym.Name)
}

func TestRegistryPutGet(t *testing.T) {
	r := NewRegistry()
	sf := newTestFile()
	idx := r.Put("synthetic", sf)
	require.Same(t, sf, r.Get(idx))
	require.Equal(t, 1, r.Len())

	idx2 := r.Put("synthetic", sf)
	require.Equal(t, idx, idx2)
}
