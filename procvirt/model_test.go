// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procvirt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/perffile"
)

func mmapRecord(pid int, addr, length uint64, filename string) *perffile.RecordMmap {
	return &perffile.RecordMmap{
		RecordCommon: perffile.RecordCommon{PID: pid, TID: pid},
		Addr:         addr,
		Len:          length,
		Filename:     filename,
	}
}

func TestUpdateMmapAndLookup(t *testing.T) {
	m := New()
	m.Update(mmapRecord(1, 0x1000, 0x1000, "libfoo.so"))

	mm, ok := m.LookupMapping(1, 0x1500)
	require.True(t, ok)
	require.Equal(t, "libfoo.so", mm.Filename)

	_, ok = m.LookupMapping(1, 0x5000)
	require.False(t, ok)
}

func TestMunmapSplitsMapping(t *testing.T) {
	m := New()
	m.Update(mmapRecord(1, 0x1000, 0x3000, "libfoo.so")) // [0x1000, 0x4000)
	m.Update(mmapRecord(1, 0x2000, 0x1000, "libbar.so")) // punches a hole [0x2000,0x3000)

	p := m.Process(1)
	require.Len(t, p.Maps(), 3)

	low, ok := m.LookupMapping(1, 0x1500)
	require.True(t, ok)
	require.Equal(t, "libfoo.so", low.Filename)

	mid, ok := m.LookupMapping(1, 0x2500)
	require.True(t, ok)
	require.Equal(t, "libbar.so", mid.Filename)

	high, ok := m.LookupMapping(1, 0x3500)
	require.True(t, ok)
	require.Equal(t, "libfoo.so", high.Filename)
}

func TestForkCopiesMaps(t *testing.T) {
	m := New()
	m.Update(mmapRecord(1, 0x1000, 0x1000, "libfoo.so"))
	m.Update(&perffile.RecordFork{
		RecordCommon: perffile.RecordCommon{PID: 2, TID: 2},
		PPID:         1, PTID: 1,
	})

	child, ok := m.LookupMapping(2, 0x1500)
	require.True(t, ok)
	require.Equal(t, "libfoo.so", child.Filename)

	// Later parent-only mmaps must not leak into the child (§8
	// scenario 5).
	m.Update(mmapRecord(1, 0x9000, 0x1000, "libbaz.so"))
	_, ok = m.LookupMapping(2, 0x9500)
	require.False(t, ok)
}

func TestExitRemovesProcess(t *testing.T) {
	m := New()
	m.Update(mmapRecord(1, 0x1000, 0x1000, "libfoo.so"))
	m.Update(&perffile.RecordExit{RecordCommon: perffile.RecordCommon{PID: 1, TID: 1}})

	require.Nil(t, m.Process(1))
}

func TestCommSetsThreadName(t *testing.T) {
	m := New()
	m.Update(&perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 1, TID: 1},
		Comm:         "myproc",
	})
	p := m.Process(1)
	require.Equal(t, "myproc", p.Threads[1].Name)
}
