// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procvirt maintains the in-memory process-virtualization model
// (§4.4): every observed (pid, tid) and its mapping list, so the
// unwinder and symbolizer can answer "which module owns address A in
// process P?".
//
// Generalized from perfsession.Session/PIDInfo/Mmap: the fork-copy map
// semantics and munmap splitting/removal logic are the teacher's, ported
// from a linear mapFind scan to the spec's required O(log n) binary
// search (§3 Mapping invariant), and extended with per-tid VirtualThread
// tracking (the teacher only tracked one Comm per pid) and
// /proc pre-enumeration + remote memory reads, neither of which the
// teacher (an offline perf.data reader) needed.
package procvirt

import (
	"sort"

	"github.com/go-perfcore/perfcore/perffile"
)

// A Mapping is one memory-mapped region within a process (§3).
type Mapping struct {
	Begin, End uint64
	PageOffset uint64
	Prot       uint32
	Flags      uint32
	Filename   string
	Major, Minor       uint32
	Inode, InoGeneration uint64
	BuildID    []byte

	// SymbolIndex is set by the caller once the backing file has been
	// resolved through a symbols.Registry; -1 until then.
	SymbolIndex int
}

func (m *Mapping) fork() *Mapping {
	cp := *m
	return &cp
}

// A VirtualThread is one observed (pid, tid) pair (§3). Threads sharing
// a pid share the same Process and its Maps slice.
type VirtualThread struct {
	PID, TID int
	Name     string
}

// A Process groups every VirtualThread for one pid and the single,
// sorted-by-Begin mapping list they share.
type Process struct {
	PID     int
	Threads map[int]*VirtualThread
	maps    []*Mapping // sorted by Begin, pairwise disjoint (§8 invariant #1)
}

func newProcess(pid int) *Process {
	return &Process{PID: pid, Threads: make(map[int]*VirtualThread)}
}

func (p *Process) ensureThread(tid int) *VirtualThread {
	vt, ok := p.Threads[tid]
	if !ok {
		vt = &VirtualThread{PID: p.PID, TID: tid}
		p.Threads[tid] = vt
	}
	return vt
}

func (p *Process) fork(childPID int) *Process {
	child := newProcess(childPID)
	child.maps = make([]*Mapping, len(p.maps))
	for i, m := range p.maps {
		child.maps[i] = m.fork()
	}
	return child
}

// Maps returns the process's mapping list, sorted by Begin.
func (p *Process) Maps() []*Mapping { return p.maps }

// insert adds m to the sorted map list at the position that keeps it
// sorted by Begin. Callers must have already removed any overlapping
// range via munmap.
func (p *Process) insert(m *Mapping) {
	i := sort.Search(len(p.maps), func(i int) bool { return p.maps[i].Begin >= m.Begin })
	p.maps = append(p.maps, nil)
	copy(p.maps[i+1:], p.maps[i:])
	p.maps[i] = m
}

// find performs the O(log n) binary search required by §3: locate the
// map containing addr, if any.
func (p *Process) find(addr uint64) *Mapping {
	maps := p.maps
	i := sort.Search(len(maps), func(i int) bool { return maps[i].End > addr })
	if i < len(maps) && maps[i].Begin <= addr {
		return maps[i]
	}
	return nil
}

// munmap removes [addr, addr+length) from the map list, splitting or
// trimming any mapping that straddles the boundary (ported from
// perfsession.PIDInfo.munmap, rewritten to keep the list sorted via
// binary search for the region of interest rather than a full linear
// scan).
func (p *Process) munmap(addr, length uint64) {
	end := addr + length
	lo := sort.Search(len(p.maps), func(i int) bool { return p.maps[i].End > addr })
	hi := sort.Search(len(p.maps), func(i int) bool { return p.maps[i].Begin >= end })

	var kept []*Mapping
	var split *Mapping
	for i := lo; i < hi; i++ {
		m := p.maps[i]
		switch {
		case addr <= m.Begin && end >= m.End:
			// Fully covered; drop.
		case addr <= m.Begin && end < m.End:
			// Remove the beginning.
			m.PageOffset += end - m.Begin
			m.Begin = end
			kept = append(kept, m)
		case addr > m.Begin && end >= m.End:
			// Remove the end.
			m.End = addr
			kept = append(kept, m)
		default:
			// Split in two.
			tail := m.fork()
			tail.Begin = end
			tail.PageOffset += end - m.Begin
			m.End = addr
			kept = append(kept, m)
			split = tail
		}
	}

	p.maps = append(p.maps[:lo], append(kept, p.maps[hi:]...)...)
	if split != nil {
		p.insert(split)
	}
}

// A Model is the whole process-virtualization state: one Process per
// observed pid, plus the kernel pseudo-process (implicit pid -1,
// mirroring perfsession.Session's kernel field).
type Model struct {
	kernel     *Process
	processes  map[int]*Process
}

// New returns an empty Model.
func New() *Model {
	return &Model{
		kernel:    newProcess(-1),
		processes: make(map[int]*Process),
	}
}

func (m *Model) ensureProcess(pid int) *Process {
	if pid < 0 {
		return m.kernel
	}
	p, ok := m.processes[pid]
	if !ok {
		p = newProcess(pid)
		m.processes[pid] = p
	}
	return p
}

// Process returns the Process for pid, or nil if never observed.
func (m *Model) Process(pid int) *Process {
	if pid < 0 {
		return m.kernel
	}
	return m.processes[pid]
}

// Update applies one perf record to the model (§4.4 Inputs): MMAP,
// MMAP2 (the reader normalizes both to RecordMmap), COMM, FORK, EXIT.
// SAMPLE records only make sure their pid has a Process; other record
// types are ignored.
func (m *Model) Update(r perffile.Record) {
	switch r := r.(type) {
	case *perffile.RecordComm:
		p := m.ensureProcess(r.PID)
		p.ensureThread(r.TID).Name = r.Comm

	case *perffile.RecordFork:
		if r.PID == r.TID {
			parent := m.ensureProcess(r.PPID)
			child := parent.fork(r.PID)
			name := ""
			if vt, ok := parent.Threads[r.PTID]; ok {
				name = vt.Name
			}
			child.ensureThread(r.TID).Name = name
			m.processes[r.PID] = child
		} else {
			// Thread creation within an existing process.
			p := m.ensureProcess(r.PID)
			p.ensureThread(r.TID)
		}

	case *perffile.RecordExit:
		if r.PID == r.TID {
			delete(m.processes, r.PID)
		} else if p, ok := m.processes[r.PID]; ok {
			delete(p.Threads, r.TID)
		}

	case *perffile.RecordMmap:
		p := m.ensureProcess(r.PID)
		p.munmap(r.Addr, r.Len)
		p.insert(&Mapping{
			Begin:         r.Addr,
			End:           r.Addr + r.Len,
			PageOffset:    r.FileOffset,
			Prot:          r.Prot,
			Flags:         r.Flags,
			Filename:      r.Filename,
			Major:         r.Major,
			Minor:         r.Minor,
			Inode:         r.Ino,
			InoGeneration: r.InoGeneration,
			BuildID:       r.BuildID,
			SymbolIndex:   -1,
		})

	case *perffile.RecordSample:
		// A kernel sample can arrive before its RecordComm early in
		// a live capture; ensure the pid exists so mappings discovered
		// later have a Process to land in.
		m.ensureProcess(r.PID)
	}
}

// LookupMapping finds the mapping containing ip in pid, falling back to
// the kernel's mapping set if pid has no match (§4.4 Map lookup).
func (m *Model) LookupMapping(pid int, ip uint64) (*Mapping, bool) {
	if p := m.processes[pid]; p != nil {
		if mm := p.find(ip); mm != nil {
			return mm, true
		}
	}
	if mm := m.kernel.find(ip); mm != nil {
		return mm, true
	}
	return nil, false
}
