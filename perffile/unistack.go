// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"strings"
)

// UniStackEntry is one row of the HIPERF_FILES_UNISTACK_TABLE feature
// section: the decompressed instruction-pointer chain a stack_id stands
// for.
type UniStackEntry struct {
	ID  uint32
	IPs []uint64
}

// UniStackTable assigns stable u32 ids to instruction-pointer chains so
// repeated callstacks can be replaced by a 4-byte reference in the
// sample stream (§3 UniStackTable, §4.5 dedup_stack). Insert is
// idempotent: inserting an equal chain twice returns the same id.
//
// UniStackTable is not safe for concurrent use; callers insert from a
// single drain/writer thread as documented in §5.
type UniStackTable struct {
	ids     map[string]uint32
	entries []UniStackEntry
}

// NewUniStackTable returns an empty table.
func NewUniStackTable() *UniStackTable {
	return &UniStackTable{ids: make(map[string]uint32)}
}

// Insert returns the stable id for ips, assigning a new one if this exact
// chain hasn't been seen before.
func (t *UniStackTable) Insert(ips []uint64) uint32 {
	key := stackKey(ips)
	if id, ok := t.ids[key]; ok {
		return id
	}
	id := uint32(len(t.entries))
	cp := make([]uint64, len(ips))
	copy(cp, ips)
	t.entries = append(t.entries, UniStackEntry{ID: id, IPs: cp})
	t.ids[key] = id
	return id
}

// Lookup returns the IP chain for id, or nil if id is out of range.
func (t *UniStackTable) Lookup(id uint32) []uint64 {
	if int(id) >= len(t.entries) {
		return nil
	}
	return t.entries[id].IPs
}

// Entries returns the table in insertion (id) order.
func (t *UniStackTable) Entries() []UniStackEntry {
	return t.entries
}

// Len returns the number of distinct stacks recorded.
func (t *UniStackTable) Len() int {
	return len(t.entries)
}

func stackKey(ips []uint64) string {
	var sb strings.Builder
	sb.Grow(len(ips) * 8)
	var tmp [8]byte
	for _, ip := range ips {
		binary.LittleEndian.PutUint64(tmp[:], ip)
		sb.Write(tmp[:])
	}
	return sb.String()
}

// encode writes the table as the HIPERF_FILES_UNISTACK_TABLE section body.
func (t *UniStackTable) encode(order binary.ByteOrder) []byte {
	enc := newBufEncoder(order)
	enc.u32(uint32(len(t.entries)))
	for _, e := range t.entries {
		enc.u32(e.ID)
		enc.u32(uint32(len(e.IPs)))
		enc.u64s(e.IPs)
	}
	return enc.buf
}
