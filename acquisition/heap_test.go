// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeHeapOrdersByTime(t *testing.T) {
	h := newMergeHeap(3)
	h.push(rawRecord{ring: 0, time: 30, seq: 1})
	h.push(rawRecord{ring: 0, time: 50, seq: 3})
	h.push(rawRecord{ring: 1, time: 10, seq: 2})
	h.push(rawRecord{ring: 2, time: 40, seq: 4})

	var times []uint64
	h.drainAll(func(r rawRecord) { times = append(times, r.time) })

	require.Equal(t, []uint64{10, 30, 40, 50}, times)
}

func TestMergeHeapTiesBreakOnSeq(t *testing.T) {
	h := newMergeHeap(2)
	h.push(rawRecord{ring: 0, time: 0, seq: 5})
	h.push(rawRecord{ring: 1, time: 0, seq: 2})

	var seqs []uint64
	h.drainAll(func(r rawRecord) { seqs = append(seqs, r.seq) })

	require.Equal(t, []uint64{2, 5}, seqs)
}

func TestMergeHeapPreservesPerRingFIFO(t *testing.T) {
	h := newMergeHeap(1)
	h.push(rawRecord{ring: 0, time: 5, seq: 1})
	h.push(rawRecord{ring: 0, time: 5, seq: 2})
	h.push(rawRecord{ring: 0, time: 5, seq: 3})

	var seqs []uint64
	h.drainAll(func(r rawRecord) { seqs = append(seqs, r.seq) })

	require.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestMergeHeapDrainAllEmptiesQueues(t *testing.T) {
	h := newMergeHeap(2)
	h.push(rawRecord{ring: 0, time: 1})
	h.push(rawRecord{ring: 1, time: 2})

	var n int
	h.drainAll(func(rawRecord) { n++ })
	require.Equal(t, 2, n)

	n = 0
	h.drainAll(func(rawRecord) { n++ })
	require.Zero(t, n)
}
