// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandSplicesKnownSuffix(t *testing.T) {
	c := New()

	deep := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	out, appended := c.Expand(100, deep, 2)
	require.Equal(t, 0, appended)
	require.Equal(t, deep, out)

	// A new, truncated chain sharing the same PC and a 2-frame suffix
	// with the cached "deep" chain should splice the remainder back
	// in.
	trunc := []uint64{1, 2, 3, 4}
	out, appended = c.Expand(100, trunc, 2)
	require.Equal(t, 4, appended)
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, out)
}

func TestExpandRequiresMatchingKey(t *testing.T) {
	c := New()
	c.Expand(1, []uint64{1, 2, 3, 4}, 2)

	out, appended := c.Expand(1, []uint64{9, 2, 3, 4}, 2)
	require.Equal(t, 0, appended)
	require.Equal(t, []uint64{9, 2, 3, 4}, out)
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New()
	for i := uint64(0); i < Capacity+2; i++ {
		c.Expand(1, []uint64{i, i + 1}, 1)
	}
	require.Equal(t, Capacity, c.Len(1))
}

func TestExpandRespectsLimit(t *testing.T) {
	c := &Cache{Limit: 5}
	long := make([]uint64, 10)
	for i := range long {
		long[i] = uint64(i)
	}
	c.byTid = map[int]*tidTable{}
	c.Expand(1, long, 1)

	out, appended := c.Expand(1, []uint64{0}, 1)
	require.LessOrEqual(t, len(out), 5)
	require.Greater(t, appended, 0)
}
