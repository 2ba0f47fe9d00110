// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/perffile"
)

func TestTargetsValidate(t *testing.T) {
	require.NoError(t, Targets{SystemWide: true}.validate())
	require.NoError(t, Targets{PIDs: []int{1}}.validate())
	require.NoError(t, Targets{TIDs: []int{1}}.validate())

	require.Error(t, Targets{}.validate())
	require.Error(t, Targets{SystemWide: true, PIDs: []int{1}}.validate())
	require.Error(t, Targets{PIDs: []int{1}, TIDs: []int{2}}.validate())
	require.Error(t, Targets{PIDs: []int{1}, ExcludePIDs: []int{2}}.validate())
	require.NoError(t, Targets{SystemWide: true, ExcludePIDs: []int{2}}.validate())
}

func TestSamplingValidate(t *testing.T) {
	require.NoError(t, Sampling{Frequency: 99}.validate())
	require.NoError(t, Sampling{Period: 1000}.validate())

	require.Error(t, Sampling{}.validate())
	require.Error(t, Sampling{Frequency: 1, Period: 1}.validate())
	require.Error(t, Sampling{Frequency: 0}.validate())
	require.Error(t, Sampling{Frequency: MaxSampleFrequency + 1}.validate())
	require.Error(t, Sampling{Frequency: MinSampleFrequency - 1, Period: 0}.validate())
}

func TestStackConfigValidate(t *testing.T) {
	require.NoError(t, StackConfig{Mode: StackNone}.validate())
	require.NoError(t, StackConfig{Mode: StackFp}.validate())
	require.NoError(t, StackConfig{Mode: StackDwarf, Size: 8192}.validate())

	require.Error(t, StackConfig{Mode: StackDwarf, Size: 4}.validate())
	require.Error(t, StackConfig{Mode: StackDwarf, Size: 65536}.validate())
	require.Error(t, StackConfig{Mode: StackDwarf, Size: 10}.validate())
}

func TestClockValid(t *testing.T) {
	require.True(t, ClockMonotonic.valid())
	require.True(t, ClockTAI.valid())
	require.False(t, Clock(99).valid())
	require.False(t, Clock(-1).valid())

	require.EqualValues(t, 1, ClockMonotonic.rawClockID())
	require.EqualValues(t, 7, ClockBoottime.rawClockID())
}

func validOptions() Options {
	return Options{
		Targets:  Targets{SystemWide: true},
		Sampling: Sampling{Frequency: 99},
		Stack:    StackConfig{Mode: StackFp},
		Clock:    ClockMonotonic,
	}
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, validOptions().Validate())

	bad := validOptions()
	bad.Targets = Targets{}
	require.Error(t, bad.Validate())

	bad = validOptions()
	bad.Clock = Clock(42)
	require.Error(t, bad.Validate())
}

func TestOptionsValidateBranchFilterNeedsKind(t *testing.T) {
	o := validOptions()
	o.BranchSample = perffile.BranchSampleUser
	require.Error(t, o.Validate())

	o.BranchSample = perffile.BranchSampleUser | perffile.BranchSampleAny
	require.NoError(t, o.Validate())
}
