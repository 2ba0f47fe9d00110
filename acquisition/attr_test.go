// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/perffile"
)

func TestBuildEventAttrBitExact(t *testing.T) {
	o := Options{
		Sampling: Sampling{Frequency: 99},
		Stack:    StackConfig{Mode: StackDwarf, Size: 8192},
		Clock:    ClockMonotonic,
	}
	attr, raw := buildEventAttr(perffile.EventHardwareCPUCycles, o)

	require.EqualValues(t, attr.Flags, raw.Bits)
	require.EqualValues(t, attr.SampleFormat, raw.Sample_type)
	require.EqualValues(t, attr.BranchSampleType, raw.Branch_sample_type)
	require.EqualValues(t, attr.SampleRegsUser, raw.Sample_regs_user)
	require.EqualValues(t, attr.SampleStackUser, raw.Sample_stack_user)
	require.EqualValues(t, attr.SampleFreq, raw.Sample)
	require.NotZero(t, raw.Size)

	require.NotZero(t, attr.Flags&perffile.EventFlagFreq)
	require.NotZero(t, attr.SampleFormat&perffile.SampleFormatRegsUser)
	require.NotZero(t, attr.SampleFormat&perffile.SampleFormatStackUser)
}

func TestBuildEventAttrPeriodVsFreq(t *testing.T) {
	o := Options{Sampling: Sampling{Period: 4000}, Clock: ClockRealtime}
	attr, raw := buildEventAttr(perffile.EventHardwareCPUCycles, o)

	require.Zero(t, attr.Flags&perffile.EventFlagFreq)
	require.EqualValues(t, 4000, raw.Sample)
}

func TestBuildEventAttrFpCallchain(t *testing.T) {
	o := Options{Sampling: Sampling{Frequency: 1}, Stack: StackConfig{Mode: StackFp}}
	attr, _ := buildEventAttr(perffile.EventHardwareCPUCycles, o)
	require.NotZero(t, attr.SampleFormat&perffile.SampleFormatCallchain)
	require.Zero(t, attr.SampleFormat&perffile.SampleFormatRegsUser)
}

func TestBuildEventAttrGroupedSetsInherit(t *testing.T) {
	o := Options{Sampling: Sampling{Frequency: 1}, Grouped: true}
	attr, _ := buildEventAttr(perffile.EventHardwareCPUCycles, o)
	require.NotZero(t, attr.Flags&perffile.EventFlagInherit)
}
