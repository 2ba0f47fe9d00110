// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionAddEventsRejectsUnknown(t *testing.T) {
	s := New(nil)
	require.Error(t, s.AddEvents([]string{"cycles", "nonsense-event"}, false))

	s2 := New(nil)
	require.NoError(t, s2.AddEvents([]string{"cycles", "instructions"}, true))
	require.True(t, s2.opts.Grouped)
	require.Equal(t, []string{"cycles", "instructions"}, s2.events)
}

func TestSessionSettersValidate(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetTargets(Targets{SystemWide: true}))
	require.Error(t, s.SetTargets(Targets{}))

	require.NoError(t, s.SetSampling(Sampling{Frequency: 10}))
	require.Error(t, s.SetSampling(Sampling{}))

	require.NoError(t, s.SetStack(StackConfig{Mode: StackFp}))
	require.Error(t, s.SetStack(StackConfig{Mode: StackDwarf, Size: 3}))

	require.Error(t, s.SetClock(Clock(99)))
	require.NoError(t, s.SetClock(ClockRealtime))
}

func TestSessionPrepareTrackingRequiresTargetsAndEvents(t *testing.T) {
	s := New(nil)
	require.Error(t, s.PrepareTracking()) // no targets set
}

func TestSessionStopAndPauseAreIdempotentWhenIdle(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.StopTracking())
	require.NoError(t, s.PauseTracking())
	require.NoError(t, s.ResumeTracking())
}

func TestPidTargetsWithoutExplicitCPUs(t *testing.T) {
	targets := pidTargets([]int{10, 20}, nil)
	require.Equal(t, []target{{pid: 10, cpu: -1}, {pid: 20, cpu: -1}}, targets)
}

func TestPidTargetsWithExplicitCPUs(t *testing.T) {
	targets := pidTargets([]int{10}, []int{0, 1})
	require.Equal(t, []target{{pid: 10, cpu: 0}, {pid: 10, cpu: 1}}, targets)
}

func TestGetLostSamplesStartsAtZero(t *testing.T) {
	s := New(nil)
	sl, nsl := s.GetLostSamples()
	require.Zero(t, sl)
	require.Zero(t, nsl)
}
