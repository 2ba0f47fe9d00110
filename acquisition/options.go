// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"fmt"

	"github.com/go-perfcore/perfcore/internal/errs"
	"github.com/go-perfcore/perfcore/perffile"
)

// Sampling frequency bounds enforced by set_sampling (§4.1).
const (
	MinSampleFrequency = 1
	MaxSampleFrequency = 100000
)

// StackMode selects how (if at all) a sample captures enough of the
// target's register and stack state to reconstruct a call chain later.
// Unlike unwind.StackMode (which only distinguishes the two walking
// strategies once a capture exists), this also has a "none" setting that
// disables capture entirely.
type StackMode int

const (
	StackNone StackMode = iota
	StackFp
	StackDwarf
)

// Targets selects which threads/processes/cpus an event is opened
// against. Exactly one of SystemWide, PIDs, or TIDs may be set; CPUs
// additionally restricts which CPUs descriptors are opened on (nil means
// all online CPUs).
type Targets struct {
	SystemWide  bool
	PIDs        []int
	TIDs        []int
	CPUs        []int
	ExcludePIDs []int
}

func (t Targets) validate() error {
	n := 0
	if t.SystemWide {
		n++
	}
	if len(t.PIDs) > 0 {
		n++
	}
	if len(t.TIDs) > 0 {
		n++
	}
	if n > 1 {
		return fmt.Errorf("system-wide, pids, and tids are mutually exclusive: %w", errs.ErrInvalidTargets)
	}
	if n == 0 {
		return fmt.Errorf("no target selected: %w", errs.ErrInvalidTargets)
	}
	if !t.SystemWide && len(t.ExcludePIDs) > 0 {
		return fmt.Errorf("exclude_pids requires system-wide: %w", errs.ErrInvalidTargets)
	}
	return nil
}

// Sampling selects the event's trigger rate. Exactly one of Frequency or
// Period must be set.
type Sampling struct {
	Frequency uint64
	Period    uint64
}

func (s Sampling) validate() error {
	if (s.Frequency != 0) == (s.Period != 0) {
		return fmt.Errorf("exactly one of frequency or period must be set: %w", errs.ErrInvalidSampling)
	}
	if s.Frequency != 0 && (s.Frequency < MinSampleFrequency || s.Frequency > MaxSampleFrequency) {
		return fmt.Errorf("frequency %d out of [%d, %d]: %w", s.Frequency, MinSampleFrequency, MaxSampleFrequency, errs.ErrInvalidSampling)
	}
	return nil
}

// StackConfig configures set_stack. Size is only meaningful for
// StackDwarf: it must be in [8, 65528] and a multiple of 8.
type StackConfig struct {
	Mode StackMode
	Size uint32
}

func (s StackConfig) validate() error {
	if s.Mode != StackDwarf {
		return nil
	}
	if s.Size < 8 || s.Size > 65528 || s.Size%8 != 0 {
		return fmt.Errorf("dwarf stack size %d must be in [8,65528] and a multiple of 8: %w", s.Size, errs.ErrInvalidStackMode)
	}
	return nil
}

// Clock selects the source of record timestamps (set_clock).
type Clock int32

const (
	ClockRealtime Clock = iota
	ClockBoottime
	ClockMonotonic
	ClockMonotonicRaw
	ClockTAI
)

func (c Clock) valid() bool {
	return c >= ClockRealtime && c <= ClockTAI
}

// rawClockID maps Clock to the CLOCK_* id perf_event_attr.clockid wants.
func (c Clock) rawClockID() int32 {
	switch c {
	case ClockRealtime:
		return 0 // CLOCK_REALTIME
	case ClockMonotonic:
		return 1 // CLOCK_MONOTONIC
	case ClockMonotonicRaw:
		return 4 // CLOCK_MONOTONIC_RAW
	case ClockBoottime:
		return 7 // CLOCK_BOOTTIME
	case ClockTAI:
		return 11 // CLOCK_TAI
	}
	return 1
}

// Options bundles the add_events/set_targets/set_sampling/set_stack/
// set_branch_sample/set_clock configuration surface (§4.1) prior to
// prepare_tracking.
type Options struct {
	Targets      Targets
	Sampling     Sampling
	Stack        StackConfig
	BranchSample perffile.BranchSampleType
	Clock        Clock
	Grouped      bool
}

// Validate checks the combined configuration, matching the per-setter
// rejection rules from §4.1 plus the cross-field branch-sample rule: a
// branch mask with any u/k filter set requires at least one of the
// ANY/ANY_CALL/ANY_RET/IND_CALL/IND_JMP/COND/CALL bits.
func (o Options) Validate() error {
	if err := o.Targets.validate(); err != nil {
		return err
	}
	if err := o.Sampling.validate(); err != nil {
		return err
	}
	if err := o.Stack.validate(); err != nil {
		return err
	}
	if !o.Clock.valid() {
		return fmt.Errorf("clock id %d: %w", o.Clock, errs.ErrInvalidClock)
	}
	const ukFilter = perffile.BranchSampleUser | perffile.BranchSampleKernel | perffile.BranchSampleHV
	const kindMask = perffile.BranchSampleAny | perffile.BranchSampleAnyCall | perffile.BranchSampleAnyReturn |
		perffile.BranchSampleIndCall | perffile.BranchSampleIndJump | perffile.BranchSampleCond | perffile.BranchSampleCall
	if o.BranchSample&ukFilter != 0 && o.BranchSample&kindMask == 0 {
		return fmt.Errorf("branch sample filter set without a branch kind: %w", errs.ErrInvalidBranch)
	}
	return nil
}
