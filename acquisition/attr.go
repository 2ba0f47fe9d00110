// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/go-perfcore/perfcore/perffile"
)

// buildEventAttr turns one resolved event plus the session-wide Options
// into a perffile.EventAttr (the form the writer's WriteAttr records)
// alongside the raw unix.PerfEventAttr perf_event_open wants. The two are
// built together because perffile.EventFlags, perffile.BranchSampleType,
// and perffile.SampleFormat are already bit-for-bit the kernel's
// perf_event_attr flags/branch_sample_type/sample_type fields (§3), so
// there is exactly one place that needs to know the union layouts
// (Sample, Wakeup, Ext1/Ext2) the two representations don't share.
func buildEventAttr(ev perffile.Event, o Options) (perffile.EventAttr, unix.PerfEventAttr) {
	g := ev.Generic()

	flags := perffile.EventFlagDisabled | perffile.EventFlagMmap | perffile.EventFlagComm |
		perffile.EventFlagTask | perffile.EventFlagSampleIDAll | perffile.EventFlagMmapData |
		perffile.EventFlagCommExec | perffile.EventFlagClockID

	sampleFormat := perffile.SampleFormatIP | perffile.SampleFormatTID | perffile.SampleFormatTime |
		perffile.SampleFormatID | perffile.SampleFormatCPU | perffile.SampleFormatPeriod

	var regsUser uint64
	var stackUser uint32
	switch o.Stack.Mode {
	case StackDwarf:
		sampleFormat |= perffile.SampleFormatRegsUser | perffile.SampleFormatStackUser
		regsUser = fullRegsMask
		stackUser = o.Stack.Size
	case StackFp:
		sampleFormat |= perffile.SampleFormatCallchain
	}

	if o.BranchSample != 0 {
		sampleFormat |= perffile.SampleFormatBranchStack
	}
	if o.Grouped {
		flags |= perffile.EventFlagInherit
	}

	attr := perffile.EventAttr{
		Event:            g.Decode(),
		Type:             g.Type,
		Config:           [3]uint64{g.ID},
		SamplePeriod:     o.Sampling.Period,
		SampleFreq:       o.Sampling.Frequency,
		SampleFormat:     sampleFormat,
		Flags:            flags,
		WakeupEvents:     1,
		BranchSampleType: o.BranchSample,
		SampleRegsUser:   regsUser,
		SampleStackUser:  stackUser,
		SampleMaxStack:   256,
	}
	if len(g.Config) > 0 {
		attr.Config[1] = g.Config[0]
	}
	if len(g.Config) > 1 {
		attr.Config[2] = g.Config[1]
	}
	if o.Sampling.Frequency != 0 {
		attr.Flags |= perffile.EventFlagFreq
	}

	raw := unix.PerfEventAttr{
		Type:               uint32(attr.Type),
		Size:               uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample:             pickSample(attr),
		Sample_type:        uint64(attr.SampleFormat),
		Bits:               uint64(attr.Flags),
		Wakeup:             attr.WakeupEvents,
		Branch_sample_type: uint64(attr.BranchSampleType),
		Sample_regs_user:   attr.SampleRegsUser,
		Sample_stack_user:  attr.SampleStackUser,
		Clockid:            o.Clock.rawClockID(),
		Sample_max_stack:   attr.SampleMaxStack,
	}
	if attr.Type == perffile.EventTypeBreakpoint {
		raw.Config = attr.Config[0]
		raw.Ext1 = attr.BPAddr
		raw.Ext2 = attr.BPLen
	} else {
		raw.Config = attr.Config[0]
		raw.Ext1 = attr.Config[1]
		raw.Ext2 = attr.Config[2]
	}
	return attr, raw
}

func pickSample(attr perffile.EventAttr) uint64 {
	if attr.Flags&perffile.EventFlagFreq != 0 {
		return attr.SampleFreq
	}
	return attr.SamplePeriod
}

// fullRegsMask requests every general-purpose register the kernel will
// hand back for the host's native ABI; the unwinder only ever reads the
// handful it needs (dwarfCol), so there's no cost to asking for all of
// them up front.
const fullRegsMask = ^uint64(0) >> 1 // clear bit 63: kernel rejects abi-reserved bits on some arches
