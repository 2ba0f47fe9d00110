// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errs groups the sentinel error kinds used across the profiler
// core (§7). Every fallible operation wraps one of these with
// fmt.Errorf("...: %w", Kind) rather than inventing a new error type, so
// callers can classify failures with errors.Is without a type switch.
package errs

import "errors"

// Configuration errors are surfaced before any kernel descriptor is
// opened; they are always fatal.
var (
	ErrInvalidTargets   = errors.New("invalid targets")
	ErrInvalidSampling  = errors.New("invalid sampling configuration")
	ErrInvalidStackMode = errors.New("invalid stack mode")
	ErrInvalidBranch    = errors.New("invalid branch sample configuration")
	ErrInvalidClock     = errors.New("invalid clock id")
)

// KernelOpenFailed is returned by acquisition.Session.PrepareTracking when
// perf_event_open fails for every (event, cpu, pid) tuple; tuples that
// fail while others open are skipped without it.
var ErrKernelOpenFailed = errors.New("perf_event_open failed")

// ErrEventNotSupported is returned by acquisition.Session.AddEvents when
// an event name does not resolve against the static catalog.
var ErrEventNotSupported = errors.New("event not supported")

// ResourceLimit: a rate-limit knob could not be raised. Acquisition warns
// and continues with the kernel-enforced cap rather than treating this as
// fatal.
var ErrResourceLimit = errors.New("resource limit could not be raised")

// ReadPartial: a ring-buffer read returned fewer bytes than the record
// header claimed. No function returns it: descriptorRing.drain stops at
// such a record and leaves it in the ring for the next drain, without
// bumping the lost counter.
var ErrReadPartial = errors.New("partial record read")

// UnwindStep: the unwinder could not make progress at the current frame
// (no unwind info, an out-of-range stack read, or a CFI interpreter
// loop). Not fatal; the unwind stops at the last good frame.
var ErrUnwindStep = errors.New("unwind step failed")

// SymbolResolve: no SymbolsFile could be found or loaded for a mapping.
// Not fatal; the frame is emitted unresolved.
var ErrSymbolResolve = errors.New("symbol resolution failed")

// WriteError: the trace file could not be written to (disk full, path
// not writable). Fatal; acquisition stops immediately.
var ErrWriteError = errors.New("trace file write error")

// ControlProtocol: a malformed command or closed pipe. The control server
// replies FAIL and stays alive unless the command was stop.
var ErrControlProtocol = errors.New("control protocol error")

// AlreadyRunning is returned by control.Server.Serve when another
// server already owns the control pipes.
var ErrAlreadyRunning = errors.New("control server already running")
