// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"context"
	"time"

	"github.com/go-perfcore/perfcore/acquisition"
	"github.com/go-perfcore/perfcore/internal/hlog"
)

// SessionTarget adapts an acquisition.Session to Target: PrepareTracking/
// PauseTracking/ResumeTracking/StopTracking pass straight through, and
// StartTracking launches the session's blocking drain loop on its own
// goroutine (the "drain thread", §5) so the control command returns
// immediately, matching §4.6's "non-blocking mode" requirement.
type SessionTarget struct {
	Session  *acquisition.Session
	Sink     acquisition.Sink
	Deadline time.Duration
	log      *hlog.Logger
}

// NewSessionTarget builds a Target around an already-configured Session.
func NewSessionTarget(log *hlog.Logger, session *acquisition.Session, sink acquisition.Sink, deadline time.Duration) *SessionTarget {
	if log == nil {
		log = hlog.Default()
	}
	return &SessionTarget{Session: session, Sink: sink, Deadline: deadline, log: log}
}

func (t *SessionTarget) PrepareTracking() error { return t.Session.PrepareTracking() }

func (t *SessionTarget) StartTracking() error {
	go func() {
		if err := t.Session.StartTracking(context.Background(), t.Sink, t.Deadline); err != nil {
			t.log.Warn().Err(err).Msg("drain loop exited")
		}
	}()
	return nil
}

func (t *SessionTarget) PauseTracking() error  { return t.Session.PauseTracking() }
func (t *SessionTarget) ResumeTracking() error { return t.Session.ResumeTracking() }
func (t *SessionTarget) StopTracking() error   { return t.Session.StopTracking() }
