// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/internal/errs"
)

type fakeTarget struct {
	prepareErr, startErr, pauseErr, resumeErr, stopErr error
	prepared, started, paused, resumed, stopped        int
}

func (f *fakeTarget) PrepareTracking() error { f.prepared++; return f.prepareErr }
func (f *fakeTarget) StartTracking() error   { f.started++; return f.startErr }
func (f *fakeTarget) PauseTracking() error   { f.paused++; return f.pauseErr }
func (f *fakeTarget) ResumeTracking() error  { f.resumed++; return f.resumeErr }
func (f *fakeTarget) StopTracking() error    { f.stopped++; return f.stopErr }

func TestServerHandleHappyPath(t *testing.T) {
	ft := &fakeTarget{}
	s := NewServer(nil, t.TempDir(), ft)

	reply, stop := s.handle("prepare")
	require.Equal(t, "OK", reply)
	require.False(t, stop)
	require.Equal(t, StatePrepared, s.State())

	reply, stop = s.handle("start")
	require.Equal(t, "OK", reply)
	require.False(t, stop)
	require.Equal(t, StateRunning, s.State())

	reply, stop = s.handle("pause")
	require.Equal(t, "OK", reply)
	require.Equal(t, StatePaused, s.State())

	reply, stop = s.handle("resume")
	require.Equal(t, "OK", reply)
	require.Equal(t, StateRunning, s.State())

	reply, stop = s.handle("stop")
	require.Equal(t, "OK", reply)
	require.True(t, stop)
	require.Equal(t, StateStopped, s.State())

	require.Equal(t, 1, ft.prepared)
	require.Equal(t, 1, ft.started)
	require.Equal(t, 1, ft.paused)
	require.Equal(t, 1, ft.resumed)
	require.Equal(t, 1, ft.stopped)
}

func TestServerHandleRejectsOutOfOrderTransitions(t *testing.T) {
	s := NewServer(nil, t.TempDir(), &fakeTarget{})

	reply, stop := s.handle("start") // no prepare yet
	require.Equal(t, "FAIL", reply)
	require.False(t, stop)
	require.Equal(t, StateIdle, s.State())

	reply, stop = s.handle("pause") // not running
	require.Equal(t, "FAIL", reply)
	require.Equal(t, StateIdle, s.State())
}

func TestServerHandleCheckDoesNotChangeState(t *testing.T) {
	s := NewServer(nil, t.TempDir(), &fakeTarget{})
	reply, stop := s.handle("check")
	require.Equal(t, "OK_CHECK", reply)
	require.False(t, stop)
	require.Equal(t, StateIdle, s.State())
}

func TestServerHandleUnknownCommand(t *testing.T) {
	s := NewServer(nil, t.TempDir(), &fakeTarget{})
	reply, stop := s.handle("frobnicate")
	require.Equal(t, "FAIL", reply)
	require.False(t, stop)
}

func TestServerHandlePrepareFailureStaysIdle(t *testing.T) {
	ft := &fakeTarget{prepareErr: errors.New("boom")}
	s := NewServer(nil, t.TempDir(), ft)
	reply, stop := s.handle("prepare")
	require.Equal(t, "FAIL", reply)
	require.False(t, stop)
	require.Equal(t, StateIdle, s.State())
}

func TestServerHandleStopAlwaysStopsEvenOnError(t *testing.T) {
	ft := &fakeTarget{stopErr: errors.New("boom")}
	s := NewServer(nil, t.TempDir(), ft)
	s.state = StateRunning

	reply, stop := s.handle("stop")
	require.Equal(t, "FAIL", reply)
	require.True(t, stop)
	require.Equal(t, StateStopped, s.State())
}

func TestServerClaimRejectsSecondOwner(t *testing.T) {
	dir := t.TempDir()
	s1 := NewServer(nil, dir, &fakeTarget{})
	lock, err := s1.claim()
	require.NoError(t, err)
	s1.lock = lock

	s2 := NewServer(nil, dir, &fakeTarget{})
	_, err = s2.claim()
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrAlreadyRunning)

	s1.release()
	require.NoFileExists(t, filepath.Join(dir, lockName))
}

func TestEnsureFifoIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, ensureFifo(path))
	require.NoError(t, ensureFifo(path)) // already exists, not an error

	info, err := os.Lstat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeNamedPipe)
}
