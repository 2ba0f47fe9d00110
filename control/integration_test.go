// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// waitExists polls for path to appear, since opening a client-side FIFO
// end before the server has created it fails with ENOENT rather than
// blocking.
func waitExists(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}

func TestServeClientRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTarget{}
	srv := NewServer(nil, dir, ft)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	c2sPath := dir + "/" + c2sName
	s2cPath := dir + "/" + s2cName
	waitExists(t, c2sPath)
	waitExists(t, s2cPath)

	cl := NewClient(dir)

	require.NoError(t, cl.Prepare())
	require.Equal(t, StatePrepared, srv.State())

	require.NoError(t, cl.Start())
	require.Equal(t, StateRunning, srv.State())

	ok, err := cl.Check()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cl.Pause())
	require.Equal(t, StatePaused, srv.State())

	require.NoError(t, cl.Resume())
	require.Equal(t, StateRunning, srv.State())

	require.NoError(t, cl.Stop())
	require.Equal(t, StateStopped, srv.State())

	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after stop")
	}

	require.Equal(t, 1, ft.prepared)
	require.Equal(t, 1, ft.started)
	require.Equal(t, 1, ft.paused)
	require.Equal(t, 1, ft.resumed)
	require.Equal(t, 1, ft.stopped)
}

func TestServeRejectsSecondInstance(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv1 := NewServer(nil, dir, &fakeTarget{})
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv1.Serve(ctx) }()
	waitExists(t, dir+"/"+c2sName)

	srv2 := NewServer(nil, dir, &fakeTarget{})
	err := srv2.Serve(context.Background())
	require.Error(t, err)

	require.NoError(t, NewClient(dir).Stop())
	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after stop")
	}
}
