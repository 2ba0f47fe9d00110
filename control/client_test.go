// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientSendMissingPipeErrors(t *testing.T) {
	c := NewClient(t.TempDir())
	_, err := c.send("check", 50*time.Millisecond)
	require.Error(t, err)
}

func TestClientCheckMissingPipeErrors(t *testing.T) {
	c := NewClient(t.TempDir())
	ok, err := c.Check()
	require.Error(t, err)
	require.False(t, ok)
}

func TestClientDoOKMissingPipeErrors(t *testing.T) {
	c := NewClient(t.TempDir())
	require.Error(t, c.Prepare())
	require.Error(t, c.Start())
	require.Error(t, c.Pause())
	require.Error(t, c.Resume())
	require.Error(t, c.Stop())
}

func TestNewClientPaths(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir)
	require.Contains(t, c.c2sPath, c2sName)
	require.Contains(t, c.s2cPath, s2cName)
	require.Contains(t, c.c2sPath, dir)
}
