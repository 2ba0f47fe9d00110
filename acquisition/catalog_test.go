// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-perfcore/perfcore/perffile"
)

func TestResolveEventCatalog(t *testing.T) {
	ev, err := resolveEvent("cycles")
	require.NoError(t, err)
	require.Equal(t, perffile.EventHardwareCPUCycles, ev)

	ev, err = resolveEvent("page-faults")
	require.NoError(t, err)
	require.Equal(t, perffile.EventSoftwarePageFaults, ev)
}

func TestResolveEventRawHex(t *testing.T) {
	ev, err := resolveEvent("r1a2b")
	require.NoError(t, err)
	require.Equal(t, perffile.EventRaw(0x1a2b), ev)

	ev, err = resolveEvent("0x1a2b")
	require.NoError(t, err)
	require.Equal(t, perffile.EventRaw(0x1a2b), ev)
}

func TestResolveEventUnknown(t *testing.T) {
	_, err := resolveEvent("totally-not-an-event")
	require.Error(t, err)
}

func TestResolvePMUEventConfigSyntax(t *testing.T) {
	pmu, cfg, ok := resolvePMUEvent("made-up-pmu-does-not-exist/config=0x10/")
	require.False(t, ok)
	require.Zero(t, pmu)
	require.Zero(t, cfg)
}
