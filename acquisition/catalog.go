// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-perfcore/perfcore/internal/errs"
	"github.com/go-perfcore/perfcore/perffile"
)

// catalog resolves the event names add_events accepts (§4.1) against the
// generic/hardware/software event space plus the handful of raw and
// target-specific forms perf tooling conventionally supports.
var catalog = map[string]perffile.Event{
	"cycles":                  perffile.EventHardwareCPUCycles,
	"instructions":            perffile.EventHardwareInstructions,
	"cache-references":        perffile.EventHardwareCacheReferences,
	"cache-misses":            perffile.EventHardwareCacheMisses,
	"branch-instructions":     perffile.EventHardwareBranchInstructions,
	"branch-misses":           perffile.EventHardwareBranchMisses,
	"bus-cycles":              perffile.EventHardwareBusCycles,
	"stalled-cycles-frontend": perffile.EventHardwareStalledCyclesFrontend,
	"stalled-cycles-backend":  perffile.EventHardwareStalledCyclesBackend,
	"ref-cycles":              perffile.EventHardwareRefCPUCycles,

	"cpu-clock":        perffile.EventSoftwareCPUClock,
	"task-clock":       perffile.EventSoftwareTaskClock,
	"page-faults":      perffile.EventSoftwarePageFaults,
	"context-switches": perffile.EventSoftwareContextSwitches,
	"cpu-migrations":   perffile.EventSoftwareCPUMigrations,
	"minor-faults":     perffile.EventSoftwarePageFaultsMin,
	"major-faults":     perffile.EventSoftwarePageFaultsMaj,
	"alignment-faults": perffile.EventSoftwareAlignmentFaults,
	"emulation-faults": perffile.EventSoftwareEmulationFaults,
	"dummy":            perffile.EventSoftwareDummy,
	"bpf-output":       perffile.EventSoftwareBpfOutput,
}

// resolveEvent implements add_events' per-name resolution. Beyond the
// static catalog it accepts:
//   - "rNNNN" / "0xNNNN": a raw PMU event code (EventRaw).
//   - "<pmu>/config=0xNNNN/" or a bare PMU name registered under
//     /sys/bus/event_source/devices/<pmu>/type: a target-specific PMU such
//     as arm_spe_0, resolved to its dynamic EventType plus raw config.
func resolveEvent(name string) (perffile.Event, error) {
	if ev, ok := catalog[name]; ok {
		return ev, nil
	}
	if strings.HasPrefix(name, "r") {
		if id, err := strconv.ParseUint(name[1:], 16, 64); err == nil {
			return perffile.EventRaw(id), nil
		}
	}
	if strings.HasPrefix(name, "0x") {
		if id, err := strconv.ParseUint(name[2:], 16, 64); err == nil {
			return perffile.EventRaw(id), nil
		}
	}
	if pmuType, cfg, ok := resolvePMUEvent(name); ok {
		return dynamicPMUEvent{typ: pmuType, config: cfg}, nil
	}
	return nil, fmt.Errorf("%s: %w", name, errs.ErrEventNotSupported)
}

// dynamicPMUEvent represents a raw config against a dynamically
// registered PMU (type read from sysfs), such as "arm_spe_0".
type dynamicPMUEvent struct {
	typ    uint32
	config uint64
}

func (e dynamicPMUEvent) Generic() perffile.EventGeneric {
	return perffile.EventGeneric{Type: perffile.EventType(e.typ), ID: e.config}
}

// resolvePMUEvent splits "pmu" or "pmu/config=0xNNN/" and reads the PMU's
// dynamic type from /sys/bus/event_source/devices/<pmu>/type.
func resolvePMUEvent(name string) (pmuType uint32, config uint64, ok bool) {
	pmu, rest := name, ""
	if i := strings.IndexByte(name, '/'); i >= 0 {
		pmu, rest = name[:i], strings.Trim(name[i+1:], "/")
	}
	raw, err := os.ReadFile("/sys/bus/event_source/devices/" + pmu + "/type")
	if err != nil {
		return 0, 0, false
	}
	t, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	if rest == "" {
		return uint32(t), 0, true
	}
	for _, kv := range strings.Split(rest, ",") {
		k, v, found := strings.Cut(kv, "=")
		if !found || k != "config" {
			continue
		}
		if c, err := strconv.ParseUint(v, 0, 64); err == nil {
			return uint32(t), c, true
		}
	}
	return uint32(t), 0, true
}
