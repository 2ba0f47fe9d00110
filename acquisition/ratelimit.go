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
)

const (
	knobCPUTimeMaxPercent = "/proc/sys/kernel/perf_cpu_time_max_percent"
	knobMaxSampleRate     = "/proc/sys/kernel/perf_event_max_sample_rate"
	knobMlockKB           = "/proc/sys/kernel/perf_event_mlock_kb"
)

// raiseRateLimits ensures the kernel knobs that gate sampling frequency
// and locked ring-buffer memory allow the requested configuration,
// raising them when the process has permission (§4.1 Rate limiting).
// Original values are intentionally not restored on teardown; the
// session-wide Session.raisedLimits flag records that this happened so
// callers can log it. A knob that can't be read or raised is not fatal:
// the kernel-enforced cap still applies, just possibly lower than asked.
func raiseRateLimits(wantFreq uint64, wantPages int) (raised bool, err error) {
	if wantFreq > 0 {
		if ok, e := raiseIfBelow(knobMaxSampleRate, int64(wantFreq)); e == nil && ok {
			raised = true
		}
	}
	// perf_cpu_time_max_percent throttles events once they consume this
	// fraction of a CPU's time; 25 is the kernel default and usually
	// already permits the requested rate, so only raise it if currently
	// tighter than that.
	if ok, _ := raiseIfBelow(knobCPUTimeMaxPercent, 25); ok {
		raised = true
	}
	wantKB := int64(wantPages) * int64(os.Getpagesize()) / 1024
	if ok, _ := raiseIfBelow(knobMlockKB, wantKB); ok {
		raised = true
	}
	return raised, nil
}

func raiseIfBelow(path string, want int64) (raised bool, err error) {
	cur, err := readKnob(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if cur < 0 || cur >= want { // negative means "unlimited"
		return false, nil
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(want, 10)), 0644); err != nil {
		return false, fmt.Errorf("%s: %w: %v", path, errs.ErrResourceLimit, err)
	}
	return true, nil
}

func readKnob(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
}
