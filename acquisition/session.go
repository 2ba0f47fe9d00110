// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acquisition owns the kernel-facing half of a capture: resolving
// event names, opening perf_event_open descriptors for the configured
// targets, mmapping and draining their ring buffers in time order, and
// handing records to a Sink (§4.1). It is grounded on nathanjsweet-ebpf's
// perf.go (ring layout, drain loop) and joeycold-ebpf's ring reader,
// generalized from a single BPF-output ring to N descriptors keyed by
// (event, cpu, pid).
package acquisition

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-perfcore/perfcore/internal/errs"
	"github.com/go-perfcore/perfcore/internal/hlog"
	"github.com/go-perfcore/perfcore/perffile"
)

// Sink receives the records a Session produces. *perffile.Writer
// satisfies this directly.
type Sink interface {
	WriteAttr(attr perffile.EventAttr, ids []uint64) error
	WriteRaw(typ perffile.RecordType, misc uint16, payload []byte) error
}

// state is the session's own lifecycle, distinct from (but driven by)
// control.State: acquisition only needs to know whether draining should
// be running.
type state int32

const (
	stateIdle state = iota
	statePrepared
	stateRunning
	statePaused
	stateStopped
)

// Session implements the full §4.1 contract: add_events, set_targets,
// set_sampling, set_stack, set_branch_sample, set_clock, prepare_tracking,
// start/stop/pause/resume_tracking, get_lost_samples.
type Session struct {
	log *hlog.Logger

	mu     sync.Mutex
	opts   Options
	events []string

	attrs []perffile.EventAttr
	rings []*descriptorRing

	sampleLost, otherLost uint64

	raisedLimits bool
	state        state
	stopCh       chan struct{}
}

// New creates an empty Session; configure it with AddEvents/SetTargets/
// etc. before PrepareTracking.
func New(log *hlog.Logger) *Session {
	if log == nil {
		log = hlog.Default()
	}
	return &Session{log: log, opts: Options{Clock: ClockMonotonic}}
}

// AddEvents resolves names against the static catalog (§4.1 add_events).
// grouped requests that all named events share one perf_event_open group
// per (cpu, pid) so their counts read atomically together.
func (s *Session) AddEvents(names []string, grouped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		if _, err := resolveEvent(n); err != nil {
			return err
		}
	}
	s.events = append(s.events, names...)
	s.opts.Grouped = grouped
	return nil
}

func (s *Session) SetTargets(t Targets) error {
	if err := t.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts.Targets = t
	s.mu.Unlock()
	return nil
}

func (s *Session) SetSampling(sa Sampling) error {
	if err := sa.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts.Sampling = sa
	s.mu.Unlock()
	return nil
}

func (s *Session) SetStack(sc StackConfig) error {
	if err := sc.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts.Stack = sc
	s.mu.Unlock()
	return nil
}

func (s *Session) SetBranchSample(mask perffile.BranchSampleType) error {
	s.mu.Lock()
	s.opts.BranchSample = mask
	err := s.opts.Validate()
	if err != nil {
		s.opts.BranchSample = 0
	}
	s.mu.Unlock()
	return err
}

func (s *Session) SetClock(c Clock) error {
	if !c.valid() {
		return fmt.Errorf("clock id %d: %w", c, errs.ErrInvalidClock)
	}
	s.mu.Lock()
	s.opts.Clock = c
	s.mu.Unlock()
	return nil
}

// target is one resolved (pid, cpu) tuple to open a descriptor against;
// pid or cpu may be -1 meaning "any".
type target struct {
	pid, cpu int
}

func (s *Session) resolveTargets() ([]target, error) {
	t := s.opts.Targets
	var cpus []int
	var err error
	if len(t.CPUs) > 0 {
		cpus = t.CPUs
	} else {
		cpus, err = onlineCPUs()
		if err != nil {
			return nil, fmt.Errorf("acquisition: enumerating online cpus: %w", err)
		}
	}

	switch {
	case t.SystemWide:
		targets := make([]target, 0, len(cpus))
		for _, c := range cpus {
			targets = append(targets, target{pid: -1, cpu: c})
		}
		return targets, nil
	case len(t.PIDs) > 0:
		return pidTargets(t.PIDs, t.CPUs), nil
	case len(t.TIDs) > 0:
		return pidTargets(t.TIDs, t.CPUs), nil
	}
	return nil, fmt.Errorf("acquisition: no targets resolved: %w", errs.ErrInvalidTargets)
}

func pidTargets(pids []int, explicitCPUs []int) []target {
	if len(explicitCPUs) == 0 {
		targets := make([]target, len(pids))
		for i, p := range pids {
			targets[i] = target{pid: p, cpu: -1}
		}
		return targets
	}
	targets := make([]target, 0, len(pids)*len(explicitCPUs))
	for _, p := range pids {
		for _, c := range explicitCPUs {
			targets = append(targets, target{pid: p, cpu: c})
		}
	}
	return targets
}

// onlineCPUs parses /sys/devices/system/cpu/online ("0-3,7" style ranges).
func onlineCPUs() ([]int, error) {
	raw, err := os.ReadFile("/sys/devices/system/cpu/online")
	if err != nil {
		return nil, err
	}
	var cpus []int
	for _, part := range strings.Split(strings.TrimSpace(string(raw)), ",") {
		if part == "" {
			continue
		}
		lo, hi, found := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		last := first
		if found {
			last, err = strconv.Atoi(hi)
			if err != nil {
				return nil, err
			}
		}
		for c := first; c <= last; c++ {
			cpus = append(cpus, c)
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}

// ringPages chooses a power-of-two page count for the per-descriptor
// mmap: k in [2, 1024] per §4.1, sized generously for sampling workloads.
const ringPages = 128

// PrepareTracking performs every perf_event_open + mmap call (§4.1
// prepare_tracking). It is fatal (returns an error) only if every single
// descriptor failed to open; partial failures are logged and the session
// proceeds with whatever opened.
func (s *Session) PrepareTracking() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		return fmt.Errorf("acquisition: prepare_tracking called from state %d", s.state)
	}
	if err := s.opts.Validate(); err != nil {
		return err
	}

	targets, err := s.resolveTargets()
	if err != nil {
		return err
	}

	raised, _ := raiseRateLimits(s.opts.Sampling.Frequency, ringPages)
	s.raisedLimits = raised

	groupLeader := make(map[target]int, len(targets)) // target -> fd, for Grouped
	var opened, failed int
	for _, name := range s.events {
		ev, err := resolveEvent(name)
		if err != nil {
			return err
		}
		attr, raw := buildEventAttr(ev, s.opts)
		evIdx := len(s.attrs)
		s.attrs = append(s.attrs, attr)

		for _, t := range targets {
			groupFd := -1
			if s.opts.Grouped {
				if leader, ok := groupLeader[t]; ok {
					groupFd = leader
				}
			}
			fd, err := unix.PerfEventOpen(&raw, t.pid, t.cpu, groupFd, unix.PERF_FLAG_FD_CLOEXEC)
			if err != nil {
				failed++
				s.log.Warn().Err(err).Str("event", name).Int("pid", t.pid).Int("cpu", t.cpu).Msg("perf_event_open failed")
				continue
			}
			if s.opts.Grouped && groupFd == -1 {
				groupLeader[t] = fd
			}
			ring, err := newDescriptorRing(fd, ringPages)
			if err != nil {
				failed++
				unix.Close(fd)
				s.log.Warn().Err(err).Msg("mmap failed")
				continue
			}
			ring.evIdx, ring.cpu = evIdx, t.cpu
			s.rings = append(s.rings, ring)
			opened++
		}
	}
	if opened == 0 {
		return fmt.Errorf("acquisition: no descriptors opened (%d failures): %w", failed, errs.ErrKernelOpenFailed)
	}
	s.state = statePrepared
	return nil
}

// StartTracking enables every descriptor and drains until stop_tracking
// is called, ctx is done, or deadline elapses (zero deadline means no
// timeout). It blocks until the drain loop exits.
func (s *Session) StartTracking(ctx context.Context, sink Sink, deadline time.Duration) error {
	s.mu.Lock()
	if s.state != statePrepared {
		s.mu.Unlock()
		return fmt.Errorf("acquisition: start_tracking called from state %d", s.state)
	}
	for _, a := range s.attrs {
		if err := sink.WriteAttr(a, nil); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", errs.ErrWriteError, err)
		}
	}
	for _, r := range s.rings {
		unix.IoctlSetInt(r.fd, unix.PERF_EVENT_IOC_RESET, 0)
		unix.IoctlSetInt(r.fd, unix.PERF_EVENT_IOC_ENABLE, 0)
	}
	s.state = stateRunning
	s.stopCh = make(chan struct{})
	rings := append([]*descriptorRing(nil), s.rings...)
	s.mu.Unlock()

	var cancel context.CancelFunc
	if deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	return s.drainLoop(ctx, rings, sink)
}

// drainLoop epoll-waits on every ring, drains whichever are readable,
// interleaves the batch by time through mergeHeap, and forwards each
// record to sink. A read/mmap failure on one descriptor removes it and
// continues draining the rest (§4.1 Failure model); SIGPIPE is never
// raised against these fds so no special handling is needed there.
func (s *Session) drainLoop(ctx context.Context, rings []*descriptorRing, sink Sink) error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("acquisition: epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	live := make(map[int]*descriptorRing, len(rings))
	for _, r := range rings {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.fd, &ev); err != nil {
			s.log.Warn().Err(err).Msg("epoll_ctl add failed")
			continue
		}
		live[r.fd] = r
	}

	merge := newMergeHeap(len(rings))
	ringIndex := make(map[int]int, len(rings))
	for i, r := range rings {
		ringIndex[r.fd] = i
	}

	var seq uint64
	events := make([]unix.EpollEvent, len(rings)+1)
	for {
		select {
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(epfd, events, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("acquisition: epoll_wait: %w", err)
		}
		if s.stateForLoad() == statePaused {
			continue
		}
		for i := 0; i < n; i++ {
			r, ok := live[int(events[i].Fd)]
			if !ok {
				continue
			}
			idx := ringIndex[r.fd]
			err := r.drain(func(typ uint32, misc uint16, payload []byte) {
				seq++
				if perffile.RecordType(typ) == perffile.RecordTypeLostSamples && len(payload) >= 8 {
					atomic.AddUint64(&s.sampleLost, le64(payload))
				}
				t := s.recordTime(typ, misc, payload)
				merge.push(rawRecord{typ: typ, misc: misc, payload: payload, time: t, ring: idx, seq: seq})
			}, func(lost uint64) {
				atomic.AddUint64(&s.otherLost, lost)
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("ring drain failed, dropping descriptor")
				unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, r.fd, nil)
				delete(live, r.fd)
			}
		}

		var writeErr error
		merge.drainAll(func(rec rawRecord) {
			if writeErr != nil {
				return
			}
			if err := sink.WriteRaw(perffile.RecordType(rec.typ), rec.misc, rec.payload); err != nil {
				writeErr = fmt.Errorf("%w: %v", errs.ErrWriteError, err)
			}
		})
		if writeErr != nil {
			return writeErr
		}
	}
}

// recordTime extracts the sample time field when present, falling back
// to 0 (arrival-order tiebreak via seq) for non-SAMPLE records or a
// SampleFormat without SampleFormatTime.
func (s *Session) recordTime(typ uint32, misc uint16, payload []byte) uint64 {
	if perffile.RecordType(typ) != perffile.RecordTypeSample || len(s.attrs) == 0 {
		return 0
	}
	smp, ok := decodeSample(payload, s.attrs[0].SampleFormat, s.attrs[0].SampleRegsUser)
	if !ok {
		return 0
	}
	return smp.Time
}

// stateForLoad exists only so drainLoop can atomic-load s.state without
// holding s.mu on every poll iteration (state itself is only ever
// transitioned under s.mu).
func (s *Session) stateForLoad() state { return state(atomic.LoadInt32((*int32)(&s.state))) }

func (s *Session) StopTracking() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning && s.state != statePaused {
		return nil // idempotent
	}
	for _, r := range s.rings {
		unix.IoctlSetInt(r.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	}
	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.state = stateStopped
	return nil
}

func (s *Session) PauseTracking() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return nil
	}
	for _, r := range s.rings {
		unix.IoctlSetInt(r.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	}
	s.state = statePaused
	return nil
}

func (s *Session) ResumeTracking() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != statePaused {
		return nil
	}
	for _, r := range s.rings {
		unix.IoctlSetInt(r.fd, unix.PERF_EVENT_IOC_ENABLE, 0)
	}
	s.state = stateRunning
	return nil
}

// GetLostSamples returns (sample_lost, nonsample_lost): sample_lost comes
// from RecordTypeLostSamples payloads (sample-specific loss accounting),
// nonsample_lost from the kernel's generic RecordTypeLost ring-overflow
// records (§4.1).
func (s *Session) GetLostSamples() (sampleLost, nonsampleLost uint64) {
	return atomic.LoadUint64(&s.sampleLost), atomic.LoadUint64(&s.otherLost)
}

// Close releases every open descriptor. Safe to call after StopTracking
// or if PrepareTracking partially failed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rings {
		r.Close()
	}
	s.rings = nil
}
