// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/go-perfcore/perfcore/internal/errs"
	"github.com/go-perfcore/perfcore/internal/hlog"
)

// Pipe and lock file names, matching the teacher-domain naming
// convention named in §4.6 ("/data/local/tmp/.hiperf_record_control_*")
// under a caller-chosen directory rather than a hardcoded Android path.
const (
	c2sName  = ".hiperf_record_control_c2s"
	s2cName  = ".hiperf_record_control_s2c"
	lockName = ".hiperf_record_control.lock"
)

// Server owns one prepare→...→stop session's pair of named pipes and
// drives a Target through the §4.6 state machine in response to
// single-line commands read from the client→server pipe.
type Server struct {
	log    *hlog.Logger
	target Target

	c2sPath, s2cPath, lockPath string

	mu    sync.Mutex
	state State

	lock *os.File
}

// NewServer creates a Server rooted at dir (the directory the control
// pipes and lock file are created in).
func NewServer(log *hlog.Logger, dir string, target Target) *Server {
	if log == nil {
		log = hlog.Default()
	}
	return &Server{
		log:      log,
		target:   target,
		c2sPath:  filepath.Join(dir, c2sName),
		s2cPath:  filepath.Join(dir, s2cName),
		lockPath: filepath.Join(dir, lockName),
	}
}

// Serve claims the pipes (failing with errs.ErrAlreadyRunning if another
// server already owns them per the lock file), creates them if absent,
// and processes one line-oriented command per loop iteration until a
// "stop" command completes or ctx is done. It blocks.
func (s *Server) Serve(ctx context.Context) error {
	lock, err := s.claim()
	if err != nil {
		return err
	}
	s.lock = lock
	defer s.release()

	if err := ensureFifo(s.c2sPath); err != nil {
		return err
	}
	if err := ensureFifo(s.s2cPath); err != nil {
		return err
	}

	// Opening a FIFO O_RDWR never blocks regardless of whether a peer
	// has the other direction open yet, unlike O_RDONLY/O_WRONLY which
	// block until rendezvous; this lets Serve start listening before
	// any client connects.
	c2s, err := os.OpenFile(s.c2sPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("control: opening %s: %w", s.c2sPath, err)
	}
	defer c2s.Close()
	s2c, err := os.OpenFile(s.s2cPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("control: opening %s: %w", s.s2cPath, err)
	}
	defer s2c.Close()

	stopCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c2s.Close()
		case <-stopCh:
		}
	}()
	defer close(stopCh)

	sc := bufio.NewScanner(c2s)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		reply, stop := s.handle(cmd)
		if _, err := fmt.Fprintln(s2c, reply); err != nil {
			s.log.Warn().Err(err).Msg("writing control reply failed")
		}
		if stop {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sc.Err()
}

// handle applies one command to the state machine (§4.6 transitions),
// returning the single-line reply and whether Serve should now return.
func (s *Server) handle(cmd string) (reply string, stop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "check":
		return "OK_CHECK", false
	case "prepare":
		if s.state != StateIdle {
			return "FAIL", false
		}
		if err := s.target.PrepareTracking(); err != nil {
			s.log.Warn().Err(err).Msg("prepare_tracking failed")
			return "FAIL", false
		}
		s.state = StatePrepared
		return "OK", false
	case "start":
		if s.state != StatePrepared {
			return "FAIL", false
		}
		if err := s.target.StartTracking(); err != nil {
			s.log.Warn().Err(err).Msg("start_tracking failed")
			return "FAIL", false
		}
		s.state = StateRunning
		return "OK", false
	case "pause":
		if s.state != StateRunning {
			return "FAIL", false
		}
		if err := s.target.PauseTracking(); err != nil {
			s.log.Warn().Err(err).Msg("pause_tracking failed")
			return "FAIL", false
		}
		s.state = StatePaused
		return "OK", false
	case "resume":
		if s.state != StatePaused {
			return "FAIL", false
		}
		if err := s.target.ResumeTracking(); err != nil {
			s.log.Warn().Err(err).Msg("resume_tracking failed")
			return "FAIL", false
		}
		s.state = StateRunning
		return "OK", false
	case "stop":
		err := s.target.StopTracking()
		s.state = StateStopped
		if err != nil {
			s.log.Warn().Err(err).Msg("stop_tracking failed")
			return "FAIL", true
		}
		return "OK", true
	default:
		return "FAIL", false
	}
}

// State reports the server's current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) claim() (*os.File, error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("control: %s: %w", s.lockPath, errs.ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("control: creating %s: %w", s.lockPath, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func (s *Server) release() {
	if s.lock != nil {
		s.lock.Close()
		os.Remove(s.lockPath)
	}
	os.Remove(s.c2sPath)
	os.Remove(s.s2cPath)
}

func ensureFifo(path string) error {
	if err := unix.Mkfifo(path, 0600); err != nil && err != unix.EEXIST {
		return fmt.Errorf("control: mkfifo %s: %w", path, err)
	}
	return nil
}
