// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-perfcore/perfcore/internal/errs"
)

// Request timeouts (§4.6): 2000ms for state-changing commands, 1000ms
// for the "still alive" check.
const (
	DefaultTimeout = 2000 * time.Millisecond
	CheckTimeout   = 1000 * time.Millisecond
)

// Client sends prepare/start/pause/resume/stop/check commands to a
// Server over its named pipes.
type Client struct {
	c2sPath, s2cPath string
}

// NewClient addresses the Server rooted at dir.
func NewClient(dir string) *Client {
	return &Client{
		c2sPath: filepath.Join(dir, c2sName),
		s2cPath: filepath.Join(dir, s2cName),
	}
}

func (c *Client) Prepare() error { return c.doOK("prepare") }
func (c *Client) Start() error   { return c.doOK("start") }
func (c *Client) Pause() error   { return c.doOK("pause") }
func (c *Client) Resume() error  { return c.doOK("resume") }
func (c *Client) Stop() error    { return c.doOK("stop") }

// Check asks whether the server is still alive, using the shorter
// 1000ms timeout; it does not change server state.
func (c *Client) Check() (bool, error) {
	reply, err := c.send("check", CheckTimeout)
	if err != nil {
		return false, err
	}
	return reply == "OK_CHECK", nil
}

func (c *Client) doOK(cmd string) error {
	reply, err := c.send(cmd, DefaultTimeout)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("control: %s: server replied %q: %w", cmd, reply, errs.ErrControlProtocol)
	}
	return nil
}

// send writes one line to c2s and waits up to timeout for one line back
// on s2c, closing the read side to unblock the scan if the deadline is
// reached first.
func (c *Client) send(cmd string, timeout time.Duration) (string, error) {
	w, err := os.OpenFile(c.c2sPath, os.O_WRONLY, 0)
	if err != nil {
		return "", fmt.Errorf("control: opening %s: %w", c.c2sPath, err)
	}
	if _, err := fmt.Fprintln(w, cmd); err != nil {
		w.Close()
		return "", fmt.Errorf("control: writing %s: %w: %v", cmd, errs.ErrControlProtocol, err)
	}
	w.Close()

	r, err := os.OpenFile(c.s2cPath, os.O_RDONLY, 0)
	if err != nil {
		return "", fmt.Errorf("control: opening %s: %w", c.s2cPath, err)
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sc := bufio.NewScanner(r)
		if sc.Scan() {
			ch <- result{line: strings.TrimSpace(sc.Text())}
			return
		}
		ch <- result{err: sc.Err()}
	}()

	select {
	case res := <-ch:
		r.Close()
		if res.err != nil {
			return "", fmt.Errorf("control: reading reply to %s: %w: %v", cmd, errs.ErrControlProtocol, res.err)
		}
		if res.line == "" {
			return "", fmt.Errorf("control: empty reply to %s: %w", cmd, errs.ErrControlProtocol)
		}
		return res.line, nil
	case <-time.After(timeout):
		r.Close() // unblock the scan goroutine above
		return "", fmt.Errorf("control: %s timed out after %s: %w", cmd, timeout, errs.ErrControlProtocol)
	}
}
