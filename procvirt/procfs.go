// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procvirt

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PreEnumerate synthesizes the MMAP/COMM history for a process that was
// already running when tracking started, by walking /proc/<pid>/maps
// and /proc/<pid>/task/*/comm (§4.4 Inputs) instead of waiting for the
// kernel to ever emit those records for it.
func (m *Model) PreEnumerate(pid int) error {
	if err := m.preEnumerateMaps(pid); err != nil {
		return err
	}
	return m.preEnumerateThreads(pid)
}

func (m *Model) preEnumerateMaps(pid int) error {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	p := m.ensureProcess(pid)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		mm, err := parseMapsLine(sc.Text())
		if err != nil {
			continue
		}
		p.insert(mm)
	}
	return sc.Err()
}

// parseMapsLine parses one /proc/<pid>/maps line:
//
//	begin-end perms offset major:minor inode pathname
func parseMapsLine(line string) (*Mapping, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, fmt.Errorf("malformed maps line: %q", line)
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return nil, fmt.Errorf("malformed address range: %q", fields[0])
	}
	begin, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return nil, err
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return nil, err
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return nil, err
	}
	devParts := strings.SplitN(fields[3], ":", 2)
	var major, minor uint64
	if len(devParts) == 2 {
		major, _ = strconv.ParseUint(devParts[0], 16, 32)
		minor, _ = strconv.ParseUint(devParts[1], 16, 32)
	}
	inode, _ := strconv.ParseUint(fields[4], 10, 64)

	name := ""
	if len(fields) > 5 {
		name = strings.Join(fields[5:], " ")
	}

	perms := fields[1]
	var prot uint32
	if strings.Contains(perms, "r") {
		prot |= unix.PROT_READ
	}
	if strings.Contains(perms, "w") {
		prot |= unix.PROT_WRITE
	}
	if strings.Contains(perms, "x") {
		prot |= unix.PROT_EXEC
	}
	var flags uint32 = unix.MAP_PRIVATE
	if len(perms) > 3 && perms[3] == 's' {
		flags = unix.MAP_SHARED
	}

	return &Mapping{
		Begin:       begin,
		End:         end,
		PageOffset:  offset,
		Prot:        prot,
		Flags:       flags,
		Filename:    name,
		Major:       uint32(major),
		Minor:       uint32(minor),
		Inode:       inode,
		SymbolIndex: -1,
	}, nil
}

func (m *Model) preEnumerateThreads(pid int) error {
	dir := fmt.Sprintf("/proc/%d/task", pid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	p := m.ensureProcess(pid)
	for _, ent := range entries {
		tid, err := strconv.Atoi(ent.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(dir, ent.Name(), "comm"))
		if err != nil {
			continue
		}
		p.ensureThread(tid).Name = strings.TrimSpace(string(comm))
	}
	return nil
}

// ReadROMemory reads n bytes at vaddr from pid's address space via
// /proc/<pid>/mem (§4.2 Memory access contract: everything outside the
// captured stack snapshot goes through this path).
func ReadROMemory(pid int, vaddr uint64, n int) ([]byte, error) {
	path := fmt.Sprintf("/proc/%d/mem", pid)
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, n)
	got, err := unix.Pread(fd, buf, int64(vaddr))
	if err != nil {
		return nil, fmt.Errorf("pread %s at 0x%x: %w", path, vaddr, err)
	}
	return buf[:got], nil
}
