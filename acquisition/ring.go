// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// perfEventMeta mirrors the leading fields of struct perf_event_mmap_page
// (include/uapi/linux/perf_event.h): a lock-free control page the kernel
// writes data_head into and the reader writes data_tail back into.
type perfEventMeta struct {
	_          [128]uint64 // version/compat_version/lock/index/offset/time_enabled/time_running/... padded to 1KiB per-field layout
	dataHead   uint64
	dataTail   uint64
	dataOffset uint64
	dataSize   uint64
}

// descriptorRing is one perf_event_open mmap: the kernel fd, the control
// page plus data pages, and the data region as a plain byte slice. Ring
// layout and drain logic follow nathanjsweet-ebpf's perfEventRing/
// ringReader, generalized from a single BPF-output buffer to one ring per
// (event, cpu, pid) descriptor.
type descriptorRing struct {
	fd     int
	meta   *perfEventMeta
	mmap   []byte
	ring   []byte
	cpu    int
	evIdx  int // index into Session.attrs
}

// newDescriptorRing maps 1 + pages pages: one control page plus a
// power-of-two data region (§4.1 Ring buffer layout).
func newDescriptorRing(fd int, pages int) (*descriptorRing, error) {
	if pages&(pages-1) != 0 {
		return nil, fmt.Errorf("acquisition: ring page count %d is not a power of two", pages)
	}
	pageSize := os.Getpagesize()
	size := (1 + pages) * pageSize

	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("acquisition: setting fd nonblocking: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("acquisition: mmap ring: %w", err)
	}

	meta := (*perfEventMeta)(unsafe.Pointer(&data[0]))
	r := &descriptorRing{
		fd:   fd,
		meta: meta,
		mmap: data,
		ring: data[meta.dataOffset : meta.dataOffset+meta.dataSize],
	}
	runtime.SetFinalizer(r, (*descriptorRing).Close)
	return r, nil
}

func (r *descriptorRing) Close() {
	runtime.SetFinalizer(r, nil)
	unix.Munmap(r.mmap)
	unix.Close(r.fd)
}

// available reports how many unread bytes currently sit in the data
// region, per the monotonically non-decreasing tail invariant (§4.1).
func (r *descriptorRing) available() uint64 {
	head := atomic.LoadUint64(&r.meta.dataHead)
	tail := atomic.LoadUint64(&r.meta.dataTail)
	return head - tail
}

// drain copies out every complete record currently available, invoking
// emit(typ, misc, payload) for each and committing the new tail once
// done. A LOST record (type 2, {id, lost uint64} payload) is reported to
// onLost instead of emit. drain never blocks; callers poll/epoll first.
func (r *descriptorRing) drain(emit func(typ uint32, misc uint16, payload []byte), onLost func(n uint64)) error {
	const (
		recordTypeLost = 2
		headerSize     = 8 // type(4) + misc(2) + size(2)
	)

	head := atomic.LoadUint64(&r.meta.dataHead)
	tail := atomic.LoadUint64(&r.meta.dataTail)
	mask := uint64(len(r.ring) - 1)

	for tail < head {
		if head-tail < headerSize {
			break
		}
		hdr := r.readAt(tail, headerSize, mask)
		typ := le32(hdr)
		misc := uint16(hdr[4]) | uint16(hdr[5])<<8
		size := uint16(hdr[6]) | uint16(hdr[7])<<8
		if uint64(size) < headerSize || head-tail < uint64(size) {
			break
		}
		body := r.readAt(tail+headerSize, int(size)-headerSize, mask)

		if typ == recordTypeLost {
			if len(body) >= 16 {
				onLost(le64(body[8:16]))
			}
		} else {
			emit(typ, misc, body)
		}
		tail += uint64(size)
	}
	atomic.StoreUint64(&r.meta.dataTail, tail)
	return nil
}

// readAt copies n bytes starting at the ring-relative offset off (mod
// len(ring)), handling wraparound the way ringReader.Read does.
func (r *descriptorRing) readAt(off uint64, n int, mask uint64) []byte {
	start := int(off & mask)
	out := make([]byte, n)
	if remainder := len(r.ring) - start; n <= remainder {
		copy(out, r.ring[start:start+n])
	} else {
		copy(out, r.ring[start:])
		copy(out[remainder:], r.ring[:n-remainder])
	}
	return out
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
