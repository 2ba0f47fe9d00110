// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acquisition

import "github.com/go-perfcore/perfcore/perffile"

// Sample is acquisition's own light decode of a raw RecordTypeSample
// payload, read directly out of the ring buffer rather than through
// perffile.Records (which only decodes from a complete on-disk section).
// It covers exactly the fields buildEventAttr's fixed SampleFormat
// choices can produce; it is not a general perf_event_attr sample
// decoder. Stack is a subslice of the body passed to decodeSample;
// Callchain and Regs are freshly allocated.
type Sample struct {
	IP        uint64
	PID, TID  int32
	Time      uint64
	ID        uint64
	CPU       uint32
	Period    uint64
	Callchain []uint64
	Regs      []uint64
	Stack     []byte
}

// sampleReader is a small cursor over an in-memory sample payload, in the
// same spirit as unwind's cfiReader and perffile's bufDecoder.
type sampleReader struct {
	buf []byte
	pos int
}

func (r *sampleReader) u32() (uint32, bool) {
	if r.pos+4 > len(r.buf) {
		return 0, false
	}
	v := le32(r.buf[r.pos:])
	r.pos += 4
	return v, true
}

func (r *sampleReader) u64() (uint64, bool) {
	if r.pos+8 > len(r.buf) {
		return 0, false
	}
	v := le64(r.buf[r.pos:])
	r.pos += 8
	return v, true
}

func (r *sampleReader) bytes(n int) ([]byte, bool) {
	if r.pos+n > len(r.buf) {
		return nil, false
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

// decodeSample parses body (the bytes following the record header)
// according to format, matching the field order perf_event_open uses
// (include/uapi/linux/perf_event.h's PERF_SAMPLE_* bit order), restricted
// to the fields buildEventAttr ever requests.
func decodeSample(body []byte, format perffile.SampleFormat, sampleRegsUser uint64) (Sample, bool) {
	r := &sampleReader{buf: body}
	var s Sample

	if format&perffile.SampleFormatIP != 0 {
		v, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		s.IP = v
	}
	if format&perffile.SampleFormatTID != 0 {
		pid, ok1 := r.u32()
		tid, ok2 := r.u32()
		if !ok1 || !ok2 {
			return Sample{}, false
		}
		s.PID, s.TID = int32(pid), int32(tid)
	}
	if format&perffile.SampleFormatTime != 0 {
		v, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		s.Time = v
	}
	if format&perffile.SampleFormatAddr != 0 {
		if _, ok := r.u64(); !ok {
			return Sample{}, false
		}
	}
	if format&perffile.SampleFormatCallchain != 0 {
		nr, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		chain := make([]uint64, 0, nr)
		for i := uint64(0); i < nr; i++ {
			v, ok := r.u64()
			if !ok {
				return Sample{}, false
			}
			chain = append(chain, v)
		}
		s.Callchain = chain
	}
	if format&perffile.SampleFormatID != 0 {
		v, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		s.ID = v
	}
	if format&perffile.SampleFormatCPU != 0 {
		cpu, ok1 := r.u32()
		_, ok2 := r.u32() // res, reserved
		if !ok1 || !ok2 {
			return Sample{}, false
		}
		s.CPU = cpu
	}
	if format&perffile.SampleFormatPeriod != 0 {
		v, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		s.Period = v
	}
	if format&perffile.SampleFormatCallchain != 0 {
		nr, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		chain := make([]uint64, 0, nr)
		for i := uint64(0); i < nr; i++ {
			v, ok := r.u64()
			if !ok {
				return Sample{}, false
			}
			chain = append(chain, v)
		}
		s.Callchain = chain
	}
	if format&perffile.SampleFormatRegsUser != 0 {
		abi, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		n := popcountU64(sampleRegsUser)
		if abi == 0 {
			n = 0
		}
		regs := make([]uint64, 0, n)
		for i := 0; i < n; i++ {
			v, ok := r.u64()
			if !ok {
				return Sample{}, false
			}
			regs = append(regs, v)
		}
		s.Regs = regs
	}
	if format&perffile.SampleFormatStackUser != 0 {
		size, ok := r.u64()
		if !ok {
			return Sample{}, false
		}
		data, ok := r.bytes(int(size))
		if !ok {
			return Sample{}, false
		}
		s.Stack = data
		if size != 0 {
			if _, ok := r.u64(); !ok { // dyn_size
				return Sample{}, false
			}
		}
	}
	return s, true
}

func popcountU64(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
