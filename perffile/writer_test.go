// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// memWriteSeeker is an in-memory io.WriteSeeker, since os.File isn't
// available in a unit test and bytes.Buffer doesn't implement Seek.
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func (m *memWriteSeeker) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

func sampleAttr() EventAttr {
	return EventAttr{
		Event:        EventHardware(EventHardwareCPUCycles),
		SamplePeriod: 1000,
		SampleFormat: SampleFormatIP | SampleFormatTID | SampleFormatTime | SampleFormatCallchain | SampleFormatIdentifier,
	}
}

func TestWriterRoundTrip(t *testing.T) {
	mem := &memWriteSeeker{}
	wr := NewWriter(mem)

	attr := sampleAttr()
	require.NoError(t, wr.WriteAttr(attr, []uint64{42}))
	require.NoError(t, wr.SetFeatureString("Hostname", "devhost"))
	wr.SetFeatureCmdline([]string{"hiperfcore", "record"})

	rc := &RecordSample{
		RecordCommon: RecordCommon{
			Format:    attr.SampleFormat,
			EventAttr: &attr,
			ID:        42,
			PID:       100,
			TID:       101,
			Time:      123456,
		},
		IP:        0xdeadbeef,
		Callchain: []uint64{0x1000, 0x2000, 0x3000},
	}
	require.NoError(t, wr.WriteSample(rc))
	require.NoError(t, wr.Close())

	f, err := New(mem)
	require.NoError(t, err)
	require.Equal(t, "devhost", f.Meta.Hostname)
	require.Equal(t, []string{"hiperfcore", "record"}, f.Meta.CmdLine)

	rs := f.Records(RecordsFileOrder)
	require.True(t, rs.Next())
	got, ok := rs.Record.(*RecordSample)
	require.True(t, ok)
	require.Equal(t, uint64(0xdeadbeef), got.IP)
	require.Equal(t, []uint64{0x1000, 0x2000, 0x3000}, got.Callchain)
	require.Equal(t, 100, got.PID)
	require.Equal(t, 101, got.TID)
	require.False(t, rs.Next())
	require.NoError(t, rs.Err())
}

func TestWriterCompressedRoundTrip(t *testing.T) {
	mem := &memWriteSeeker{}
	wr := NewWriter(mem)
	wr.SetCompressed(true)

	attr := sampleAttr()
	require.NoError(t, wr.WriteAttr(attr, []uint64{1}))

	rc := &RecordSample{
		RecordCommon: RecordCommon{
			Format:    attr.SampleFormat,
			EventAttr: &attr,
			ID:        1,
			PID:       7,
			TID:       7,
		},
		IP:        0x42,
		Callchain: []uint64{0x42, 0x43},
	}
	require.NoError(t, wr.WriteSample(rc))
	require.NoError(t, wr.Close())

	f, err := New(mem)
	require.NoError(t, err)
	rs := f.Records(RecordsFileOrder)
	require.True(t, rs.Next())
	got := rs.Record.(*RecordSample)
	require.Equal(t, uint64(0x42), got.IP)
}

func TestWriterMaxBytes(t *testing.T) {
	mem := &memWriteSeeker{}
	wr := NewWriter(mem)
	wr.SetMaxBytes(16)

	attr := sampleAttr()
	require.NoError(t, wr.WriteAttr(attr, []uint64{1}))
	require.NoError(t, wr.WriteRaw(RecordTypeComm, 0, bytes.Repeat([]byte{0}, 8)))
	err := wr.WriteRaw(RecordTypeComm, 0, bytes.Repeat([]byte{0}, 64))
	require.ErrorIs(t, err, ErrMaxBytesReached)
}

func TestUniStackTableInsertIdempotent(t *testing.T) {
	tbl := NewUniStackTable()
	a := tbl.Insert([]uint64{1, 2, 3})
	b := tbl.Insert([]uint64{1, 2, 3})
	c := tbl.Insert([]uint64{1, 2, 4})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, []uint64{1, 2, 3}, tbl.Lookup(a))
}
