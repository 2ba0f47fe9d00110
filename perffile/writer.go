// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// A Writer streams a "perf.data" file (§4.5). Unlike File, which assumes
// random access (io.ReaderAt) over a complete file, Writer is driven
// incrementally by the acquisition loop: attrs must be declared before
// any records are written, and the data section is appended
// record-by-record as samples arrive.
//
// Most record types (MMAP, COMM, FORK, EXIT, ...) reach the writer
// already serialized in the kernel's own on-disk wire format, copied
// verbatim out of a ring buffer — WriteRaw exists for exactly that case.
// Only SAMPLE records are ever reconstructed, when the callstack
// expander or the dedup pass rewrites their ips (EncodeSample).
//
// Writer is not safe for concurrent use; callers drive it from a single
// drain/writer thread, matching the ownership rules in §5.
type Writer struct {
	w   io.WriteSeeker
	hdr fileHeader

	attrs      []EventAttr
	attrIDs    [][]uint64
	wroteAttrs bool

	dataStart int64
	dataLen   int64 // logical (uncompressed) bytes, for SetMaxBytes

	compressed bool
	cw         *countingWriter
	gz         *gzip.Writer
	recordDest io.Writer

	dedupStack bool
	uniStack   *UniStackTable

	maxBytes int64 // 0 means unbounded
	features map[feature][]byte
}

// countingWriter tracks the number of bytes actually written to the
// underlying file, which is what the feature-section table's offsets
// and the Data section's size are computed from — not the logical
// (pre-compression) byte count SetMaxBytes budgets against.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// NewWriter creates a Writer that will write a new "perf.data" file to w.
// w must support Seek because the header's section table is patched once
// the attr count and data length are known.
func NewWriter(w io.WriteSeeker) *Writer {
	return &Writer{w: w, features: make(map[feature][]byte)}
}

// SetDedupStack enables the unique-stack table (§4.5): DedupIPs then
// assigns each distinct ips chain a stable stack_id, and the table itself
// is written as the HIPERF_FILES_UNISTACK_TABLE feature section on Close.
// WriteSample does not call DedupIPs; samples keep their full ips.
func (wr *Writer) SetDedupStack(enabled bool) {
	wr.dedupStack = enabled
	if enabled && wr.uniStack == nil {
		wr.uniStack = NewUniStackTable()
	}
}

// SetCompressed enables gzip compression of the data section (the
// HIPERF proprietary variant of perf.data), trading write-time CPU for
// a smaller trace file. It must be called before the first WriteAttr.
func (wr *Writer) SetCompressed(enabled bool) {
	wr.compressed = enabled
}

// SetMaxBytes sets the §4.5 data-section budget. WriteRaw returns
// ErrMaxBytesReached once the running total would exceed it; the caller
// (the acquisition loop) is responsible for stopping cleanly on that
// signal.
func (wr *Writer) SetMaxBytes(n int64) {
	wr.maxBytes = n
}

// BytesWritten returns the number of data-section bytes written so far.
func (wr *Writer) BytesWritten() int64 {
	return wr.dataLen
}

// ErrMaxBytesReached is returned by WriteRaw when the configured
// SetMaxBytes budget would be exceeded by the next record.
var ErrMaxBytesReached = fmt.Errorf("perffile: max-bytes data limit reached")

// WriteAttr declares an event and its associated sample ids. It must be
// called for every event before the first call to WriteRaw, and every id
// used by a later sample or record must appear in ids exactly once across
// all WriteAttr calls (§3 id injectivity invariant).
func (wr *Writer) WriteAttr(attr EventAttr, ids []uint64) error {
	if wr.wroteAttrs {
		return fmt.Errorf("perffile: WriteAttr called after the first record")
	}
	wr.attrs = append(wr.attrs, attr)
	wr.attrIDs = append(wr.attrIDs, ids)
	return nil
}

// WriteRaw appends one already-encoded record (header type/misc plus
// payload, not including the 8-byte perf_event_header) to the data
// section. This is how records copied verbatim from a kernel ring buffer
// reach the file.
func (wr *Writer) WriteRaw(typ RecordType, misc uint16, payload []byte) error {
	if err := wr.ensureHeaderWritten(); err != nil {
		return err
	}
	total := int64(8 + len(payload))
	if wr.maxBytes > 0 && wr.dataLen+total > wr.maxBytes {
		return ErrMaxBytesReached
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(typ))
	binary.LittleEndian.PutUint16(hdr[4:6], misc)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(total))
	if _, err := wr.recordDest.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := wr.recordDest.Write(payload); err != nil {
		return err
	}
	wr.dataLen += total
	return nil
}

// WriteSample encodes rc via EncodeSample and appends it as a SAMPLE
// record, preserving rc's CPUMode/ExactIP misc bits.
func (wr *Writer) WriteSample(rc *RecordSample) error {
	payload, err := EncodeSample(rc)
	if err != nil {
		return err
	}
	misc := uint16(rc.CPUMode) & uint16(recordMiscCPUModeMask)
	if rc.ExactIP {
		misc |= recordMiscExactIP
	}
	return wr.WriteRaw(RecordTypeSample, misc, payload)
}

// EncodeSample serializes rc back into wire bytes using rc.EventAttr's
// SampleFormat to determine which optional fields are present, mirroring
// Records.parseSample in reverse. It's used to write back a sample after
// the unwinder/expander/dedup pass has replaced rc.Callchain.
func EncodeSample(rc *RecordSample) ([]byte, error) {
	if rc.EventAttr == nil {
		return nil, fmt.Errorf("perffile: sample has no EventAttr")
	}
	t := rc.Format
	enc := newBufEncoder(binary.LittleEndian)
	enc.u64If(t&SampleFormatIdentifier != 0, uint64(rc.ID))
	enc.u64If(t&SampleFormatIP != 0, rc.IP)
	enc.i32If(t&SampleFormatTID != 0, int32(rc.PID))
	enc.i32If(t&SampleFormatTID != 0, int32(rc.TID))
	enc.u64If(t&SampleFormatTime != 0, rc.Time)
	enc.u64If(t&SampleFormatAddr != 0, rc.Addr)
	enc.u64If(t&SampleFormatID != 0, uint64(rc.ID))
	enc.u64If(t&SampleFormatStreamID != 0, rc.StreamID)
	enc.u32If(t&SampleFormatCPU != 0, rc.CPU)
	enc.u32If(t&SampleFormatCPU != 0, rc.Res)
	enc.u64If(t&SampleFormatPeriod != 0, rc.Period)

	if t&SampleFormatRead != 0 {
		encodeReadFormat(enc, rc.EventAttr.ReadFormat, rc.SampleRead)
	}

	if t&SampleFormatCallchain != 0 {
		enc.u64(uint64(len(rc.Callchain)))
		enc.u64s(rc.Callchain)
	}

	enc.u32If(t&SampleFormatRaw != 0, 0) // raw payload dropped by the profiler core

	if t&SampleFormatBranchStack != 0 {
		enc.u64(uint64(len(rc.BranchStack)))
		for _, b := range rc.BranchStack {
			enc.u64(b.From)
			enc.u64(b.To)
			enc.u64(b.Flags)
		}
	}

	if t&SampleFormatRegsUser != 0 {
		enc.u64(uint64(rc.RegsABI))
		enc.u64s(rc.Regs)
	}

	if t&SampleFormatStackUser != 0 {
		enc.u64(uint64(len(rc.StackUser)))
		enc.bytes(rc.StackUser)
		enc.u64(rc.StackUserDynSize)
	}

	enc.u64If(t&SampleFormatWeight != 0, rc.Weight)
	enc.u64If(t&SampleFormatDataSrc != 0, encodeDataSrc(rc.DataSrc))
	enc.u64If(t&SampleFormatTransaction != 0, uint64(rc.Transaction)|uint64(rc.AbortCode)<<32)

	return enc.buf, nil
}

func encodeReadFormat(enc *bufEncoder, f ReadFormat, reads []SampleRead) {
	if f&ReadFormatGroup != 0 {
		enc.u64(uint64(len(reads)))
		for _, r := range reads {
			enc.u64If(f&ReadFormatTotalTimeEnabled != 0, r.TimeEnabled)
			enc.u64If(f&ReadFormatTotalTimeRunning != 0, r.TimeRunning)
			enc.u64(r.Value)
			if f&ReadFormatID != 0 && r.EventAttr != nil {
				enc.u64(eventAttrID(r.EventAttr))
			}
		}
		return
	}
	if len(reads) == 0 {
		return
	}
	r := reads[0]
	enc.u64(r.Value)
	enc.u64If(f&ReadFormatTotalTimeEnabled != 0, r.TimeEnabled)
	enc.u64If(f&ReadFormatTotalTimeRunning != 0, r.TimeRunning)
	if f&ReadFormatID != 0 && r.EventAttr != nil {
		enc.u64(eventAttrID(r.EventAttr))
	}
}

// eventAttrID is a placeholder: the writer doesn't retain a reverse
// EventAttr->id map across a raw-passthrough session, so re-encoded
// SampleRead entries carry id 0. Samples produced by this profiler never
// request grouped reads, so this path is exercised only by
// hand-constructed test records.
func eventAttrID(a *EventAttr) uint64 { return 0 }

func encodeDataSrc(d DataSrc) uint64 {
	var out uint64
	if d.Op == DataSrcOpNA {
		out |= 1 << 0
	} else {
		out |= uint64(d.Op) << 1
	}
	if d.Level == DataSrcLevelNA {
		out |= 1 << 5
	} else {
		lvl := uint64(d.Level) << 3
		if d.Miss {
			lvl |= 0x4
		}
		out |= lvl << 5
	}
	if d.Snoop == DataSrcSnoopNA {
		out |= 1 << 19
	} else {
		out |= uint64(d.Snoop) << 20
	}
	switch d.Locked {
	case DataSrcLockNA:
		out |= 1 << 24
	case DataSrcLockLocked:
		out |= 0x2 << 24
	}
	if d.TLB == DataSrcTLBNA {
		out |= 1 << 26
	} else {
		out |= uint64(d.TLB) << 27
	}
	return out
}

// SetFeatureString sets a string-valued feature section (HOSTNAME,
// OSRELEASE, VERSION, ARCH, CPUDESC, CPUID).
func (wr *Writer) SetFeatureString(name string, value string) error {
	f, ok := stringFeatureByName(name)
	if !ok {
		return fmt.Errorf("perffile: unknown string feature %q", name)
	}
	enc := newBufEncoder(binary.LittleEndian)
	enc.u32(uint32(len(value) + 1))
	enc.cstring(value)
	wr.features[f] = enc.buf
	return nil
}

// SetFeatureCmdline sets the CMDLINE feature section.
func (wr *Writer) SetFeatureCmdline(argv []string) {
	enc := newBufEncoder(binary.LittleEndian)
	enc.stringList(argv)
	wr.features[featureCmdline] = enc.buf
}

// SetFeatureNrCPUs sets the NRCPUS feature section.
func (wr *Writer) SetFeatureNrCPUs(online, avail int) {
	enc := newBufEncoder(binary.LittleEndian)
	enc.u32(uint32(online))
	enc.u32(uint32(avail))
	wr.features[featureNrCpus] = enc.buf
}

// SetFeatureTotalMem sets the TOTAL_MEM feature section, in bytes.
func (wr *Writer) SetFeatureTotalMem(bytes int64) {
	enc := newBufEncoder(binary.LittleEndian)
	enc.u64(uint64(bytes) / 1024)
	wr.features[featureTotalMem] = enc.buf
}

// SetFeatureRecordTime sets the HIPERF_RECORD_TIME feature.
func (wr *Writer) SetFeatureRecordTime(rt RecordTime) {
	enc := newBufEncoder(binary.LittleEndian)
	enc.u64(uint64(rt.StartSec))
	enc.u64(uint64(rt.StartNSec))
	enc.u64(uint64(rt.EndSec))
	enc.u64(uint64(rt.EndNSec))
	wr.features[featureHiperfRecordTime] = enc.buf
}

// SetFeatureCPUOff sets the HIPERF_CPU_OFF feature.
func (wr *Writer) SetFeatureCPUOff(enabled bool) {
	enc := newBufEncoder(binary.LittleEndian)
	if enabled {
		enc.u32(1)
	} else {
		enc.u32(0)
	}
	wr.features[featureHiperfCPUOff] = enc.buf
}

// SetFeatureWorkloadCmd sets the HIPERF_WORKLOAD_CMD feature.
func (wr *Writer) SetFeatureWorkloadCmd(argv []string) {
	enc := newBufEncoder(binary.LittleEndian)
	enc.stringList(argv)
	wr.features[featureHiperfWorkloadCmd] = enc.buf
}

// SetFeatureFilesSymbol sets the HIPERF_FILES_SYMBOL feature to files
// exactly as given. The writer has no symbolization pass of its own: it
// never calls this method and does not narrow files to the symbols that
// samples hit.
func (wr *Writer) SetFeatureFilesSymbol(files []FileSymbols) {
	enc := newBufEncoder(binary.LittleEndian)
	enc.u32(uint32(len(files)))
	for _, fs := range files {
		enc.lenString(fs.Path)
		enc.u64(fs.TextVAddr)
		enc.u32(uint32(len(fs.BuildID)))
		enc.bytes(fs.BuildID)
		enc.u32(uint32(len(fs.Symbols)))
		for _, s := range fs.Symbols {
			enc.u64(s.FuncVAddr)
			enc.u64(s.Size)
			enc.lenString(s.Name)
		}
	}
	wr.features[featureHiperfFilesSymbol] = enc.buf
}

// DedupIPs returns the UniStackTable id of ips, inserting it if new, when
// dedup is enabled; it is a no-op (ok=false) otherwise. ips itself is not
// modified.
func (wr *Writer) DedupIPs(ips []uint64) (id uint32, ok bool) {
	if !wr.dedupStack {
		return 0, false
	}
	return wr.uniStack.Insert(ips), true
}

func stringFeatureByName(name string) (feature, bool) {
	switch name {
	case "Hostname":
		return featureHostname, true
	case "OSRelease":
		return featureOSRelease, true
	case "Version":
		return featureVersion, true
	case "Arch":
		return featureArch, true
	case "CPUDesc":
		return featureCPUDesc, true
	case "CPUID":
		return featureCPUID, true
	}
	return 0, false
}

// ensureHeaderWritten writes the (placeholder) header, the attr table and
// the id table the first time a record is about to be written.
func (wr *Writer) ensureHeaderWritten() error {
	if wr.wroteAttrs {
		return nil
	}
	wr.wroteAttrs = true

	if len(wr.attrs) == 0 {
		return fmt.Errorf("perffile: no event types declared before the first record")
	}

	hdrSize := int64(binary.Size(&wr.hdr))
	if _, err := wr.w.Seek(hdrSize, io.SeekStart); err != nil {
		return err
	}

	attrSize := uint64(binary.Size(&eventAttrVN{}))
	attrsOffset := hdrSize
	idsOffset := attrsOffset + int64(len(wr.attrs))*int64(attrSize+16)

	idCursor := idsOffset
	idSections := make([]fileSection, len(wr.attrs))
	for i, ids := range wr.attrIDs {
		idSections[i] = fileSection{Offset: uint64(idCursor), Size: uint64(len(ids) * 8)}
		idCursor += int64(len(ids) * 8)
	}

	for i, attr := range wr.attrs {
		if err := writeFileAttr(wr.w, attr, idSections[i]); err != nil {
			return err
		}
	}
	for _, ids := range wr.attrIDs {
		enc := newBufEncoder(binary.LittleEndian)
		enc.u64s(ids)
		if _, err := wr.w.Write(enc.buf); err != nil {
			return err
		}
	}

	wr.dataStart = idCursor
	wr.hdr.Magic = [8]byte{'P', 'E', 'R', 'F', 'I', 'L', 'E', '2'}
	wr.hdr.Size = uint64(hdrSize)
	wr.hdr.AttrSize = attrSize
	wr.hdr.Attrs = fileSection{Offset: uint64(attrsOffset), Size: uint64(len(wr.attrs)) * (attrSize + 16)}

	wr.cw = &countingWriter{w: wr.w}
	if wr.compressed {
		wr.gz = gzip.NewWriter(wr.cw)
		wr.recordDest = wr.gz
	} else {
		wr.recordDest = wr.cw
	}
	return nil
}

func writeFileAttr(w io.Writer, attr EventAttr, ids fileSection) error {
	var a eventAttrVN

	// Prefer the explicit on-disk fields (as set by the reader, or by
	// a caller building an attr directly); fall back to deriving them
	// from Event for attrs constructed purely from an Event value
	// (e.g. by the acquisition setup path).
	typ, config := attr.Type, attr.Config
	bpType, bpAddr, bpLen := attr.BPType, attr.BPAddr, attr.BPLen
	if attr.Event != nil {
		g := attr.Event.Generic()
		typ = g.Type
		config[0] = g.ID
		if g.Type == EventTypeBreakpoint {
			bpType = uint32(g.ID)
			if len(g.Config) > 0 {
				bpAddr = g.Config[0]
			}
			if len(g.Config) > 1 {
				bpLen = g.Config[1]
			}
		} else {
			if len(g.Config) > 0 {
				config[1] = g.Config[0]
			}
			if len(g.Config) > 1 {
				config[2] = g.Config[1]
			}
		}
	}

	a.Type = typ
	if typ == EventTypeBreakpoint {
		a.Config = uint64(bpType)
		a.BPAddrOrConfig1 = bpAddr
		a.BPLenOrConfig2 = bpLen
	} else {
		a.Config = config[0]
		a.BPAddrOrConfig1 = config[1]
		a.BPLenOrConfig2 = config[2]
	}
	a.BPType = bpType
	if attr.SampleFreq != 0 {
		a.SamplePeriodOrFreq = attr.SampleFreq
		attr.Flags |= EventFlagFreq
	} else {
		a.SamplePeriodOrFreq = attr.SamplePeriod
	}
	a.SampleFormat = attr.SampleFormat
	a.ReadFormat = attr.ReadFormat
	a.Flags = attr.Flags | EventFlags(attr.Precise)<<eventFlagPreciseShift
	if attr.WakeupWatermark != 0 {
		a.WakeupEventsOrWatermark = attr.WakeupWatermark
		a.Flags |= EventFlagWakeupWatermark
	} else {
		a.WakeupEventsOrWatermark = attr.WakeupEvents
	}
	a.BranchSampleType = attr.BranchSampleType
	a.SampleRegsUser = attr.SampleRegsUser
	a.SampleStackUser = attr.SampleStackUser
	a.SampleRegsIntr = attr.SampleRegsIntr
	a.AuxWatermark = attr.AuxWatermark
	a.SampleMaxStack = attr.SampleMaxStack
	a.Size = uint32(binary.Size(&a))

	if err := binary.Write(w, binary.LittleEndian, &a); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, &ids)
}

// Close finalizes the file: it flushes any in-flight compression,
// patches the Data section's extent, writes the feature-section table
// and its content (including the HIPERF_FILES_UNISTACK_TABLE dedup
// table, if SetDedupStack was used), and rewrites the file header now
// that every offset is known. Close must be called exactly once, after
// the last WriteRaw/WriteSample.
func (wr *Writer) Close() error {
	if err := wr.ensureHeaderWritten(); err != nil {
		return err
	}
	if wr.gz != nil {
		if err := wr.gz.Close(); err != nil {
			return err
		}
	}
	wr.hdr.Data = fileSection{Offset: uint64(wr.dataStart), Size: uint64(wr.cw.n)}

	if wr.dedupStack && wr.uniStack != nil && wr.uniStack.Len() > 0 {
		wr.features[featureHiperfFilesUnistackTable] = wr.uniStack.encode(binary.LittleEndian)
	}

	bits := make([]feature, 0, len(wr.features))
	for f := range wr.features {
		bits = append(bits, f)
	}
	sort.Slice(bits, func(i, j int) bool { return bits[i] < bits[j] })

	tableOffset, err := wr.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	tableSize := int64(len(bits)) * int64(binary.Size(fileSection{}))
	cursor := tableOffset + tableSize

	sections := make([]fileSection, len(bits))
	for i, f := range bits {
		data := wr.features[f]
		sections[i] = fileSection{Offset: uint64(cursor), Size: uint64(len(data))}
		cursor += int64(len(data))
		wr.hdr.Features[f/64] |= 1 << (uint(f) % 64)
	}

	for _, sec := range sections {
		if err := binary.Write(wr.w, binary.LittleEndian, &sec); err != nil {
			return err
		}
	}
	for _, f := range bits {
		if _, err := wr.w.Write(wr.features[f]); err != nil {
			return err
		}
	}

	if _, err := wr.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(wr.w, binary.LittleEndian, &wr.hdr)
}
