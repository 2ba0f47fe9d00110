// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

// Proprietary feature IDs beyond the base perf ABI (§4.5 HIPERF_*). These
// extend the feature bitmap the same way featureGroupDesc and its
// neighbors do; bit position only needs to be stable within one file, not
// across tools.
const (
	featureHiperfFilesSymbol feature = iota + 18
	featureHiperfRecordTime
	featureHiperfCPUOff
	featureHiperfFilesUnistackTable
	featureHiperfHMDevhost
	featureHiperfWorkloadCmd
)

// SymbolEntry is one entry of the HIPERF_FILES_SYMBOL feature section, as
// passed to Writer.SetFeatureFilesSymbol. The writer writes the entries it
// is given; it does not itself restrict them to symbols hit by samples.
type SymbolEntry struct {
	FuncVAddr uint64
	Size      uint64
	Name      string
}

// FileSymbols is the per-module symbol table written to
// HIPERF_FILES_SYMBOL.
type FileSymbols struct {
	Path      string
	BuildID   BuildID
	TextVAddr uint64
	Symbols   []SymbolEntry
}

// RecordTime is the HIPERF_RECORD_TIME feature: the wall-clock start/end
// of the acquisition session, used to convert sample clock values to
// calendar time without requiring TIME_CONV records.
type RecordTime struct {
	StartSec, StartNSec int64
	EndSec, EndNSec     int64
}

// CPUOff is the HIPERF_CPU_OFF feature: the off-cpu tracepoint
// configuration recorded when --offcpu was requested.
type CPUOff struct {
	Enabled bool
}

// HMDevhost is the HIPERF_HM_DEVHOST feature: per-service kernel-thread
// symbol spaces on an "HM" variant OS, indexed by service pid.
type HMDevhost struct {
	ServicePID int
	Name       string
}

// WorkloadCmd is the HIPERF_WORKLOAD_CMD feature: the command line of a
// workload process forked and exec'd by the acquisition session, as
// opposed to FileMeta.CmdLine which is the profiler's own invocation.
type WorkloadCmd struct {
	Argv []string
}

func init() {
	featureParsers[featureHiperfFilesSymbol] = (*FileMeta).parseFilesSymbol
	featureParsers[featureHiperfRecordTime] = (*FileMeta).parseRecordTime
	featureParsers[featureHiperfCPUOff] = (*FileMeta).parseCPUOff
	featureParsers[featureHiperfFilesUnistackTable] = (*FileMeta).parseUniStackTable
	featureParsers[featureHiperfHMDevhost] = (*FileMeta).parseHMDevhost
	featureParsers[featureHiperfWorkloadCmd] = (*FileMeta).parseWorkloadCmd
}

func (m *FileMeta) parseFilesSymbol(bd bufDecoder) error {
	count := bd.u32()
	m.FilesSymbol = make([]FileSymbols, 0, count)
	for i := uint32(0); i < count; i++ {
		fs := FileSymbols{
			Path:      bd.lenString(),
			TextVAddr: bd.u64(),
		}
		bidLen := bd.u32()
		bid := make([]byte, bidLen)
		bd.bytes(bid)
		fs.BuildID = BuildID(bid)

		nsyms := bd.u32()
		fs.Symbols = make([]SymbolEntry, nsyms)
		for j := range fs.Symbols {
			fs.Symbols[j] = SymbolEntry{
				FuncVAddr: bd.u64(),
				Size:      bd.u64(),
				Name:      bd.lenString(),
			}
		}
		m.FilesSymbol = append(m.FilesSymbol, fs)
	}
	return nil
}

func (m *FileMeta) parseRecordTime(bd bufDecoder) error {
	m.RecordTime = RecordTime{
		StartSec:  int64(bd.u64()),
		StartNSec: int64(bd.u64()),
		EndSec:    int64(bd.u64()),
		EndNSec:   int64(bd.u64()),
	}
	return nil
}

func (m *FileMeta) parseCPUOff(bd bufDecoder) error {
	m.CPUOff = CPUOff{Enabled: bd.u32() != 0}
	return nil
}

func (m *FileMeta) parseUniStackTable(bd bufDecoder) error {
	count := bd.u32()
	m.UniStackTable = make([]UniStackEntry, count)
	for i := range m.UniStackTable {
		m.UniStackTable[i].ID = bd.u32()
		n := bd.u32()
		m.UniStackTable[i].IPs = make([]uint64, n)
		bd.u64s(m.UniStackTable[i].IPs)
	}
	return nil
}

func (m *FileMeta) parseHMDevhost(bd bufDecoder) error {
	count := bd.u32()
	m.HMDevhosts = make([]HMDevhost, count)
	for i := range m.HMDevhosts {
		m.HMDevhosts[i].ServicePID = int(bd.i32())
		m.HMDevhosts[i].Name = bd.lenString()
	}
	return nil
}

func (m *FileMeta) parseWorkloadCmd(bd bufDecoder) error {
	m.WorkloadCmd = WorkloadCmd{Argv: bd.stringList()}
	return nil
}
