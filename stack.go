// stack.go: Allocation stack capture and rendering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"runtime"
	"strconv"
	"strings"
)

const (
	// maxStackDepth bounds the program counters kept per tracked stream
	maxStackDepth = 64

	// skippedFrames are the tracker's own frames at capture time:
	// captureStack and (*Tracker).Start.
	skippedFrames = 2
)

// stackTrace holds raw program counters; symbolization is deferred to report time
type stackTrace []uintptr

// captureStack records the calling goroutine's stack, starting at captureStack
// itself. ok is false when the runtime could not produce a stack.
func captureStack() (st stackTrace, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			st, ok = nil, false
		}
	}()

	var pcs [maxStackDepth]uintptr
	// skip runtime.Callers only
	n := runtime.Callers(1, pcs[:])
	st = make(stackTrace, n)
	copy(st, pcs[:n])
	return st, true
}

// frames renders every frame as a single line: function(file:line)
func (st stackTrace) frames() []string {
	if len(st) == 0 {
		return nil
	}

	out := make([]string, 0, len(st))
	frames := runtime.CallersFrames(st)
	for {
		frame, more := frames.Next()
		if frame.PC != 0 || frame.Function != "" {
			out = append(out, formatFrame(frame))
		}
		if !more {
			break
		}
	}
	return out
}

func formatFrame(frame runtime.Frame) string {
	var b strings.Builder
	fn := frame.Function
	if fn == "" {
		fn = "unknown"
	}
	b.WriteString(fn)
	b.WriteByte('(')
	if frame.File != "" {
		b.WriteString(frame.File)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(frame.Line))
	} else {
		b.WriteString("unknown source")
	}
	b.WriteByte(')')
	return b.String()
}
