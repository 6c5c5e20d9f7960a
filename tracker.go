// tracker.go: Per-stream allocation tracking and leak watchdog
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Resource identities for streams that have no filesystem path
const (
	PathDescriptor = "<FD>"
	PathFilter     = "--filter--"
)

// TrackerState is the lifecycle position of a Tracker
type TrackerState int32

const (
	// TrackerUnstarted: Start was not called yet, or was suppressed
	TrackerUnstarted TrackerState = iota
	// TrackerActive: a watchdog is scheduled
	TrackerActive
	// TrackerCancelled: the stream closed or a leak was reported
	TrackerCancelled
)

func (s TrackerState) String() string {
	switch s {
	case TrackerUnstarted:
		return "UNSTARTED"
	case TrackerActive:
		return "ACTIVE"
	case TrackerCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// AllocationRecord describes where and when a tracked stream was created
type AllocationRecord struct {
	ID      int64     // Unique within the process, increasing
	Created time.Time // Wall clock at Start
	Path    string    // Filesystem path, PathDescriptor or PathFilter
	stack   stackTrace
}

// CreatedMillis returns the creation time in Unix milliseconds, as printed in reports
func (r *AllocationRecord) CreatedMillis() int64 {
	return r.Created.UnixMilli()
}

// Frames renders the captured construction stack, one line per frame
func (r *AllocationRecord) Frames() []string {
	return r.stack.frames()
}

// Report renders the leak report for this record:
//
//	(blank line)
//	id: <id> created: <created_ms>
//	<path>
//	  <frame 3>
//	  <frame 4>
func (r *AllocationRecord) Report() string {
	var b strings.Builder
	b.WriteString("\nid: ")
	b.WriteString(strconv.FormatInt(r.ID, 10))
	b.WriteString(" created: ")
	b.WriteString(strconv.FormatInt(r.CreatedMillis(), 10))
	b.WriteByte('\n')
	b.WriteString(r.Path)
	b.WriteByte('\n')

	frames := r.Frames()
	if len(frames) > skippedFrames {
		for _, frame := range frames[skippedFrames:] {
			b.WriteString("  ")
			b.WriteString(frame)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Tracker owns the allocation record and the watchdog of one stream.
// The zero value is not usable; obtain one from Dumper.NewTracker.
type Tracker struct {
	dumper *Dumper

	started atomic.Bool  // Start was called
	state   atomic.Int32 // TrackerState

	// mu guards the schedule: timer and next
	mu     sync.Mutex
	timer  *time.Timer
	next   time.Time
	record AllocationRecord
}

// NewTracker returns an unstarted tracker bound to this dumper
func (d *Dumper) NewTracker() *Tracker {
	return &Tracker{dumper: d}
}

// State returns the current lifecycle state
func (t *Tracker) State() TrackerState {
	return TrackerState(t.state.Load())
}

// Record returns the allocation record. ok is false until the tracker has been started.
func (t *Tracker) Record() (AllocationRecord, bool) {
	if t.State() == TrackerUnstarted {
		return AllocationRecord{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record, true
}

// Start begins tracking the stream identified by path. It must be called on
// the goroutine that created the stream, at most once; later calls are ignored.
// Within the initial grace period the tracker stays unstarted for good.
func (t *Tracker) Start(path string) {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	d := t.dumper
	if d.Uptime() < d.config.InitialGrace {
		d.stats.suppressed.Add(1)
		return
	}

	stack, ok := captureStack()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.record = AllocationRecord{
		ID:      streamIDs.Add(1),
		Created: d.now(),
		Path:    path,
		stack:   stack,
	}
	t.state.Store(int32(TrackerActive))
	d.stats.started.Add(1)
	d.stats.active.Add(1)

	// first tick right away, then at a fixed rate
	t.next = time.Now()
	t.timer = time.AfterFunc(0, t.tick)

	d.audit.LogStream(AuditInfo, "stream_tracked", &t.record, "")
}

// Cancel stops the watchdog. It is a no-op unless the tracker is active,
// and safe to call concurrently with a watchdog tick.
func (t *Tracker) Cancel() {
	if t.finish() {
		t.dumper.stats.cancelled.Add(1)
		t.dumper.audit.LogStream(AuditInfo, "stream_closed", &t.record, "")
	}
}

// finish moves an active tracker to cancelled and reports whether it did
func (t *Tracker) finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.CompareAndSwap(int32(TrackerActive), int32(TrackerCancelled)) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.dumper.stats.active.Add(-1)
	return true
}

// tick is the watchdog body. A tick already running when Cancel is called
// may still complete its report.
func (t *Tracker) tick() {
	if t.State() != TrackerActive {
		return
	}
	d := t.dumper

	t.mu.Lock()
	record := t.record
	t.mu.Unlock()

	age := d.now().Sub(record.Created)
	if age < 0 || age <= d.config.MinLife {
		t.rearm()
		return
	}

	report := record.Report()
	d.emit(report)
	d.audit.LogStream(AuditWarn, "leak_reported", &record, report)
	// a concurrent Cancel that won the transition already counted this tracker
	if t.finish() {
		d.stats.reported.Add(1)
	}
}

// rearm schedules the next tick on the fixed-rate grid
func (t *Tracker) rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() != TrackerActive {
		return
	}
	now := time.Now()
	t.next = t.next.Add(t.dumper.period)
	if t.next.Before(now) {
		// a tick ran late; skip the missed slots instead of bursting
		t.next = now.Add(t.dumper.period)
	}
	t.timer.Reset(time.Until(t.next))
}
