// tracker_test.go: Tracker lifecycle, watchdog and leak report tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var reportHeader = regexp.MustCompile(`(?m)^id: (\d+) created: (\d+)$`)

// reportedIDs extracts the ids of all leak reports in out, in output order
func reportedIDs(t *testing.T, out string) []int64 {
	t.Helper()
	var ids []int64
	for _, m := range reportHeader.FindAllStringSubmatch(out, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			t.Fatalf("Bad id in report: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// Test Suite: lifecycle scenarios, at millisecond scale

func TestTracker_HappyClose(t *testing.T) {
	d, out := newTestDumper(t, 200*time.Millisecond, nil)

	f, err := d.Open(createTempFile(t, "data"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Tracker().State() != TrackerActive {
		t.Fatalf("Tracker should be active after open, got %s", f.Tracker().State())
	}

	time.Sleep(50 * time.Millisecond)
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if strings.Contains(out.String(), "id:") {
		t.Errorf("No report expected for a stream closed in time, got:\n%s", out.String())
	}
	if f.Tracker().State() != TrackerCancelled {
		t.Errorf("Tracker state = %s, want CANCELLED", f.Tracker().State())
	}
	stats := d.Stats()
	if stats.Started != 1 || stats.Cancelled != 1 || stats.Active != 0 || stats.Reported != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTracker_DetectedLeak(t *testing.T) {
	d, out := newTestDumper(t, 60*time.Millisecond, nil)
	path := createTempFile(t, "data")

	f, err := d.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if !waitFor(t, 2*time.Second, func() bool { return d.Stats().Reported == 1 }) {
		t.Fatalf("Leak was not reported; output:\n%s", out.String())
	}
	// a few more periods must not produce a second report
	time.Sleep(5 * testPeriod)

	rec, _ := f.Tracker().Record()
	report := out.String()
	if want := "\nid: " + strconv.FormatInt(rec.ID, 10) + " created: "; !strings.HasPrefix(report, want) {
		t.Errorf("Report should start with a blank line and %q, got:\n%s", want[1:], report)
	}
	if !strings.Contains(report, "\n"+path+"\n") {
		t.Errorf("Report should name %s, got:\n%s", path, report)
	}
	if !strings.Contains(report, "TestTracker_DetectedLeak") {
		t.Errorf("Report should contain the opening test in its stack, got:\n%s", report)
	}
	if strings.Contains(report, "captureStack") || strings.Contains(report, "(*Tracker).Start") {
		t.Errorf("Tracker frames should be skipped, got:\n%s", report)
	}
	if n := len(reportedIDs(t, report)); n != 1 {
		t.Errorf("Expected exactly one report, got %d", n)
	}
	if f.Tracker().State() != TrackerCancelled {
		t.Errorf("Tracker should cancel itself after reporting, got %s", f.Tracker().State())
	}

	// closing after the report is still a clean close
	if err := f.Close(); err != nil {
		t.Errorf("Close after report failed: %v", err)
	}
	if d.Stats().Cancelled != 0 {
		t.Errorf("Close after report must not count as a cancel, got %d", d.Stats().Cancelled)
	}
}

func TestTracker_GraceSuppression(t *testing.T) {
	d, out := newTestDumper(t, 10*time.Millisecond, func(c *Config) {
		c.InitialGrace = time.Hour
	})

	f, err := d.Open(createTempFile(t, "data"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	time.Sleep(100 * time.Millisecond)
	if out.String() != "" {
		t.Errorf("No report expected during the grace period, got:\n%s", out.String())
	}
	if f.Tracker().State() != TrackerUnstarted {
		t.Errorf("Tracker state = %s, want UNSTARTED", f.Tracker().State())
	}
	if _, ok := f.Tracker().Record(); ok {
		t.Error("A suppressed tracker has no record")
	}
	if s := d.Stats(); s.Suppressed != 1 || s.Started != 0 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestTracker_GraceBoundary(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, func(c *Config) {
		c.InitialGrace = 5 * time.Second
	})
	clock := newFakeClock(d.startedAt.Add(5 * time.Second))
	d.now = clock.Now

	atGrace := d.NewTracker()
	atGrace.Start("/exactly/at/grace")
	defer atGrace.Cancel()
	if atGrace.State() != TrackerActive {
		t.Errorf("Uptime equal to grace must start tracking, got %s", atGrace.State())
	}

	clock.Set(d.startedAt.Add(5*time.Second - time.Millisecond))
	before := d.NewTracker()
	before.Start("/just/before/grace")
	if before.State() != TrackerUnstarted {
		t.Errorf("Uptime below grace must suppress tracking, got %s", before.State())
	}
}

func TestTracker_DetectFilesDisabled(t *testing.T) {
	d, out := newTestDumper(t, 10*time.Millisecond, func(c *Config) {
		c.DetectFiles = false
	})

	f, err := d.Open(createTempFile(t, "data"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	time.Sleep(100 * time.Millisecond)
	if out.String() != "" {
		t.Errorf("No report expected with file tracking off, got:\n%s", out.String())
	}
	if f.Tracker().State() != TrackerUnstarted {
		t.Errorf("Tracker state = %s, want UNSTARTED", f.Tracker().State())
	}
	if s := d.Stats(); s.Started != 0 || s.Suppressed != 0 {
		t.Errorf("A disabled tracker is neither started nor suppressed: %+v", s)
	}
}

func TestTracker_IDsStrictlyIncreasing(t *testing.T) {
	d, out := newTestDumper(t, 50*time.Millisecond, nil)
	path := createTempFile(t, "data")

	var files []*File
	for i := 0; i < 3; i++ {
		f, err := d.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		files = append(files, f)
		time.Sleep(10 * time.Millisecond)
	}
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	var prev int64
	var allocated []int64
	for i, f := range files {
		rec, ok := f.Tracker().Record()
		if !ok {
			t.Fatalf("Stream %d has no record", i)
		}
		if rec.ID <= prev {
			t.Errorf("Ids must increase in allocation order: %d after %d", rec.ID, prev)
		}
		prev = rec.ID
		allocated = append(allocated, rec.ID)
	}

	if !waitFor(t, 2*time.Second, func() bool { return d.Stats().Reported == 3 }) {
		t.Fatalf("Expected 3 reports, output:\n%s", out.String())
	}
	ids := reportedIDs(t, out.String())
	seen := make(map[int64]bool)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("Id %d reported twice", id)
		}
		seen[id] = true
	}
	for _, want := range allocated {
		if !seen[want] {
			t.Errorf("Id %d missing from reports %v", want, ids)
		}
	}
}

func TestTracker_ReportedOnFirstTickAfterCrossing(t *testing.T) {
	d, out := newTestDumper(t, 100*time.Millisecond, nil)
	start := time.Now()
	clock := newFakeClock(start)
	d.now = clock.Now

	tr := d.NewTracker()
	tr.Start("/crossing")
	defer tr.Cancel()

	// age equal to min-life is not yet a leak
	clock.Set(start.Add(100 * time.Millisecond))
	time.Sleep(5 * testPeriod)
	if d.Stats().Reported != 0 {
		t.Fatalf("Reported at age == min-life:\n%s", out.String())
	}

	clock.Set(start.Add(101 * time.Millisecond))
	if !waitFor(t, time.Second, func() bool { return d.Stats().Reported == 1 }) {
		t.Fatal("Leak not reported after crossing min-life")
	}
	want := "created: " + strconv.FormatInt(start.UnixMilli(), 10)
	if !strings.Contains(out.String(), want) {
		t.Errorf("Report should carry the creation time %q:\n%s", want, out.String())
	}
}

func TestTracker_ClockGoingBackwardsIsNotALeak(t *testing.T) {
	d, _ := newTestDumper(t, 0, nil)
	start := time.Now()
	clock := newFakeClock(start)
	d.now = clock.Now

	tr := d.NewTracker()
	clock.Set(start)
	tr.Start("/backwards")
	defer tr.Cancel()
	clock.Set(start.Add(-time.Minute))

	time.Sleep(5 * testPeriod)
	if d.Stats().Reported != 0 {
		t.Error("A negative age must never be reported")
	}
}

func TestTracker_CancelDuringTickIsCountedOnce(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)
	start := time.Now()

	var tr *Tracker
	var closing atomic.Bool
	// once armed, the clock read inside a tick lets Close win the transition
	d.now = func() time.Time {
		if closing.Load() {
			tr.Cancel()
			return start.Add(2 * time.Hour)
		}
		return start
	}

	tr = d.NewTracker()
	tr.Start("/racing")
	closing.Store(true)
	tr.tick()

	if s := d.Stats(); s.Cancelled != 1 || s.Reported != 0 || s.Active != 0 {
		t.Errorf("A tracker must be counted as cancelled or reported, not both: %+v", s)
	}
	if tr.State() != TrackerCancelled {
		t.Errorf("State = %s, want CANCELLED", tr.State())
	}
}

// Test Suite: tracker state machine

func TestTracker_StartOnlyOnce(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)

	tr := d.NewTracker()
	tr.Start("/first")
	tr.Start("/second")
	defer tr.Cancel()

	rec, ok := tr.Record()
	if !ok {
		t.Fatal("Started tracker has no record")
	}
	if rec.Path != "/first" || rec.ID <= 0 {
		t.Errorf("Second Start must be ignored, record = %+v", rec)
	}
	if d.Stats().Started != 1 {
		t.Errorf("Started = %d, want 1", d.Stats().Started)
	}
}

func TestTracker_CancelUnstartedIsNoop(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)

	tr := d.NewTracker()
	tr.Cancel()
	if tr.State() != TrackerUnstarted {
		t.Errorf("State = %s, want UNSTARTED", tr.State())
	}
	if d.Stats().Cancelled != 0 {
		t.Error("Cancelling an unstarted tracker must not count")
	}
}

func TestTracker_ConcurrentCancel(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)
	d.period = time.Millisecond

	tr := d.NewTracker()
	tr.Start("/concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Cancel()
		}()
	}
	wg.Wait()

	if tr.State() != TrackerCancelled {
		t.Errorf("State = %s, want CANCELLED", tr.State())
	}
	s := d.Stats()
	if s.Cancelled != 1 || s.Active != 0 {
		t.Errorf("Exactly one cancel transition expected: %+v", s)
	}
}

func TestTrackerState_String(t *testing.T) {
	tests := map[TrackerState]string{
		TrackerUnstarted: "UNSTARTED",
		TrackerActive:    "ACTIVE",
		TrackerCancelled: "CANCELLED",
		TrackerState(42): "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("TrackerState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

// Test Suite: report format

func TestAllocationRecord_Report(t *testing.T) {
	stack, ok := captureStack()
	if !ok {
		t.Fatal("captureStack failed")
	}
	rec := AllocationRecord{
		ID:      7,
		Created: time.UnixMilli(1700000000123),
		Path:    "/var/data/input.bin",
		stack:   stack,
	}

	lines := strings.Split(rec.Report(), "\n")
	if lines[0] != "" {
		t.Errorf("Report must start with a blank line, got %q", lines[0])
	}
	if lines[1] != "id: 7 created: 1700000000123" {
		t.Errorf("Header line = %q", lines[1])
	}
	if lines[2] != "/var/data/input.bin" {
		t.Errorf("Path line = %q", lines[2])
	}
	if lines[len(lines)-1] != "" {
		t.Error("Report must end with a newline")
	}

	frames := rec.Frames()
	body := lines[3 : len(lines)-1]
	if len(body) != len(frames)-skippedFrames {
		t.Fatalf("Expected %d frame lines, got %d", len(frames)-skippedFrames, len(body))
	}
	for i, line := range body {
		if line != "  "+frames[i+skippedFrames] {
			t.Errorf("Frame line %d = %q, want %q", i, line, "  "+frames[i+skippedFrames])
		}
	}
}

func TestAllocationRecord_ReportWithoutStack(t *testing.T) {
	rec := AllocationRecord{ID: 3, Created: time.UnixMilli(42), Path: PathDescriptor}
	want := "\nid: 3 created: 42\n<FD>\n"
	if got := rec.Report(); got != want {
		t.Errorf("Report() = %q, want %q", got, want)
	}

	short := AllocationRecord{ID: 4, Created: time.UnixMilli(42), Path: PathFilter, stack: stackTrace{0}}
	if got := short.Report(); got != "\nid: 4 created: 42\n--filter--\n" {
		t.Errorf("A stack shorter than the skipped frames prints no frames, got %q", got)
	}
}
