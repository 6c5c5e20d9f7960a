// filter_test.go: Tracked filter stream tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// markingReader is a minimal Marker over a string
type markingReader struct {
	data   string
	pos    int
	marked int
}

func (m *markingReader) Read(p []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

func (m *markingReader) Mark(int)            { m.marked = m.pos }
func (m *markingReader) Reset() error        { m.pos = m.marked; return nil }
func (m *markingReader) MarkSupported() bool { return true }

// closeRecorder counts Close calls and returns a fixed error
type closeRecorder struct {
	io.Reader
	closes int
	err    error
}

func (c *closeRecorder) Close() error {
	c.closes++
	return c.err
}

func TestFilterReader_TrackedAsFilter(t *testing.T) {
	d, out := newTestDumper(t, 40*time.Millisecond, nil)

	fr := d.NewFilterReader(strings.NewReader("payload"))
	defer fr.Close()

	rec, ok := fr.Tracker().Record()
	if !ok || rec.Path != PathFilter {
		t.Fatalf("Record = %+v, %v; want path %s", rec, ok, PathFilter)
	}
	if !waitFor(t, 2*time.Second, func() bool { return d.Stats().Reported == 1 }) {
		t.Fatal("Filter leak not reported")
	}
	if !strings.Contains(out.String(), "\n--filter--\n") {
		t.Errorf("Report should identify a filter stream:\n%s", out.String())
	}
}

func TestFilterReader_DetectFiltersDisabled(t *testing.T) {
	d, _ := newTestDumper(t, 10*time.Millisecond, func(c *Config) {
		c.DetectFilters = false
	})

	fr := d.NewFilterReader(strings.NewReader("payload"))
	defer fr.Close()
	if fr.Tracker().State() != TrackerUnstarted {
		t.Errorf("State = %s, want UNSTARTED", fr.Tracker().State())
	}
}

func TestFilterReader_WrappingTrackedFileHasTwoTrackers(t *testing.T) {
	d, out := newTestDumper(t, 40*time.Millisecond, nil)
	path := createTempFile(t, "nested")

	f, err := d.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	fr := d.NewFilterReader(f)
	defer fr.Close()

	if f.Tracker() == fr.Tracker() {
		t.Fatal("Filter and file must have independent trackers")
	}
	if !waitFor(t, 2*time.Second, func() bool { return d.Stats().Reported == 2 }) {
		t.Fatalf("Both layers should report, output:\n%s", out.String())
	}
	report := out.String()
	if !strings.Contains(report, "\n"+path+"\n") || !strings.Contains(report, "\n--filter--\n") {
		t.Errorf("Expected one report per layer:\n%s", report)
	}
}

func TestFilterReader_CloseClosesInner(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)

	f, err := d.Open(createTempFile(t, "nested"))
	if err != nil {
		t.Fatal(err)
	}
	fr := d.NewFilterReader(f)

	if err := fr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if fr.Tracker().State() != TrackerCancelled || f.Tracker().State() != TrackerCancelled {
		t.Errorf("Both trackers should be cancelled: filter=%s file=%s",
			fr.Tracker().State(), f.Tracker().State())
	}
	if f.Channel().IsOpen() {
		t.Error("Inner file should be closed")
	}
}

func TestFilterReader_CloseErrorsPassThrough(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)
	boom := errors.New("inner close failed")

	inner := &closeRecorder{Reader: strings.NewReader("x"), err: boom}
	fr := d.NewFilterReader(inner)
	if err := fr.Close(); err != boom {
		t.Errorf("Close() = %v, want the inner error unchanged", err)
	}
	if inner.closes != 1 {
		t.Errorf("Inner closed %d times", inner.closes)
	}
	if fr.Tracker().State() != TrackerCancelled {
		t.Error("Tracker must be cancelled even when the inner close fails")
	}

	plain := d.NewFilterReader(strings.NewReader("x"))
	if err := plain.Close(); err != nil {
		t.Errorf("Closing a filter over a non-closer should succeed, got %v", err)
	}
}

func TestFilterReader_MarkReset(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)

	unsupported := d.NewFilterReader(strings.NewReader("abc"))
	defer unsupported.Close()
	if unsupported.MarkSupported() {
		t.Error("strings.Reader does not support mark")
	}
	unsupported.Mark(10) // no-op
	assertErrorCode(t, unsupported.Reset(), ErrCodeMarkNotSupported)

	fr := d.NewFilterReader(&markingReader{data: "abcdef"})
	defer fr.Close()
	if !fr.MarkSupported() {
		t.Fatal("MarkSupported should reflect the inner reader")
	}

	b := make([]byte, 2)
	_, _ = fr.Read(b)
	fr.Mark(16)
	_, _ = fr.Read(b)
	if string(b) != "cd" {
		t.Fatalf("Read %q", b)
	}
	if err := fr.Reset(); err != nil {
		t.Fatal(err)
	}
	_, _ = fr.Read(b)
	if string(b) != "cd" {
		t.Errorf("Read after Reset = %q, want cd", b)
	}
}

func TestFilterReader_SkipAndAvailable(t *testing.T) {
	d, _ := newTestDumper(t, time.Hour, nil)

	fr := d.NewFilterReader(strings.NewReader("0123456789"))
	defer fr.Close()
	if n, err := fr.Skip(3); n != 3 || err != nil {
		t.Errorf("Skip(3) = %d, %v", n, err)
	}
	if n, err := fr.Skip(100); n != 7 || err != nil {
		t.Errorf("Skip past end = %d, %v; want 7, nil", n, err)
	}
	if n, _ := fr.Available(); n != 0 {
		t.Errorf("Available() of an unknown reader = %d, want 0", n)
	}

	br := bufio.NewReader(strings.NewReader("buffered"))
	if _, err := br.Peek(3); err != nil {
		t.Fatal(err)
	}
	buffered := d.NewFilterReader(br)
	defer buffered.Close()
	if n, _ := buffered.Available(); n != int64(br.Buffered()) {
		t.Errorf("Available() = %d, want %d", n, br.Buffered())
	}

	f, err := d.Open(createTempFile(t, "12345"))
	if err != nil {
		t.Fatal(err)
	}
	overFile := d.NewFilterReader(f)
	defer overFile.Close()
	if n, _ := overFile.Available(); n != 5 {
		t.Errorf("Available() over a file = %d, want 5", n)
	}
	if n, err := overFile.Skip(2); n != 2 || err != nil {
		t.Errorf("Skip over a file = %d, %v", n, err)
	}
	rest, _ := io.ReadAll(overFile)
	if string(rest) != "345" {
		t.Errorf("Remaining = %q", rest)
	}
}
