// filter.go: Tracked filter-wrapped input stream
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"io"

	"github.com/agilira/go-errors"
)

// Marker is implemented by readers that can remember a position and return to it
type Marker interface {
	Mark(readLimit int)
	Reset() error
	MarkSupported() bool
}

// Skipper is implemented by readers with a native way to discard input
type Skipper interface {
	Skip(n int64) (int64, error)
}

// availabler is implemented by File and FilterReader
type availabler interface {
	Available() (int64, error)
}

// buffered is implemented by bufio.Reader
type buffered interface {
	Buffered() int
}

// FilterReader wraps another reader and passes every call through to it,
// while its own open lifetime is watched. Closing it closes the inner reader
// when that reader is an io.Closer.
type FilterReader struct {
	in      io.Reader
	tracker *Tracker
}

// NewFilterReader wraps r. Reports identify the stream as "--filter--".
func (d *Dumper) NewFilterReader(r io.Reader) *FilterReader {
	fr := &FilterReader{
		in:      r,
		tracker: d.NewTracker(),
	}
	if d.config.DetectFilters {
		fr.tracker.Start(PathFilter)
	}
	return fr
}

// NewFilterReader wraps r through the default detector
func NewFilterReader(r io.Reader) *FilterReader {
	return Default().NewFilterReader(r)
}

// Read reads from the inner reader
func (fr *FilterReader) Read(p []byte) (int, error) {
	return fr.in.Read(p)
}

// Skip discards up to n bytes of the inner reader
func (fr *FilterReader) Skip(n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	if s, ok := fr.in.(Skipper); ok {
		return s.Skip(n)
	}
	skipped, err := io.CopyN(io.Discard, fr.in, n)
	if err == io.EOF {
		err = nil
	}
	return skipped, err
}

// Available reports how many bytes the inner reader can hand out without
// blocking, or 0 when it cannot tell
func (fr *FilterReader) Available() (int64, error) {
	switch in := fr.in.(type) {
	case availabler:
		return in.Available()
	case buffered:
		return int64(in.Buffered()), nil
	default:
		return 0, nil
	}
}

// MarkSupported reports whether the inner reader supports Mark and Reset
func (fr *FilterReader) MarkSupported() bool {
	m, ok := fr.in.(Marker)
	return ok && m.MarkSupported()
}

// Mark remembers the current position of the inner reader, if it can
func (fr *FilterReader) Mark(readLimit int) {
	if m, ok := fr.in.(Marker); ok {
		m.Mark(readLimit)
	}
}

// Reset returns the inner reader to its marked position
func (fr *FilterReader) Reset() error {
	if m, ok := fr.in.(Marker); ok {
		return m.Reset()
	}
	return errors.New(ErrCodeMarkNotSupported, "mark/reset not supported")
}

// Tracker exposes the stream's tracker for inspection
func (fr *FilterReader) Tracker() *Tracker {
	return fr.tracker
}

// Close cancels the tracker, then closes the inner reader if it is closable.
// Errors from the inner reader are returned unchanged.
func (fr *FilterReader) Close() error {
	fr.tracker.Cancel()
	if c, ok := fr.in.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
