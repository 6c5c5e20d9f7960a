// file.go: Tracked file-backed input stream
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"io"
	"os"
	"runtime"
	"sync"
)

// File is a read stream over an *os.File whose open lifetime is watched.
// Apart from the tracker, every method behaves exactly like the os.File
// method it delegates to, errors included.
type File struct {
	file    *os.File
	path    string
	tracker *Tracker

	closeMu sync.Mutex
	closed  bool
	cleanup runtime.Cleanup

	channelOnce sync.Once
	channel     *Channel
}

// Open opens the named file for reading
func (d *Dumper) Open(name string) (*File, error) {
	return d.openFile(name, os.O_RDONLY, 0)
}

// OpenFile is the generalized open call, as os.OpenFile
func (d *Dumper) OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	return d.openFile(name, flag, perm)
}

func (d *Dumper) openFile(name string, flag int, perm os.FileMode) (*File, error) {
	f, err := os.OpenFile(name, flag, perm) // #nosec G304 -- caller chooses the path
	if err != nil {
		return nil, err
	}
	return d.newFile(f, name), nil
}

// WrapFile tracks an already open *os.File under its name
func (d *Dumper) WrapFile(f *os.File) *File {
	if f == nil {
		return nil
	}
	return d.newFile(f, f.Name())
}

// NewFile tracks a pre-existing descriptor. Reports identify it as "<FD>".
// It returns nil if fd is not a valid descriptor, as os.NewFile does.
func (d *Dumper) NewFile(fd uintptr, name string) *File {
	f := os.NewFile(fd, name)
	if f == nil {
		return nil
	}
	return d.newFile(f, PathDescriptor)
}

func (d *Dumper) newFile(f *os.File, path string) *File {
	tf := &File{
		file:    f,
		path:    path,
		tracker: d.NewTracker(),
	}
	if d.config.DetectFiles {
		tf.tracker.Start(path)
	}
	tf.cleanup = runtime.AddCleanup(tf, closeUnreachable, f)
	return tf
}

// closeUnreachable is the last-resort close of a File that was dropped
// without Close. The tracker is left running: its timer keeps it alive, so a
// dropped stream is still reported once it outlives the minimum life.
func closeUnreachable(f *os.File) {
	_ = f.Close()
}

// Read reads up to len(p) bytes
func (f *File) Read(p []byte) (int, error) {
	return f.file.Read(p)
}

// ReadAt reads len(p) bytes starting at off, without moving the read position
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

// Seek sets the read position
func (f *File) Seek(offset int64, whence int) (int64, error) {
	return f.file.Seek(offset, whence)
}

// WriteTo lets io.Copy use the descriptor directly
func (f *File) WriteTo(w io.Writer) (int64, error) {
	return f.file.WriteTo(w)
}

// Skip discards up to n bytes and returns how many were skipped.
// Seekable files move the position, possibly past the end; other
// descriptors (pipes, sockets) are drained.
func (f *File) Skip(n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	if _, err := f.file.Seek(n, io.SeekCurrent); err == nil {
		return n, nil
	}
	skipped, err := io.CopyN(io.Discard, f.file, n)
	if err == io.EOF {
		err = nil
	}
	return skipped, err
}

// Available estimates how many bytes can be read without blocking.
// For regular files it is the distance to the end; for anything else 0.
func (f *File) Available() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, nil
	}
	pos, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if remaining := info.Size() - pos; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Stat returns the file info of the underlying descriptor
func (f *File) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}

// Name returns the name the file was opened with
func (f *File) Name() string {
	return f.file.Name()
}

// Path returns the identity used in leak reports
func (f *File) Path() string {
	return f.path
}

// Fd returns the underlying descriptor
func (f *File) Fd() uintptr {
	return f.file.Fd()
}

// Tracker exposes the stream's tracker for inspection
func (f *File) Tracker() *Tracker {
	return f.tracker
}

// Channel returns the positional view of this file, created on first use.
// It shares the descriptor and read position with the File and is closed
// together with it.
func (f *File) Channel() *Channel {
	f.channelOnce.Do(func() {
		f.channel = &Channel{owner: f}
	})
	return f.channel
}

// Close cancels the tracker and closes the descriptor. The tracker is
// cancelled on every call, even when closing the descriptor fails; only
// the first call reaches the descriptor, later ones return nil.
func (f *File) Close() error {
	f.tracker.Cancel()

	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.cleanup.Stop()
	return f.file.Close()
}

func (f *File) isClosed() bool {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	return f.closed
}

// Package-level entry points backed by the process-wide detector

// Open opens the named file for reading through the default detector
func Open(name string) (*File, error) {
	return Default().openFile(name, os.O_RDONLY, 0)
}

// OpenFile opens a file through the default detector, as os.OpenFile
func OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	return Default().openFile(name, flag, perm)
}

// WrapFile tracks an open *os.File through the default detector
func WrapFile(f *os.File) *File {
	return Default().WrapFile(f)
}

// NewFile tracks a pre-existing descriptor through the default detector
func NewFile(fd uintptr, name string) *File {
	return Default().NewFile(fd, name)
}
