// channel.go: Positional view over a tracked File
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"io"
	"os"
)

// Channel exposes position-based access to a File's descriptor.
// It does not own the descriptor: closing the File closes the Channel.
type Channel struct {
	owner *File
}

// Read reads from the current position, advancing it
func (c *Channel) Read(p []byte) (int, error) {
	return c.owner.file.Read(p)
}

// ReadAt reads at an absolute position without moving the current one
func (c *Channel) ReadAt(p []byte, off int64) (int, error) {
	return c.owner.file.ReadAt(p, off)
}

// Position returns the current read position
func (c *Channel) Position() (int64, error) {
	return c.owner.file.Seek(0, io.SeekCurrent)
}

// SetPosition moves the read position to an absolute offset
func (c *Channel) SetPosition(pos int64) error {
	if pos < 0 {
		return &os.PathError{Op: "seek", Path: c.owner.Name(), Err: os.ErrInvalid}
	}
	_, err := c.owner.file.Seek(pos, io.SeekStart)
	return err
}

// Size returns the current size of the file
func (c *Channel) Size() (int64, error) {
	info, err := c.owner.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// IsOpen reports whether the owning File is still open
func (c *Channel) IsOpen() bool {
	return !c.owner.isClosed()
}
