// process.go: Process start time and descriptor accounting
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"os"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/shirou/gopsutil/v3/process"
)

// loadTime bounds the process start from above
var loadTime = time.Now()

var (
	startOnce sync.Once
	startTime time.Time
)

// createTimeTolerance is the resolution of the OS creation time. On Linux it is
// derived from the boot time, which /proc/stat only gives in whole seconds.
const createTimeTolerance = time.Second

// ProcessStartTime returns when the current process was created. The OS value
// is only trusted up to createTimeTolerance, so the result is the latest start
// consistent with it and never later than the time this package was loaded.
// Uptime measured from it may be short by less than the tolerance, never long.
func ProcessStartTime() time.Time {
	startOnce.Do(func() {
		startTime = resolveStartTime(osCreateTime(), loadTime)
	})
	return startTime
}

// osCreateTime asks the OS when the current process was created. It returns
// the zero time when that is unavailable.
func osCreateTime() time.Time {
	p, err := process.NewProcess(int32(os.Getpid())) // #nosec G115 -- pids fit in int32
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func resolveStartTime(created, loaded time.Time) time.Time {
	if created.IsZero() {
		return loaded
	}
	if latest := created.Add(createTimeTolerance); latest.Before(loaded) {
		return latest
	}
	return loaded
}

// OpenFDs returns the number of descriptors the current process holds open
func OpenFDs() (int, error) {
	p, err := process.NewProcess(int32(os.Getpid())) // #nosec G115 -- pids fit in int32
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to inspect current process")
	}
	n, err := p.NumFDs()
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to count open descriptors")
	}
	return int(n), nil
}
