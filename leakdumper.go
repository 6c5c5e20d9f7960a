// leakdumper: Stream leak detector for long-running Go processes
//
// Philosophy:
// - Observational only: tracking never changes the I/O or error behavior of a stream
// - One watchdog per open tracked stream, reporting at most once
// - Diagnostic output resolved on every write, never cached
// - Configuration read once per process, from the environment
//
// Example Usage:
//
//	f, err := leakdumper.Open("/var/data/input.bin")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

const (
	// WatchdogPeriod is the interval between two checks of an open stream
	WatchdogPeriod = 2 * time.Second

	// BannerDelay is how long after initialization the settings banner is printed
	BannerDelay = time.Second
)

// Stats is a point-in-time view of the detector counters
type Stats struct {
	Started    int64 // Trackers that became active
	Suppressed int64 // Starts skipped because of the initial grace period
	Active     int64 // Trackers with a scheduled watchdog
	Cancelled  int64 // Trackers cancelled by a stream close
	Reported   int64 // Leak reports written
}

type counters struct {
	started    atomic.Int64
	suppressed atomic.Int64
	active     atomic.Int64
	cancelled  atomic.Int64
	reported   atomic.Int64
}

// streamIDs numbers allocation records. It is shared by every Dumper so ids
// stay unique within the process.
var streamIDs atomic.Int64

// Dumper holds the immutable configuration and the shared state of all trackers:
// the counters, the diagnostic output and the optional audit trail.
type Dumper struct {
	config Config
	stats  counters

	// outMu makes every banner or report a single uninterrupted write
	outMu sync.Mutex

	audit *AuditLogger

	startedAt   time.Time
	now         func() time.Time
	period      time.Duration
	bannerTimer *time.Timer
	closed      atomic.Bool
}

// New creates a leak detector with the given configuration and schedules its banner
func New(config Config) (*Dumper, error) {
	return newDumper(config, WatchdogPeriod, BannerDelay)
}

func newDumper(config Config, period, bannerDelay time.Duration) (*Dumper, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	auditLogger, err := NewAuditLogger(config.Audit)
	if err != nil {
		// Fallback to disabled audit if setup fails
		auditLogger, _ = NewAuditLogger(AuditConfig{Enabled: false})
	}

	d := &Dumper{
		config:    config,
		audit:     auditLogger,
		startedAt: ProcessStartTime(),
		now:       timecache.CachedTime,
		period:    period,
	}
	d.audit.LogConfig(d.config.Banner())

	d.bannerTimer = time.AfterFunc(bannerDelay, d.printBanner)
	return d, nil
}

// printBanner runs once; the timer is never reset
func (d *Dumper) printBanner() {
	d.emit(d.config.Banner() + "\n")
}

// Config returns a copy of the configuration in effect
func (d *Dumper) Config() Config {
	return d.config
}

// Uptime returns how long the process has been running
func (d *Dumper) Uptime() time.Duration {
	return d.now().Sub(d.startedAt)
}

// Stats returns the current counters
func (d *Dumper) Stats() Stats {
	return Stats{
		Started:    d.stats.started.Load(),
		Suppressed: d.stats.suppressed.Load(),
		Active:     d.stats.active.Load(),
		Cancelled:  d.stats.cancelled.Load(),
		Reported:   d.stats.reported.Load(),
	}
}

// Close stops a banner that has not been printed yet and flushes the audit
// trail. Trackers keep working; Close is meant for orderly shutdown.
func (d *Dumper) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.bannerTimer.Stop()
	return d.audit.Close()
}

// emit writes s to the diagnostic output resolved right now.
// Failures, including a panicking writer, are dropped.
func (d *Dumper) emit(s string) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	defer func() {
		_ = recover()
	}()

	w := d.config.output()
	if w == nil {
		return
	}
	_, _ = io.WriteString(w, s)
}

// Process-wide detector, built from the environment on first use
var (
	defaultOnce   sync.Once
	defaultDumper *Dumper
	defaultErr    error
)

// Init builds the process-wide detector from the environment. It is safe to
// call more than once; every call returns the outcome of the first.
func Init() error {
	defaultOnce.Do(func() {
		config, err := LoadConfigFromEnv()
		if err != nil {
			defaultErr = err
			return
		}
		defaultDumper, defaultErr = New(*config)
	})
	return defaultErr
}

// Default returns the process-wide detector. It panics when the environment
// holds an invalid configuration: the process must not start half-configured.
func Default() *Dumper {
	if err := Init(); err != nil {
		panic(err)
	}
	return defaultDumper
}
