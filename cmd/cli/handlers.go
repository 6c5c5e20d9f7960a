// Command handlers for the LeakDumper CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/leakdumper"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// handleConfigShow prints the effective configuration
func (m *Manager) handleConfigShow(ctx *orpheus.Context) error {
	config, err := m.loadConfig(ctx.GetFlagString("file"))
	if err != nil {
		return err
	}

	switch format := ctx.GetFlagString("format"); format {
	case "yaml", "yml":
		data, err := config.ToYAML()
		if err != nil {
			return errors.Wrap(err, leakdumper.ErrCodeInvalidConfig, "failed to render configuration")
		}
		_, _ = m.out.Write(data)
	case "", "text":
		m.printConfig(config)
	default:
		return errors.New(leakdumper.ErrCodeInvalidConfig, fmt.Sprintf("unsupported format: %s", format))
	}
	return nil
}

// handleConfigBanner prints the banner line a process would print after startup
func (m *Manager) handleConfigBanner(ctx *orpheus.Context) error {
	config, err := m.loadConfig(ctx.GetFlagString("file"))
	if err != nil {
		return err
	}
	fmt.Fprintln(m.out, config.Banner())
	return nil
}

// handleHold opens a file through a fresh detector and keeps it open, so
// that a leak report is produced once the stream outlives min-life
func (m *Manager) handleHold(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return errors.New(leakdumper.ErrCodeInvalidConfig, "hold requires a file argument")
	}
	hold, err := parseExtendedDuration(ctx.GetFlagString("duration"))
	if err != nil {
		return errors.Wrap(err, leakdumper.ErrCodeInvalidConfig, "invalid duration")
	}

	config, err := m.loadConfig(ctx.GetFlagString("file"))
	if err != nil {
		return err
	}
	if m.diagnostics != nil {
		diag := m.diagnostics
		config.Output = func() io.Writer { return diag }
	}

	dumper, err := leakdumper.New(*config)
	if err != nil {
		return err
	}
	defer func() { _ = dumper.Close() }()

	// streams opened during the grace period are never tracked
	if wait := config.InitialGrace - dumper.Uptime(); wait > 0 {
		fmt.Fprintf(m.out, "Waiting %v for the initial grace period\n", wait.Round(time.Millisecond))
		time.Sleep(wait)
	}

	f, err := dumper.Open(path)
	if err != nil {
		return errors.Wrap(err, leakdumper.ErrCodeIOError, "failed to open file").WithContext("path", path)
	}

	var fr *leakdumper.FilterReader
	if ctx.GetFlagBool("filter") {
		fr = dumper.NewFilterReader(f)
	}

	if rec, ok := f.Tracker().Record(); ok {
		fmt.Fprintf(m.out, "Holding %s as stream %d for %v (min-life %v)\n", path, rec.ID, hold, config.MinLife)
	} else {
		fmt.Fprintf(m.out, "Holding %s untracked for %v\n", path, hold)
	}
	time.Sleep(hold)

	if ctx.GetFlagBool("close") {
		if fr != nil {
			_ = fr.Close()
		}
		if err := f.Close(); err != nil {
			return errors.Wrap(err, leakdumper.ErrCodeIOError, "failed to close file")
		}
	}

	stats := dumper.Stats()
	fmt.Fprintf(m.out, "Tracked: %d, reported: %d, cancelled: %d\n", stats.Started, stats.Reported, stats.Cancelled)
	return nil
}

// handleAuditQuery lists audit events matching the filters
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	query := leakdumper.AuditQuery{
		Event: ctx.GetFlagString("event"),
		Path:  ctx.GetFlagString("path"),
		Limit: ctx.GetFlagInt("limit"),
	}
	if since := ctx.GetFlagString("since"); since != "" {
		d, err := parseExtendedDuration(since)
		if err != nil {
			return errors.Wrap(err, leakdumper.ErrCodeInvalidConfig, "invalid since")
		}
		query.Since = time.Now().Add(-d)
	}

	events, err := leakdumper.QueryAuditEvents(ctx.GetFlagString("db"), query)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(m.out, "No audit events found")
		return nil
	}

	for _, e := range events {
		m.printEvent(e)
	}
	fmt.Fprintf(m.out, "%d event(s)\n", len(events))
	return nil
}

// handleAuditCleanup removes old audit events
func (m *Manager) handleAuditCleanup(ctx *orpheus.Context) error {
	olderThan, err := parseExtendedDuration(ctx.GetFlagString("older-than"))
	if err != nil {
		return errors.Wrap(err, leakdumper.ErrCodeInvalidConfig, "invalid older-than")
	}
	dryRun := ctx.GetFlagBool("dry-run")

	n, err := leakdumper.CleanupAuditEvents(ctx.GetFlagString("db"), olderThan, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(m.out, "Would delete %d event(s) older than %v\n", n, olderThan)
	} else {
		fmt.Fprintf(m.out, "Deleted %d event(s) older than %v\n", n, olderThan)
	}
	return nil
}

// handleAuditStats summarizes an audit store
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	stats, err := leakdumper.AuditStatsFor(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Total events: %d\n", stats.TotalEvents)
	for _, level := range sortedKeys(stats.EventsByLevel) {
		fmt.Fprintf(m.out, "  level %-8s %d\n", level, stats.EventsByLevel[level])
	}
	for _, event := range sortedKeys(stats.EventsByType) {
		fmt.Fprintf(m.out, "  event %-15s %d\n", event, stats.EventsByType[event])
	}
	if stats.OldestEvent != nil && stats.NewestEvent != nil {
		fmt.Fprintf(m.out, "Range: %s .. %s\n",
			stats.OldestEvent.Format(time.RFC3339), stats.NewestEvent.Format(time.RFC3339))
	}
	fmt.Fprintf(m.out, "Size: %s (schema v%d)\n", formatBytes(stats.SizeBytes), stats.SchemaVersion)
	return nil
}

// handleInfo displays process information
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	fmt.Fprintf(m.out, "LeakDumper %s\n", Version)
	fmt.Fprintf(m.out, "PID: %d\n", os.Getpid())
	fmt.Fprintf(m.out, "Process start: %s\n", leakdumper.ProcessStartTime().Format(time.RFC3339))

	if fds, err := leakdumper.OpenFDs(); err == nil {
		fmt.Fprintf(m.out, "Open descriptors: %d\n", fds)
	} else {
		fmt.Fprintf(m.out, "Open descriptors: unavailable (%v)\n", err)
	}
	fmt.Fprintf(m.out, "Unified audit database: %s\n", leakdumper.UnifiedAuditPath())

	if ctx.GetFlagBool("verbose") {
		config, err := m.loadConfig("")
		if err != nil {
			return err
		}
		fmt.Fprintln(m.out)
		m.printConfig(config)
	}
	return nil
}
