// Utility functions for the LeakDumper CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/leakdumper"
)

var extendedDurationPattern = regexp.MustCompile(`^(\d+)(d|w)$`)

// parseExtendedDuration parses duration strings with extended units (d, w).
// Supports all Go standard units (ns, us, ms, s, m, h) plus:
// - d: days (24 hours)
// - w: weeks (7 days)
//
// Examples: "30d", "2w", "7d", "24h", "5m", "30s"
func parseExtendedDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := extendedDurationPattern.FindStringSubmatch(s)
	if len(matches) != 3 {
		_, err := time.ParseDuration(s)
		return 0, err
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	switch matches[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	}
}

// printConfig writes the configuration as aligned key/value lines
func (m *Manager) printConfig(c *leakdumper.Config) {
	fmt.Fprintf(m.out, "initial grace:   %dms\n", c.InitialGrace.Milliseconds())
	fmt.Fprintf(m.out, "min life:        %dms\n", c.MinLife.Milliseconds())
	fmt.Fprintf(m.out, "detect files:    %v\n", c.DetectFiles)
	fmt.Fprintf(m.out, "detect filters:  %v\n", c.DetectFilters)
	fmt.Fprintf(m.out, "dump stream:     %s\n", c.DumpStream)
	if c.Audit.Enabled {
		output := c.Audit.OutputFile
		if output == "" {
			output = leakdumper.UnifiedAuditPath()
		}
		fmt.Fprintf(m.out, "audit:           %s (min level %s)\n", output, c.Audit.MinLevel)
	} else {
		fmt.Fprintf(m.out, "audit:           disabled\n")
	}
}

// printEvent writes one audit event; leak reports are indented below it
func (m *Manager) printEvent(e leakdumper.AuditEvent) {
	fmt.Fprintf(m.out, "%s %-8s %-15s pid=%d", e.Timestamp.Local().Format("2006-01-02 15:04:05.000"),
		e.Level, e.Event, e.ProcessID)
	if e.StreamID != 0 {
		fmt.Fprintf(m.out, " id=%d path=%s", e.StreamID, e.Path)
	}
	if !leakdumper.VerifyChecksum(e) {
		fmt.Fprint(m.out, " [checksum mismatch]")
	}
	fmt.Fprintln(m.out)

	if e.Event == "leak_reported" && e.Detail != "" {
		for _, line := range strings.Split(strings.TrimSpace(e.Detail), "\n") {
			fmt.Fprintf(m.out, "    %s\n", line)
		}
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
