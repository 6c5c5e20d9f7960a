// Package leakdumper finds byte streams that a long-running process opens and
// never closes.
//
// Every stream opened through this package gets a tracker. The tracker records
// an allocation id, the creation time and the stack of the goroutine that opened
// the stream, then checks on it every two seconds. A stream that is still open
// after the configured minimum life is reported once on the diagnostic output:
//
//	id: 17 created: 1760873012345
//	/var/data/input.bin
//	  main.loadBatch(/src/app/batch.go:42)
//	  main.main(/src/app/main.go:18)
//
// Closing the stream cancels its tracker and no report is written. The
// detector only observes: reads, seeks and close return exactly what the
// underlying *os.File or io.Reader returns.
//
// # Instrumenting Code
//
// Open files through the package instead of the os package:
//
//	f, err := leakdumper.Open("/var/data/input.bin")
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
// Pre-existing descriptors are tracked with NewFile and reported as "<FD>".
// Any io.Reader can be wrapped with NewFilterReader; filter-wrapped streams are
// reported as "--filter--". A FilterReader around a tracked File has its own
// tracker, so forgetting to close the wrapper is reported once for each layer.
//
// Streams opened directly through the os package are not tracked.
//
// # Configuration
//
// The process-wide detector behind the package functions reads its settings
// from the environment once, on first use:
//
//	INITIAL_GRACE   milliseconds after process start during which nothing is tracked (2000)
//	MIN_LIFE        milliseconds a stream may stay open before it is reported (10000)
//	DETECT_FILES    "true" to track file-backed streams (true)
//	DETECT_FILTERS  "true" to track filter-wrapped streams (true)
//	DUMP_STREAM     "stdout" or "out" for standard output; anything else is stderr
//
// A malformed number makes Default panic: a half-configured detector is worse
// than none. About a second after initialization a one-line banner with the
// effective settings is printed:
//
//	LeakDumper [FILES,FILTERS]: 2000ms initial grace, 10000ms min-life
//
// Applications that want their own detector use New with a Config built by
// LoadConfigFromEnv, LoadConfigFile, LoadConfigMultiSource or LoadConfigFromArgs.
//
// # Audit Trail
//
// Optionally every tracker transition is recorded in a structured audit trail
// (LEAKDUMPER_AUDIT_ENABLED=true). Events go to a SQLite database shared by all
// processes on the host, or to a JSON lines file, and can be read back with
// QueryAuditEvents or the leakdumper command.
//
// # Command Line
//
// cmd/leakdumper shows the effective configuration, holds a file open to
// demonstrate a report, and queries the audit trail. cmd/leakdemo opens a batch
// of files and leaves some of them open.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package leakdumper
