// config.go: Configuration model for the LeakDumper stream leak detector
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Error codes for LeakDumper operations
const (
	ErrCodeInvalidConfig      = "LEAKDUMPER_INVALID_CONFIG"
	ErrCodeInvalidDumpStream  = "LEAKDUMPER_INVALID_DUMP_STREAM"
	ErrCodeInvalidBanner      = "LEAKDUMPER_INVALID_BANNER"
	ErrCodeMarkNotSupported   = "LEAKDUMPER_MARK_NOT_SUPPORTED"
	ErrCodeInvalidAuditConfig = "LEAKDUMPER_INVALID_AUDIT_CONFIG"
	ErrCodeAuditError         = "LEAKDUMPER_AUDIT_ERROR"
	ErrCodeIOError            = "LEAKDUMPER_IO_ERROR"
)

// Defaults applied when neither the environment nor a config file says otherwise.
const (
	DefaultInitialGrace = 2000 * time.Millisecond
	DefaultMinLife      = 10000 * time.Millisecond
)

// DumpStream selects the diagnostic output. The selection is resolved to a
// concrete writer on every write, never cached.
type DumpStream int

const (
	// DumpStderr writes diagnostics to the process standard error (default)
	DumpStderr DumpStream = iota
	// DumpStdout writes diagnostics to the process standard output
	DumpStdout
)

func (ds DumpStream) String() string {
	switch ds {
	case DumpStderr:
		return "stderr"
	case DumpStdout:
		return "stdout"
	default:
		return "unknown"
	}
}

// Writer returns the standard stream currently installed in the os package.
// Reading os.Stdout / os.Stderr at call time lets the host swap them after
// this package was loaded.
func (ds DumpStream) Writer() io.Writer {
	if ds == DumpStdout {
		return os.Stdout
	}
	return os.Stderr
}

// ParseDumpStream maps the DUMP_STREAM value to a DumpStream.
// Only "stdout" and "out" select standard output; everything else is stderr.
func ParseDumpStream(value string) DumpStream {
	if value == "stdout" || value == "out" {
		return DumpStdout
	}
	return DumpStderr
}

// Config configures the leak detector
type Config struct {
	// InitialGrace is the window after process start during which no stream is tracked.
	// Default: 2s
	InitialGrace time.Duration

	// MinLife is how long a stream may stay open before it is reported as leaked.
	// Default: 10s
	MinLife time.Duration

	// DetectFiles enables tracking of file-backed streams (File)
	DetectFiles bool

	// DetectFilters enables tracking of filter-wrapped streams (FilterReader)
	DetectFilters bool

	// DumpStream selects where the banner and leak reports go
	DumpStream DumpStream

	// Output, when set, replaces the DumpStream resolver. It is still called
	// on every write. Useful for tests and for hosts that route diagnostics.
	Output func() io.Writer

	// Audit configures the optional structured event trail
	Audit AuditConfig
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		InitialGrace:  DefaultInitialGrace,
		MinLife:       DefaultMinLife,
		DetectFiles:   true,
		DetectFilters: true,
		DumpStream:    DumpStderr,
		Audit:         DefaultAuditConfig(),
	}
}

// Validate checks the configuration for values the detector cannot work with
func (c *Config) Validate() error {
	if c.DumpStream != DumpStderr && c.DumpStream != DumpStdout {
		return errors.New(ErrCodeInvalidDumpStream, "unknown dump stream").
			WithContext("dump_stream", int(c.DumpStream))
	}
	if c.Audit.BufferSize < 0 {
		return errors.New(ErrCodeInvalidAuditConfig, "audit buffer size cannot be negative").
			WithContext("buffer_size", c.Audit.BufferSize)
	}
	if c.Audit.FlushInterval < 0 {
		return errors.New(ErrCodeInvalidAuditConfig, "audit flush interval cannot be negative").
			WithContext("flush_interval", c.Audit.FlushInterval.String())
	}
	return nil
}

// output resolves the diagnostic writer for a single write
func (c *Config) output() io.Writer {
	if c.Output != nil {
		return c.Output()
	}
	return c.DumpStream.Writer()
}

// Banner renders the one-line settings summary printed shortly after startup:
//
//	LeakDumper [FILES,FILTERS]: 2000ms initial grace, 10000ms min-life
func (c *Config) Banner() string {
	opts := make([]string, 0, 2)
	if c.DetectFiles {
		opts = append(opts, "FILES")
	}
	if c.DetectFilters {
		opts = append(opts, "FILTERS")
	}
	return fmt.Sprintf("LeakDumper [%s]: %dms initial grace, %dms min-life",
		strings.Join(opts, ","), c.InitialGrace.Milliseconds(), c.MinLife.Milliseconds())
}

var bannerPattern = regexp.MustCompile(`^LeakDumper \[([A-Z,]*)\]: (-?\d+)ms initial grace, (-?\d+)ms min-life$`)

// ParseBanner reads back the settings encoded by Banner. Only the fields the
// banner carries are set; the rest keep their defaults.
func ParseBanner(line string) (*Config, error) {
	m := bannerPattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return nil, errors.New(ErrCodeInvalidBanner, "not a LeakDumper banner").
			WithContext("line", line)
	}

	config := DefaultConfig()
	config.DetectFiles = false
	config.DetectFilters = false
	if m[1] != "" {
		for _, opt := range strings.Split(m[1], ",") {
			switch opt {
			case "FILES":
				config.DetectFiles = true
			case "FILTERS":
				config.DetectFilters = true
			default:
				return nil, errors.New(ErrCodeInvalidBanner, "unknown tracker in banner").
					WithContext("tracker", opt)
			}
		}
	}

	grace, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidBanner, "invalid grace in banner")
	}
	minLife, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidBanner, "invalid min-life in banner")
	}
	config.InitialGrace = time.Duration(grace) * time.Millisecond
	config.MinLife = time.Duration(minLife) * time.Millisecond
	return config, nil
}
