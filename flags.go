// flags.go: Command-line flag support for LeakDumper configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// Flag names understood by LoadConfigFromArgs
const (
	FlagInitialGrace  = "initial-grace"
	FlagMinLife       = "min-life"
	FlagDetectFiles   = "detect-files"
	FlagDetectFilters = "detect-filters"
	FlagDumpStream    = "dump-stream"
)

// NewFlagSet registers the detector flags on a FlashFlags set, using base
// for the defaults so that unset flags leave base untouched.
func NewFlagSet(name string, base *Config) *flashflags.FlagSet {
	if base == nil {
		base = DefaultConfig()
	}
	fs := flashflags.New(name)
	fs.Int(FlagInitialGrace, int(base.InitialGrace.Milliseconds()), "Initial grace period in milliseconds")
	fs.Int(FlagMinLife, int(base.MinLife.Milliseconds()), "Maximum open lifetime in milliseconds before a stream is reported")
	fs.Bool(FlagDetectFiles, base.DetectFiles, "Track file-backed streams")
	fs.Bool(FlagDetectFilters, base.DetectFilters, "Track filter-wrapped streams")
	fs.String(FlagDumpStream, base.DumpStream.String(), "Diagnostic output (stdout|out|stderr)")
	return fs
}

// ConfigFromFlagSet copies the parsed detector flags into a copy of base
func ConfigFromFlagSet(fs *flashflags.FlagSet, base *Config) *Config {
	if base == nil {
		base = DefaultConfig()
	}
	config := *base
	config.InitialGrace = time.Duration(fs.GetInt(FlagInitialGrace)) * time.Millisecond
	config.MinLife = time.Duration(fs.GetInt(FlagMinLife)) * time.Millisecond
	config.DetectFiles = fs.GetBool(FlagDetectFiles)
	config.DetectFilters = fs.GetBool(FlagDetectFilters)
	config.DumpStream = ParseDumpStream(fs.GetString(FlagDumpStream))
	return &config
}

// LoadConfigFromArgs parses args as detector flags on top of base
func LoadConfigFromArgs(args []string, base *Config) (*Config, error) {
	fs := NewFlagSet("leakdumper", base)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}
	return ConfigFromFlagSet(fs, base), nil
}
