// env_config.go: Environment variable support for LeakDumper configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Environment variable names
const (
	EnvInitialGrace  = "INITIAL_GRACE"
	EnvMinLife       = "MIN_LIFE"
	EnvDetectFiles   = "DETECT_FILES"
	EnvDetectFilters = "DETECT_FILTERS"
	EnvDumpStream    = "DUMP_STREAM"

	EnvAuditEnabled       = "LEAKDUMPER_AUDIT_ENABLED"
	EnvAuditOutputFile    = "LEAKDUMPER_AUDIT_OUTPUT_FILE"
	EnvAuditMinLevel      = "LEAKDUMPER_AUDIT_MIN_LEVEL"
	EnvAuditBufferSize    = "LEAKDUMPER_AUDIT_BUFFER_SIZE"
	EnvAuditFlushInterval = "LEAKDUMPER_AUDIT_FLUSH_INTERVAL"
)

// LoadConfigFromEnv builds the detector configuration from the process environment.
// Unset variables keep their defaults. A malformed number is a hard error:
// the caller is expected to refuse to start.
func LoadConfigFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides config with whatever the environment sets
func applyEnv(config *Config) error {
	if err := loadCoreEnv(config); err != nil {
		return err
	}
	return loadAuditEnv(config)
}

// loadCoreEnv loads the tracker settings
func loadCoreEnv(config *Config) error {
	if grace, ok, err := lookupMillis(EnvInitialGrace); err != nil {
		return err
	} else if ok {
		config.InitialGrace = grace
	}

	if minLife, ok, err := lookupMillis(EnvMinLife); err != nil {
		return err
	} else if ok {
		config.MinLife = minLife
	}

	if files, ok := os.LookupEnv(EnvDetectFiles); ok {
		config.DetectFiles = parseBool(files)
	}
	if filters, ok := os.LookupEnv(EnvDetectFilters); ok {
		config.DetectFilters = parseBool(filters)
	}

	if stream, ok := os.LookupEnv(EnvDumpStream); ok {
		config.DumpStream = ParseDumpStream(stream)
	}
	return nil
}

// loadAuditEnv loads the audit trail settings
func loadAuditEnv(config *Config) error {
	if enabled, ok := os.LookupEnv(EnvAuditEnabled); ok {
		config.Audit.Enabled = parseBool(enabled)
	}

	if file := os.Getenv(EnvAuditOutputFile); file != "" {
		config.Audit.OutputFile = file
	}

	if levelStr := os.Getenv(EnvAuditMinLevel); levelStr != "" {
		level, err := parseAuditLevel(levelStr)
		if err != nil {
			return err
		}
		config.Audit.MinLevel = level
	}

	if bufferStr := os.Getenv(EnvAuditBufferSize); bufferStr != "" {
		buffer, err := strconv.Atoi(bufferStr)
		if err != nil || buffer <= 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid "+EnvAuditBufferSize+" value").
				WithContext("value", bufferStr)
		}
		config.Audit.BufferSize = buffer
	}

	if flushStr := os.Getenv(EnvAuditFlushInterval); flushStr != "" {
		interval, err := time.ParseDuration(flushStr)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid "+EnvAuditFlushInterval+" format").
				WithContext("value", flushStr)
		}
		config.Audit.FlushInterval = interval
	}
	return nil
}

// lookupMillis reads a signed integer number of milliseconds.
// A variable that is set but empty is malformed.
func lookupMillis(key string) (time.Duration, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return 0, false, nil
	}
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, errors.Wrap(err, ErrCodeInvalidConfig, "invalid "+key+" value").
			WithContext("variable", key).
			WithContext("value", value)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// parseBool accepts "true" in any case; every other value is false
func parseBool(value string) bool {
	return strings.EqualFold(value, "true")
}
