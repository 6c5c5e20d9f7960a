// audit.go: Structured audit trail of stream tracking events
//
// Every tracked stream leaves a small trail: when it started being tracked,
// whether it was closed in time, and the full leak report when it was not.
// The trail complements the diagnostic output with something queryable.
//
// Features:
// - Buffered writes with periodic background flushing
// - Tamper detection checksum on each event
// - Pluggable storage (SQLite or JSONL)
// - Never fails the caller: audit errors are dropped
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// parseAuditLevel parses audit level string to AuditLevel type
func parseAuditLevel(levelStr string) (AuditLevel, error) {
	switch strings.ToLower(levelStr) {
	case "info":
		return AuditInfo, nil
	case "warn", "warning":
		return AuditWarn, nil
	case "critical", "error":
		return AuditCritical, nil
	default:
		return AuditInfo, errors.New(ErrCodeInvalidAuditConfig, "invalid audit level").
			WithContext("level", levelStr)
	}
}

// AuditEvent is one entry of the trail
type AuditEvent struct {
	Timestamp   time.Time  `json:"timestamp"`
	Level       AuditLevel `json:"level"`
	Event       string     `json:"event"`
	StreamID    int64      `json:"stream_id,omitempty"`
	Path        string     `json:"path,omitempty"`
	CreatedMs   int64      `json:"created_ms,omitempty"`
	Detail      string     `json:"detail,omitempty"` // leak report or banner
	ProcessID   int        `json:"process_id"`
	ProcessName string     `json:"process_name"`
	Checksum    string     `json:"checksum"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Enabled       bool          `json:"enabled"`
	OutputFile    string        `json:"output_file"` // .db for SQLite, .jsonl for JSON lines
	MinLevel      AuditLevel    `json:"min_level"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultAuditConfig returns the audit defaults: off, SQLite when turned on
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       false,
		OutputFile:    "", // Empty selects the unified SQLite database
		MinLevel:      AuditInfo,
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger buffers audit events and hands them to a storage backend.
// A nil or disabled logger accepts every call and records nothing.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger. A disabled configuration yields a
// logger without backend; an enabled one fails if no backend can be opened.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	if logger.config.BufferSize <= 0 {
		logger.config.BufferSize = DefaultAuditConfig().BufferSize
	}

	backend, err := createAuditBackend(logger.config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, logger.config.BufferSize)

	if logger.config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(logger.config.FlushInterval)
		go logger.flushLoop()
	}
	return logger, nil
}

// Enabled reports whether events are being recorded
func (al *AuditLogger) Enabled() bool {
	return al != nil && al.backend != nil && al.config.Enabled
}

// Log records an audit event
func (al *AuditLogger) Log(level AuditLevel, event AuditEvent) {
	if !al.Enabled() || level < al.config.MinLevel {
		return
	}

	event.Timestamp = timecache.CachedTime()
	event.Level = level
	event.ProcessID = al.processID
	event.ProcessName = al.processName
	event.Checksum = generateChecksum(event)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, event)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe()
	}
	al.bufferMu.Unlock()
}

// LogStream records a tracker lifecycle event
func (al *AuditLogger) LogStream(level AuditLevel, event string, record *AllocationRecord, detail string) {
	if !al.Enabled() {
		return
	}
	al.Log(level, AuditEvent{
		Event:     event,
		StreamID:  record.ID,
		Path:      record.Path,
		CreatedMs: record.CreatedMillis(),
		Detail:    detail,
	})
}

// LogConfig records the configuration a detector started with
func (al *AuditLogger) LogConfig(banner string) {
	al.Log(AuditInfo, AuditEvent{Event: "config_loaded", Detail: banner})
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if !al.Enabled() {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Stats returns statistics from the storage backend
func (al *AuditLogger) Stats() (*AuditStats, error) {
	if !al.Enabled() {
		return nil, errors.New(ErrCodeAuditError, "audit logging not enabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.Stats()
}

// Close flushes pending events and releases the backend. Safe to call twice.
func (al *AuditLogger) Close() error {
	if !al.Enabled() {
		return nil
	}
	var err error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}

		al.bufferMu.Lock()
		defer al.bufferMu.Unlock()
		if ferr := al.flushBufferUnsafe(); ferr != nil {
			err = fmt.Errorf("failed to flush audit logger during close: %w", ferr)
		}
		if cerr := al.backend.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close audit backend: %w", cerr)
		}
	})
	return err
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush() // Background flush errors are dropped
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes buffer to backend storage (caller must hold bufferMu)
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return fmt.Errorf("failed to write audit events to backend: %w", err)
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%d:%s:%d:%s",
		event.Timestamp.UTC().Format(time.RFC3339Nano), event.Level, event.Event,
		event.StreamID, event.Path, event.CreatedMs, event.Detail)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// VerifyChecksum reports whether event still matches its checksum
func VerifyChecksum(event AuditEvent) bool {
	return event.Checksum == generateChecksum(event)
}

func getProcessName() string {
	if len(os.Args) == 0 {
		return "leakdumper"
	}
	return filepath.Base(os.Args[0])
}
