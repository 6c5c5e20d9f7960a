// audit_backend.go: Storage backends for the LeakDumper audit trail
//
// SQLite is the default: one database collects the events of every process
// using the detector on the host, so leaks can be correlated after the fact.
// JSON lines are used when explicitly requested or when SQLite is unavailable.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend persists batches of audit events
type auditBackend interface {
	// Write persists a batch; implementations must be safe for concurrent use
	Write(events []AuditEvent) error

	// Flush commits pending writes to storage
	Flush() error

	// Close releases all resources. The backend must not be used afterwards.
	Close() error

	// Stats summarizes what the backend holds
	Stats() (*AuditStats, error)
}

// AuditStats summarizes an audit store
type AuditStats struct {
	TotalEvents   int64            `json:"total_events"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	EventsByType  map[string]int64 `json:"events_by_type"`
	OldestEvent   *time.Time       `json:"oldest_event,omitempty"`
	NewestEvent   *time.Time       `json:"newest_event,omitempty"`
	SizeBytes     int64            `json:"size_bytes"`
	SchemaVersion int              `json:"schema_version"`
}

func newAuditStats() *AuditStats {
	return &AuditStats{
		EventsByLevel: make(map[string]int64),
		EventsByType:  make(map[string]int64),
	}
}

func (s *AuditStats) add(e AuditEvent) {
	s.TotalEvents++
	s.EventsByLevel[e.Level.String()]++
	s.EventsByType[e.Event]++
	ts := e.Timestamp
	if s.OldestEvent == nil || ts.Before(*s.OldestEvent) {
		s.OldestEvent = &ts
	}
	if s.NewestEvent == nil || ts.After(*s.NewestEvent) {
		s.NewestEvent = &ts
	}
}

// createAuditBackend selects the backend for config:
// .jsonl files get JSON lines, everything else tries SQLite first and
// falls back to JSON lines.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if isJSONLPath(config.OutputFile) {
		return newJSONLBackend(config.OutputFile)
	}

	backend, err := newSQLiteBackend(sqlitePath(config.OutputFile))
	if err == nil {
		return backend, nil
	}

	jsonlBackend, jsonlErr := newJSONLBackend(config.OutputFile)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}
	return jsonlBackend, nil
}

func isJSONLPath(path string) bool {
	return path != "" && filepath.Ext(path) == ".jsonl"
}

// sqlitePath honors .db paths and sends everything else to the unified database
func sqlitePath(outputFile string) string {
	if outputFile != "" && filepath.Ext(outputFile) == ".db" {
		return outputFile
	}
	return UnifiedAuditPath()
}

// UnifiedAuditPath is the host-wide SQLite database used when no .db file is configured
func UnifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "leakdumper", "leak-audit.db")
}

// =============================================================================
// SQLite
// =============================================================================

const sqliteSchemaVersion = 1

type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

func newSQLiteBackend(dbPath string) (*sqliteAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := openSQLiteDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	backend := &sqliteAuditBackend{db: db, dbPath: dbPath}
	if err := backend.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit database schema: %w", err)
	}

	stmt, err := db.Prepare(`
	INSERT INTO leak_events (
		timestamp, ts_unix_ns, level, event, stream_id, path, created_ms,
		detail, process_id, process_name, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	backend.insertStmt = stmt
	return backend, nil
}

// openSQLiteDatabase opens the database in WAL mode so that several processes
// can append concurrently while an operator queries
func openSQLiteDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return db, nil
}

func (s *sqliteAuditBackend) ensureSchema() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if version >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS leak_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			ts_unix_ns INTEGER NOT NULL,
			level TEXT NOT NULL,
			event TEXT NOT NULL,
			stream_id INTEGER,
			path TEXT,
			created_ms INTEGER,
			detail TEXT,
			process_id INTEGER NOT NULL,
			process_name TEXT NOT NULL,
			checksum TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_leak_events_ts ON leak_events(ts_unix_ns)",
		"CREATE INDEX IF NOT EXISTS idx_leak_events_event ON leak_events(event, ts_unix_ns)",
		"CREATE INDEX IF NOT EXISTS idx_leak_events_path ON leak_events(path)",
		"INSERT OR REPLACE INTO schema_info (version) VALUES (1)",
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	stmt := tx.Stmt(s.insertStmt)
	for _, e := range events {
		ts := e.Timestamp.UTC()
		if _, err := stmt.Exec(
			ts.Format(time.RFC3339Nano), ts.UnixNano(), e.Level.String(), e.Event,
			e.StreamID, e.Path, e.CreatedMs, e.Detail,
			e.ProcessID, e.ProcessName, e.Checksum,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit events: %w", err)
	}
	return nil
}

// Flush is a no-op: every Write commits its own transaction
func (s *sqliteAuditBackend) Flush() error {
	return nil
}

func (s *sqliteAuditBackend) Stats() (*AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("SQLite audit backend is closed")
	}
	return sqliteStats(s.db, s.dbPath)
}

func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	return s.db.Close()
}

func sqliteStats(db *sql.DB, dbPath string) (*AuditStats, error) {
	stats := newAuditStats()

	if err := db.QueryRow("SELECT COUNT(*) FROM leak_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	if err := groupCount(db, "level", stats.EventsByLevel); err != nil {
		return nil, err
	}
	if err := groupCount(db, "event", stats.EventsByType); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullInt64
	if err := db.QueryRow("SELECT MIN(ts_unix_ns), MAX(ts_unix_ns) FROM leak_events").Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to get event time range: %w", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		stats.OldestEvent = &t
	}
	if newest.Valid {
		t := time.Unix(0, newest.Int64).UTC()
		stats.NewestEvent = &t
	}

	if err := db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&stats.SchemaVersion); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}
	if info, err := os.Stat(dbPath); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}

// groupCount fills into with COUNT(*) grouped by column (a fixed identifier, never user input)
func groupCount(db *sql.DB, column string, into map[string]int64) error {
	rows, err := db.Query("SELECT " + column + ", COUNT(*) FROM leak_events GROUP BY " + column) // #nosec G202
	if err != nil {
		return fmt.Errorf("failed to group events by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s stats: %w", column, err)
		}
		into[key] = count
	}
	return rows.Err()
}

// =============================================================================
// JSON lines
// =============================================================================

type jsonlAuditBackend struct {
	file *os.File
	path string
	mu   sync.Mutex
	// closed guards against writes after Close
	closed bool
}

func newJSONLBackend(path string) (*jsonlAuditBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("JSONL backend requires OutputFile to be specified")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create JSONL audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit file: %w", err)
	}
	return &jsonlAuditBackend{file: file, path: path}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}

	enc := json.NewEncoder(j.file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write audit event: %w", err)
		}
	}
	return nil
}

func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync JSONL audit file: %w", err)
	}
	return nil
}

func (j *jsonlAuditBackend) Stats() (*AuditStats, error) {
	if err := j.Flush(); err != nil {
		return nil, err
	}
	stats := newAuditStats()
	stats.SchemaVersion = 1
	err := scanJSONL(j.path, func(e AuditEvent) bool {
		stats.add(e)
		return true
	})
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(j.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// scanJSONL calls fn for every decodable event in path until fn returns false.
// Lines that do not decode are skipped.
func scanJSONL(path string, fn func(AuditEvent) bool) error {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to open JSONL audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e AuditEvent
		if json.Unmarshal([]byte(line), &e) != nil {
			continue
		}
		if !fn(e) {
			break
		}
	}
	return scanner.Err()
}

// =============================================================================
// Offline access for operators
// =============================================================================

// AuditQuery filters QueryAuditEvents results. Zero fields do not filter.
type AuditQuery struct {
	Since time.Time
	Event string
	Path  string
	Limit int
}

func (q AuditQuery) match(e AuditEvent) bool {
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if q.Event != "" && e.Event != q.Event {
		return false
	}
	if q.Path != "" && e.Path != q.Path {
		return false
	}
	return true
}

// QueryAuditEvents reads events from an audit store, oldest first.
// path may be a .db or .jsonl file; empty means the unified database.
func QueryAuditEvents(path string, q AuditQuery) ([]AuditEvent, error) {
	if isJSONLPath(path) {
		var events []AuditEvent
		err := scanJSONL(path, func(e AuditEvent) bool {
			if q.match(e) {
				events = append(events, e)
			}
			return q.Limit <= 0 || len(events) < q.Limit
		})
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeAuditError, "failed to read audit log").WithContext("path", path)
		}
		return events, nil
	}

	db, err := openExistingDatabase(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	query := `SELECT timestamp, level, event, stream_id, path, created_ms, detail,
		process_id, process_name, checksum FROM leak_events WHERE 1=1`
	var args []interface{}
	if !q.Since.IsZero() {
		query += " AND ts_unix_ns >= ?"
		args = append(args, q.Since.UnixNano())
	}
	if q.Event != "" {
		query += " AND event = ?"
		args = append(args, q.Event)
	}
	if q.Path != "" {
		query += " AND path = ?"
		args = append(args, q.Path)
	}
	query += " ORDER BY ts_unix_ns, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to query audit database").WithContext("path", path)
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var (
			e       AuditEvent
			ts      string
			level   string
			stream  sql.NullString
			detail  sql.NullString
			created sql.NullInt64
			id      sql.NullInt64
		)
		if err := rows.Scan(&ts, &level, &e.Event, &id, &stream, &created, &detail,
			&e.ProcessID, &e.ProcessName, &e.Checksum); err != nil {
			return nil, errors.Wrap(err, ErrCodeAuditError, "failed to scan audit event")
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Level, _ = parseAuditLevel(level)
		e.StreamID = id.Int64
		e.Path = stream.String
		e.CreatedMs = created.Int64
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to read audit events")
	}
	return events, nil
}

// AuditStatsFor summarizes an audit store without opening it for writing
func AuditStatsFor(path string) (*AuditStats, error) {
	if isJSONLPath(path) {
		stats := newAuditStats()
		stats.SchemaVersion = 1
		if err := scanJSONL(path, func(e AuditEvent) bool { stats.add(e); return true }); err != nil {
			return nil, errors.Wrap(err, ErrCodeAuditError, "failed to read audit log").WithContext("path", path)
		}
		if info, err := os.Stat(path); err == nil {
			stats.SizeBytes = info.Size()
		}
		return stats, nil
	}

	db, err := openExistingDatabase(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	stats, err := sqliteStats(db, sqlitePath(path))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to read audit statistics")
	}
	return stats, nil
}

// CleanupAuditEvents deletes events older than olderThan from a SQLite store and
// returns how many were (or, with dryRun, would be) removed
func CleanupAuditEvents(path string, olderThan time.Duration, dryRun bool) (int64, error) {
	if isJSONLPath(path) {
		return 0, errors.New(ErrCodeAuditError, "cleanup is only supported for SQLite audit databases").
			WithContext("path", path)
	}

	db, err := openExistingDatabase(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()

	cutoff := time.Now().Add(-olderThan).UnixNano()
	if dryRun {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM leak_events WHERE ts_unix_ns < ?", cutoff).Scan(&n); err != nil {
			return 0, errors.Wrap(err, ErrCodeAuditError, "failed to count old audit events")
		}
		return n, nil
	}

	res, err := db.Exec("DELETE FROM leak_events WHERE ts_unix_ns < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeAuditError, "failed to delete old audit events")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func openExistingDatabase(path string) (*sql.DB, error) {
	dbPath := sqlitePath(path)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "audit database not found").WithContext("path", dbPath)
	}
	db, err := openSQLiteDatabase(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to open audit database").WithContext("path", dbPath)
	}
	return db, nil
}
