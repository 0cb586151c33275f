// Package db stores what the crossing did: runs, phase transitions, the light
// commands sent to the actuator and link state changes.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/crossing.signal/internal/crossing"
)

// DefaultLimit and MaxLimit bound the history queries.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrNoRun is returned by the record methods before StartRun.
var ErrNoRun = errors.New("no run started")

type DB struct {
	*sql.DB

	// runID is set once by StartRun before any recorder goroutine starts.
	runID string
}

// Applied to every pooled connection through the driver DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// OpenDB opens the database without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{DB: sqlDB}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// StartRun registers a new process run. Every record written afterwards is
// tagged with its ID.
func (db *DB) StartRun(at time.Time, version string, cfg crossing.Config) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	id := uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO runs (run_id, started_unix_nanos, version, config_json) VALUES (?, ?, ?, ?)`,
		id, at.UnixNano(), version, string(cfgJSON),
	); err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	db.runID = id
	return id, nil
}

// EndRun stamps the current run as finished.
func (db *DB) EndRun(at time.Time) error {
	if db.runID == "" {
		return ErrNoRun
	}
	_, err := db.Exec(`UPDATE runs SET ended_unix_nanos = ? WHERE run_id = ?`, at.UnixNano(), db.runID)
	return err
}

func (db *DB) RunID() string { return db.runID }

func (db *DB) RecordTransition(at time.Time, tr crossing.Transition) error {
	if db.runID == "" {
		return ErrNoRun
	}
	_, err := db.Exec(
		`INSERT INTO phase_transitions (run_id, at_unix_nanos, from_phase, to_phase, total_ms, occupancy)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		db.runID, at.UnixNano(), tr.From.String(), tr.To.String(), tr.Timer.Total.Milliseconds(), tr.Occupancy,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

func (db *DB) RecordCommand(at time.Time, line string) error {
	if db.runID == "" {
		return ErrNoRun
	}
	if _, err := db.Exec(
		`INSERT INTO light_commands (run_id, at_unix_nanos, line) VALUES (?, ?, ?)`,
		db.runID, at.UnixNano(), line,
	); err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

func (db *DB) RecordLinkEvent(at time.Time, kind, detail string) error {
	if db.runID == "" {
		return ErrNoRun
	}
	if _, err := db.Exec(
		`INSERT INTO link_events (run_id, at_unix_nanos, kind, detail) VALUES (?, ?, ?, ?)`,
		db.runID, at.UnixNano(), kind, detail,
	); err != nil {
		return fmt.Errorf("failed to record link event: %w", err)
	}
	return nil
}

type TransitionRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	At        time.Time `json:"at"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TotalMS   int64     `json:"total_ms"`
	Occupancy int       `json:"occupancy"`
}

type CommandRecord struct {
	ID    int64     `json:"id"`
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	Line  string    `json:"line"`
}

type LinkEventRecord struct {
	ID     int64     `json:"id"`
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// ClampLimit maps a caller-supplied limit onto [1, MaxLimit]; zero or
// negative means DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// RecentTransitions returns the newest transitions first.
func (db *DB) RecentTransitions(limit int) ([]TransitionRecord, error) {
	return db.queryTransitions(`SELECT transition_id, run_id, at_unix_nanos, from_phase, to_phase, total_ms, occupancy
		FROM phase_transitions ORDER BY transition_id DESC LIMIT ?`, ClampLimit(limit))
}

// GreenCycles returns the latest entries into GREEN, oldest first.
func (db *DB) GreenCycles(limit int) ([]TransitionRecord, error) {
	return db.queryTransitions(`SELECT * FROM (
			SELECT transition_id, run_id, at_unix_nanos, from_phase, to_phase, total_ms, occupancy
			FROM phase_transitions WHERE to_phase = 'GREEN' ORDER BY transition_id DESC LIMIT ?
		) ORDER BY transition_id ASC`, ClampLimit(limit))
}

func (db *DB) queryTransitions(query string, args ...any) ([]TransitionRecord, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var r TransitionRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.RunID, &at, &r.From, &r.To, &r.TotalMS, &r.Occupancy); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentCommands returns the newest transmitted commands first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(`SELECT command_id, run_id, at_unix_nanos, line
		FROM light_commands ORDER BY command_id DESC LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var r CommandRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.RunID, &at, &r.Line); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentLinkEvents returns the newest link events first.
func (db *DB) RecentLinkEvents(limit int) ([]LinkEventRecord, error) {
	rows, err := db.Query(`SELECT event_id, run_id, at_unix_nanos, kind, detail
		FROM link_events ORDER BY event_id DESC LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []LinkEventRecord{}
	for rows.Next() {
		var r LinkEventRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.RunID, &at, &r.Kind, &r.Detail); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}
