// Package telemetry records one row per broker invocation in an embedded
// SQLite database. WAL mode plus a busy timeout lets concurrent gathers
// from different processes append without coordination.
package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB connection to telemetry.db.
type DB struct {
	conn *sql.DB
}

// Invocation is one gather's telemetry record.
type Invocation struct {
	ID              int64
	SessionID       string
	GatheredAt      string // RFC3339
	DurationMs      int64
	Status          string
	CostToday       float64
	SessionCost     float64
	TokensUsed      int64
	SecretsDetected bool
	TranscriptStale bool
	SlotID          string
	SourcesTimedOut int
	DeadlineHit     bool
}

// Open connects to the database and applies pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Insert records one invocation.
func (d *DB) Insert(inv *Invocation) (int64, error) {
	res, err := d.conn.Exec(`INSERT INTO invocations
		(session_id, gathered_at, duration_ms, status, cost_today, session_cost,
		 tokens_used, secrets_detected, transcript_stale, slot_id, sources_timed_out, deadline_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.SessionID, inv.GatheredAt, inv.DurationMs, inv.Status,
		inv.CostToday, inv.SessionCost, inv.TokensUsed,
		inv.SecretsDetected, inv.TranscriptStale, inv.SlotID,
		inv.SourcesTimedOut, inv.DeadlineHit)
	if err != nil {
		return 0, fmt.Errorf("insert invocation: %w", err)
	}
	return res.LastInsertId()
}

// RecentForSession returns the newest rows for a session, newest first.
func (d *DB) RecentForSession(sessionID string, limit int) ([]Invocation, error) {
	rows, err := d.conn.Query(`SELECT id, session_id, gathered_at, duration_ms, status,
		cost_today, session_cost, tokens_used, secrets_detected, transcript_stale,
		slot_id, sources_timed_out, deadline_hit
		FROM invocations WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(&inv.ID, &inv.SessionID, &inv.GatheredAt, &inv.DurationMs,
			&inv.Status, &inv.CostToday, &inv.SessionCost, &inv.TokensUsed,
			&inv.SecretsDetected, &inv.TranscriptStale, &inv.SlotID,
			&inv.SourcesTimedOut, &inv.DeadlineHit); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Cleanup deletes rows older than retention and reclaims the freed pages.
func (d *DB) Cleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	res, err := d.conn.Exec(`DELETE FROM invocations WHERE gathered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old invocations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if _, err := d.conn.Exec(`VACUUM`); err != nil {
			return n, fmt.Errorf("vacuum: %w", err)
		}
	}
	return n, nil
}
