// Package store persists canonical events to an embedded relational
// log. The pipeline driver inserts one row per scored event and flips
// it to processed once scoring completes; nothing in the scoring path
// itself reads the log back, so an unopened store just means events
// aren't retained, not that scoring behaves differently.
//
// Grounded on the CRUD/scan style of
// r3e-network-service_layer/applications/storage/postgres (ExecContext/
// QueryRowContext, a scanX row-mapper per table, errors.Is(sql.ErrNoRows)
// for not-found), adapted from Postgres placeholders to the pure-Go
// modernc.org/sqlite driver registered under database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ns INTEGER NOT NULL,
	event_type INTEGER NOT NULL,
	severity INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	uid INTEGER NOT NULL,
	gid INTEGER NOT NULL,
	comm TEXT NOT NULL,
	filename TEXT NOT NULL,
	raw_data BLOB,
	processed INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_pid ON events(pid);
CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);
`

// Store is the embedded event log's CRUD surface.
type Store struct {
	db *sql.DB
}

// Open creates or migrates a sqlite database at path. ":memory:" runs
// an in-process, non-durable database, useful for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends ev to the event log and returns its assigned row id.
func (s *Store) Insert(ctx context.Context, ev event.Event) (int64, error) {
	processed := 0
	if ev.Processed {
		processed = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (timestamp_ns, event_type, severity, pid, uid, gid, comm, filename, raw_data, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Timestamp, int(ev.Type), int(ev.Severity), ev.PID, ev.UID, ev.GID, ev.Comm, ev.Filename, ev.Raw, processed, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: insert: %w", err)
	}
	return res.LastInsertId()
}

// Get loads one event by its row id.
func (s *Store) Get(ctx context.Context, id int64) (event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp_ns, event_type, severity, pid, uid, gid, comm, filename, raw_data, processed
		FROM events WHERE id = ?
	`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Event{}, ErrNotFound
		}
		return event.Event{}, fmt.Errorf("store: get %d: %w", id, err)
	}
	return ev, nil
}

// MarkProcessed flips the processed flag for id. A missing id is
// reported as ErrNotFound.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark processed %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark processed %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByPID returns every event recorded for pid, newest first,
// bounded by limit (a non-positive limit defaults to 100).
func (s *Store) ListByPID(ctx context.Context, pid uint32, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ns, event_type, severity, pid, uid, gid, comm, filename, raw_data, processed
		FROM events WHERE pid = ? ORDER BY timestamp_ns DESC LIMIT ?
	`, pid, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list by pid %d: %w", pid, err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes every event with timestamp_ns below cutoff,
// returning how many rows were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoffNs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp_ns < ?`, cutoffNs)
	if err != nil {
		return 0, fmt.Errorf("store: delete older than %d: %w", cutoffNs, err)
	}
	return res.RowsAffected()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		ev            event.Event
		eventType     int
		severity      int
		processed     int
		rawData       []byte
	)
	if err := row.Scan(&ev.Timestamp, &eventType, &severity, &ev.PID, &ev.UID, &ev.GID, &ev.Comm, &ev.Filename, &rawData, &processed); err != nil {
		return event.Event{}, err
	}
	ev.Type = event.EventType(eventType)
	ev.Severity = event.Severity(severity)
	ev.Raw = rawData
	ev.RawSize = len(rawData)
	ev.Processed = processed != 0
	return ev, nil
}
