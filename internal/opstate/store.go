// Package opstate persists the broker link's operational history so it
// survives restarts. It records client rebuilds and fatal exits, which
// the health endpoint reports and the next process start logs. Telemetry
// itself is never stored here.
package opstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Link event kinds.
const (
	KindRebuild = "rebuild"
	KindFatal   = "fatal"
)

// Event is one recorded link occurrence.
type Event struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason"`
	Generation uint64    `json:"generation"`
}

// Store is a SQLite-backed history store. All public methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the history database at dbPath, creating the schema on
// first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS link_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		at         TEXT NOT NULL,
		kind       TEXT NOT NULL,
		reason     TEXT NOT NULL,
		generation INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS link_events_kind ON link_events (kind, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a link event stamped with the current time.
func (s *Store) Record(kind, reason string, generation uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO link_events (at, kind, reason, generation) VALUES (?, ?, ?, ?)`,
		s.now().UTC().Format(time.RFC3339Nano), kind, reason, int64(generation),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", kind, err)
	}
	return nil
}

// Count returns how many events of kind have been recorded.
func (s *Store) Count(kind string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM link_events WHERE kind = ?`, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// Last returns the most recent event of kind. The boolean is false when
// none has been recorded.
func (s *Store) Last(kind string) (Event, bool, error) {
	row := s.db.QueryRow(
		`SELECT at, kind, reason, generation FROM link_events
		 WHERE kind = ? ORDER BY id DESC LIMIT 1`,
		kind,
	)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("last %s: %w", kind, err)
	}
	return ev, true, nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT at, kind, reason, generation FROM link_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Summary is the history digest reported by the health endpoint.
type Summary struct {
	Rebuilds    int    `json:"rebuilds"`
	Fatals      int    `json:"fatals"`
	LastRebuild *Event `json:"last_rebuild,omitempty"`
	LastFatal   *Event `json:"last_fatal,omitempty"`
}

// Summarize collects rebuild and fatal counts with the latest of each.
func (s *Store) Summarize() (Summary, error) {
	var sum Summary
	var err error
	if sum.Rebuilds, err = s.Count(KindRebuild); err != nil {
		return Summary{}, err
	}
	if sum.Fatals, err = s.Count(KindFatal); err != nil {
		return Summary{}, err
	}
	if ev, ok, err := s.Last(KindRebuild); err != nil {
		return Summary{}, err
	} else if ok {
		sum.LastRebuild = &ev
	}
	if ev, ok, err := s.Last(KindFatal); err != nil {
		return Summary{}, err
	} else if ok {
		sum.LastFatal = &ev
	}
	return sum, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (Event, error) {
	var (
		at  string
		ev  Event
		gen int64
	)
	if err := sc.Scan(&at, &ev.Kind, &ev.Reason, &gen); err != nil {
		return Event{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Event{}, fmt.Errorf("parse time %q: %w", at, err)
	}
	ev.At = t
	ev.Generation = uint64(gen)
	return ev, nil
}
