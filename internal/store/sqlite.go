// Package store is the optional persistence collaborator: it round-trips
// events and fired reminder markers through sqlite so the index and the
// at-most-once guarantee survive a process restart.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	applog "roundcal/internal/log"
	"roundcal/internal/model"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and bootstraps the
// schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		start_unix_ns INTEGER NOT NULL,
		tz TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		kind TEXT NOT NULL,
		priority TEXT NOT NULL,
		reminder_offsets TEXT NOT NULL DEFAULT '',
		attendees INTEGER NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS fired_markers (
		event_id TEXT NOT NULL,
		offset_ns INTEGER NOT NULL,
		fired_at_unix_ns INTEGER NOT NULL,
		PRIMARY KEY (event_id, offset_ns)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEvent inserts or replaces one event.
func (s *Store) SaveEvent(ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO events
		(id, title, start_unix_ns, tz, duration_ns, kind, priority, reminder_offsets, attendees, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Start.UnixNano(), ev.Start.Location().String(),
		int64(ev.Duration), string(ev.Kind), string(ev.Priority),
		encodeOffsets(ev.ReminderOffsets), ev.Attendees, ev.Location,
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

// DeleteEvent removes one event and its fired markers. Absence is not
// an error.
func (s *Store) DeleteEvent(id string) error {
	if _, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM fired_markers WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("delete markers for %s: %w", id, err)
	}
	return nil
}

// LoadEvents returns every stored event, restoring each start instant
// into its original timezone when that zone is still loadable.
func (s *Store) LoadEvents() ([]model.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, title, start_unix_ns, tz, duration_ns, kind, priority, reminder_offsets, attendees, location
		FROM events`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev               model.Event
			startNs, durNs   int64
			tz, kind, pri    string
			offsets          string
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &startNs, &tz, &durNs, &kind, &pri, &offsets, &ev.Attendees, &ev.Location); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			applog.Error("unknown event timezone, falling back to UTC", lerr, "event_id", ev.ID, "tz", tz)
			loc = time.UTC
		}
		ev.Start = time.Unix(0, startNs).In(loc)
		ev.Duration = time.Duration(durNs)
		ev.Kind = model.Kind(kind)
		ev.Priority = model.Priority(pri)
		ev.ReminderOffsets = decodeOffsets(offsets)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Fired implements remind.MarkerStore.
func (s *Store) Fired(eventID string, offset time.Duration) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM fired_markers WHERE event_id = ? AND offset_ns = ?`,
		eventID, int64(offset),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query marker: %w", err)
	}
	return n > 0, nil
}

// MarkFired implements remind.MarkerStore.
func (s *Store) MarkFired(eventID string, offset time.Duration, firedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO fired_markers (event_id, offset_ns, fired_at_unix_ns)
		VALUES (?, ?, ?)`,
		eventID, int64(offset), firedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}

func encodeOffsets(offsets []time.Duration) string {
	if len(offsets) == 0 {
		return ""
	}
	parts := make([]string, len(offsets))
	for i, off := range offsets {
		parts[i] = strconv.FormatInt(int64(off), 10)
	}
	return strings.Join(parts, ",")
}

func decodeOffsets(s string) []time.Duration {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Duration(n))
	}
	return out
}
