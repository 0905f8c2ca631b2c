// Package store persists scan sessions and calibration data in a local
// sqlite database so results survive restarts and calibration can be reused
// across sessions.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	num_angles INTEGER NOT NULL,
	total_points INTEGER NOT NULL DEFAULT 0,
	ply_path TEXT
);
CREATE TABLE IF NOT EXISTS session_angles (
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	angle REAL NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	failure TEXT,
	PRIMARY KEY (session_id, angle)
);
CREATE TABLE IF NOT EXISTS calibrations (
	name TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	blob BLOB NOT NULL
);
`

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session is a stored scan session.
type Session struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  *time.Time
	NumAngles   int
	TotalPoints int
	PLYPath     string
}

// CreateSession records the start of a scan and returns its id.
func (s *Store) CreateSession(startedAt time.Time, numAngles int) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sessions (started_at, num_angles) VALUES (?, ?)`,
		startedAt.UTC().Format(time.RFC3339), numAngles)
	if err != nil {
		return 0, fmt.Errorf("store: create session: %w", err)
	}
	return res.LastInsertId()
}

// RecordAngle stores the outcome for one turntable angle.
func (s *Store) RecordAngle(sessionID int64, angle float64, points int, failure string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO session_angles (session_id, angle, points, failure)
		 VALUES (?, ?, ?, ?)`,
		sessionID, angle, points, nullable(failure))
	if err != nil {
		return fmt.Errorf("store: record angle %.1f: %w", angle, err)
	}
	return nil
}

// FinishSession marks a session complete.
func (s *Store) FinishSession(sessionID int64, totalPoints int, plyPath string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET finished_at = ?, total_points = ?, ply_path = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), totalPoints, nullable(plyPath), sessionID)
	if err != nil {
		return fmt.Errorf("store: finish session %d: %w", sessionID, err)
	}
	return nil
}

// Sessions lists stored sessions, newest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, num_angles, total_points, COALESCE(ply_path, '')
		 FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started string
		var finished sql.NullString
		if err := rows.Scan(&sess.ID, &started, &finished, &sess.NumAngles, &sess.TotalPoints, &sess.PLYPath); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			sess.StartedAt = t
		}
		if finished.Valid {
			if t, err := time.Parse(time.RFC3339, finished.String); err == nil {
				sess.FinishedAt = &t
			}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveCalibration stores a named calibration blob (the JSON produced by the
// calib package), replacing any previous one with the same name.
func (s *Store) SaveCalibration(name string, blob []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO calibrations (name, created_at, blob) VALUES (?, ?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339), blob)
	if err != nil {
		return fmt.Errorf("store: save calibration %q: %w", name, err)
	}
	return nil
}

// LoadCalibration returns a stored calibration blob.
func (s *Store) LoadCalibration(name string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT blob FROM calibrations WHERE name = ?`, name).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no calibration named %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load calibration %q: %w", name, err)
	}
	return blob, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
